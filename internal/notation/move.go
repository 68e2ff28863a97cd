package notation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/corentings/chess/v2"
)

// coordinatePattern matches a move in coordinate form (e2e4, e7e8q).
var coordinatePattern = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

// Move is a move in coordinate form together with the side making it.
type Move struct {
	From  chess.Square
	To    chess.Square
	Promo chess.PieceType
	Side  chess.Color
}

// ParseUCI builds a Move from a coordinate string. The promotion letter is
// case-insensitive.
func ParseUCI(s string, side chess.Color) (Move, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !coordinatePattern.MatchString(s) {
		return Move{}, fmt.Errorf("invalid coordinate move %q", s)
	}
	m := Move{
		From:  square(s[0], s[1]),
		To:    square(s[2], s[3]),
		Promo: chess.NoPieceType,
		Side:  side,
	}
	if len(s) == 5 {
		m.Promo = promoPiece(s[4])
	}
	return m, nil
}

// FromChessMove converts rules-engine move data.
func FromChessMove(m *chess.Move, side chess.Color) Move {
	return Move{From: m.S1(), To: m.S2(), Promo: m.Promo(), Side: side}
}

// UCI converts the move back to coordinate form (e.g., "e2e4", "e7e8q").
func (m Move) UCI() string {
	uci := squareToString(m.From) + squareToString(m.To)
	if m.Promo != chess.NoPieceType {
		uci += strings.ToLower(pieceLetter(m.Promo))
	}
	return uci
}

func (m Move) String() string {
	return m.UCI()
}

func square(file, rank byte) chess.Square {
	return chess.Square(int(rank-'1')*8 + int(file-'a'))
}

func promoPiece(c byte) chess.PieceType {
	switch c {
	case 'q':
		return chess.Queen
	case 'r':
		return chess.Rook
	case 'b':
		return chess.Bishop
	case 'n':
		return chess.Knight
	}
	return chess.NoPieceType
}

// squareToString converts a Square to algebraic notation (e.g., "e2", "a8")
func squareToString(sq chess.Square) string {
	return fileString(sq) + rankString(sq)
}

func fileString(sq chess.Square) string {
	return string(rune('a' + int(sq.File())))
}

func rankString(sq chess.Square) string {
	return string(rune('1' + int(sq.Rank())))
}

// pieceLetter is the upper-case SAN letter; pawns have none.
func pieceLetter(pt chess.PieceType) string {
	switch pt {
	case chess.King:
		return "K"
	case chess.Queen:
		return "Q"
	case chess.Rook:
		return "R"
	case chess.Bishop:
		return "B"
	case chess.Knight:
		return "N"
	}
	return ""
}
