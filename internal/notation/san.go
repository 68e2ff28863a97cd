// Package notation renders engine moves in standard algebraic notation.
package notation

import (
	"strings"
	"sync"

	"github.com/corentings/chess/v2"

	"github.com/vytor/ucibridge/internal/errors"
	"github.com/vytor/ucibridge/internal/metrics"
)

// fenMu serialises FEN decoding; the rules library splits ranks into a
// package-level buffer.
var fenMu sync.Mutex

// PositionFromFEN loads a position. It is safe for concurrent use.
func PositionFromFEN(fen string) (*chess.Position, error) {
	fenMu.Lock()
	opt, err := chess.FEN(fen)
	fenMu.Unlock()
	if err != nil {
		return nil, errors.NewValidationError("fen", err.Error())
	}
	return chess.NewGame(opt).Position(), nil
}

// Encode returns the SAN text of m played from pos. It fails with a
// NOTATION_ERROR when m is not a legal move in pos.
func Encode(pos *chess.Position, m Move) (string, error) {
	san, err := encode(pos, m)
	if err != nil {
		metrics.NotationTotal.WithLabelValues("illegal").Inc()
		return "", err
	}
	metrics.NotationTotal.WithLabelValues("ok").Inc()
	return san, nil
}

func encode(pos *chess.Position, m Move) (string, error) {
	if pos == nil || m.Side != pos.Turn() {
		return "", illegal(pos, m)
	}
	isLegal := false
	for _, lm := range pos.ValidMoves() {
		if lm.S1() == m.From && lm.S2() == m.To && lm.Promo() == m.Promo {
			isLegal = true
			break
		}
	}
	if !isLegal {
		return "", illegal(pos, m)
	}

	ending, err := suffix(pos, m)
	if err != nil {
		return "", illegal(pos, m)
	}

	board := pos.Board()
	piece := board.Piece(m.From)

	if piece.Type() == chess.King && isHomeSquare(m.From, m.Side) {
		switch int(m.To.File()) - int(m.From.File()) {
		case 2:
			return "O-O" + ending, nil
		case -2:
			return "O-O-O" + ending, nil
		}
	}

	takes := ""
	if board.Piece(m.To) != chess.NoPiece ||
		(piece.Type() == chess.Pawn && m.From.File() != m.To.File()) {
		takes = "x"
	}
	promotion := ""
	if m.Promo != chess.NoPieceType {
		promotion = "=" + pieceLetter(m.Promo)
	}

	var sb strings.Builder
	if piece.Type() == chess.Pawn {
		if takes != "" {
			sb.WriteString(fileString(m.From))
		}
	} else {
		sb.WriteString(pieceLetter(piece.Type()))
		sb.WriteString(disambiguation(pos, piece.Type(), m.From, m.To))
	}
	sb.WriteString(takes)
	sb.WriteString(squareToString(m.To))
	sb.WriteString(promotion)
	sb.WriteString(ending)
	return sb.String(), nil
}

// suffix plays m on a copy of pos and returns "#", "+" or "". Check is read
// off the resulting board rather than the library's move tags, which mark
// some underpromotions as checking when they do not.
func suffix(pos *chess.Position, m Move) (string, error) {
	scratch, err := chess.UCINotation{}.Decode(pos, m.UCI())
	if err != nil {
		return "", err
	}
	// Re-decoding gives a position whose own check flag is computed from
	// the board.
	next, err := PositionFromFEN(pos.Update(scratch).String())
	if err != nil {
		return "", err
	}
	board := next.Board()
	king, ok := kingSquare(board, m.Side.Other())
	if !ok || !attacked(board, king, m.Side) {
		return "", nil
	}
	if len(next.ValidMoves()) == 0 {
		return "#", nil
	}
	return "+", nil
}

func kingSquare(board *chess.Board, side chess.Color) (chess.Square, bool) {
	king := chess.NewPiece(chess.King, side)
	for sq := chess.A1; sq <= chess.H8; sq++ {
		if board.Piece(sq) == king {
			return sq, true
		}
	}
	return chess.NoSquare, false
}

var (
	knightSteps   = [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps     = [][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	straightSteps = [][2]int{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}
	diagonalSteps = [][2]int{{1, 1}, {-1, 1}, {-1, -1}, {1, -1}}
)

// attacked reports whether any piece of side by attacks target.
func attacked(board *chess.Board, target chess.Square, by chess.Color) bool {
	tf, tr := int(target.File()), int(target.Rank())
	at := func(f, r int) chess.Piece {
		if f < 0 || f > 7 || r < 0 || r > 7 {
			return chess.NoPiece
		}
		return board.Piece(chess.NewSquare(chess.File(f), chess.Rank(r)))
	}
	is := func(p chess.Piece, types ...chess.PieceType) bool {
		if p == chess.NoPiece || p.Color() != by {
			return false
		}
		for _, t := range types {
			if p.Type() == t {
				return true
			}
		}
		return false
	}

	forward := 1
	if by == chess.Black {
		forward = -1
	}
	if is(at(tf-1, tr-forward), chess.Pawn) || is(at(tf+1, tr-forward), chess.Pawn) {
		return true
	}
	for _, d := range knightSteps {
		if is(at(tf+d[0], tr+d[1]), chess.Knight) {
			return true
		}
	}
	for _, d := range kingSteps {
		if is(at(tf+d[0], tr+d[1]), chess.King) {
			return true
		}
	}
	slide := func(steps [][2]int, types ...chess.PieceType) bool {
		for _, d := range steps {
			for f, r := tf+d[0], tr+d[1]; f >= 0 && f <= 7 && r >= 0 && r <= 7; f, r = f+d[0], r+d[1] {
				if p := at(f, r); p != chess.NoPiece {
					if is(p, types...) {
						return true
					}
					break
				}
			}
		}
		return false
	}
	return slide(straightSteps, chess.Rook, chess.Queen) || slide(diagonalSteps, chess.Bishop, chess.Queen)
}

// disambiguation returns the origin file, rank or square needed to tell the
// move apart from other legal moves of the same piece type onto to.
func disambiguation(pos *chess.Position, pt chess.PieceType, from, to chess.Square) string {
	board := pos.Board()
	conflicts, onFile, onRank := false, false, false
	for _, lm := range pos.ValidMoves() {
		if lm.S2() != to || lm.S1() == from || board.Piece(lm.S1()).Type() != pt {
			continue
		}
		conflicts = true
		if lm.S1().File() == from.File() {
			onFile = true
		}
		if lm.S1().Rank() == from.Rank() {
			onRank = true
		}
	}
	switch {
	case !conflicts:
		return ""
	case onFile && onRank:
		return squareToString(from)
	case onFile:
		return rankString(from)
	default:
		return fileString(from)
	}
}

func isHomeSquare(sq chess.Square, side chess.Color) bool {
	if sq.File() != chess.FileE {
		return false
	}
	if side == chess.White {
		return sq.Rank() == chess.Rank1
	}
	return sq.Rank() == chess.Rank8
}

func illegal(pos *chess.Position, m Move) error {
	fen := ""
	if pos != nil {
		fen = pos.String()
	}
	return errors.NewNotationError(m.UCI(), fen)
}

// GetMove parses a coordinate move for the side to move in pos and returns
// it with its SAN text. Anything that is not a legal move yields an error.
func GetMove(s string, pos *chess.Position) (Move, string, error) {
	if pos == nil {
		return Move{}, "", errors.NewValidationError("position", "missing")
	}
	m, err := ParseUCI(s, pos.Turn())
	if err != nil {
		return Move{}, "", errors.NewBadRequestError(err.Error())
	}
	san, err := Encode(pos, m)
	if err != nil {
		return Move{}, "", err
	}
	return m, san, nil
}
