package uci

import (
	"strconv"
	"strings"
)

// MateScore stands in for any forced mate. Mate distance is not modelled.
const MateScore = 999

// Score is an evaluation from the side to move's point of view.
type Score struct {
	CP   int
	Mate bool
}

// Value returns the centipawn value, or MateScore for a mate.
func (s Score) Value() int {
	if s.Mate {
		return MateScore
	}
	return s.CP
}

// Event is one decoded line of engine output.
type Event interface {
	isEvent()
}

// InfoUpdate is an info line that carries both a multipv index and a pv.
type InfoUpdate struct {
	MultiPV  int    // 1-based line index
	Move     string // first move of the principal variation, coordinate form
	Score    Score
	HasScore bool
}

// BestMove terminates a search.
type BestMove struct {
	Move   string
	Ponder string
}

type ReadyOK struct{}

type UCIOK struct{}

// Unrecognized is any line the driver does not act on.
type Unrecognized struct {
	Line string
}

func (InfoUpdate) isEvent()   {}
func (BestMove) isEvent()     {}
func (ReadyOK) isEvent()      {}
func (UCIOK) isEvent()        {}
func (Unrecognized) isEvent() {}

// Decode classifies a single output line. It never fails: lines that are
// truncated, malformed or simply unknown come back as Unrecognized.
func Decode(line string) Event {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return Unrecognized{Line: line}
	}

	switch strings.ToLower(tokens[0]) {
	case "info":
		return decodeInfo(line, tokens)
	case TokenBestMove:
		var bm BestMove
		if len(tokens) > 1 {
			bm.Move = tokens[1]
		}
		bm.Ponder, _ = field(tokens, "ponder")
		return bm
	case TokenReadyOK:
		return ReadyOK{}
	case TokenUCIOK:
		return UCIOK{}
	}
	return Unrecognized{Line: line}
}

func decodeInfo(line string, tokens []string) Event {
	idx, ok := field(tokens, "multipv")
	if !ok {
		return Unrecognized{Line: line}
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 1 {
		return Unrecognized{Line: line}
	}
	move, ok := field(tokens, "pv")
	if !ok {
		return Unrecognized{Line: line}
	}

	info := InfoUpdate{MultiPV: n, Move: move}
	raw, ok := field(tokens, "cp")
	if !ok {
		raw, ok = field(tokens, "score")
	}
	if ok {
		info.Score, info.HasScore = ParseScore(raw)
	}
	return info
}

// ParseScore reads an evaluation token: an integer is centipawns and the
// literal "mate" is a forced mate.
func ParseScore(token string) (Score, bool) {
	if strings.EqualFold(token, "mate") {
		return Score{Mate: true}, true
	}
	cp, err := strconv.Atoi(token)
	if err != nil {
		return Score{}, false
	}
	return Score{CP: cp}, true
}

// field returns the token following the first case-insensitive match of name.
func field(tokens []string, name string) (string, bool) {
	for i := 0; i < len(tokens)-1; i++ {
		if strings.EqualFold(tokens[i], name) {
			return tokens[i+1], true
		}
	}
	return "", false
}

// HasPrefixFold reports whether line starts with token, ignoring case.
func HasPrefixFold(line, token string) bool {
	line = strings.TrimSpace(line)
	return len(line) >= len(token) && strings.EqualFold(line[:len(token)], token)
}
