// Package analysis grades the lines of a multi-PV result against the best one.
package analysis

import (
	"github.com/vytor/ucibridge/internal/engine"
	"github.com/vytor/ucibridge/internal/uci"
)

// Quality labels how much a line gives up compared to the engine's first choice.
type Quality string

const (
	Best       Quality = "best"
	Good       Quality = "good"
	Inaccuracy Quality = "inaccuracy"
	Mistake    Quality = "mistake"
	Blunder    Quality = "blunder"
)

// Line is a candidate move with its grade.
type Line struct {
	Rank    int     `json:"rank"`
	UCI     string  `json:"uci"`
	SAN     string  `json:"san"`
	Eval    int     `json:"eval"`
	Mate    bool    `json:"mate"`
	Loss    int     `json:"loss"`
	Quality Quality `json:"quality"`
}

// Loss is how many centipawns line concedes relative to best. Both scores
// are from the side to move, so a forced mate counts as uci.MateScore.
func Loss(best, line uci.Score) int {
	loss := best.Value() - line.Value()
	if loss < 0 {
		return 0
	}
	return loss
}

func ClassifyLoss(loss int) Quality {
	switch {
	case loss > 200:
		return Blunder
	case loss > 100:
		return Mistake
	case loss > 50:
		return Inaccuracy
	case loss > 0:
		return Good
	default:
		return Best
	}
}

// Classify grades every candidate of res against its first-ranked one.
func Classify(res engine.Analysis) []Line {
	if len(res.Candidates) == 0 {
		return nil
	}
	top := res.Candidates[0].Score
	lines := make([]Line, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		loss := Loss(top, c.Score)
		lines = append(lines, Line{
			Rank:    c.Rank,
			UCI:     c.Move.UCI(),
			SAN:     c.SAN,
			Eval:    c.Eval(),
			Mate:    c.Score.Mate,
			Loss:    loss,
			Quality: ClassifyLoss(loss),
		})
	}
	return lines
}
