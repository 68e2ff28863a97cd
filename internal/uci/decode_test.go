package uci_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vytor/ucibridge/internal/uci"
)

func TestCommands(t *testing.T) {
	assert.Equal(t, "setoption name MultiPV value 3", uci.SetMultiPV(3))
	assert.Equal(t, "position fen 8/8/8/8/8/8/8/K6k w - - 0 1", uci.Position("8/8/8/8/8/8/8/K6k w - - 0 1"))
	assert.Equal(t, "go movetime 1500", uci.GoMoveTime(1500))
	assert.Equal(t, "setoption name Threads value 2", uci.SetThreads(2))
	assert.Equal(t, "setoption name Hash value 2048", uci.SetHash(2048))
	assert.Equal(t, "setoption name UCI_LimitStrength value true", uci.LimitStrength())
	assert.Equal(t, "setoption name UCI_Elo value 2000", uci.SetElo(2000))
}

func TestDecode_Info(t *testing.T) {
	tests := []struct {
		name string
		line string
		want uci.Event
	}{
		{
			name: "centipawn score",
			line: "info depth 12 seldepth 18 multipv 2 score cp 35 nodes 1000 nps 50000 pv e2e4 e7e5 g1f3",
			want: uci.InfoUpdate{MultiPV: 2, Move: "e2e4", Score: uci.Score{CP: 35}, HasScore: true},
		},
		{
			name: "negative centipawns",
			line: "info depth 3 multipv 1 score cp -120 pv d7d5",
			want: uci.InfoUpdate{MultiPV: 1, Move: "d7d5", Score: uci.Score{CP: -120}, HasScore: true},
		},
		{
			name: "mate score ignores distance",
			line: "info depth 5 multipv 1 score mate 3 pv d8h4",
			want: uci.InfoUpdate{MultiPV: 1, Move: "d8h4", Score: uci.Score{Mate: true}, HasScore: true},
		},
		{
			name: "missing score leaves evaluation unset",
			line: "info multipv 1 pv e2e4",
			want: uci.InfoUpdate{MultiPV: 1, Move: "e2e4"},
		},
		{
			name: "bound marker is not an evaluation",
			line: "info multipv 1 score lowerbound pv e2e4",
			want: uci.InfoUpdate{MultiPV: 1, Move: "e2e4"},
		},
		{
			name: "upper case field names",
			line: "INFO MULTIPV 1 SCORE CP 10 PV g1f3",
			want: uci.InfoUpdate{MultiPV: 1, Move: "g1f3", Score: uci.Score{CP: 10}, HasScore: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, uci.Decode(tt.line))
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	lines := []string{
		"",
		"   ",
		"info",
		"info depth 10 score cp 20",
		"info multipv",
		"info multipv x pv e2e4",
		"info multipv 0 pv e2e4",
		"info multipv 1 pv",
		"info string NNUE evaluation using nn-1111.nnue",
		"Stockfish 16 by the Stockfish developers",
		"id name Fake",
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			ev := uci.Decode(line)
			assert.IsType(t, uci.Unrecognized{}, ev)
		})
	}
}

func TestDecode_Terminals(t *testing.T) {
	assert.Equal(t, uci.BestMove{Move: "e2e4", Ponder: "e7e5"}, uci.Decode("bestmove e2e4 ponder e7e5"))
	assert.Equal(t, uci.BestMove{Move: "(none)"}, uci.Decode("bestmove (none)"))
	assert.Equal(t, uci.BestMove{}, uci.Decode("bestmove"))
	assert.Equal(t, uci.ReadyOK{}, uci.Decode("readyok"))
	assert.Equal(t, uci.UCIOK{}, uci.Decode("uciok"))
}

func TestParseScore(t *testing.T) {
	s, ok := uci.ParseScore("35")
	require.True(t, ok)
	assert.Equal(t, 35, s.Value())

	s, ok = uci.ParseScore("mate")
	require.True(t, ok)
	assert.Equal(t, uci.MateScore, s.Value())

	_, ok = uci.ParseScore("upperbound")
	assert.False(t, ok)
}

func TestHasPrefixFold(t *testing.T) {
	assert.True(t, uci.HasPrefixFold("ReadyOK", "readyok"))
	assert.True(t, uci.HasPrefixFold("  bestmove e2e4", "bestmove"))
	assert.False(t, uci.HasPrefixFold("ready", "readyok"))
}
