package models

import "time"

// AnalysisRecord is a completed analysis as stored in the history.
type AnalysisRecord struct {
	ID         int64             `json:"id"`
	RequestID  string            `json:"request_id"`
	SessionID  string            `json:"session_id"`
	FEN        string            `json:"fen"`
	Lines      int               `json:"lines"`
	MoveTimeMS int64             `json:"move_time_ms"`
	BudgetMS   int64             `json:"budget_ms"`
	WaitedMS   int64             `json:"waited_ms"`
	ElapsedMS  int64             `json:"elapsed_ms"`
	BestMove   string            `json:"best_move"`
	BestSAN    string            `json:"best_san"`
	BestEval   int               `json:"best_eval"`
	BestMate   bool              `json:"best_mate"`
	Candidates []CandidateRecord `json:"candidates,omitempty"`
	Cached     bool              `json:"cached"`
	CreatedAt  time.Time         `json:"created_at"`
}

// CandidateRecord is one graded line of an analysis.
type CandidateRecord struct {
	Rank    int    `json:"rank"`
	UCI     string `json:"uci"`
	SAN     string `json:"san"`
	Eval    int    `json:"eval"`
	Mate    bool   `json:"mate"`
	Loss    int    `json:"loss"`
	Quality string `json:"quality"`
}

type AnalysisFilter struct {
	FEN      string
	Since    time.Time
	Limit    int
	Offset   int
	OrderDir string
}
