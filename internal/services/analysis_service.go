package services

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/corentings/chess/v2"
	"github.com/vytor/ucibridge/internal/analysis"
	"github.com/vytor/ucibridge/internal/engine"
	"github.com/vytor/ucibridge/internal/errors"
	"github.com/vytor/ucibridge/internal/logger"
	"github.com/vytor/ucibridge/internal/metrics"
	"github.com/vytor/ucibridge/internal/models"
	"github.com/vytor/ucibridge/internal/notation"
	"github.com/vytor/ucibridge/internal/repository"
)

// Engine runs analyses. *engine.Pool satisfies it.
type Engine interface {
	Analyze(ctx context.Context, fen string, lines int, moveTime time.Duration) *engine.Future[engine.Analysis]
	BestMove(ctx context.Context, fen string, moveTime time.Duration) *engine.Future[engine.CandidateMove]
}

// AnalysisConfig holds limits applied to incoming requests
type AnalysisConfig struct {
	DefaultMoveTime time.Duration
	MaxMoveTime     time.Duration // 0 = no limit
	MaxLines        int
	CacheMaxAge     time.Duration // 0 disables cached answers
}

type AnalysisRequest struct {
	FEN      string `json:"fen"`
	Lines    int    `json:"lines"`
	MoveTime int64  `json:"move_time_ms"`
	NoCache  bool   `json:"no_cache"`
}

// NotationResult is a coordinate move rendered in SAN.
type NotationResult struct {
	FEN  string `json:"fen"`
	UCI  string `json:"uci"`
	SAN  string `json:"san"`
	Side string `json:"side"`
}

// AnalysisService handles position analysis business logic
type AnalysisService interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*models.AnalysisRecord, error)
	BestMove(ctx context.Context, fen string, moveTimeMS int64) (*models.CandidateRecord, error)
	Notation(ctx context.Context, fen, move string) (NotationResult, error)
	Get(ctx context.Context, id int64) (*models.AnalysisRecord, error)
	History(ctx context.Context, filter models.AnalysisFilter) ([]models.AnalysisRecord, int, error)
}

type analysisService struct {
	engine Engine
	repo   repository.AnalysisRepository
	config AnalysisConfig
	now    func() time.Time
}

// NewAnalysisService creates a new AnalysisService
func NewAnalysisService(eng Engine, repo repository.AnalysisRepository, config AnalysisConfig) AnalysisService {
	if config.DefaultMoveTime <= 0 {
		config.DefaultMoveTime = time.Second
	}
	if config.MaxLines <= 0 {
		config.MaxLines = 5
	}
	return &analysisService{engine: eng, repo: repo, config: config, now: time.Now}
}

func (s *analysisService) moveTime(ms int64) (time.Duration, error) {
	if ms < 0 {
		return 0, errors.NewValidationError("move_time_ms", "cannot be negative")
	}
	d := time.Duration(ms) * time.Millisecond
	if d == 0 {
		d = s.config.DefaultMoveTime
	}
	if s.config.MaxMoveTime > 0 && d > s.config.MaxMoveTime {
		d = s.config.MaxMoveTime
	}
	return d, nil
}

func parseFEN(fen string) (string, *chess.Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return "", nil, errors.NewValidationError("fen", "cannot be empty")
	}
	pos, err := notation.PositionFromFEN(fen)
	if err != nil {
		return "", nil, err
	}
	return fen, pos, nil
}

func sideName(c chess.Color) string {
	if c == chess.Black {
		return "black"
	}
	return "white"
}

func (s *analysisService) Analyze(ctx context.Context, req AnalysisRequest) (*models.AnalysisRecord, error) {
	log := logger.FromContext(ctx)

	fen, _, err := parseFEN(req.FEN)
	if err != nil {
		return nil, err
	}
	lines := req.Lines
	if lines == 0 {
		lines = 1
	}
	if lines < 1 || lines > s.config.MaxLines {
		return nil, errors.NewValidationError("lines", "must be between 1 and the configured maximum")
	}
	moveTime, err := s.moveTime(req.MoveTime)
	if err != nil {
		return nil, err
	}
	log.Debug("analysis requested: fen=%s, lines=%d, move_time=%v", fen, lines, moveTime)

	if s.config.CacheMaxAge > 0 && !req.NoCache {
		if rec := s.cached(ctx, fen, lines); rec != nil {
			return rec, nil
		}
	}

	res, err := s.engine.Analyze(ctx, fen, lines, moveTime).Wait(ctx)
	if err != nil {
		log.Warn("analysis failed: %v", err)
		return nil, err
	}

	rec := toRecord(res, moveTime)
	if _, err := s.repo.Save(ctx, rec); err != nil {
		// The answer is still good; only the history misses it.
		log.Error("failed to store analysis %s: %v", res.RequestID, err)
	}
	return rec, nil
}

func (s *analysisService) cached(ctx context.Context, fen string, lines int) *models.AnalysisRecord {
	log := logger.FromContext(ctx)
	rec, err := s.repo.Latest(ctx, fen, lines, s.now().Add(-s.config.CacheMaxAge))
	switch {
	case err == nil:
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		if len(rec.Candidates) > lines {
			rec.Candidates = rec.Candidates[:lines]
		}
		rec.Cached = true
		log.Debug("serving cached analysis: id=%d", rec.ID)
		return rec
	case stderrors.Is(err, sql.ErrNoRows):
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	default:
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		log.Warn("cache lookup failed, analysing afresh: %v", err)
	}
	return nil
}

func toRecord(res engine.Analysis, moveTime time.Duration) *models.AnalysisRecord {
	rec := &models.AnalysisRecord{
		RequestID:  res.RequestID,
		SessionID:  res.SessionID,
		FEN:        res.FEN,
		Lines:      res.Lines,
		MoveTimeMS: moveTime.Milliseconds(),
		BudgetMS:   res.Budget.Milliseconds(),
		WaitedMS:   res.Waited.Milliseconds(),
		ElapsedMS:  res.Elapsed.Milliseconds(),
	}
	for _, l := range analysis.Classify(res) {
		rec.Candidates = append(rec.Candidates, models.CandidateRecord{
			Rank:    l.Rank,
			UCI:     l.UCI,
			SAN:     l.SAN,
			Eval:    l.Eval,
			Mate:    l.Mate,
			Loss:    l.Loss,
			Quality: string(l.Quality),
		})
	}
	if len(rec.Candidates) > 0 {
		best := rec.Candidates[0]
		rec.BestMove, rec.BestSAN, rec.BestEval, rec.BestMate = best.UCI, best.SAN, best.Eval, best.Mate
	}
	return rec
}

func (s *analysisService) BestMove(ctx context.Context, fen string, moveTimeMS int64) (*models.CandidateRecord, error) {
	log := logger.FromContext(ctx)

	fen, _, err := parseFEN(fen)
	if err != nil {
		return nil, err
	}
	moveTime, err := s.moveTime(moveTimeMS)
	if err != nil {
		return nil, err
	}
	log.Debug("best move requested: fen=%s, move_time=%v", fen, moveTime)

	best, err := s.engine.BestMove(ctx, fen, moveTime).Wait(ctx)
	if err != nil {
		log.Warn("best move failed: %v", err)
		return nil, err
	}
	return &models.CandidateRecord{
		Rank:    best.Rank,
		UCI:     best.Move.UCI(),
		SAN:     best.SAN,
		Eval:    best.Eval(),
		Mate:    best.Score.Mate,
		Quality: string(analysis.Best),
	}, nil
}

func (s *analysisService) Notation(ctx context.Context, fen, move string) (NotationResult, error) {
	fen, pos, err := parseFEN(fen)
	if err != nil {
		return NotationResult{}, err
	}

	m, san, err := notation.GetMove(strings.TrimSpace(move), pos)
	if err != nil {
		logger.FromContext(ctx).Debug("notation rejected %q: %v", move, err)
		return NotationResult{}, err
	}
	return NotationResult{FEN: fen, UCI: m.UCI(), SAN: san, Side: sideName(m.Side)}, nil
}

func (s *analysisService) Get(ctx context.Context, id int64) (*models.AnalysisRecord, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("analysis", id)
		}
		logger.FromContext(ctx).Error("failed to get analysis: %v", err)
		return nil, errors.NewInternalError(err)
	}
	return rec, nil
}

func (s *analysisService) History(ctx context.Context, filter models.AnalysisFilter) ([]models.AnalysisRecord, int, error) {
	log := logger.FromContext(ctx)
	if filter.FEN != "" {
		fen, _, err := parseFEN(filter.FEN)
		if err != nil {
			return nil, 0, err
		}
		filter.FEN = fen
	}

	records, err := s.repo.List(ctx, filter)
	if err != nil {
		log.Error("failed to list analyses: %v", err)
		return nil, 0, errors.NewInternalError(err)
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		log.Error("failed to count analyses: %v", err)
		return nil, 0, errors.NewInternalError(err)
	}
	return records, total, nil
}
