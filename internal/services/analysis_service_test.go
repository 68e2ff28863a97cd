package services_test

import (
	"context"
	"database/sql"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vytor/ucibridge/internal/errors"
	"github.com/vytor/ucibridge/internal/models"
	"github.com/vytor/ucibridge/internal/repository/sqlite"
	"github.com/vytor/ucibridge/internal/services"
	"github.com/vytor/ucibridge/internal/testutil"
	"github.com/vytor/ucibridge/internal/testutil/mocks"
)

const (
	startFEN     = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	mateInOneFEN = "rnbqkbnr/pppp1ppp/4p3/8/6P1/5P2/PPPPP2P/RNBQKBNR b KQkq - 0 1"
)

var config = services.AnalysisConfig{
	DefaultMoveTime: 50 * time.Millisecond,
	MaxLines:        3,
	CacheMaxAge:     time.Hour,
}

func TestAnalysisService_Analyze(t *testing.T) {
	repo := new(mocks.MockAnalysisRepository)
	svc := services.NewAnalysisService(testutil.NewFakeEnginePool(t, 1), repo, config)

	repo.On("Latest", mock.Anything, mateInOneFEN, 2, mock.AnythingOfType("time.Time")).
		Return(nil, sql.ErrNoRows)
	repo.On("Save", mock.Anything, mock.AnythingOfType("*models.AnalysisRecord")).Return(int64(7), nil)

	rec, err := svc.Analyze(context.Background(), services.AnalysisRequest{FEN: mateInOneFEN, Lines: 2})
	require.NoError(t, err)

	assert.False(t, rec.Cached)
	assert.Equal(t, "d8h4", rec.BestMove)
	assert.Equal(t, "Qh4#", rec.BestSAN)
	assert.Equal(t, 999, rec.BestEval)
	assert.True(t, rec.BestMate)
	assert.Equal(t, int64(50), rec.MoveTimeMS)
	require.Len(t, rec.Candidates, 2)
	assert.Equal(t, "best", rec.Candidates[0].Quality)
	assert.Equal(t, "blunder", rec.Candidates[1].Quality, "missing a mate in one")
	repo.AssertExpectations(t)
}

func TestAnalysisService_Analyze_Cached(t *testing.T) {
	repo := new(mocks.MockAnalysisRepository)
	svc := services.NewAnalysisService(testutil.NewFakeEnginePool(t, 1), repo, config)

	stored := &models.AnalysisRecord{
		ID: 3, FEN: startFEN, Lines: 3,
		Candidates: []models.CandidateRecord{{Rank: 1}, {Rank: 2}, {Rank: 3}},
	}
	repo.On("Latest", mock.Anything, startFEN, 2, mock.AnythingOfType("time.Time")).Return(stored, nil)

	rec, err := svc.Analyze(context.Background(), services.AnalysisRequest{FEN: startFEN, Lines: 2})
	require.NoError(t, err)
	assert.True(t, rec.Cached)
	assert.Len(t, rec.Candidates, 2, "trimmed to the requested line count")
	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestAnalysisService_Analyze_NoCache(t *testing.T) {
	repo := new(mocks.MockAnalysisRepository)
	svc := services.NewAnalysisService(testutil.NewFakeEnginePool(t, 1), repo, config)
	repo.On("Save", mock.Anything, mock.Anything).Return(int64(1), nil)

	rec, err := svc.Analyze(context.Background(), services.AnalysisRequest{FEN: startFEN, NoCache: true})
	require.NoError(t, err)
	assert.Len(t, rec.Candidates, 1, "one line by default")
	repo.AssertNotCalled(t, "Latest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalysisService_Analyze_SaveFailureStillAnswers(t *testing.T) {
	repo := new(mocks.MockAnalysisRepository)
	svc := services.NewAnalysisService(testutil.NewFakeEnginePool(t, 1), repo,
		services.AnalysisConfig{DefaultMoveTime: 20 * time.Millisecond})
	repo.On("Save", mock.Anything, mock.Anything).Return(int64(0), stderrors.New("disk full"))

	rec, err := svc.Analyze(context.Background(), services.AnalysisRequest{FEN: startFEN})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.BestMove)
}

func TestAnalysisService_Analyze_Validation(t *testing.T) {
	repo := new(mocks.MockAnalysisRepository)
	svc := services.NewAnalysisService(testutil.NewFakeEnginePool(t, 1), repo, config)

	tests := []struct {
		name string
		req  services.AnalysisRequest
	}{
		{"empty fen", services.AnalysisRequest{}},
		{"bad fen", services.AnalysisRequest{FEN: "8/8/8"}},
		{"too many lines", services.AnalysisRequest{FEN: startFEN, Lines: 4}},
		{"negative lines", services.AnalysisRequest{FEN: startFEN, Lines: -1}},
		{"negative move time", services.AnalysisRequest{FEN: startFEN, MoveTime: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Analyze(context.Background(), tt.req)
			assert.True(t, errors.HasCode(err, errors.ErrCodeValidation), "got %v", err)
		})
	}
	repo.AssertExpectations(t)
}

func TestAnalysisService_BestMove(t *testing.T) {
	svc := services.NewAnalysisService(testutil.NewFakeEnginePool(t, 1), new(mocks.MockAnalysisRepository), config)

	best, err := svc.BestMove(context.Background(), mateInOneFEN, 30)
	require.NoError(t, err)
	assert.Equal(t, "Qh4#", best.SAN)
	assert.Equal(t, 1, best.Rank)

	_, err = svc.BestMove(context.Background(), "", 30)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))
}

func TestAnalysisService_Notation(t *testing.T) {
	svc := services.NewAnalysisService(nil, new(mocks.MockAnalysisRepository), config)
	ctx := context.Background()

	res, err := svc.Notation(ctx, mateInOneFEN, "d8h4")
	require.NoError(t, err)
	assert.Equal(t, services.NotationResult{FEN: mateInOneFEN, UCI: "d8h4", SAN: "Qh4#", Side: "black"}, res)

	res, err = svc.Notation(ctx, startFEN, " G1F3 ")
	require.NoError(t, err)
	assert.Equal(t, "Nf3", res.SAN)
	assert.Equal(t, "white", res.Side)

	_, err = svc.Notation(ctx, startFEN, "e2e5")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotation), "got %v", err)

	_, err = svc.Notation(ctx, startFEN, "Nf3")
	assert.True(t, errors.HasCode(err, errors.ErrCodeBadRequest), "got %v", err)
}

func TestAnalysisService_Get(t *testing.T) {
	repo := new(mocks.MockAnalysisRepository)
	svc := services.NewAnalysisService(nil, repo, config)

	repo.On("Get", mock.Anything, int64(1)).Return(&models.AnalysisRecord{ID: 1}, nil)
	repo.On("Get", mock.Anything, int64(2)).Return(nil, sql.ErrNoRows)
	repo.On("Get", mock.Anything, int64(3)).Return(nil, stderrors.New("locked"))

	rec, err := svc.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)

	_, err = svc.Get(context.Background(), 2)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	_, err = svc.Get(context.Background(), 3)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInternal))
}

// History and the cache against a real database.
func TestAnalysisService_WithDatabase(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.MustClose(t, db)

	svc := services.NewAnalysisService(testutil.NewFakeEnginePool(t, 2), sqlite.NewAnalysisRepository(db), config)
	ctx := context.Background()

	first, err := svc.Analyze(ctx, services.AnalysisRequest{FEN: startFEN, Lines: 3})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	again, err := svc.Analyze(ctx, services.AnalysisRequest{FEN: startFEN, Lines: 2})
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, first.RequestID, again.RequestID)
	assert.Len(t, again.Candidates, 2)

	_, err = svc.Analyze(ctx, services.AnalysisRequest{FEN: mateInOneFEN})
	require.NoError(t, err)

	all, total, err := svc.History(ctx, models.AnalysisFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	only, total, err := svc.History(ctx, models.AnalysisFilter{FEN: " " + mateInOneFEN + " "})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Qh4#", only[0].BestSAN)

	stored, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Candidates, 3)
}
