package api_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vytor/ucibridge/internal/api"
	"github.com/vytor/ucibridge/internal/engine"
	"github.com/vytor/ucibridge/internal/errors"
	"github.com/vytor/ucibridge/internal/logger"
	"github.com/vytor/ucibridge/internal/models"
	"github.com/vytor/ucibridge/internal/services"
	"github.com/vytor/ucibridge/internal/testutil/mocks"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func init() {
	logger.SetDefault(logger.Discard())
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubEngines struct{ size, healthy, available int }

func (e stubEngines) Size() int      { return e.size }
func (e stubEngines) Healthy() int   { return e.healthy }
func (e stubEngines) Available() int { return e.available }

func newServer(svc services.AnalysisService) *api.Server {
	return &api.Server{
		AnalysisService: svc,
		DB:              stubPinger{},
		Engines:         stubEngines{size: 2, healthy: 2, available: 1},
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestAnalyze(t *testing.T) {
	svc := new(mocks.MockAnalysisService)
	h := newServer(svc).Routes()

	svc.On("Analyze", mock.Anything, services.AnalysisRequest{FEN: startFEN, Lines: 2, MoveTime: 500}).
		Return(&models.AnalysisRecord{ID: 4, FEN: startFEN, BestMove: "e2e4", BestSAN: "e4"}, nil)

	w := do(t, h, http.MethodPost, "/api/analyze", `{"fen":"`+startFEN+`","lines":2,"move_time_ms":500}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var got models.AnalysisRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "e4", got.BestSAN)
	svc.AssertExpectations(t)
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"malformed body", `{"fen":`, nil, http.StatusBadRequest, errors.ErrCodeBadRequest},
		{"unknown field", `{"position":"x"}`, nil, http.StatusBadRequest, errors.ErrCodeBadRequest},
		{"validation", `{"fen":"8/8"}`, errors.NewValidationError("fen", "bad"), http.StatusBadRequest, errors.ErrCodeValidation},
		{"engine channel", `{"fen":"x"}`, errors.NewChannelError("read", stderrors.New("EOF")), http.StatusServiceUnavailable, errors.ErrCodeChannel},
		{"no result", `{"fen":"x"}`, errors.NewAnalysisError("engine returned no moves", nil), http.StatusBadGateway, errors.ErrCodeAnalysis},
		{"pool closed", `{"fen":"x"}`, engine.ErrPoolClosed, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"unexpected", `{"fen":"x"}`, stderrors.New("boom"), http.StatusInternalServerError, errors.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mocks.MockAnalysisService)
			if tt.err != nil {
				svc.On("Analyze", mock.Anything, mock.Anything).Return(nil, tt.err)
			}
			w := do(t, newServer(svc).Routes(), http.MethodPost, "/api/analyze", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

func TestBestMove(t *testing.T) {
	svc := new(mocks.MockAnalysisService)
	h := newServer(svc).Routes()

	svc.On("BestMove", mock.Anything, startFEN, int64(250)).
		Return(&models.CandidateRecord{Rank: 1, UCI: "e2e4", SAN: "e4", Quality: "best"}, nil)

	w := do(t, h, http.MethodGet, "/api/bestmove?move_time_ms=250&fen="+strings.ReplaceAll(startFEN, " ", "+"), "")
	require.Equal(t, http.StatusOK, w.Code)
	var got models.CandidateRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "e2e4", got.UCI)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/bestmove", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/bestmove?fen=x&move_time_ms=fast", "").Code)
	svc.AssertExpectations(t)
}

func TestNotation(t *testing.T) {
	svc := new(mocks.MockAnalysisService)
	h := newServer(svc).Routes()

	svc.On("Notation", mock.Anything, startFEN, "g1f3").
		Return(services.NotationResult{FEN: startFEN, UCI: "g1f3", SAN: "Nf3", Side: "white"}, nil)
	svc.On("Notation", mock.Anything, startFEN, "e2e5").
		Return(services.NotationResult{}, errors.NewNotationError("e2e5", startFEN))

	fen := strings.ReplaceAll(startFEN, " ", "+")
	w := do(t, h, http.MethodGet, "/api/notation?move=g1f3&fen="+fen, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"san":"Nf3"`)

	w = do(t, h, http.MethodGet, "/api/notation?move=e2e5&fen="+fen, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, errors.ErrCodeNotation, errorCode(t, w))

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/notation?fen="+fen, "").Code)
}

func TestListAnalyses(t *testing.T) {
	svc := new(mocks.MockAnalysisService)
	h := newServer(svc).Routes()

	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.On("History", mock.Anything, models.AnalysisFilter{Limit: 10, Offset: 20, Since: since, OrderDir: "ASC"}).
		Return([]models.AnalysisRecord{{ID: 1}, {ID: 2}}, 22, nil)
	svc.On("History", mock.Anything, models.AnalysisFilter{Limit: 50}).Return(nil, 0, nil)

	w := do(t, h, http.MethodGet, "/api/analyses?limit=10&offset=20&order=ASC&since=2026-01-02T03:04:05Z", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Analyses []models.AnalysisRecord `json:"analyses"`
		Total    int                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Analyses, 2)
	assert.Equal(t, 22, page.Total)

	w = do(t, h, http.MethodGet, "/api/analyses", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"analyses":[]`)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/analyses?limit=ten", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/analyses?since=yesterday", "").Code)
	svc.AssertExpectations(t)
}

func TestGetAnalysis(t *testing.T) {
	svc := new(mocks.MockAnalysisService)
	h := newServer(svc).Routes()

	svc.On("Get", mock.Anything, int64(7)).Return(&models.AnalysisRecord{ID: 7}, nil)
	svc.On("Get", mock.Anything, int64(8)).Return(nil, errors.NewNotFoundError("analysis", int64(8)))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/analyses/7", "").Code)

	w := do(t, h, http.MethodGet, "/api/analyses/8", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errors.ErrCodeNotFound, errorCode(t, w))

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/analyses/abc", "").Code)
}

func TestHealthAndReady(t *testing.T) {
	tests := []struct {
		name    string
		db      api.Pinger
		engines api.EngineStatus
		status  int
	}{
		{"ready", stubPinger{}, stubEngines{size: 2, healthy: 1}, http.StatusOK},
		{"database down", stubPinger{err: stderrors.New("locked")}, stubEngines{size: 2, healthy: 2}, http.StatusServiceUnavailable},
		{"no engines", stubPinger{}, stubEngines{size: 2}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &api.Server{AnalysisService: new(mocks.MockAnalysisService), DB: tt.db, Engines: tt.engines}
			h := s.Routes()
			assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
			assert.Equal(t, tt.status, do(t, h, http.MethodGet, "/ready", "").Code)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	w := do(t, newServer(new(mocks.MockAnalysisService)).Routes(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRateLimit(t *testing.T) {
	svc := new(mocks.MockAnalysisService)
	svc.On("Get", mock.Anything, int64(1)).Return(&models.AnalysisRecord{ID: 1}, nil)
	s := newServer(svc)
	s.RateLimitPerMinute = 2
	h := s.Routes()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/analyses/1", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/analyses/1", "").Code)

	w := do(t, h, http.MethodGet, "/api/analyses/1", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code, "health checks are not limited")
}

func TestRequestIDIsEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	newServer(new(mocks.MockAnalysisService)).Routes().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
