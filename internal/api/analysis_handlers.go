package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vytor/ucibridge/internal/errors"
	"github.com/vytor/ucibridge/internal/models"
	"github.com/vytor/ucibridge/internal/services"
)

const maxBodyBytes = 1 << 16

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req services.AnalysisRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		handleError(w, r, errors.NewBadRequestError("invalid JSON body: "+err.Error()))
		return
	}

	rec, err := s.AnalysisService.Analyze(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleBestMove(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fen := q.Get("fen")
	if fen == "" {
		handleError(w, r, errors.NewBadRequestError("fen parameter required"))
		return
	}
	moveTime, err := queryInt(q.Get("move_time_ms"), 0)
	if err != nil {
		handleError(w, r, errors.NewBadRequestError("move_time_ms must be an integer"))
		return
	}

	best, err := s.AnalysisService.BestMove(r.Context(), fen, int64(moveTime))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, best)
}

func (s *Server) handleNotation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fen, move := q.Get("fen"), q.Get("move")
	if fen == "" || move == "" {
		handleError(w, r, errors.NewBadRequestError("fen and move parameters required"))
		return
	}

	res, err := s.AnalysisService.Notation(r.Context(), fen, move)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AnalysisFilter{FEN: q.Get("fen"), OrderDir: q.Get("order")}

	var err error
	if filter.Limit, err = queryInt(q.Get("limit"), 50); err != nil {
		handleError(w, r, errors.NewBadRequestError("limit must be an integer"))
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset"), 0); err != nil {
		handleError(w, r, errors.NewBadRequestError("offset must be an integer"))
		return
	}
	if since := q.Get("since"); since != "" {
		if filter.Since, err = time.Parse(time.RFC3339, since); err != nil {
			handleError(w, r, errors.NewBadRequestError("since must be an RFC 3339 timestamp"))
			return
		}
	}

	records, total, err := s.AnalysisService.History(r.Context(), filter)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if records == nil {
		records = []models.AnalysisRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"analyses": records,
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		handleError(w, r, errors.NewBadRequestError("invalid analysis id"))
		return
	}

	rec, err := s.AnalysisService.Get(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
