package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/vytor/ucibridge/internal/engine"
	"github.com/vytor/ucibridge/internal/errors"
	"github.com/vytor/ucibridge/internal/logger"
)

// handleError centralizes error handling for HTTP responses
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	appErr, ok := errors.As(err)
	switch {
	case ok:
	case stderrors.Is(err, engine.ErrPoolClosed):
		appErr = &errors.AppError{Code: "UNAVAILABLE", Message: "engine pool is shutting down", Status: http.StatusServiceUnavailable, Err: err}
	default:
		appErr = errors.NewInternalError(err)
	}

	if appErr.Status >= 500 {
		log.Error("server error: %v", appErr)
	} else if appErr.Status >= 400 {
		log.Warn("client error: %v", appErr)
	} else {
		log.Debug("error: %v", appErr)
	}

	writeErrorJSON(w, appErr.Status, appErr.Code, appErr.Message)
}

func writeErrorJSON(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
