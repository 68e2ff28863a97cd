package api

import (
	"context"

	"github.com/vytor/ucibridge/internal/services"
)

// Pinger is satisfied by *db.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EngineStatus is satisfied by *engine.Pool.
type EngineStatus interface {
	Size() int
	Healthy() int
	Available() int
}

type Server struct {
	AnalysisService    services.AnalysisService
	DB                 Pinger
	Engines            EngineStatus
	RateLimitPerMinute int // 0 disables rate limiting
}
