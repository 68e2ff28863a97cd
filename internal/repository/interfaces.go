package repository

import (
	"context"
	"time"

	"github.com/vytor/ucibridge/internal/models"
)

// AnalysisRepository handles analysis history access
type AnalysisRepository interface {
	Save(ctx context.Context, rec *models.AnalysisRecord) (int64, error)
	Get(ctx context.Context, id int64) (*models.AnalysisRecord, error)
	// Latest returns the newest analysis of fen with at least lines lines
	// created no earlier than since, or sql.ErrNoRows.
	Latest(ctx context.Context, fen string, lines int, since time.Time) (*models.AnalysisRecord, error)
	List(ctx context.Context, filter models.AnalysisFilter) ([]models.AnalysisRecord, error)
	Count(ctx context.Context, filter models.AnalysisFilter) (int, error)
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
}
