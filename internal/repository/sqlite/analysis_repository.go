package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/vytor/ucibridge/internal/logger"
	"github.com/vytor/ucibridge/internal/models"
	"github.com/vytor/ucibridge/internal/repository"
)

var analysisColumns = []string{
	"id", "request_id", "session_id", "fen", "lines", "move_time_ms", "budget_ms",
	"waited_ms", "elapsed_ms", "best_move", "best_san", "best_eval", "best_mate", "created_at",
}

type analysisRepository struct {
	db *sql.DB
}

// NewAnalysisRepository creates a new AnalysisRepository implementation
func NewAnalysisRepository(db *sql.DB) repository.AnalysisRepository {
	return &analysisRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*models.AnalysisRecord, error) {
	var a models.AnalysisRecord
	err := row.Scan(&a.ID, &a.RequestID, &a.SessionID, &a.FEN, &a.Lines, &a.MoveTimeMS, &a.BudgetMS,
		&a.WaitedMS, &a.ElapsedMS, &a.BestMove, &a.BestSAN, &a.BestEval, &a.BestMate, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *analysisRepository) Save(ctx context.Context, rec *models.AnalysisRecord) (int64, error) {
	log := logger.FromContext(ctx).WithPrefix("analysis_repo")
	log.Debug("saving analysis: request_id=%s, candidates=%d", rec.RequestID, len(rec.Candidates))

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var id int64
	err := tx(ctx, r.db, func(tx *sql.Tx) error {
		query, args, err := sqlBuilder.Insert("analyses").
			Columns(analysisColumns[1:]...).
			Values(rec.RequestID, rec.SessionID, rec.FEN, rec.Lines, rec.MoveTimeMS, rec.BudgetMS,
				rec.WaitedMS, rec.ElapsedMS, rec.BestMove, rec.BestSAN, rec.BestEval, rec.BestMate, rec.CreatedAt.UTC()).
			ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}

		if len(rec.Candidates) == 0 {
			return nil
		}
		ins := sqlBuilder.Insert("analysis_lines").
			Columns("analysis_id", "rank", "uci", "san", "eval", "mate", "loss", "quality")
		for _, c := range rec.Candidates {
			ins = ins.Values(id, c.Rank, c.UCI, c.SAN, c.Eval, c.Mate, c.Loss, c.Quality)
		}
		query, args, err = ins.ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		log.Error("failed to save analysis: %v", err)
		return 0, err
	}
	rec.ID = id
	log.Debug("analysis saved: id=%d", id)
	return id, nil
}

func (r *analysisRepository) Get(ctx context.Context, id int64) (*models.AnalysisRecord, error) {
	log := logger.FromContext(ctx).WithPrefix("analysis_repo")
	log.Debug("getting analysis: id=%d", id)

	query, args, err := sqlBuilder.Select(analysisColumns...).From("analyses").
		Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	a, err := scanAnalysis(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("analysis not found: id=%d", id)
		} else {
			log.Error("failed to get analysis: %v", err)
		}
		return nil, err
	}
	if a.Candidates, err = r.candidates(ctx, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *analysisRepository) Latest(ctx context.Context, fen string, lines int, since time.Time) (*models.AnalysisRecord, error) {
	log := logger.FromContext(ctx).WithPrefix("analysis_repo")

	query, args, err := sqlBuilder.Select(analysisColumns...).From("analyses").
		Where(squirrel.Eq{"fen": fen}).
		Where(squirrel.GtOrEq{"lines": lines, "created_at": since.UTC()}).
		OrderBy("created_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}
	a, err := scanAnalysis(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Error("failed to look up cached analysis: %v", err)
		}
		return nil, err
	}
	if a.Candidates, err = r.candidates(ctx, a.ID); err != nil {
		return nil, err
	}
	log.Debug("cached analysis found: id=%d, age=%v", a.ID, time.Since(a.CreatedAt))
	return a, nil
}

func (r *analysisRepository) candidates(ctx context.Context, analysisID int64) ([]models.CandidateRecord, error) {
	query, args, err := sqlBuilder.Select("rank", "uci", "san", "eval", "mate", "loss", "quality").
		From("analysis_lines").
		Where(squirrel.Eq{"analysis_id": analysisID}).
		OrderBy("rank ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CandidateRecord
	for rows.Next() {
		var c models.CandidateRecord
		if err := rows.Scan(&c.Rank, &c.UCI, &c.SAN, &c.Eval, &c.Mate, &c.Loss, &c.Quality); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func applyFilter(q squirrel.SelectBuilder, filter models.AnalysisFilter) squirrel.SelectBuilder {
	if filter.FEN != "" {
		q = q.Where(squirrel.Eq{"fen": filter.FEN})
	}
	if !filter.Since.IsZero() {
		q = q.Where(squirrel.GtOrEq{"created_at": filter.Since.UTC()})
	}
	return q
}

// List returns analyses without their candidate lines.
func (r *analysisRepository) List(ctx context.Context, filter models.AnalysisFilter) ([]models.AnalysisRecord, error) {
	log := logger.FromContext(ctx).WithPrefix("analysis_repo")
	log.Debug("listing analyses: fen=%q, limit=%d, offset=%d", filter.FEN, filter.Limit, filter.Offset)

	query := applyFilter(sqlBuilder.Select(analysisColumns...).From("analyses"), filter)

	orderDir := "DESC"
	if filter.OrderDir == "ASC" {
		orderDir = "ASC"
	}
	query = query.OrderBy("created_at "+orderDir, "id "+orderDir)

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query = query.Limit(uint64(limit)).Offset(uint64(offset))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Error("failed to build query: %v", err)
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		log.Error("failed to list analyses: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out []models.AnalysisRecord
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			log.Error("failed to scan analysis row: %v", err)
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *analysisRepository) Count(ctx context.Context, filter models.AnalysisFilter) (int, error) {
	sqlStr, args, err := applyFilter(sqlBuilder.Select("COUNT(*)").From("analyses"), filter).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		logger.FromContext(ctx).WithPrefix("analysis_repo").Error("failed to count analyses: %v", err)
		return 0, err
	}
	return n, nil
}

// DeleteBefore prunes analyses older than t. Their lines go with them.
func (r *analysisRepository) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	sqlStr, args, err := sqlBuilder.Delete("analyses").Where(squirrel.Lt{"created_at": t.UTC()}).ToSql()
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		logger.FromContext(ctx).WithPrefix("analysis_repo").Error("failed to prune analyses: %v", err)
		return 0, err
	}
	return res.RowsAffected()
}
