// Package jobs holds background maintenance work run on the worker pool.
package jobs

import (
	"context"
	"time"

	"github.com/vytor/ucibridge/internal/logger"
	"github.com/vytor/ucibridge/internal/metrics"
	"github.com/vytor/ucibridge/internal/repository"
	"github.com/vytor/ucibridge/internal/worker"
)

// PruneJob deletes stored analyses older than Retention.
type PruneJob struct {
	Repo      repository.AnalysisRepository
	Retention time.Duration
	Now       func() time.Time
}

func (j *PruneJob) Name() string { return "prune-history" }

func (j *PruneJob) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	cutoff := now().Add(-j.Retention)

	n, err := j.Repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		log.Error("failed to prune analyses before %s: %v", cutoff.Format(time.RFC3339), err)
		return err
	}
	metrics.PrunedTotal.Add(float64(n))
	if n > 0 {
		log.Info("pruned %d analyses older than %s", n, cutoff.Format(time.RFC3339))
	}
	return nil
}

// Submitter is satisfied by *worker.Pool.
type Submitter interface {
	Submit(worker.Job) error
}

// SchedulePrune submits job to pool once immediately and then every interval
// until ctx is done. Submission failures are logged and retried next tick.
func SchedulePrune(ctx context.Context, pool Submitter, job *PruneJob, interval time.Duration) {
	log := logger.FromContext(ctx).WithPrefix("prune")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := pool.Submit(job); err != nil {
			log.Warn("could not schedule pruning: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
