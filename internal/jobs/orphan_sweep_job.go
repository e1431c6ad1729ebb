package jobs

import (
	"context"
	"time"

	"github.com/straye-as/sales-pipeline-api/internal/config"
	"go.uber.org/zap"
)

const OrphanSweepJobName = "orphan_sweep"

// OrphanSweeper removes dependent rows whose deal no longer exists
type OrphanSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// OrphanSweepJob cleans up rows left behind by fallback deletions
type OrphanSweepJob struct {
	sweeper OrphanSweeper
	logger  *zap.Logger
	timeout time.Duration
}

func NewOrphanSweepJob(sweeper OrphanSweeper, logger *zap.Logger, timeout time.Duration) *OrphanSweepJob {
	return &OrphanSweepJob{
		sweeper: sweeper,
		logger:  logger,
		timeout: timeout,
	}
}

// Run performs one bounded sweep and returns the number of rows removed
func (j *OrphanSweepJob) Run() int64 {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	removed, err := j.sweeper.Sweep(ctx)
	if err != nil {
		j.logger.Error("orphan sweep failed",
			zap.Int64("rows_removed", removed),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return removed
	}

	level := zap.DebugLevel
	if removed > 0 {
		level = zap.InfoLevel
	}
	j.logger.Log(level, "orphan sweep completed",
		zap.Int64("rows_removed", removed),
		zap.Duration("duration", time.Since(start)))
	return removed
}

// RegisterOrphanSweepJob schedules the sweep when enabled in config.
// It reports whether the job was added.
func RegisterOrphanSweepJob(s *Scheduler, sweeper OrphanSweeper, cfg *config.JobsConfig, logger *zap.Logger) (bool, error) {
	if !cfg.OrphanSweepEnabled {
		logger.Info("orphan sweep job disabled")
		return false, nil
	}
	job := NewOrphanSweepJob(sweeper, logger.With(zap.String("job", OrphanSweepJobName)), cfg.OrphanSweepTimeoutDuration())
	if err := s.AddJob(OrphanSweepJobName, cfg.OrphanSweepCron, func() { job.Run() }); err != nil {
		return false, err
	}
	return true, nil
}
