// Package cleanup deletes expired and old revoked sessions on a schedule.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Purger is the session store operation the job drives.
type Purger interface {
	PurgeExpiredOrRevoked(ctx context.Context, keepRevokedPerUser int) (int64, error)
}

// Job runs one purge per tick.
type Job struct {
	sessions    Purger
	keepRevoked int
	interval    time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// New returns a job purging sessions every interval, keeping keepRevoked revoked sessions per user.
func New(sessions Purger, keepRevoked int, interval time.Duration, logger *zap.Logger) *Job {
	if interval <= 0 {
		interval = time.Hour
	}
	if keepRevoked < 0 {
		keepRevoked = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		sessions:    sessions,
		keepRevoked: keepRevoked,
		interval:    interval,
		now:         time.Now,
		logger:      logger,
	}
}

// Run performs a single purge.
func (j *Job) Run(ctx context.Context) error {
	start := j.now()
	n, err := j.sessions.PurgeExpiredOrRevoked(ctx, j.keepRevoked)
	if err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}
	if n > 0 {
		j.logger.Info("session cleanup completed",
			zap.Int64("deleted", n),
			zap.Duration("took", j.now().Sub(start)),
		)
	}
	return nil
}

// Loop runs the job immediately and then on every tick until ctx is done. Failures are logged
// and retried on the next tick.
func (j *Job) Loop(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Warn("session cleanup failed", zap.Error(err))
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Warn("session cleanup failed", zap.Error(err))
			}
		}
	}
}
