package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pairer retries the waiting pool; users skipped at enqueue time get
// another look as the pool composition changes.
type Pairer interface {
	Sweep(ctx context.Context)
}

// Expirer force-resolves gates whose deadline passed without the
// in-process timer firing.
type Expirer interface {
	SweepExpired()
}

// Job is the periodic safety net behind the event-driven matching
// path. Every interval it re-scans the queue and expires overdue
// handshake and decision gates.
type Job struct {
	pairer   Pairer
	expirers []Expirer
	interval time.Duration
	logger   *zap.Logger
}

func New(pairer Pairer, interval time.Duration, logger *zap.Logger, expirers ...Expirer) *Job {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		pairer:   pairer,
		expirers: expirers,
		interval: interval,
		logger:   logger,
	}
}

// Start blocks until ctx is cancelled.
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("sweeper started", zap.Duration("interval", j.interval))
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *Job) RunOnce(ctx context.Context) {
	for _, e := range j.expirers {
		if e != nil {
			e.SweepExpired()
		}
	}
	if j.pairer != nil {
		j.pairer.Sweep(ctx)
	}
}
