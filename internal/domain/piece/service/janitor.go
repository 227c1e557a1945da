package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/FACorreiaa/ledger-intake/pkg/observability"
)

// StaleResetter moves pieces stuck in PROCESSING back to UPLOADED.
type StaleResetter interface {
	ResetStaleProcessing(ctx context.Context, startedBefore time.Time) (int64, error)
}

// JanitorConfig controls the stale sweep.
type JanitorConfig struct {
	StaleAfter time.Duration
	Interval   time.Duration
}

// Janitor periodically releases pieces whose processing never finished.
type Janitor struct {
	repo   StaleResetter
	cfg    JanitorConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewJanitor creates a janitor
func NewJanitor(repo StaleResetter, cfg JanitorConfig, logger *slog.Logger) *Janitor {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Janitor{repo: repo, cfg: cfg, logger: logger, now: time.Now}
}

// Sweep resets every piece that entered PROCESSING more than StaleAfter ago.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	n, err := j.repo.ResetStaleProcessing(ctx, j.now().Add(-j.cfg.StaleAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.StaleReset.Add(float64(n))
		j.logger.Info("reset stale processing pieces", "count", n, "stale_after", j.cfg.StaleAfter)
	}
	return n, nil
}

// Run sweeps every Interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.logger.Warn("stale sweep failed", "error", err)
			}
		}
	}
}
