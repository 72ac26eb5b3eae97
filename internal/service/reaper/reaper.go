// Package reaper runs the background expiration agent that periodically
// closes open requests whose expiration time has passed.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"grouphub/internal/domain"
)

// DefaultInterval is the sweep period used when none is configured.
const DefaultInterval = time.Minute

// Reaper expires overdue open requests on a fixed interval.
type Reaper struct {
	storage  domain.GroupsStorage
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// New creates a reaper sweeping every interval. A non-positive interval
// falls back to DefaultInterval.
func New(storage domain.GroupsStorage, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{
		storage:  storage,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs an immediate sweep and then schedules recurring sweeps. It is
// an error to start a reaper that is already running.
func (r *Reaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("reaper is already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", r.interval), r.sweep); err != nil {
		return fmt.Errorf("schedule expiration sweep: %w", err)
	}
	r.cron = c
	r.running = true
	c.Start()
	r.logger.Info("expiration agent started", "interval", r.interval)

	go r.sweep()
	return nil
}

// Stop halts the recurring sweeps. Stopping a stopped reaper is a no-op.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.cron.Stop()
	r.cron = nil
	r.running = false
	r.logger.Info("expiration agent stopped")
}

// Running reports whether the reaper is currently scheduled.
func (r *Reaper) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Sweep expires all open requests that are overdue as of the current time.
// Exposed for callers that want a one-off sweep without the schedule.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	return r.storage.ExpireRequests(ctx, r.now())
}

func (r *Reaper) sweep() {
	expired, err := r.Sweep(context.Background())
	if err != nil {
		r.logger.Error("expiration sweep failed", "error", err)
		return
	}
	if expired > 0 {
		r.logger.Info("expired requests", "count", expired)
	}
}
