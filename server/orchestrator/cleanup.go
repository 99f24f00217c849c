package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/dealsense/store"
)

// DefaultCleanupInterval is how often expired sessions are swept.
const DefaultCleanupInterval = 1 * time.Hour

// CleanupJob periodically deletes expired, non-completed sessions.
type CleanupJob struct {
	store    *store.Store
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// NewCleanupJob creates a cleanup job with the given sweep interval.
func NewCleanupJob(st *store.Store, interval time.Duration) *CleanupJob {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &CleanupJob{
		store:    st,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Start launches the sweep loop. Calling Start on a running job is a no-op.
func (j *CleanupJob) Start() {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.stopChan = make(chan struct{})
	stop := j.stopChan
	j.mu.Unlock()

	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				j.RunOnce(context.Background())
			case <-stop:
				return
			}
		}
	}()
	j.logger.Info("session cleanup job started", "interval", j.interval.String())
}

// Stop halts the sweep loop. Safe to call when not running.
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	j.running = false
	close(j.stopChan)
}

// RunOnce performs a single sweep and returns the number of deleted rows.
func (j *CleanupJob) RunOnce(ctx context.Context) int64 {
	deleted, err := j.store.DeleteExpiredSessions(ctx)
	if err != nil {
		j.logger.Error("expired session sweep failed", "error", err)
		return 0
	}
	if deleted > 0 {
		j.logger.Info("swept expired sessions", "deleted", deleted)
	}
	return deleted
}
