// Package store provides durable, indexed persistence for negotiation
// sessions and their step logs. The store is the single source of truth;
// in-memory session maps are caches rebuilt from it.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/dealsense/internal/profile"
)

// Store is the database access facade.
type Store struct {
	driver  Driver
	profile *profile.Profile
}

// New creates a new Store with the given driver and profile.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// UpsertSession persists the session as a whole-record overwrite keyed by
// its id. Failures propagate to the caller: a failed save during a
// negotiation must be treated as a negotiation failure, never swallowed.
func (s *Store) UpsertSession(ctx context.Context, session *NegotiationSession) error {
	if session.ID == "" {
		return errors.New("session id is required")
	}
	now := time.Now()
	if session.StartTime.IsZero() {
		session.StartTime = now
	}
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = session.StartTime.Add(SessionTTL)
	}
	session.LastUpdate = now
	return s.driver.UpsertSession(ctx, session)
}

// GetSession returns (nil, nil) when no session exists under the id.
func (s *Store) GetSession(ctx context.Context, id string) (*NegotiationSession, error) {
	return s.driver.GetSession(ctx, id)
}

// ListActiveSessions returns sessions that are pending or active AND not yet
// expired. The combined filter is applied at read time, so a row written
// while valid and later expired never leaks out.
func (s *Store) ListActiveSessions(ctx context.Context) ([]*NegotiationSession, error) {
	now := time.Now()
	return s.driver.ListSessions(ctx, &FindSession{
		Statuses:     []Status{StatusPending, StatusActive},
		NotExpiredAt: &now,
	})
}

// ListVisibleSessions returns every non-expired session, any status.
func (s *Store) ListVisibleSessions(ctx context.Context) ([]*NegotiationSession, error) {
	now := time.Now()
	return s.driver.ListSessions(ctx, &FindSession{NotExpiredAt: &now})
}

// DeleteExpiredSessions removes sessions whose expiry has passed and whose
// status is not completed. Used by the periodic sweep.
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	return s.driver.DeleteExpiredSessions(ctx, time.Now())
}

// SessionStats aggregates across all non-expired sessions.
func (s *Store) SessionStats(ctx context.Context) (*Stats, error) {
	sessions, err := s.ListVisibleSessions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions for stats")
	}
	return ComputeStats(sessions), nil
}

// ComputeStats aggregates the given sessions into Stats. Success rate is 0
// when there are no sessions. Average duration covers completed sessions
// with both timestamps; total savings covers completed sessions with a
// recorded offer.
func ComputeStats(sessions []*NegotiationSession) *Stats {
	stats := &Stats{}

	var durationSum float64
	var durationCount int64
	for _, session := range sessions {
		stats.Total++
		switch session.Status {
		case StatusPending, StatusActive:
			stats.Active++
		case StatusCompleted:
			stats.Completed++
			if !session.StartTime.IsZero() && !session.LastUpdate.IsZero() {
				durationSum += session.LastUpdate.Sub(session.StartTime).Seconds()
				durationCount++
			}
			if session.CurrentOffer != nil {
				stats.TotalSavings += session.Savings()
			}
		}
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.Total)
	}
	if durationCount > 0 {
		stats.AvgDurationSeconds = durationSum / float64(durationCount)
	}
	return stats
}
