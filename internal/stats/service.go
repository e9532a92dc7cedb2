// Package stats reports platform-wide counters for administrators.
package stats

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loomtale/loomtale/internal/policy"
	"github.com/loomtale/loomtale/internal/users"
	"github.com/loomtale/loomtale/jobs"
)

// UserCounter aggregates user records.
type UserCounter interface {
	CountByStatus(ctx context.Context) (map[users.Status]int, error)
	CountByRole(ctx context.Context) (map[policy.Role]int, error)
}

// Snapshot is one read of the platform counters.
type Snapshot struct {
	UsersByStatus map[users.Status]int `json:"users_by_status"`
	UsersByRole   map[policy.Role]int  `json:"users_by_role"`
	TotalUsers    int                  `json:"total_users"`
	Queues        []jobs.QueueDepth    `json:"queues"`
	GeneratedAt   time.Time            `json:"generated_at"`
}

// Service gathers statistics from the user store and the job queue.
type Service struct {
	users     UserCounter
	inspector jobs.QueueInspector
	now       func() time.Time
}

// NewService builds a Service.
func NewService(counter UserCounter, inspector jobs.QueueInspector) *Service {
	return &Service{users: counter, inspector: inspector, now: time.Now}
}

// Snapshot reads every counter concurrently and fails if any source fails.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		byStatus, err := s.users.CountByStatus(gctx)
		snap.UsersByStatus = byStatus
		return err
	})
	g.Go(func() error {
		byRole, err := s.users.CountByRole(gctx)
		snap.UsersByRole = byRole
		return err
	})
	g.Go(func() error {
		queues, err := jobs.Depths(s.inspector)
		snap.Queues = queues
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	for _, n := range snap.UsersByStatus {
		snap.TotalUsers += n
	}
	snap.GeneratedAt = s.now().UTC()
	return snap, nil
}
