package river

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"github.com/payflow/payflow/internal/domain"
)

// Compile-time check: Scheduler implements domain.ReconcileScheduler.
var _ domain.ReconcileScheduler = (*Scheduler)(nil)

// ReconcileJobArgs carries the session to re-query. River serializes this
// as JSON into its job queue table.
type ReconcileJobArgs struct {
	SessionID string `json:"session_id"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (ReconcileJobArgs) Kind() string { return "session.reconcile" }

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Scheduler implements domain.ReconcileScheduler by enqueuing delayed
// River jobs.
type Scheduler struct {
	client *Client
}

// NewScheduler creates a scheduler backed by the given River client.
func NewScheduler(client *Client) *Scheduler {
	return &Scheduler{client: client}
}

// Schedule enqueues a reconciliation for the session after the delay.
func (s *Scheduler) Schedule(ctx context.Context, sessionID string, delay time.Duration) error {
	_, err := s.client.Insert(ctx, ReconcileJobArgs{SessionID: sessionID}, &river.InsertOpts{
		ScheduledAt: time.Now().Add(delay),
	})
	if err != nil {
		return fmt.Errorf("enqueuing reconcile job: %w", err)
	}
	return nil
}
