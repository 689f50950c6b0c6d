package river

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/payflow/payflow/internal/domain"
)

// Reconciler resolves an ambiguous session by querying the provider and
// applying the resulting transition. Implemented by app.SessionService.
type Reconciler interface {
	Reconcile(ctx context.Context, sessionID string) (domain.Session, error)
}

// ReconcileWorker processes scheduled reconciliation jobs: sessions whose
// charge outcome was ambiguous (pending or retryable provider error) get
// their status re-queried out of band.
type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileJobArgs]

	reconciler Reconciler
}

// Work runs a single reconciliation. A still-ambiguous result is fine:
// the service records the sync and the session stays non-terminal.
func (w *ReconcileWorker) Work(ctx context.Context, job *river.Job[ReconcileJobArgs]) error {
	session, err := w.reconciler.Reconcile(ctx, job.Args.SessionID)
	if err != nil {
		return fmt.Errorf("reconciling session %s: %w", job.Args.SessionID, err)
	}

	slog.InfoContext(ctx, "session reconciled",
		"session_id", session.ID,
		"status", session.Status,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return nil
}
