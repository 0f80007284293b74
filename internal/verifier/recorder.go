package verifier

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lattice-labs/bmde-go/internal/platform/auditlog"
	"github.com/lattice-labs/bmde-go/internal/platform/lineageevent"
)

// SQLRecorder writes audit and lineage events to Postgres.
type SQLRecorder struct {
	DB      *sql.DB
	Timeout time.Duration
}

func (r SQLRecorder) RecordVerification(ctx context.Context, event auditlog.Event) error {
	if r.DB == nil {
		return errors.New("db is required")
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := auditlog.Insert(ctx, r.DB, event)
	return err
}

func (r SQLRecorder) RecordDerivation(ctx context.Context, event lineageevent.Event) error {
	if r.DB == nil {
		return errors.New("db is required")
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, _, err := lineageevent.Insert(ctx, r.DB, event)
	return err
}

func (r SQLRecorder) Subgraph(ctx context.Context, root string, depth, maxEdges int) (lineageevent.Graph, error) {
	if r.DB == nil {
		return lineageevent.Graph{}, errors.New("db is required")
	}
	return lineageevent.Subgraph(ctx, r.DB, root, depth, maxEdges)
}

func (r SQLRecorder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	// Audit writes outlive a client that hangs up mid-request.
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
