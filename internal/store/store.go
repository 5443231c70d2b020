// Package store persists processed URL results and batch runs in a bounded
// history. Entries beyond the configured maximum are evicted oldest first.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/digest-cli/internal/model"
)

// DefaultMaxEntries bounds the history table when no limit is configured.
const DefaultMaxEntries = 500

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = eris.New("not found")

// Store defines the history persistence interface.
type Store interface {
	// Save records one processed URL and evicts the oldest entries above the
	// limit.
	Save(ctx context.Context, r model.Result) error
	// SaveBatch records a completed batch run and all its results.
	SaveBatch(ctx context.Context, run model.BatchRun) error

	// List returns the newest entries first.
	List(ctx context.Context, limit int) ([]model.Result, error)
	// Get returns the newest entry for a URL, or ErrNotFound.
	Get(ctx context.Context, url string) (*model.Result, error)
	Count(ctx context.Context) (int, error)

	// GetBatch returns a batch with its surviving results in input order.
	GetBatch(ctx context.Context, id string) (*model.BatchRun, error)
	// ListBatches returns batch headers without results, newest first.
	ListBatches(ctx context.Context, limit int) ([]model.BatchRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// prepare fills in the ID and timestamp of a result about to be stored.
func prepare(r *model.Result) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

func prepareBatch(run *model.BatchRun) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	if run.CompletedAt.IsZero() {
		run.CompletedAt = now
	}
	for i := range run.Results {
		prepare(&run.Results[i])
	}
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
