// Package business persists the lead candidates the enrichment flow works
// through, bucketed by geography and vertical.
package business

import (
	"context"
	"time"

	"github.com/leadfactory/leadfactory/internal/model"
)

// Store is the business inventory. Implementations are safe for concurrent
// use.
type Store interface {
	// Import upserts businesses by ID and returns the number written.
	Import(ctx context.Context, businesses []model.Business) (int64, error)

	// Segments returns every distinct (geo, vert) bucket with a count of
	// businesses pending enrichment: never enriched, or last enriched
	// before now-olderThan.
	Segments(ctx context.Context, olderThan time.Duration) ([]model.Segment, error)

	// ListStale returns up to limit businesses in the segment that are
	// pending enrichment under the given window, oldest first.
	ListStale(ctx context.Context, geo, vert string, olderThan time.Duration, limit int) ([]model.Business, error)

	// StampEnriched marks a business as enriched at the given time and
	// persists any fields the enrichment sources filled in (domain, email,
	// contact name).
	StampEnriched(ctx context.Context, b model.Business, at time.Time) error

	// CountPending returns the total number of never-enriched businesses.
	CountPending(ctx context.Context) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}
