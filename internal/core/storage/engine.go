package storage

import (
	"context"
	"time"

	"github.com/tidemark-io/tidemark/internal/core/query"
	"github.com/tidemark-io/tidemark/internal/core/record"
)

// GroupRow is one raw grouped result row produced by a backend. Both backends
// must produce identical logical rows for the same data: rows missing any
// active group key are excluded, each collect field accumulates the raw list
// of contributing values, and Count carries the implicit _count.
type GroupRow struct {
	// Keys maps each active group key to its value for this row. Period
	// start keys carry RFC3339 strings.
	Keys map[string]any

	// Count is the number of source records for this key combination.
	Count int64

	// Fields maps each collect field to the raw values contributed by the
	// records in this group, in no particular order.
	Fields map[string][]any
}

// Result is the raw outcome of ExecuteQuery: flat records for ungrouped
// queries, grouped-count rows otherwise.
type Result struct {
	Grouped bool
	Records []record.Record
	Groups  []GroupRow
}

// Engine is the storage contract shared by the relational and document-store
// backends. Implementations must be safe for concurrent use; the core takes
// no in-process locks and relies on the backend's native upsert semantics for
// racing writers on the same _id.
type Engine interface {
	// Alive reports whether the backend is reachable.
	Alive(ctx context.Context) error

	// DataSetExists reports whether the underlying collection exists.
	DataSetExists(ctx context.Context, id string) (bool, error)

	// CreateDataSet creates the underlying collection. cappedSize 0 means
	// uncapped; >0 bounds storage, evicting oldest-inserted records once
	// capacity is exceeded. Returns DataSetCreationError if the collection
	// already exists.
	CreateDataSet(ctx context.Context, id string, cappedSize int64) error

	// DeleteDataSet removes the collection and all its records.
	DeleteDataSet(ctx context.Context, id string) error

	// EmptyDataSet removes all records without deleting the collection.
	EmptyDataSet(ctx context.Context, id string) error

	// LastUpdated returns the latest _updatedAt in the data set, with ok
	// false when the set holds no records.
	LastUpdated(ctx context.Context, id string) (time.Time, bool, error)

	// BatchLastUpdated computes LastUpdated for many data sets in one
	// backend round trip. Missing or empty sets are absent from the map.
	BatchLastUpdated(ctx context.Context, ids []string) (map[string]time.Time, error)

	// SaveRecord upserts by _id if present, else inserts, and always
	// (re)stamps _updatedAt. Transient connectivity failures are retried
	// per the engine's write retry policy before propagating.
	SaveRecord(ctx context.Context, id string, rec record.Record) error

	// ExecuteQuery compiles and runs a query against the data set.
	ExecuteQuery(ctx context.Context, id string, q query.Query) (*Result, error)

	// Close releases the backend connection or handle.
	Close() error
}
