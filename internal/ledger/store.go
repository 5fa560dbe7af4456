package ledger

import "context"

// Filter selects entries for Query. Zero positions mean unbounded; Limit
// zero takes DefaultPageSize.
type Filter struct {
	FromPosition int64
	ToPosition   int64
	EventType    string
	ConnectionID string
	CustomerID   string
	Limit        int
	Offset       int
}

// DefaultPageSize bounds Query results when the filter does not.
const DefaultPageSize = 100

// Store is the append-only persistence contract the ledger runs over.
// Implementations must reject duplicate positions; everything else about
// the storage engine is its own business.
type Store interface {
	// Insert persists one entry at its assigned position.
	Insert(ctx context.Context, e *Entry) error

	// Range returns entries with from <= position <= to, ascending.
	// Missing positions are simply absent from the result.
	Range(ctx context.Context, from, to int64) ([]Entry, error)

	// Query returns entries matching the filter, ascending by position.
	Query(ctx context.Context, f Filter) ([]Entry, error)

	// Last returns the most recent entry, or nil when the store is empty.
	// Used to resynchronize the in-memory chain tail at startup.
	Last(ctx context.Context) (*Entry, error)

	// InsertAnchor persists an anchor commitment.
	InsertAnchor(ctx context.Context, a *Anchor) error

	// GetAnchor returns an anchor by id, or nil when absent.
	GetAnchor(ctx context.Context, id string) (*Anchor, error)

	// LastAnchor returns the anchor with the highest covered position, or
	// nil when no anchor exists.
	LastAnchor(ctx context.Context) (*Anchor, error)

	// SetAnchorID back-references an anchor onto every entry in range.
	SetAnchorID(ctx context.Context, from, to int64, anchorID string) error

	Close() error
}
