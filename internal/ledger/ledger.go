// Package ledger records every authorization decision and action outcome as
// an append-only, hash-linked chain with periodic anchoring for tamper
// detection. Adapted storage contract: the chain runs over any Store that
// supports insert-by-position, range query, and last-entry lookup; SQLite
// is the shipped implementation.
package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"
)

// DefaultAnchorInterval is how many entries accumulate before an anchor is
// created automatically.
const DefaultAnchorInterval = 1000

// Write retry bounds. A dropped entry breaks chain verification for
// everything after it, so writes are retried with backoff before the error
// escalates to the caller.
const (
	writeAttempts     = 3
	writeRetryBackoff = 50 * time.Millisecond
)

// Ledger is the single writer over a Store. The position counter and the
// last-hash pointer are guarded by one lock so two interleaved writers can
// never observe the same prev_hash.
type Ledger struct {
	mu       sync.Mutex
	store    Store
	position int64
	lastHash string

	anchorEvery int64
	now         func() time.Time
}

// Option tunes a Ledger.
type Option func(*Ledger)

// WithAnchorInterval overrides the automatic anchor interval. Zero disables
// automatic anchoring.
func WithAnchorInterval(n int64) Option {
	return func(l *Ledger) { l.anchorEvery = n }
}

// Open creates a Ledger over the store, resynchronizing the position
// counter and last-hash pointer from the most recent persisted entry.
func Open(ctx context.Context, store Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:       store,
		lastHash:    GenesisHash,
		anchorEvery: DefaultAnchorInterval,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}

	last, err := store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: resync chain tail: %w", err)
	}
	if last != nil {
		l.position = last.Position
		l.lastHash = last.EntryHash
	}
	return l, nil
}

// Log appends one entry: assigns the next position, links the previous
// hash, computes the content hash, and persists. The in-memory tail moves
// only after the store accepted the write.
func (l *Ledger) Log(ctx context.Context, e *Entry) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Position = l.position + 1
	e.PrevHash = l.lastHash
	if e.Timestamp == "" {
		e.Timestamp = l.now().Format(TimestampFormat)
	}

	hash, err := e.ComputeHash()
	if err != nil {
		return nil, err
	}
	e.EntryHash = hash

	if err := l.insertWithRetry(ctx, e); err != nil {
		return nil, fmt.Errorf("ledger: append entry %d: %w", e.Position, err)
	}

	l.position = e.Position
	l.lastHash = e.EntryHash

	if l.anchorEvery > 0 && l.position%l.anchorEvery == 0 {
		// Best-effort: an anchoring failure must not fail the append that
		// triggered it.
		if _, err := l.createAnchorLocked(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "ledger: automatic anchor at %d failed: %v\n", l.position, err)
		}
	}

	return e, nil
}

// insertWithRetry retries every store error without classifying it.
// Positions are assigned and inserted under the ledger lock, so a
// duplicate-position conflict cannot originate from this process; anything
// the store reports is treated as transient and bounded by writeAttempts.
func (l *Ledger) insertWithRetry(ctx context.Context, e *Entry) error {
	backoff := writeRetryBackoff
	var err error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = l.store.Insert(ctx, e); err == nil {
			return nil
		}
	}
	return err
}

// Position returns the current chain head position.
func (l *Ledger) Position() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.position
}

// Query returns entries matching the filter, ascending and paged.
func (l *Ledger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	return l.store.Query(ctx, f)
}

// VerifyResult is the outcome of a chain verification.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	Checked  int    `json:"checked"`
	BrokenAt int64  `json:"broken_at,omitempty"`
	Error    string `json:"error,omitempty"`
}

// VerifyChain recomputes hashes for every entry in [from, to] and confirms
// each link. The first mismatch reports its position and halts: one broken
// link invalidates trust in everything after it, but not before it.
func (l *Ledger) VerifyChain(ctx context.Context, from, to int64) (VerifyResult, error) {
	if from < 1 {
		from = 1
	}
	if to == 0 {
		to = l.Position()
	}
	if to < from {
		return VerifyResult{Valid: true}, nil
	}

	entries, err := l.store.Range(ctx, from, to)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("ledger: verify range: %w", err)
	}

	prevHash := GenesisHash
	if from > 1 {
		prior, err := l.store.Range(ctx, from-1, from-1)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("ledger: fetch link predecessor: %w", err)
		}
		if len(prior) == 0 {
			return VerifyResult{
				BrokenAt: from - 1,
				Error:    fmt.Sprintf("entry %d missing, cannot anchor link check", from-1),
			}, nil
		}
		prevHash = prior[0].EntryHash
	}

	expected := from
	for i := range entries {
		e := &entries[i]

		if e.Position != expected {
			return VerifyResult{
				Checked:  i,
				BrokenAt: expected,
				Error:    fmt.Sprintf("entry %d missing from chain", expected),
			}, nil
		}

		if e.PrevHash != prevHash {
			return VerifyResult{
				Checked:  i,
				BrokenAt: e.Position,
				Error:    fmt.Sprintf("entry %d prev_hash %s does not match predecessor hash %s", e.Position, e.PrevHash, prevHash),
			}, nil
		}

		recomputed, err := e.ComputeHash()
		if err != nil {
			return VerifyResult{}, err
		}
		if recomputed != e.EntryHash {
			return VerifyResult{
				Checked:  i,
				BrokenAt: e.Position,
				Error:    fmt.Sprintf("entry %d content does not match stored hash", e.Position),
			}, nil
		}

		prevHash = e.EntryHash
		expected++
	}

	if expected != to+1 {
		return VerifyResult{
			Checked:  len(entries),
			BrokenAt: expected,
			Error:    fmt.Sprintf("entry %d missing from chain", expected),
		}, nil
	}

	return VerifyResult{Valid: true, Checked: len(entries)}, nil
}

// CreateAnchor commits the unanchored head of the chain: the range from the
// last anchor's end (or genesis) through the current position.
func (l *Ledger) CreateAnchor(ctx context.Context) (*Anchor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.createAnchorLocked(ctx)
}

func (l *Ledger) createAnchorLocked(ctx context.Context) (*Anchor, error) {
	from := int64(1)
	if last, err := l.store.LastAnchor(ctx); err != nil {
		return nil, fmt.Errorf("ledger: find last anchor: %w", err)
	} else if last != nil {
		from = last.ToPosition + 1
	}

	to := l.position
	if to < from {
		return nil, fmt.Errorf("ledger: no unanchored entries (head at %d)", to)
	}

	entries, err := l.store.Range(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("ledger: anchor range: %w", err)
	}
	if int64(len(entries)) != to-from+1 {
		return nil, fmt.Errorf("ledger: anchor range [%d,%d] has %d entries, expected %d",
			from, to, len(entries), to-from+1)
	}

	id, err := generateAnchorID()
	if err != nil {
		return nil, err
	}
	anchor := &Anchor{
		ID:           id,
		FromPosition: from,
		ToPosition:   to,
		Hash:         commitment(entries),
		CreatedAt:    l.now().Format(TimestampFormat),
	}

	if err := l.store.InsertAnchor(ctx, anchor); err != nil {
		return nil, err
	}

	// Back-referencing is best-effort: the anchor's authority derives from
	// the entries' own hashes, not from this marker.
	if err := l.store.SetAnchorID(ctx, from, to, anchor.ID); err != nil {
		fmt.Fprintf(os.Stderr, "ledger: anchor %s back-reference failed: %v\n", anchor.ID, err)
	}

	return anchor, nil
}

// AnchorVerifyResult is the outcome of an anchor verification.
type AnchorVerifyResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// VerifyAnchor re-fetches the covered entries, recomputes the commitment,
// and compares. A missing entry or an altered hash diverges the commitment
// and signals tampering.
func (l *Ledger) VerifyAnchor(ctx context.Context, id string) (AnchorVerifyResult, error) {
	anchor, err := l.store.GetAnchor(ctx, id)
	if err != nil {
		return AnchorVerifyResult{}, err
	}
	if anchor == nil {
		return AnchorVerifyResult{Reason: fmt.Sprintf("anchor %s not found", id)}, nil
	}

	entries, err := l.store.Range(ctx, anchor.FromPosition, anchor.ToPosition)
	if err != nil {
		return AnchorVerifyResult{}, fmt.Errorf("ledger: anchor range: %w", err)
	}

	want := anchor.ToPosition - anchor.FromPosition + 1
	if int64(len(entries)) != want {
		return AnchorVerifyResult{
			Reason: fmt.Sprintf("anchor %s covers %d entries but %d are present", id, want, len(entries)),
		}, nil
	}

	if got := commitment(entries); got != anchor.Hash {
		return AnchorVerifyResult{
			Reason: fmt.Sprintf("anchor %s commitment mismatch: entries were altered after anchoring", id),
		}, nil
	}

	return AnchorVerifyResult{Valid: true}, nil
}

func generateAnchorID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("ledger: generate anchor id: %w", err)
	}
	return "anchor-" + hex.EncodeToString(b), nil
}
