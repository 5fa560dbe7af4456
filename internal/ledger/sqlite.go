package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/perimos/perimos/internal/model"
)

// SQLiteStore is the default Store implementation: one SQLite database
// holding the entry chain and its anchors. Positions are the primary key,
// which makes duplicate-position inserts fail — the append-only contract is
// enforced by the schema, not by convention.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	position       INTEGER PRIMARY KEY,
	entry_hash     TEXT NOT NULL,
	prev_hash      TEXT NOT NULL,
	ts             TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	customer_id    TEXT NOT NULL DEFAULT '',
	connection_id  TEXT NOT NULL DEFAULT '',
	service        TEXT NOT NULL DEFAULT '',
	action         TEXT NOT NULL DEFAULT '',
	result         TEXT NOT NULL,
	risk           TEXT NOT NULL DEFAULT '',
	reason         TEXT NOT NULL DEFAULT '',
	denied_by      TEXT NOT NULL DEFAULT '',
	resources      TEXT NOT NULL DEFAULT '[]',
	estimated_cost REAL,
	anchor_id      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_entries_event_type ON entries(event_type);
CREATE INDEX IF NOT EXISTS idx_entries_connection ON entries(connection_id);

CREATE TABLE IF NOT EXISTS anchors (
	id            TEXT PRIMARY KEY,
	from_position INTEGER NOT NULL,
	to_position   INTEGER NOT NULL,
	hash          TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
`

// OpenSQLite opens (or creates) the ledger database at path. Use
// ":memory:" for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	// The ledger serializes writes itself; a single connection keeps
	// modernc/sqlite away from SQLITE_BUSY under concurrent reads.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, e *Entry) error {
	resources, err := json.Marshal(e.Impact.Resources)
	if err != nil {
		return fmt.Errorf("ledger: marshal resources: %w", err)
	}
	var cost sql.NullFloat64
	if e.Impact.EstimatedCost != nil {
		cost = sql.NullFloat64{Float64: *e.Impact.EstimatedCost, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (
			position, entry_hash, prev_hash, ts, event_type,
			customer_id, connection_id, service, action,
			result, risk, reason, denied_by, resources, estimated_cost, anchor_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Position, e.EntryHash, e.PrevHash, e.Timestamp, e.EventType,
		e.CustomerID, e.ConnectionID, e.Service, e.Action,
		string(e.Result), string(e.Risk), e.Reason, e.DeniedBy,
		string(resources), cost, e.AnchorID,
	)
	if err != nil {
		return fmt.Errorf("ledger: insert entry %d: %w", e.Position, err)
	}
	return nil
}

const entryColumns = `position, entry_hash, prev_hash, ts, event_type,
	customer_id, connection_id, service, action,
	result, risk, reason, denied_by, resources, estimated_cost, anchor_id`

func (s *SQLiteStore) Range(ctx context.Context, from, to int64) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE position >= ? AND position <= ? ORDER BY position ASC`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("ledger: range query: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]Entry, error) {
	var conds []string
	var args []any

	if f.FromPosition > 0 {
		conds = append(conds, "position >= ?")
		args = append(args, f.FromPosition)
	}
	if f.ToPosition > 0 {
		conds = append(conds, "position <= ?")
		args = append(args, f.ToPosition)
	}
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.ConnectionID != "" {
		conds = append(conds, "connection_id = ?")
		args = append(args, f.ConnectionID)
	}
	if f.CustomerID != "" {
		conds = append(conds, "customer_id = ?")
		args = append(args, f.CustomerID)
	}

	q := `SELECT ` + entryColumns + ` FROM entries`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY position ASC LIMIT ? OFFSET ?"

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: filter query: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) Last(ctx context.Context) (*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries ORDER BY position DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("ledger: last entry query: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (s *SQLiteStore) InsertAnchor(ctx context.Context, a *Anchor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anchors (id, from_position, to_position, hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.FromPosition, a.ToPosition, a.Hash, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger: insert anchor %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetAnchor(ctx context.Context, id string) (*Anchor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, from_position, to_position, hash, created_at FROM anchors WHERE id = ?`, id)
	var a Anchor
	if err := row.Scan(&a.ID, &a.FromPosition, &a.ToPosition, &a.Hash, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: get anchor %s: %w", id, err)
	}
	return &a, nil
}

func (s *SQLiteStore) LastAnchor(ctx context.Context) (*Anchor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, from_position, to_position, hash, created_at FROM anchors ORDER BY to_position DESC LIMIT 1`)
	var a Anchor
	if err := row.Scan(&a.ID, &a.FromPosition, &a.ToPosition, &a.Hash, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: last anchor query: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) SetAnchorID(ctx context.Context, from, to int64, anchorID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE entries SET anchor_id = ? WHERE position >= ? AND position <= ?`,
		anchorID, from, to)
	if err != nil {
		return fmt.Errorf("ledger: back-reference anchor %s: %w", anchorID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var resources string
		var cost sql.NullFloat64
		var result, risk string
		if err := rows.Scan(
			&e.Position, &e.EntryHash, &e.PrevHash, &e.Timestamp, &e.EventType,
			&e.CustomerID, &e.ConnectionID, &e.Service, &e.Action,
			&result, &risk, &e.Reason, &e.DeniedBy, &resources, &cost, &e.AnchorID,
		); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		e.Result = model.ActionResult(result)
		e.Risk = model.RiskLevel(risk)
		if err := json.Unmarshal([]byte(resources), &e.Impact.Resources); err != nil {
			return nil, fmt.Errorf("ledger: decode resources for entry %d: %w", e.Position, err)
		}
		if cost.Valid {
			v := cost.Float64
			e.Impact.EstimatedCost = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate entries: %w", err)
	}
	return entries, nil
}
