package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/perimos/perimos/internal/model"
)

// GenesisHash is the prev_hash of the entry at position 1. It is a fixed,
// published constant so an external verifier can validate the first entry
// without trusting the ledger's own state.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// TimestampFormat is the wire format for entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Event types recorded in the chain.
const (
	EventActionValidated  = "action_validated"
	EventActionBlocked    = "action_blocked"
	EventActionExecuted   = "action_executed"
	EventActionFailed     = "action_failed"
	EventCredentialIssued = "credential_issued"
	EventCredentialDenied = "credential_denied"
)

// Impact describes what an executed action touched.
type Impact struct {
	Resources     []string `json:"resources,omitempty"`
	EstimatedCost *float64 `json:"estimated_cost,omitempty"`
}

// Entry is one link in the hash chain. All fields are structs and scalars
// (no maps) so json.Marshal field order is deterministic and hashing is
// reproducible. Position, PrevHash, and EntryHash are assigned by the
// ledger at write time under its single-writer lock; everything else is
// caller content.
type Entry struct {
	Position  int64  `json:"position"`
	EntryHash string `json:"entry_hash"`
	PrevHash  string `json:"prev_hash"`
	Timestamp string `json:"ts"`

	EventType    string `json:"event_type"`
	CustomerID   string `json:"customer_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	Service      string `json:"service,omitempty"`
	Action       string `json:"action,omitempty"`

	Result model.ActionResult `json:"result"`
	Risk   model.RiskLevel    `json:"risk,omitempty"`

	// Decision trace: why a request was blocked, which check fired.
	Reason   string `json:"reason,omitempty"`
	DeniedBy string `json:"denied_by,omitempty"`

	Impact Impact `json:"impact,omitzero"`

	// AnchorID back-references the anchor covering this entry. Excluded
	// from the content hash: it is assigned after the fact and carries no
	// authority of its own.
	AnchorID string `json:"anchor_id,omitempty"`
}

// ComputeHash returns the content hash over the entry's canonical JSON,
// including PrevHash and Position, excluding EntryHash and AnchorID.
func (e *Entry) ComputeHash() (string, error) {
	shadow := *e
	shadow.EntryHash = ""
	shadow.AnchorID = ""
	data, err := json.Marshal(&shadow)
	if err != nil {
		return "", fmt.Errorf("ledger: marshal entry for hashing: %w", err)
	}
	return HashBytes(data), nil
}

// HashBytes returns "sha256:<hex>" of the given bytes.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Anchor is a commitment over a contiguous position range: its hash is the
// hash of the concatenation of all entry hashes in range, in order.
type Anchor struct {
	ID           string `json:"id"`
	FromPosition int64  `json:"from_position"`
	ToPosition   int64  `json:"to_position"`
	Hash         string `json:"hash"`
	CreatedAt    string `json:"created_at"`
}

// commitment computes the anchor hash over an ordered entry range.
func commitment(entries []Entry) string {
	var concat []byte
	for i := range entries {
		concat = append(concat, entries[i].EntryHash...)
	}
	return HashBytes(concat)
}
