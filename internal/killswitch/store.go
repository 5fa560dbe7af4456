package killswitch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// validID matches alphanumeric, dash characters only (halt-<hex>).
var validID = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// validateID rejects IDs that could cause path traversal.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id must not contain '..'")
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("id contains invalid characters")
	}
	return nil
}

const (
	// DefaultDuration is the default halt order validity period.
	DefaultDuration = 1 * time.Hour
	// MaxDuration is the maximum allowed halt order validity period.
	MaxDuration = 24 * time.Hour
)

// Halt is an operator-issued stop order. Scope is widest-first: a halt with
// no customer and no connection stops all issuance; one naming only a
// customer stops that customer; one naming a connection stops just it.
type Halt struct {
	ID           string     `json:"id"`
	Reason       string     `json:"reason"`
	CustomerID   string     `json:"customer_id,omitempty"`
	ConnectionID string     `json:"connection_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// IsActive returns true if the halt is neither expired nor revoked.
func (h *Halt) IsActive(now time.Time) bool {
	if h.RevokedAt != nil {
		return false
	}
	return now.Before(h.ExpiresAt)
}

// Covers reports whether the halt applies to the given customer/connection.
func (h *Halt) Covers(customerID, connectionID string) bool {
	if h.CustomerID == "" && h.ConnectionID == "" {
		return true
	}
	if h.ConnectionID != "" {
		return h.ConnectionID == connectionID
	}
	return h.CustomerID == customerID
}

// HaltStore manages halt order files on disk and implements Checker.
type HaltStore struct {
	dir string
	mu  sync.Mutex
}

// NewHaltStore creates a HaltStore backed by the given directory.
func NewHaltStore(dir string) (*HaltStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("killswitch: create halt directory: %w", err)
	}
	return &HaltStore{dir: dir}, nil
}

// DefaultDir returns the default halt store directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "perimos-halts")
	}
	return filepath.Join(home, ".perimos", "halts")
}

// Check implements Checker: an active halt covering the request denies it.
func (s *HaltStore) Check(ctx context.Context, req CheckRequest) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}

	halts, err := s.List()
	if err != nil {
		return Verdict{}, fmt.Errorf("killswitch: list halts: %w", err)
	}

	now := time.Now().UTC()
	for i := range halts {
		h := &halts[i]
		if h.IsActive(now) && h.Covers(req.CustomerID, req.ConnectionID) {
			return Verdict{
				Allowed: false,
				Reason:  fmt.Sprintf("halt %s active: %s", h.ID, h.Reason),
			}, nil
		}
	}
	return Verdict{Allowed: true}, nil
}

// Create issues a new halt order with a mandatory reason.
func (s *HaltStore) Create(reason, customerID, connectionID string, duration time.Duration) (*Halt, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("killswitch: halt reason is required")
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	if duration > MaxDuration {
		return nil, fmt.Errorf("killswitch: halt duration %s exceeds maximum %s", duration, MaxDuration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := generateID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	halt := &Halt{
		ID:           id,
		Reason:       reason,
		CustomerID:   customerID,
		ConnectionID: connectionID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(duration),
	}

	if err := s.writeAtomic(s.path(id), halt); err != nil {
		return nil, fmt.Errorf("killswitch: write halt: %w", err)
	}
	return halt, nil
}

// Revoke marks a halt order as revoked.
func (s *HaltStore) Revoke(id string) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("killswitch: invalid halt id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	halt, err := s.read(id)
	if err != nil {
		return fmt.Errorf("killswitch: halt %q not found: %w", id, err)
	}

	now := time.Now().UTC()
	halt.RevokedAt = &now
	return s.writeAtomic(s.path(id), halt)
}

// List returns all halt orders in the store.
func (s *HaltStore) List() ([]Halt, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var halts []Halt
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		halt, err := s.read(id)
		if err != nil {
			continue
		}
		halts = append(halts, *halt)
	}
	return halts, nil
}

// Cleanup removes expired and revoked halt files.
func (s *HaltStore) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	now := time.Now().UTC()
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		halt, err := s.read(id)
		if err != nil {
			continue
		}
		if !halt.IsActive(now) {
			if err := os.Remove(s.path(id)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *HaltStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *HaltStore) read(id string) (*Halt, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}
	var halt Halt
	if err := json.Unmarshal(data, &halt); err != nil {
		return nil, err
	}
	return &halt, nil
}

func (s *HaltStore) writeAtomic(path string, halt *Halt) error {
	data, err := json.MarshalIndent(halt, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func generateID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("killswitch: generate random ID: %w", err)
	}
	return "halt-" + hex.EncodeToString(b), nil
}
