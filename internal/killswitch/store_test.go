package killswitch

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *HaltStore {
	t.Helper()
	s, err := NewHaltStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create halt store: %v", err)
	}
	return s
}

func TestCreateRequiresReason(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("", "", "", 0); err == nil {
		t.Fatal("expected empty reason to be rejected")
	}
	if _, err := s.Create("   ", "", "", 0); err == nil {
		t.Fatal("expected whitespace reason to be rejected")
	}
}

func TestCreateDefaultsAndCapsDuration(t *testing.T) {
	s := newTestStore(t)

	halt, err := s.Create("incident", "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := halt.ExpiresAt.Sub(halt.CreatedAt); got != DefaultDuration {
		t.Fatalf("default duration %s, want %s", got, DefaultDuration)
	}
	if !strings.HasPrefix(halt.ID, "halt-") {
		t.Fatalf("unexpected halt id %q", halt.ID)
	}

	if _, err := s.Create("incident", "", "", 48*time.Hour); err == nil {
		t.Fatal("expected duration above maximum to be rejected")
	}
}

func TestGlobalHaltCoversEverything(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("stop everything", "", "", time.Hour); err != nil {
		t.Fatal(err)
	}

	verdict, err := s.Check(context.Background(), CheckRequest{
		CustomerID:   "cust-a",
		ConnectionID: "conn-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Allowed {
		t.Fatal("expected global halt to deny")
	}
	if !strings.Contains(verdict.Reason, "stop everything") {
		t.Fatalf("verdict should carry the halt reason: %q", verdict.Reason)
	}
}

func TestCustomerScopedHalt(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("customer incident", "cust-a", "", time.Hour); err != nil {
		t.Fatal(err)
	}

	verdict, _ := s.Check(context.Background(), CheckRequest{CustomerID: "cust-a", ConnectionID: "conn-1"})
	if verdict.Allowed {
		t.Fatal("expected halt to cover cust-a")
	}

	verdict, _ = s.Check(context.Background(), CheckRequest{CustomerID: "cust-b", ConnectionID: "conn-2"})
	if !verdict.Allowed {
		t.Fatalf("halt should not cover cust-b: %s", verdict.Reason)
	}
}

func TestConnectionScopedHalt(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("bad connection", "cust-a", "conn-1", time.Hour); err != nil {
		t.Fatal(err)
	}

	verdict, _ := s.Check(context.Background(), CheckRequest{CustomerID: "cust-a", ConnectionID: "conn-1"})
	if verdict.Allowed {
		t.Fatal("expected halt to cover conn-1")
	}

	// A connection-scoped halt does not spill over to the customer's other
	// connections.
	verdict, _ = s.Check(context.Background(), CheckRequest{CustomerID: "cust-a", ConnectionID: "conn-2"})
	if !verdict.Allowed {
		t.Fatalf("halt should not cover conn-2: %s", verdict.Reason)
	}
}

func TestRevokedHaltStopsDenying(t *testing.T) {
	s := newTestStore(t)
	halt, err := s.Create("mistake", "", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Revoke(halt.ID); err != nil {
		t.Fatal(err)
	}

	verdict, _ := s.Check(context.Background(), CheckRequest{CustomerID: "cust-a"})
	if !verdict.Allowed {
		t.Fatalf("revoked halt still denies: %s", verdict.Reason)
	}
}

func TestRevokeUnknownID(t *testing.T) {
	s := newTestStore(t)
	if err := s.Revoke("halt-ffffffffffffffff"); err == nil {
		t.Fatal("expected unknown id to error")
	}
}

func TestRevokeRejectsTraversalID(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", "../etc/passwd", "halt/../../x", "halt id"} {
		if err := s.Revoke(id); err == nil {
			t.Fatalf("expected id %q to be rejected", id)
		}
	}
}

func TestExpiredHaltIsInactive(t *testing.T) {
	h := Halt{
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	if h.IsActive(time.Now().UTC()) {
		t.Fatal("expected expired halt to be inactive")
	}
}

func TestCleanupRemovesInactiveOnly(t *testing.T) {
	s := newTestStore(t)
	active, err := s.Create("keep", "", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	revoked, err := s.Create("drop", "", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Revoke(revoked.ID); err != nil {
		t.Fatal(err)
	}

	if err := s.Cleanup(); err != nil {
		t.Fatal(err)
	}

	halts, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(halts) != 1 {
		t.Fatalf("expected 1 remaining halt, got %d", len(halts))
	}
	if halts[0].ID != active.ID {
		t.Fatalf("wrong halt survived cleanup: %s", halts[0].ID)
	}
}

func TestCheckHonorsContextCancellation(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Check(ctx, CheckRequest{}); err == nil {
		t.Fatal("expected cancelled context to error")
	}
}
