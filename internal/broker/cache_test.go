package broker

import (
	"testing"
	"time"

	"github.com/perimos/perimos/internal/model"
)

func testCreds(expiry time.Time) model.Credentials {
	return model.Credentials{
		AccessKeyID:     "ASIAEXAMPLE12345678",
		SecretAccessKey: "secret",
		SessionToken:    "token",
		Expiration:      expiry,
	}
}

func TestCacheKeyComposition(t *testing.T) {
	if got := cacheKey("conn-1", ""); got != "conn-1" {
		t.Fatalf("planless key %q, want conn-1", got)
	}
	if got := cacheKey("conn-1", "plan-7"); got != "conn-1:plan-7" {
		t.Fatalf("plan key %q, want conn-1:plan-7", got)
	}
}

func TestCacheHitBumpsUses(t *testing.T) {
	c := newCredCache(0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.put("conn-1", "", testCreds(now.Add(15*time.Minute)), "perimos-cust-a-1", now)

	for want := 1; want <= 3; want++ {
		creds, label, uses, ok := c.get("conn-1", now)
		if !ok {
			t.Fatalf("expected hit on use %d", want)
		}
		if uses != want {
			t.Fatalf("uses = %d, want %d", uses, want)
		}
		if creds.AccessKeyID == "" {
			t.Fatal("hit returned empty credentials")
		}
		if label != "perimos-cust-a-1" {
			t.Fatalf("hit returned label %q, want the issuing label", label)
		}
	}
}

func TestCacheMissesWithinSafetyMargin(t *testing.T) {
	c := newCredCache(0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.put("conn-1", "", testCreds(now.Add(15*time.Minute)), "label", now)

	// One second of safe life left, still a hit.
	if _, _, _, ok := c.get("conn-1", now.Add(15*time.Minute-SafetyMargin-time.Second)); !ok {
		t.Fatal("expected hit just inside the safety margin")
	}

	// Exactly at expiry minus margin, treated as expired.
	if _, _, _, ok := c.get("conn-1", now.Add(15*time.Minute-SafetyMargin)); ok {
		t.Fatal("expected miss at the safety margin boundary")
	}

	// The expired entry was evicted lazily.
	if c.len() != 0 {
		t.Fatalf("expected lazy eviction, %d entries remain", c.len())
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := newCredCache(0)
	now := time.Now().UTC()
	c.put("conn-1", "plan-7", testCreds(now.Add(15*time.Minute)), "label", now)

	if !c.invalidate("conn-1:plan-7") {
		t.Fatal("expected invalidate to report a removed entry")
	}
	if c.invalidate("conn-1:plan-7") {
		t.Fatal("expected second invalidate to report no entry")
	}
	if _, _, _, ok := c.get("conn-1:plan-7", now); ok {
		t.Fatal("invalidated entry still served")
	}
}

func TestCacheSweepEvictsExpiredOnly(t *testing.T) {
	c := newCredCache(0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.put("conn-live", "", testCreds(now.Add(15*time.Minute)), "label", now)
	c.put("conn-dead", "", testCreds(now.Add(time.Minute)), "label", now)

	removed := c.sweep(now.Add(5 * time.Minute))
	if removed != 1 {
		t.Fatalf("sweep removed %d entries, want 1", removed)
	}
	if _, _, _, ok := c.get("conn-live", now.Add(5*time.Minute)); !ok {
		t.Fatal("sweep evicted a live entry")
	}
}

func TestCachePlanEntriesAreIndependent(t *testing.T) {
	c := newCredCache(0)
	now := time.Now().UTC()
	c.put("conn-1", "plan-a", testCreds(now.Add(15*time.Minute)), "label-a", now)
	c.put("conn-1", "plan-b", testCreds(now.Add(15*time.Minute)), "label-b", now)
	c.put("conn-1", "", testCreds(now.Add(15*time.Minute)), "label", now)

	if c.len() != 3 {
		t.Fatalf("expected 3 independent entries, got %d", c.len())
	}
	c.invalidate("conn-1:plan-a")
	if _, label, _, ok := c.get("conn-1:plan-b", now); !ok || label != "label-b" {
		t.Fatal("invalidating one plan removed or relabeled another")
	}
}
