package model

import (
	"strings"
	"sync"
	"time"
)

// TrustRef identifies the delegated-access relationship in the customer
// account: the role to assume plus the shared external id that prevents
// confused-deputy use of the trust.
type TrustRef struct {
	RoleARN    string `json:"role_arn" yaml:"role_arn"`
	ExternalID string `json:"-" yaml:"-"`
}

// HealthSnapshot records the most recent exchange outcomes for a connection.
type HealthSnapshot struct {
	LastSuccess         time.Time     `json:"last_success,omitzero"`
	LastFailure         time.Time     `json:"last_failure,omitzero"`
	LastLatency         time.Duration `json:"last_latency"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// Connection is one customer's delegated-access relationship. Created at
// onboarding; this core mutates only the health snapshot.
type Connection struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`

	Trust TrustRef       `json:"trust"`
	Mode  PermissionMode `json:"mode"`

	// AllowedRegions is an ordered set; order is preserved in denial messages.
	AllowedRegions []string `json:"allowed_regions"`

	// AllowedServices maps service → action patterns. A pattern may be a
	// bare "*" (all actions for the service) or a prefix wildcard.
	AllowedServices map[string][]string `json:"allowed_services"`

	// DeniedActions are customer-configured patterns matched as
	// case-insensitive substrings of "service:Action".
	DeniedActions []string `json:"denied_actions,omitempty"`

	// MaxSessionDuration bounds requested session length. Zero means the
	// broker default applies.
	MaxSessionDuration time.Duration `json:"max_session_duration"`

	mu     sync.Mutex
	health HealthSnapshot
}

// AllowsRegion reports whether the region appears in the allowed set.
func (c *Connection) AllowsRegion(region string) bool {
	for _, r := range c.AllowedRegions {
		if strings.EqualFold(r, region) {
			return true
		}
	}
	return false
}

// GrantsAllActions reports whether every configured service carries a bare
// wildcard grant. When true, a synthesized scoping policy adds nothing.
func (c *Connection) GrantsAllActions() bool {
	if len(c.AllowedServices) == 0 {
		return false
	}
	for _, patterns := range c.AllowedServices {
		wildcard := false
		for _, p := range patterns {
			if p == "*" {
				wildcard = true
				break
			}
		}
		if !wildcard {
			return false
		}
	}
	return true
}

// RecordSuccess updates the health snapshot after a successful exchange.
func (c *Connection) RecordSuccess(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health.LastSuccess = time.Now().UTC()
	c.health.LastLatency = latency
	c.health.ConsecutiveFailures = 0
}

// RecordFailure updates the health snapshot after a failed exchange.
func (c *Connection) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health.LastFailure = time.Now().UTC()
	c.health.ConsecutiveFailures++
}

// Health returns a copy of the current health snapshot.
func (c *Connection) Health() HealthSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}
