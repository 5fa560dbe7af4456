package model

import (
	"fmt"
	"strings"
	"time"
)

// RiskLevel classifies the severity of an authorization decision.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskRank maps risk levels to comparable integers for escalation checks.
var RiskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// PermissionMode controls whether a connection may perform mutating actions.
type PermissionMode string

const (
	ModeReadOnly  PermissionMode = "read-only"
	ModeReadWrite PermissionMode = "read-write"
)

// ActionResult is the recorded outcome of an attempted action.
type ActionResult string

const (
	ResultSuccess ActionResult = "success"
	ResultFailure ActionResult = "failure"
	ResultBlocked ActionResult = "blocked"
)

// readPrefixes are the action name prefixes recognized as non-mutating.
var readPrefixes = []string{"Describe", "Get", "List", "Read", "Check"}

// IsReadAction returns true if the action name begins with a recognized
// read prefix. Anything else is treated as a write.
func IsReadAction(action string) bool {
	for _, p := range readPrefixes {
		if strings.HasPrefix(action, p) {
			return true
		}
	}
	return false
}

// ActionRequest describes one cloud operation an agent wants to perform.
// Transient; constructed per call.
type ActionRequest struct {
	Service       string         `json:"service"`
	Action        string         `json:"action"`
	Resources     []string       `json:"resources,omitempty"`
	Region        string         `json:"region,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
	EstimatedCost *float64       `json:"estimated_cost,omitempty"`
}

// Key returns the canonical "service:Action" form used by pattern matching
// and audit entries.
func (r *ActionRequest) Key() string {
	return r.Service + ":" + r.Action
}

// InstanceType returns the requested instance type parameter, if present.
// Provider parameters are a loose bag; the fields that gate policy decisions
// are pulled out through typed accessors like this one.
func (r *ActionRequest) InstanceType() string {
	if r.Params == nil {
		return ""
	}
	if s, ok := r.Params["instance_type"].(string); ok {
		return s
	}
	return ""
}

// ValidationResult is the outcome of a permission boundary evaluation.
// Denials are values, never errors: Reason and DeniedBy are set iff
// Allowed is false.
type ValidationResult struct {
	Allowed     bool      `json:"allowed"`
	Reason      string    `json:"reason,omitempty"`
	Risk        RiskLevel `json:"risk"`
	DeniedBy    string    `json:"denied_by,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
}

// Credentials are short-lived session credentials returned by the trust
// exchange. Immutable once issued; never written to logs in plaintext.
type Credentials struct {
	AccessKeyID     string    `json:"access_key_id"`
	SecretAccessKey string    `json:"-"`
	SessionToken    string    `json:"-"`
	Expiration      time.Time `json:"expiration"`
}

// Expired reports whether the credentials are past their expiration.
func (c *Credentials) Expired(now time.Time) bool {
	return !now.Before(c.Expiration)
}

// Redacted returns a loggable description that never exposes the secret
// key or session token.
func (c *Credentials) Redacted() string {
	key := c.AccessKeyID
	if len(key) > 8 {
		key = key[:4] + "..." + key[len(key)-4:]
	}
	return fmt.Sprintf("%s (expires %s)", key, c.Expiration.UTC().Format(time.RFC3339))
}
