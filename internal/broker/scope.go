package broker

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/perimos/perimos/internal/model"
)

// MaxScopePolicyBytes bounds the synthesized session policy document. The
// provider rejects combined session policies past a hard limit; this bound
// sits conservatively under it.
const MaxScopePolicyBytes = 2048

// policyDocument is the inline session policy attached to the trust
// exchange to narrow whatever the customer role itself grants.
type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string         `json:"Sid,omitempty"`
	Effect    string         `json:"Effect"`
	Action    []string       `json:"Action"`
	Resource  string         `json:"Resource"`
	Condition map[string]any `json:"Condition,omitempty"`
}

// BuildScopePolicy synthesizes a session policy from the connection's
// allowed services, allowed regions, and denied actions.
//
// Returns ok=false when no policy should be attached: either every
// configured service already grants a blanket wildcard (the policy would be
// redundant), or the document would exceed MaxScopePolicyBytes. Omission on
// size is a deliberate, documented trade-off for connections with many
// fine-grained grants, not an error.
func BuildScopePolicy(conn *model.Connection) (string, bool) {
	if len(conn.AllowedServices) == 0 || conn.GrantsAllActions() {
		return "", false
	}

	services := make([]string, 0, len(conn.AllowedServices))
	for svc := range conn.AllowedServices {
		services = append(services, svc)
	}
	sort.Strings(services)

	var allowActions []string
	for _, svc := range services {
		for _, pattern := range conn.AllowedServices[svc] {
			allowActions = append(allowActions, svc+":"+pattern)
		}
	}

	allow := policyStatement{
		Sid:      "ScopedAllow",
		Effect:   "Allow",
		Action:   allowActions,
		Resource: "*",
	}
	if len(conn.AllowedRegions) > 0 {
		allow.Condition = map[string]any{
			"StringEquals": map[string]any{
				"aws:RequestedRegion": conn.AllowedRegions,
			},
		}
	}

	doc := policyDocument{
		Version:   "2012-10-17",
		Statement: []policyStatement{allow},
	}

	if denied := deniedPolicyActions(conn.DeniedActions); len(denied) > 0 {
		doc.Statement = append(doc.Statement, policyStatement{
			Sid:      "ScopedDeny",
			Effect:   "Deny",
			Action:   denied,
			Resource: "*",
		})
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", false
	}
	if len(data) > MaxScopePolicyBytes {
		return "", false
	}
	return string(data), true
}

// deniedPolicyActions converts connection deny patterns into IAM action
// patterns. Only "service:Pattern" forms can be expressed; bare substring
// patterns stay enforced by the boundary alone.
func deniedPolicyActions(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || !strings.Contains(p, ":") {
			continue
		}
		out = append(out, p)
	}
	return out
}
