// Package catalog holds the static policy data the permission boundary
// evaluates against: hard numeric limits, the banned-action set, per-service
// allow-lists, the risk-pattern map, and the instance size ordering.
//
// Everything except the hard limits is code-level and cannot be altered by
// connection configuration or deployment overrides. Hard limits may be
// tightened (never loosened) via a YAML overrides file.
package catalog

import "strings"

// MatchAction checks an action name against a pattern. A pattern is either
// an exact action name, a bare "*", or a prefix wildcard like "Describe*".
func MatchAction(pattern, action string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(action, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == action
}

// MatchKey checks a "service:Action" key against a "service:Pattern" entry.
// The service part must match exactly; the action part follows MatchAction.
func MatchKey(pattern, key string) bool {
	ps, pa, ok := strings.Cut(pattern, ":")
	if !ok {
		return false
	}
	ks, ka, ok := strings.Cut(key, ":")
	if !ok {
		return false
	}
	if ps != "*" && !strings.EqualFold(ps, ks) {
		return false
	}
	return MatchAction(pa, ka)
}
