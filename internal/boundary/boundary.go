// Package boundary implements the permission boundary: the ordered policy
// evaluation that decides, independent of the customer's own IAM
// configuration, whether a requested action may proceed.
package boundary

import (
	"fmt"
	"strings"

	"github.com/perimos/perimos/internal/catalog"
	"github.com/perimos/perimos/internal/model"
	"github.com/perimos/perimos/internal/ratelimit"
)

// Check names identify which evaluation step produced a denial. They appear
// in ValidationResult.DeniedBy and in audit entries.
const (
	CheckBanned        = "banned_action"
	CheckAllowList     = "service_allowlist"
	CheckDenyList      = "connection_denylist"
	CheckRegion        = "region"
	CheckRateLimit     = "rate_limit"
	CheckCost          = "cost_ceiling"
	CheckResourceCount = "resource_count"
	CheckInstanceSize  = "instance_size"
	CheckMode          = "permission_mode"
)

// Boundary evaluates action requests against the policy catalog, the
// connection's own restrictions, and the shared rate limiter.
type Boundary struct {
	limits  catalog.HardLimits
	limiter *ratelimit.Limiter
}

// New creates a Boundary over the given limit table and limiter. The limiter
// is shared, injected state: one instance per process, passed by handle.
func New(limits catalog.HardLimits, limiter *ratelimit.Limiter) *Boundary {
	return &Boundary{limits: limits, limiter: limiter}
}

// Limits returns the active hard limit table (operational surface).
func (b *Boundary) Limits() catalog.HardLimits {
	return b.limits
}

// Usage returns current rate limit usage for a customer (operational surface).
func (b *Boundary) Usage(customerID string) ratelimit.Usage {
	return b.limiter.Usage(customerID)
}

// Validate runs the ordered checks and returns a verdict. It never returns
// an error: policy denials are values. The order is deliberate — static
// safety limits fire before anything a customer can configure — and must
// not be changed:
//
//  1. banned-action set (cannot be disabled by any configuration)
//  2. service allow-list
//  3. connection deny patterns
//  4. region membership
//  5. rate limits (global, then customer; check and reserve atomically)
//  6. cost ceiling
//  7. resource-count ceiling
//  8. instance size ceiling
//  9. read-only permission mode
//
// An allowed validation consumes rate budget as a side effect, so Validate
// is not idempotent.
func (b *Boundary) Validate(req *model.ActionRequest, conn *model.Connection) model.ValidationResult {
	// Step 1: banned set.
	if banned, pattern := catalog.IsBanned(req.Service, req.Action); banned {
		return deny(CheckBanned, model.RiskCritical,
			fmt.Sprintf("action %s is permanently banned (matched %s)", req.Key(), pattern))
	}

	// Step 2: allow-list.
	if !catalog.HasService(req.Service) {
		return deny(CheckAllowList, model.RiskHigh,
			fmt.Sprintf("service %s is not supported", req.Service))
	}
	if !catalog.IsAllowed(req.Service, req.Action) {
		return deny(CheckAllowList, model.RiskHigh,
			fmt.Sprintf("action %s is not in the %s allow-list", req.Action, req.Service))
	}

	// Step 3: connection deny patterns.
	if pattern, hit := matchDenyPattern(conn.DeniedActions, req.Key()); hit {
		return deny(CheckDenyList, model.RiskMedium,
			fmt.Sprintf("action %s matches connection deny pattern %q", req.Key(), pattern))
	}

	// Step 4: region.
	if req.Region != "" && !conn.AllowsRegion(req.Region) {
		return deny(CheckRegion, model.RiskMedium,
			fmt.Sprintf("region %s is not allowed for this connection (allowed: %s)",
				req.Region, strings.Join(conn.AllowedRegions, ", ")))
	}

	// Step 5: rate limits. Check-and-reserve is one critical section inside
	// the limiter, so concurrent requests cannot both pass a spent limit.
	if res := b.limiter.Reserve(conn.CustomerID); !res.Allowed {
		return deny(CheckRateLimit, model.RiskMedium, res.Reason)
	}

	// Steps 6-9 run with budget already reserved; a denial here refunds it
	// so only allowed validations consume rate budget.
	refund := func(r model.ValidationResult) model.ValidationResult {
		b.limiter.Release(conn.CustomerID)
		return r
	}

	// Step 6: cost ceiling.
	if req.EstimatedCost != nil && *req.EstimatedCost > b.limits.MaxCostPerOperation {
		return refund(deny(CheckCost, model.RiskHigh,
			fmt.Sprintf("estimated cost $%.2f exceeds the $%.2f per-operation ceiling",
				*req.EstimatedCost, b.limits.MaxCostPerOperation)))
	}

	// Step 7: resource count.
	if len(req.Resources) > b.limits.MaxResourcesPerOperation {
		return refund(deny(CheckResourceCount, model.RiskMedium,
			fmt.Sprintf("request names %d resources; the ceiling is %d",
				len(req.Resources), b.limits.MaxResourcesPerOperation)))
	}

	// Step 8: instance size.
	if it := req.InstanceType(); it != "" {
		_, size, ok := catalog.ParseInstanceType(it)
		if !ok {
			return refund(deny(CheckInstanceSize, model.RiskHigh,
				fmt.Sprintf("instance type %q is not recognized", it)))
		}
		if !catalog.SizeWithin(size, b.limits.MaxInstanceSize) {
			return refund(deny(CheckInstanceSize, model.RiskHigh,
				fmt.Sprintf("instance size %s exceeds the maximum %s", size, b.limits.MaxInstanceSize)))
		}
	}

	// Step 9: permission mode.
	if conn.Mode == model.ModeReadOnly && !model.IsReadAction(req.Action) {
		return refund(deny(CheckMode, model.RiskLow,
			fmt.Sprintf("connection is read-only; %s is a write action", req.Action)))
	}

	// Allowed: classify risk and attach guidance for high-risk actions.
	result := model.ValidationResult{
		Allowed: true,
		Risk:    catalog.RiskFor(req.Service, req.Action),
	}
	if result.Risk == model.RiskHigh {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%s is a high-risk action", req.Key()))
		result.Suggestions = append(result.Suggestions,
			"verify the target resources and re-check the cost estimate before executing")
	}
	return result
}

func deny(check string, risk model.RiskLevel, reason string) model.ValidationResult {
	return model.ValidationResult{
		Allowed:  false,
		Reason:   reason,
		Risk:     risk,
		DeniedBy: check,
	}
}

// matchDenyPattern matches connection deny patterns as case-insensitive
// substrings of the "service:Action" key, wildcards stripped. A pattern that
// is only wildcards never matches.
func matchDenyPattern(patterns []string, key string) (string, bool) {
	lowerKey := strings.ToLower(key)
	for _, p := range patterns {
		stripped := strings.ToLower(strings.ReplaceAll(p, "*", ""))
		if stripped == "" {
			continue
		}
		if strings.Contains(lowerKey, stripped) {
			return p, true
		}
	}
	return "", false
}
