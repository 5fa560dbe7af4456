// Package ratelimit provides the advisory request counters consulted by the
// permission boundary: one global hourly counter plus one per customer.
//
// Counters live in process memory only. Loss on restart is accepted — rate
// limiting here is a brake on runaway agents, not a security boundary on
// its own.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Window is the fixed reset interval for all counters.
const Window = time.Hour

// Scope identifies which counter tripped a denial.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeCustomer Scope = "customer"
)

// Result reports the outcome of a reservation attempt.
type Result struct {
	Allowed bool
	Scope   Scope
	Current int
	Limit   int
	Reason  string
}

// Usage is a read-only snapshot for operational tooling.
type Usage struct {
	GlobalCount   int       `json:"global_count"`
	GlobalLimit   int       `json:"global_limit"`
	CustomerCount int       `json:"customer_count"`
	CustomerLimit int       `json:"customer_limit"`
	WindowStart   time.Time `json:"window_start"`
}

// Limiter owns the shared counters. Construct one at process start and hand
// it to every boundary instance; check-then-increment runs under one lock so
// two concurrent requests cannot both pass a nearly-exhausted limit.
type Limiter struct {
	mu          sync.Mutex
	globalLimit int
	perCustomer int
	global      int
	customers   map[string]int
	windowStart time.Time
	now         func() time.Time
}

// New creates a Limiter with the given hourly thresholds.
func New(globalLimit, perCustomerLimit int) *Limiter {
	return &Limiter{
		globalLimit: globalLimit,
		perCustomer: perCustomerLimit,
		customers:   make(map[string]int),
		windowStart: time.Now().UTC(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Reserve checks both counters and, if both are under threshold, increments
// both in the same critical section. The window is rolled first when stale.
func (l *Limiter) Reserve(customerID string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollWindowLocked(l.now())

	if l.global >= l.globalLimit {
		return Result{
			Scope:   ScopeGlobal,
			Current: l.global,
			Limit:   l.globalLimit,
			Reason:  fmt.Sprintf("global rate limit exceeded: %d/%d requests this hour", l.global, l.globalLimit),
		}
	}

	count := l.customers[customerID]
	if count >= l.perCustomer {
		return Result{
			Scope:   ScopeCustomer,
			Current: count,
			Limit:   l.perCustomer,
			Reason:  fmt.Sprintf("customer rate limit exceeded: %d/%d requests this hour", count, l.perCustomer),
		}
	}

	l.global++
	l.customers[customerID] = count + 1
	return Result{Allowed: true}
}

// Release refunds one reservation for a customer. Used when a later,
// cheaper-to-defer check denies a request whose budget was already reserved,
// so denied requests do not consume rate budget.
func (l *Limiter) Release(customerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.global > 0 {
		l.global--
	}
	if count := l.customers[customerID]; count > 0 {
		l.customers[customerID] = count - 1
	}
}

// Usage returns the current counts for a customer without reserving.
func (l *Limiter) Usage(customerID string) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollWindowLocked(l.now())

	return Usage{
		GlobalCount:   l.global,
		GlobalLimit:   l.globalLimit,
		CustomerCount: l.customers[customerID],
		CustomerLimit: l.perCustomer,
		WindowStart:   l.windowStart,
	}
}

// Reset clears all counters and starts a fresh window. The global counter
// and every per-customer counter reset together.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked(l.now())
}

// StartResetLoop resets counters every Window until ctx is cancelled.
// Reserve already rolls the window lazily; the loop keeps Usage snapshots
// fresh on long-idle processes.
func (l *Limiter) StartResetLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Reset()
			}
		}
	}()
}

func (l *Limiter) rollWindowLocked(now time.Time) {
	if now.Sub(l.windowStart) >= Window {
		l.resetLocked(now)
	}
}

func (l *Limiter) resetLocked(now time.Time) {
	l.global = 0
	l.customers = make(map[string]int)
	l.windowStart = now
}
