package broker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when the circuit breaker rejects an attempt
// without calling upstream.
var ErrBreakerOpen = errors.New("broker: circuit breaker open")

// Breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultBaseDelay        = 30 * time.Second
	DefaultMaxDelay         = 30 * time.Minute
)

// BreakerState is an observability snapshot of the circuit breaker.
type BreakerState struct {
	State       string    `json:"state"` // closed | open | half-open
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitzero"`
	RetryAt     time.Time `json:"retry_at,omitzero"`
}

// Breaker is the process-wide circuit breaker around the trust exchange.
// It is shared across all connections because provider-side throttling
// applies account-wide to the broker's own calling identity.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	baseDelay time.Duration
	maxDelay  time.Duration

	failures    int
	open        bool
	lastFailure time.Time
	retryAt     time.Time

	now func() time.Time
}

// NewBreaker creates a Breaker with the given thresholds. Zero values take
// the defaults.
func NewBreaker(threshold int, baseDelay, maxDelay time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &Breaker{
		threshold: threshold,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Allow reports whether an attempt may proceed. Open and before the retry
// time returns ErrBreakerOpen; open and past it lets one attempt through
// (half-open).
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	if b.now().Before(b.retryAt) {
		return fmt.Errorf("%w: %d consecutive failures, retry eligible at %s",
			ErrBreakerOpen, b.failures, b.retryAt.Format(time.RFC3339))
	}
	// Past the retry time: half-open, attempt allowed.
	return nil
}

// RecordSuccess fully resets the breaker to closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
	b.retryAt = time.Time{}
}

// RecordFailure counts a failure and, at the threshold, opens the breaker
// with exponential backoff from the base delay, capped at the maximum.
// Further failures push the retry time out again.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	if b.failures < b.threshold {
		return
	}

	delay := b.baseDelay
	for i := b.threshold; i < b.failures && delay < b.maxDelay; i++ {
		delay *= 2
	}
	if delay > b.maxDelay {
		delay = b.maxDelay
	}
	b.open = true
	b.retryAt = b.lastFailure.Add(delay)
}

// State returns a snapshot for observability. The half-open state is
// reported when the breaker is open but past its retry time.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := "closed"
	if b.open {
		state = "open"
		if !b.now().Before(b.retryAt) {
			state = "half-open"
		}
	}
	return BreakerState{
		State:       state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		RetryAt:     b.retryAt,
	}
}
