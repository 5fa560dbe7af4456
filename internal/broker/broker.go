// Package broker exchanges a connection's trust relationship for short-lived
// session credentials. Every issuance passes the kill switch first; the
// exchange itself sits behind a process-wide circuit breaker, and results
// are cached per (connection, plan) with a safety margin on expiry.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/singleflight"

	"github.com/perimos/perimos/internal/killswitch"
	"github.com/perimos/perimos/internal/model"
)

// ErrHalted is returned when the kill switch denies an issuance, or when
// the kill switch itself fails (fail closed, never allow-by-default).
var ErrHalted = errors.New("broker: issuance halted by kill switch")

// DefaultSessionDuration caps credential lifetime when the connection does
// not configure a tighter bound.
const DefaultSessionDuration = 15 * time.Minute

// MinSessionDuration is the provider floor: AssumeRole rejects
// DurationSeconds below 900. Connection bounds under it are clamped up, not
// sent as-is; a sub-minimum request would fail every exchange and feed the
// shared breaker.
const MinSessionDuration = 15 * time.Minute

// DefaultExchangeTimeout bounds one upstream exchange call.
const DefaultExchangeTimeout = 10 * time.Second

// STSClient is the subset of the STS API the broker calls. Satisfied by
// *sts.Client; tests substitute a fake.
type STSClient interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Grant is the result of a credential request.
type Grant struct {
	Credentials  model.Credentials `json:"credentials"`
	SessionLabel string            `json:"session_label"`
	Latency      time.Duration     `json:"latency"`
	FromCache    bool              `json:"from_cache"`
	CacheUses    int               `json:"cache_uses,omitempty"`
}

// Options tune broker behavior. The zero value takes all defaults.
type Options struct {
	FailureThreshold int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	CacheMargin      time.Duration
	SessionDuration  time.Duration
	ExchangeTimeout  time.Duration
}

// Broker owns the breaker, the cache, and the upstream client. Construct
// one per process and share it.
type Broker struct {
	sts     STSClient
	kill    killswitch.Checker
	breaker *Breaker
	cache   *credCache
	sf      singleflight.Group

	maxSession time.Duration
	timeout    time.Duration
	now        func() time.Time
}

// New creates a Broker. The kill switch checker is mandatory; passing nil
// would silently remove the final veto, so New rejects it.
func New(client STSClient, kill killswitch.Checker, opts Options) (*Broker, error) {
	if client == nil {
		return nil, fmt.Errorf("broker: sts client is required")
	}
	if kill == nil {
		return nil, fmt.Errorf("broker: kill switch checker is required")
	}

	maxSession := opts.SessionDuration
	if maxSession <= 0 || maxSession > DefaultSessionDuration {
		maxSession = DefaultSessionDuration
	}
	timeout := opts.ExchangeTimeout
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}

	return &Broker{
		sts:        client,
		kill:       kill,
		breaker:    NewBreaker(opts.FailureThreshold, opts.BaseDelay, opts.MaxDelay),
		cache:      newCredCache(opts.CacheMargin),
		maxSession: maxSession,
		timeout:    timeout,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewFromConfig creates a Broker using the ambient AWS configuration for
// the broker's own calling identity.
func NewFromConfig(ctx context.Context, kill killswitch.Checker, opts Options) (*Broker, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker: load aws config: %w", err)
	}
	return New(sts.NewFromConfig(cfg), kill, opts)
}

// AssumeRole obtains session credentials for a connection, optionally
// scoped to an execution plan. Cached results return with zero latency and
// no upstream call. Concurrent requests for the same key share a single
// upstream exchange.
func (b *Broker) AssumeRole(ctx context.Context, conn *model.Connection, planID string) (*Grant, error) {
	// Breaker gate: rejected attempts never reach the kill switch or the
	// network. The error carries the breaker state for observability.
	if err := b.breaker.Allow(); err != nil {
		return nil, err
	}

	// Kill switch pre-check on the exchange itself, classified read-only
	// and low risk. Errors from the check deny (fail closed).
	verdict, err := b.kill.Check(ctx, killswitch.CheckRequest{
		CustomerID:   conn.CustomerID,
		ConnectionID: conn.ID,
		Service:      "sts",
		Action:       "AssumeRole",
		IsWrite:      false,
		Risk:         model.RiskLow,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: kill switch check failed: %v", ErrHalted, err)
	}
	if !verdict.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrHalted, verdict.Reason)
	}

	key := cacheKey(conn.ID, planID)
	if creds, label, uses, ok := b.cache.get(key, b.now()); ok {
		return &Grant{
			Credentials:  creds,
			SessionLabel: label,
			Latency:      0,
			FromCache:    true,
			CacheUses:    uses,
		}, nil
	}

	v, err, shared := b.sf.Do(key, func() (any, error) {
		return b.exchange(ctx, conn, key)
	})
	if err != nil {
		return nil, err
	}

	grant := v.(*Grant)
	if shared {
		// This caller piggybacked on another caller's exchange; from its
		// point of view the credentials came for free.
		copied := *grant
		copied.FromCache = true
		copied.Latency = 0
		return &copied, nil
	}
	return grant, nil
}

// exchange performs the real upstream call. It deliberately detaches from
// the caller's cancellation: an exchange that completes after the caller
// gave up still produced real, billable credentials, so it is still cached.
// The call stays bounded by the broker's own timeout.
func (b *Broker) exchange(ctx context.Context, conn *model.Connection, key string) (*Grant, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	label := fmt.Sprintf("perimos-%s-%d", conn.CustomerID, b.now().Unix())
	duration := b.sessionDuration(conn)

	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(conn.Trust.RoleARN),
		RoleSessionName: aws.String(label),
		DurationSeconds: aws.Int32(int32(duration.Seconds())),
	}
	if conn.Trust.ExternalID != "" {
		input.ExternalId = aws.String(conn.Trust.ExternalID)
	}
	if policy, ok := BuildScopePolicy(conn); ok {
		input.Policy = aws.String(policy)
	}

	start := b.now()
	out, err := b.sts.AssumeRole(callCtx, input)
	latency := b.now().Sub(start)

	if err != nil {
		b.breaker.RecordFailure()
		conn.RecordFailure()
		state := b.breaker.State()

		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("broker: assume role for connection %s: %s: %w (breaker %s, %d failures)",
				conn.ID, apiErr.ErrorCode(), err, state.State, state.Failures)
		}
		return nil, fmt.Errorf("broker: assume role for connection %s: %w (breaker %s, %d failures)",
			conn.ID, err, state.State, state.Failures)
	}
	if out.Credentials == nil || out.Credentials.AccessKeyId == nil {
		b.breaker.RecordFailure()
		conn.RecordFailure()
		return nil, fmt.Errorf("broker: assume role for connection %s: response carried no credentials", conn.ID)
	}

	creds := model.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Expiration:      aws.ToTime(out.Credentials.Expiration),
	}

	b.breaker.RecordSuccess()
	conn.RecordSuccess(latency)
	b.cache.put(conn.ID, planIDFromKey(key, conn.ID), creds, label, b.now())

	return &Grant{
		Credentials:  creds,
		SessionLabel: label,
		Latency:      latency,
	}, nil
}

// Invalidate removes a cache entry by (connection, plan) key and reports
// whether an entry was present.
//
// This is NOT a security control: the underlying session credentials remain
// valid with the provider until their natural expiration. There is no
// revocation of issued credentials — only the cache forgets them.
func (b *Broker) Invalidate(connectionID, planID string) bool {
	return b.cache.invalidate(cacheKey(connectionID, planID))
}

// StartSweep launches the periodic cache sweep, stopping when ctx is
// cancelled.
func (b *Broker) StartSweep(ctx context.Context) {
	b.cache.startSweep(ctx, DefaultSweepInterval)
}

// BreakerState exposes the circuit breaker snapshot for observability.
func (b *Broker) BreakerState() BreakerState {
	return b.breaker.State()
}

// CacheSize reports the number of live cache entries (operational surface).
func (b *Broker) CacheSize() int {
	return b.cache.len()
}

func (b *Broker) sessionDuration(conn *model.Connection) time.Duration {
	d := conn.MaxSessionDuration
	if d <= 0 || d > b.maxSession {
		d = b.maxSession
	}
	if d < MinSessionDuration {
		d = MinSessionDuration
	}
	return d
}

func planIDFromKey(key, connectionID string) string {
	if key == connectionID {
		return ""
	}
	return key[len(connectionID)+1:]
}
