package gate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"

	"github.com/perimos/perimos/internal/boundary"
	"github.com/perimos/perimos/internal/broker"
	"github.com/perimos/perimos/internal/catalog"
	"github.com/perimos/perimos/internal/killswitch"
	"github.com/perimos/perimos/internal/ledger"
	"github.com/perimos/perimos/internal/model"
	"github.com/perimos/perimos/internal/ratelimit"
)

type stubSTS struct{}

func (stubSTS) AssumeRole(ctx context.Context, in *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	return &sts.AssumeRoleOutput{
		Credentials: &ststypes.Credentials{
			AccessKeyId:     aws.String("ASIAEXAMPLE12345678"),
			SecretAccessKey: aws.String("secret"),
			SessionToken:    aws.String("token"),
			Expiration:      aws.Time(time.Now().UTC().Add(15 * time.Minute)),
		},
	}, nil
}

type stubExecutor struct {
	err      error
	outcome  *Outcome
	executed int
	seen     model.Credentials
}

func (e *stubExecutor) Execute(ctx context.Context, req *model.ActionRequest, creds model.Credentials) (*Outcome, error) {
	e.executed++
	e.seen = creds
	if e.err != nil {
		return nil, e.err
	}
	if e.outcome != nil {
		return e.outcome, nil
	}
	return &Outcome{Resources: req.Resources}, nil
}

type denyChecker struct{}

func (denyChecker) Check(ctx context.Context, req killswitch.CheckRequest) (killswitch.Verdict, error) {
	return killswitch.Verdict{Allowed: false, Reason: "halt active"}, nil
}

func gateConn() *model.Connection {
	return &model.Connection{
		ID:             "conn-1",
		CustomerID:     "cust-a",
		Trust:          model.TrustRef{RoleARN: "arn:aws:iam::123456789012:role/agent-access"},
		Mode:           model.ModeReadWrite,
		AllowedRegions: []string{"us-west-2"},
		AllowedServices: map[string][]string{
			"ec2": {"*"},
		},
	}
}

func newTestGate(t *testing.T, kill killswitch.Checker, exec Executor) (*Gate, *ledger.Ledger) {
	t.Helper()
	limits := catalog.DefaultLimits()
	b := boundary.New(limits, ratelimit.New(limits.GlobalRatePerHour, limits.CustomerRatePerHour))

	br, err := broker.New(stubSTS{}, kill, broker.Options{})
	if err != nil {
		t.Fatal(err)
	}

	store, err := ledger.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	led, err := ledger.Open(context.Background(), store, ledger.WithAnchorInterval(0))
	if err != nil {
		t.Fatal(err)
	}

	g, err := New(b, br, led, exec)
	if err != nil {
		t.Fatal(err)
	}
	return g, led
}

func eventTypes(t *testing.T, led *ledger.Ledger) []string {
	t.Helper()
	entries, err := led.Query(context.Background(), ledger.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	types := make([]string, len(entries))
	for i, e := range entries {
		types[i] = e.EventType
	}
	return types
}

func TestRunExecutesAllowedAction(t *testing.T) {
	exec := &stubExecutor{}
	g, led := newTestGate(t, killswitch.AllowAll{}, exec)

	req := &model.ActionRequest{
		Service:   "ec2",
		Action:    "DescribeInstances",
		Region:    "us-west-2",
		Resources: []string{"i-0abc"},
	}
	outcome, err := g.Run(context.Background(), req, gateConn(), "")
	if err != nil {
		t.Fatal(err)
	}
	if outcome == nil || len(outcome.Resources) != 1 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if exec.executed != 1 {
		t.Fatalf("executor called %d times, want 1", exec.executed)
	}
	if exec.seen.AccessKeyID == "" {
		t.Fatal("executor did not receive credentials")
	}

	types := eventTypes(t, led)
	want := []string{ledger.EventActionValidated, ledger.EventCredentialIssued, ledger.EventActionExecuted}
	if len(types) != len(want) {
		t.Fatalf("ledger events %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("ledger events %v, want %v", types, want)
		}
	}

	issued, err := led.Query(context.Background(), ledger.Filter{EventType: ledger.EventCredentialIssued})
	if err != nil {
		t.Fatal(err)
	}
	if len(issued) != 1 || issued[0].Result != model.ResultSuccess {
		t.Fatalf("issuance entries %+v, want one success", issued)
	}
}

func TestRunRecordsBlockedAction(t *testing.T) {
	exec := &stubExecutor{}
	g, led := newTestGate(t, killswitch.AllowAll{}, exec)

	req := &model.ActionRequest{Service: "ec2", Action: "TerminateInstances", Region: "us-west-2"}
	_, err := g.Run(context.Background(), req, gateConn(), "")

	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.Check != boundary.CheckBanned {
		t.Fatalf("denied by %s, want %s", denied.Check, boundary.CheckBanned)
	}
	if exec.executed != 0 {
		t.Fatal("blocked action reached the executor")
	}

	entries, err := led.Query(context.Background(), ledger.Filter{EventType: ledger.EventActionBlocked})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 blocked entry, got %d", len(entries))
	}
	if entries[0].Result != model.ResultBlocked || entries[0].DeniedBy != boundary.CheckBanned {
		t.Fatalf("blocked entry %+v", entries[0])
	}
}

func TestRunRecordsCredentialDenial(t *testing.T) {
	exec := &stubExecutor{}
	g, led := newTestGate(t, denyChecker{}, exec)

	req := &model.ActionRequest{Service: "ec2", Action: "DescribeInstances", Region: "us-west-2"}
	_, err := g.Run(context.Background(), req, gateConn(), "")
	if !errors.Is(err, broker.ErrHalted) {
		t.Fatalf("expected ErrHalted, got %v", err)
	}
	if exec.executed != 0 {
		t.Fatal("halted action reached the executor")
	}

	types := eventTypes(t, led)
	want := []string{ledger.EventActionValidated, ledger.EventCredentialDenied}
	if len(types) != 2 || types[0] != want[0] || types[1] != want[1] {
		t.Fatalf("ledger events %v, want %v", types, want)
	}
}

func TestRunRecordsExecutionFailure(t *testing.T) {
	exec := &stubExecutor{err: errors.New("instance not found")}
	g, led := newTestGate(t, killswitch.AllowAll{}, exec)

	req := &model.ActionRequest{Service: "ec2", Action: "StopInstances", Region: "us-west-2"}
	_, err := g.Run(context.Background(), req, gateConn(), "")
	if err == nil {
		t.Fatal("expected execution failure to surface")
	}

	entries, err := led.Query(context.Background(), ledger.Filter{EventType: ledger.EventActionFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 failed entry, got %d", len(entries))
	}
	if entries[0].Result != model.ResultFailure || entries[0].Reason == "" {
		t.Fatalf("failed entry %+v", entries[0])
	}
}

func TestRunChainStaysValidAcrossMixedOutcomes(t *testing.T) {
	exec := &stubExecutor{}
	g, led := newTestGate(t, killswitch.AllowAll{}, exec)
	ctx := context.Background()
	conn := gateConn()

	g.Run(ctx, &model.ActionRequest{Service: "ec2", Action: "DescribeInstances", Region: "us-west-2"}, conn, "")
	g.Run(ctx, &model.ActionRequest{Service: "ec2", Action: "TerminateInstances", Region: "us-west-2"}, conn, "")
	exec.err = errors.New("boom")
	g.Run(ctx, &model.ActionRequest{Service: "ec2", Action: "StopInstances", Region: "us-west-2"}, conn, "")

	result, err := led.VerifyChain(ctx, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Fatalf("chain broken at %d: %s", result.BrokenAt, result.Error)
	}
	if result.Checked != 7 {
		t.Fatalf("checked %d entries, want 7", result.Checked)
	}
}

func TestNewRequiresAllCollaborators(t *testing.T) {
	if _, err := New(nil, nil, nil, nil); err == nil {
		t.Fatal("expected nil collaborators to be rejected")
	}
}
