// Package gate owns the end-to-end workflow for one cloud action: validate
// against the permission boundary, obtain credentials from the broker,
// execute through the provider wrapper, and record every decision and
// outcome in the audit ledger. The core components never call each other
// directly (except broker → kill switch); this package orchestrates them.
package gate

import (
	"context"
	"fmt"

	"github.com/perimos/perimos/internal/boundary"
	"github.com/perimos/perimos/internal/broker"
	"github.com/perimos/perimos/internal/ledger"
	"github.com/perimos/perimos/internal/model"
)

// Outcome is what a provider wrapper reports back after executing.
type Outcome struct {
	Resources []string `json:"resources,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

// Executor is the out-of-scope provider wrapper: it consumes the issued
// credentials and performs the actual cloud call.
type Executor interface {
	Execute(ctx context.Context, req *model.ActionRequest, creds model.Credentials) (*Outcome, error)
}

// DeniedError is raised when the boundary blocks an action. Policy denials
// inside the boundary are values; crossing the gate's public surface they
// become a typed error so callers can distinguish them from operational
// failures.
type DeniedError struct {
	Reason string
	Risk   model.RiskLevel
	Check  string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("gate: blocked by %s (%s risk): %s", e.Check, e.Risk, e.Reason)
}

// Gate wires the boundary, broker, and ledger together.
type Gate struct {
	boundary *boundary.Boundary
	broker   *broker.Broker
	ledger   *ledger.Ledger
	exec     Executor
}

// New creates a Gate. All four collaborators are required.
func New(b *boundary.Boundary, br *broker.Broker, led *ledger.Ledger, exec Executor) (*Gate, error) {
	if b == nil || br == nil || led == nil || exec == nil {
		return nil, fmt.Errorf("gate: boundary, broker, ledger, and executor are all required")
	}
	return &Gate{boundary: b, broker: br, ledger: led, exec: exec}, nil
}

// Run performs one action end to end. A missing audit entry would break
// chain verification for everything after it, so a ledger write failure
// aborts the action rather than proceeding unrecorded.
func (g *Gate) Run(ctx context.Context, req *model.ActionRequest, conn *model.Connection, planID string) (*Outcome, error) {
	verdict := g.boundary.Validate(req, conn)
	if !verdict.Allowed {
		if _, err := g.ledger.Log(ctx, blockedEntry(req, conn, verdict)); err != nil {
			return nil, fmt.Errorf("gate: record blocked action: %w", err)
		}
		return nil, &DeniedError{Reason: verdict.Reason, Risk: verdict.Risk, Check: verdict.DeniedBy}
	}

	if _, err := g.ledger.Log(ctx, validatedEntry(req, conn, verdict)); err != nil {
		return nil, fmt.Errorf("gate: record validation: %w", err)
	}

	grant, err := g.broker.AssumeRole(ctx, conn, planID)
	if err != nil {
		if _, logErr := g.ledger.Log(ctx, credentialDeniedEntry(req, conn, err)); logErr != nil {
			return nil, fmt.Errorf("gate: record credential denial: %w", logErr)
		}
		return nil, fmt.Errorf("gate: obtain credentials: %w", err)
	}
	if _, err := g.ledger.Log(ctx, credentialIssuedEntry(req, conn)); err != nil {
		return nil, fmt.Errorf("gate: record credential issuance: %w", err)
	}

	outcome, execErr := g.exec.Execute(ctx, req, grant.Credentials)

	entry := outcomeEntry(req, conn, verdict, outcome, execErr)
	if _, err := g.ledger.Log(ctx, entry); err != nil {
		return outcome, fmt.Errorf("gate: record outcome: %w", err)
	}

	if execErr != nil {
		return nil, fmt.Errorf("gate: execute %s: %w", req.Key(), execErr)
	}
	return outcome, nil
}

func blockedEntry(req *model.ActionRequest, conn *model.Connection, v model.ValidationResult) *ledger.Entry {
	return &ledger.Entry{
		EventType:    ledger.EventActionBlocked,
		CustomerID:   conn.CustomerID,
		ConnectionID: conn.ID,
		Service:      req.Service,
		Action:       req.Action,
		Result:       model.ResultBlocked,
		Risk:         v.Risk,
		Reason:       v.Reason,
		DeniedBy:     v.DeniedBy,
		Impact: ledger.Impact{
			Resources:     req.Resources,
			EstimatedCost: req.EstimatedCost,
		},
	}
}

func validatedEntry(req *model.ActionRequest, conn *model.Connection, v model.ValidationResult) *ledger.Entry {
	return &ledger.Entry{
		EventType:    ledger.EventActionValidated,
		CustomerID:   conn.CustomerID,
		ConnectionID: conn.ID,
		Service:      req.Service,
		Action:       req.Action,
		Result:       model.ResultSuccess,
		Risk:         v.Risk,
	}
}

// credentialIssuedEntry records that the broker handed out credentials for
// this action. It never carries credential material, only the fact of
// issuance.
func credentialIssuedEntry(req *model.ActionRequest, conn *model.Connection) *ledger.Entry {
	return &ledger.Entry{
		EventType:    ledger.EventCredentialIssued,
		CustomerID:   conn.CustomerID,
		ConnectionID: conn.ID,
		Service:      req.Service,
		Action:       req.Action,
		Result:       model.ResultSuccess,
	}
}

func credentialDeniedEntry(req *model.ActionRequest, conn *model.Connection, err error) *ledger.Entry {
	return &ledger.Entry{
		EventType:    ledger.EventCredentialDenied,
		CustomerID:   conn.CustomerID,
		ConnectionID: conn.ID,
		Service:      req.Service,
		Action:       req.Action,
		Result:       model.ResultFailure,
		Reason:       err.Error(),
	}
}

func outcomeEntry(req *model.ActionRequest, conn *model.Connection, v model.ValidationResult, outcome *Outcome, execErr error) *ledger.Entry {
	e := &ledger.Entry{
		CustomerID:   conn.CustomerID,
		ConnectionID: conn.ID,
		Service:      req.Service,
		Action:       req.Action,
		Risk:         v.Risk,
		Impact: ledger.Impact{
			Resources:     req.Resources,
			EstimatedCost: req.EstimatedCost,
		},
	}
	if execErr != nil {
		e.EventType = ledger.EventActionFailed
		e.Result = model.ResultFailure
		e.Reason = execErr.Error()
		return e
	}
	e.EventType = ledger.EventActionExecuted
	e.Result = model.ResultSuccess
	if outcome != nil && len(outcome.Resources) > 0 {
		e.Impact.Resources = outcome.Resources
	}
	return e
}
