// Package killswitch defines the final veto consulted by the credential
// broker before any credential issuance, plus a file-backed implementation
// driven by operator-created halt orders.
package killswitch

import (
	"context"

	"github.com/perimos/perimos/internal/model"
)

// CheckRequest describes the issuance being vetted.
type CheckRequest struct {
	CustomerID   string          `json:"customer_id"`
	ConnectionID string          `json:"connection_id"`
	Service      string          `json:"service"`
	Action       string          `json:"action"`
	IsWrite      bool            `json:"is_write"`
	Risk         model.RiskLevel `json:"risk"`
}

// Verdict is the kill switch's answer. Reason is set iff denied.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Checker is the kill switch contract. Implementations are a black box to
// the broker; the broker fails closed when Check itself errors.
type Checker interface {
	Check(ctx context.Context, req CheckRequest) (Verdict, error)
}

// AllowAll is a Checker that never denies. For tests and embedders that
// wire their own veto elsewhere.
type AllowAll struct{}

func (AllowAll) Check(ctx context.Context, req CheckRequest) (Verdict, error) {
	return Verdict{Allowed: true}, nil
}
