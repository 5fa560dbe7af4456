package broker

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/perimos/perimos/internal/model"
)

func scopeConn() *model.Connection {
	return &model.Connection{
		ID:             "conn-scope",
		CustomerID:     "cust-a",
		AllowedRegions: []string{"us-west-2"},
		AllowedServices: map[string][]string{
			"ec2": {"Describe*", "StopInstances"},
			"s3":  {"Get*", "List*"},
		},
		DeniedActions: []string{"ec2:StopInstances", "Terminate", ""},
	}
}

func TestScopePolicyShape(t *testing.T) {
	policy, ok := BuildScopePolicy(scopeConn())
	if !ok {
		t.Fatal("expected a policy to be built")
	}

	var doc policyDocument
	if err := json.Unmarshal([]byte(policy), &doc); err != nil {
		t.Fatalf("policy is not valid JSON: %v", err)
	}
	if doc.Version != "2012-10-17" {
		t.Fatalf("version %q, want 2012-10-17", doc.Version)
	}
	if len(doc.Statement) != 2 {
		t.Fatalf("expected allow + deny statements, got %d", len(doc.Statement))
	}

	allow := doc.Statement[0]
	if allow.Effect != "Allow" {
		t.Fatalf("first statement effect %q, want Allow", allow.Effect)
	}
	want := []string{"ec2:Describe*", "ec2:StopInstances", "s3:Get*", "s3:List*"}
	if len(allow.Action) != len(want) {
		t.Fatalf("allow actions %v, want %v", allow.Action, want)
	}
	for i, a := range want {
		if allow.Action[i] != a {
			t.Fatalf("allow action[%d] = %q, want %q", i, allow.Action[i], a)
		}
	}
	if allow.Condition == nil {
		t.Fatal("expected a region condition on the allow statement")
	}
	if !strings.Contains(policy, "aws:RequestedRegion") {
		t.Fatal("expected aws:RequestedRegion condition key")
	}

	deny := doc.Statement[1]
	if deny.Effect != "Deny" {
		t.Fatalf("second statement effect %q, want Deny", deny.Effect)
	}
	// Only colon-form deny patterns translate; bare substrings stay with
	// the boundary.
	if len(deny.Action) != 1 || deny.Action[0] != "ec2:StopInstances" {
		t.Fatalf("deny actions %v, want [ec2:StopInstances]", deny.Action)
	}
}

func TestScopePolicyOmittedForBlanketGrants(t *testing.T) {
	conn := scopeConn()
	conn.AllowedServices = map[string][]string{"ec2": {"*"}, "s3": {"*"}}
	if _, ok := BuildScopePolicy(conn); ok {
		t.Fatal("expected no policy when every service grants a wildcard")
	}
}

func TestScopePolicyOmittedWithoutServices(t *testing.T) {
	conn := scopeConn()
	conn.AllowedServices = nil
	if _, ok := BuildScopePolicy(conn); ok {
		t.Fatal("expected no policy without configured services")
	}
}

func TestScopePolicyOmittedWhenOversized(t *testing.T) {
	conn := scopeConn()
	conn.AllowedServices = map[string][]string{}
	for i := 0; i < 40; i++ {
		svc := "svc" + strings.Repeat("x", 40) + string(rune('a'+i%26))
		conn.AllowedServices[svc] = []string{"SomeVeryLongActionNamePattern*", "AnotherVeryLongActionName*"}
	}
	if _, ok := BuildScopePolicy(conn); ok {
		t.Fatal("expected oversized policy to be omitted")
	}
}

func TestScopePolicyNoRegionCondition(t *testing.T) {
	conn := scopeConn()
	conn.AllowedRegions = nil
	policy, ok := BuildScopePolicy(conn)
	if !ok {
		t.Fatal("expected a policy")
	}
	if strings.Contains(policy, "aws:RequestedRegion") {
		t.Fatal("expected no region condition without allowed regions")
	}
}
