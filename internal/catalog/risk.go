package catalog

import (
	"strings"

	"github.com/perimos/perimos/internal/model"
)

// RiskPattern pairs a "service:Pattern" entry with its risk level.
type RiskPattern struct {
	Pattern string          `json:"pattern"`
	Risk    model.RiskLevel `json:"risk"`
}

// riskPatterns classify allowed actions. Exact entries are consulted first,
// then wildcard entries in declaration order; anything unmatched defaults
// to medium so an unclassified action is never silently treated as benign.
var riskPatterns = []RiskPattern{
	// Exact.
	{"ec2:RunInstances", model.RiskHigh},
	{"ec2:StopInstances", model.RiskMedium},
	{"ec2:StartInstances", model.RiskMedium},
	{"ec2:RebootInstances", model.RiskMedium},
	{"rds:StopDBInstance", model.RiskMedium},
	{"rds:StartDBInstance", model.RiskMedium},
	{"rds:ModifyDBInstance", model.RiskHigh},
	{"lambda:Invoke", model.RiskMedium},
	{"dynamodb:UpdateTable", model.RiskHigh},
	{"ecs:UpdateService", model.RiskHigh},
	{"ecs:ExecuteCommand", model.RiskHigh},
	{"s3:CreateBucket", model.RiskMedium},

	// Wildcards.
	{"*:Describe*", model.RiskLow},
	{"*:Get*", model.RiskLow},
	{"*:List*", model.RiskLow},
	{"*:Head*", model.RiskLow},
	{"*:Create*", model.RiskHigh},
	{"*:Update*", model.RiskHigh},
	{"*:Modify*", model.RiskHigh},
	{"*:Put*", model.RiskMedium},
}

// RiskFor classifies an allowed "service:Action" key: exact match first,
// then first wildcard match, else medium.
func RiskFor(service, action string) model.RiskLevel {
	key := service + ":" + action
	for _, rp := range riskPatterns {
		if strings.ContainsRune(rp.Pattern, '*') {
			continue
		}
		if strings.EqualFold(rp.Pattern, key) {
			return rp.Risk
		}
	}
	for _, rp := range riskPatterns {
		if !strings.ContainsRune(rp.Pattern, '*') {
			continue
		}
		if MatchKey(rp.Pattern, key) {
			return rp.Risk
		}
	}
	return model.RiskMedium
}

// RiskPatterns returns a copy of the classification table for operational
// tooling.
func RiskPatterns() []RiskPattern {
	out := make([]RiskPattern, len(riskPatterns))
	copy(out, riskPatterns)
	return out
}
