package catalog

// bannedActions are the irreversible or trust-destroying operations that are
// always blocked, regardless of connection configuration. Credential and
// account mutation come first; the rest are the destructive delete/terminate
// paths for every supported service.
var bannedActions = []string{
	// Credential and identity mutation — an agent must never be able to
	// widen its own access.
	"iam:*",
	"sts:*",
	"sso:*",
	"organizations:*",

	// Account and billing.
	"account:*",
	"billing:*",
	"aws-portal:*",

	// Destructive compute.
	"ec2:TerminateInstances",
	"ec2:Delete*",
	"ec2:DeregisterImage",
	"ec2:ReleaseAddress",

	// Destructive storage.
	"s3:DeleteBucket*",
	"s3:DeleteObject*",
	"s3:PutBucketPolicy",
	"s3:PutBucketAcl",

	// Destructive databases.
	"rds:DeleteDB*",
	"dynamodb:DeleteTable",
	"dynamodb:DeleteBackup",

	// Destructive serverless and containers.
	"lambda:Delete*",
	"ecs:Delete*",
	"ecs:DeregisterTaskDefinition",

	// Audit-trail and key destruction — blocked so the evidence of what an
	// agent did cannot be erased by the agent.
	"cloudtrail:StopLogging",
	"cloudtrail:DeleteTrail",
	"kms:ScheduleKeyDeletion",
	"kms:DisableKey",
}

// IsBanned checks the "service:Action" key against the banned set.
// Returns the matching pattern for the denial message.
func IsBanned(service, action string) (bool, string) {
	key := service + ":" + action
	for _, pattern := range bannedActions {
		if MatchKey(pattern, key) {
			return true, pattern
		}
	}
	return false, ""
}

// BannedActions returns a copy of the banned pattern set for operational
// tooling. The returned slice is not the live table.
func BannedActions() []string {
	out := make([]string, len(bannedActions))
	copy(out, bannedActions)
	return out
}
