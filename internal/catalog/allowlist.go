package catalog

import "sort"

// allowLists enumerate, per supported service, the actions the broker will
// consider at all. An action absent from its service's list is denied before
// any connection configuration is consulted; a service absent from this map
// is entirely unsupported.
var allowLists = map[string][]string{
	"ec2": {
		"Describe*",
		"Get*",
		"StartInstances",
		"StopInstances",
		"RebootInstances",
		"RunInstances",
		"CreateTags",
		"CreateSnapshot",
		"ModifyInstanceAttribute",
	},
	"s3": {
		"List*",
		"Get*",
		"Head*",
		"PutObject",
		"PutObjectTagging",
		"CopyObject",
		"CreateBucket",
	},
	"rds": {
		"Describe*",
		"List*",
		"StartDBInstance",
		"StopDBInstance",
		"RebootDBInstance",
		"CreateDBSnapshot",
		"ModifyDBInstance",
	},
	"lambda": {
		"List*",
		"Get*",
		"Invoke",
		"UpdateFunctionConfiguration",
		"PublishVersion",
	},
	"dynamodb": {
		"Describe*",
		"List*",
		"GetItem",
		"BatchGetItem",
		"Query",
		"Scan",
		"PutItem",
		"UpdateItem",
		"UpdateTable",
	},
	"ecs": {
		"Describe*",
		"List*",
		"RunTask",
		"StopTask",
		"UpdateService",
		"ExecuteCommand",
	},
	"cloudwatch": {
		"Describe*",
		"Get*",
		"List*",
	},
	"ce": {
		"Get*",
		"Describe*",
		"List*",
	},
}

// IsAllowed checks whether the action appears in its service's allow-list,
// exactly or via a prefix-wildcard entry. A service with no registered
// allow-list always returns false.
func IsAllowed(service, action string) bool {
	patterns, ok := allowLists[service]
	if !ok {
		return false
	}
	for _, p := range patterns {
		if MatchAction(p, action) {
			return true
		}
	}
	return false
}

// HasService reports whether the service has a registered allow-list.
func HasService(service string) bool {
	_, ok := allowLists[service]
	return ok
}

// AllowedActions returns a copy of the allow-list for a service, or nil for
// an unsupported service.
func AllowedActions(service string) []string {
	patterns, ok := allowLists[service]
	if !ok {
		return nil
	}
	out := make([]string, len(patterns))
	copy(out, patterns)
	return out
}

// Services returns the supported service names in sorted order.
func Services() []string {
	out := make([]string, 0, len(allowLists))
	for s := range allowLists {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
