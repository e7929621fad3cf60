package servicenow

import (
	"strings"

	"github.com/txn2/mcp-servicenow-knowledge/pkg/session"
)

// BuildQuery constructs the encoded sysparm_query filter for a search. The
// filter always conjoins the published-only predicate and the role
// predicate: an article qualifies when its role list is empty (public) or
// intersects the caller's role set. The function is pure; identical inputs
// produce an identical string (roles are emitted in sorted order).
func BuildQuery(roles session.RoleSet, req SearchRequest) string {
	parts := []string{
		searchPredicate(req),
		"workflow_state=" + workflowStatePublished,
		rolePredicate(roles),
	}
	return strings.Join(parts, "^")
}

// searchPredicate returns the mode-specific match clause.
func searchPredicate(req SearchRequest) string {
	q := strings.TrimSpace(req.Query)
	switch req.ResolveMode() {
	case ModeID:
		return "sys_id=" + q
	case ModeNumber:
		return "number=" + q
	case ModeTitleExact:
		return "short_description=" + q
	case ModeTitlePartial:
		return "short_descriptionLIKE" + q
	default:
		return "short_descriptionLIKE" + q + "^ORtextLIKE" + q
	}
}

// rolePredicate returns the access clause: public articles always qualify,
// guarded articles only when they name one of the caller's roles.
func rolePredicate(roles session.RoleSet) string {
	clauses := []string{"roles="}
	for _, r := range roles.Sorted() {
		clauses = append(clauses, "rolesLIKE"+r)
	}
	return "(" + strings.Join(clauses, "^OR") + ")"
}
