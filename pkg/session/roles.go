package session

import (
	"slices"
	"strings"
)

// RoleSet is the set of authorization roles attached to a caller. An empty
// set is valid and means the caller can only see public content.
type RoleSet map[string]struct{}

// NewRoleSet builds a RoleSet from role names, ignoring empty strings.
func NewRoleSet(roles ...string) RoleSet {
	rs := make(RoleSet, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r != "" {
			rs[r] = struct{}{}
		}
	}
	return rs
}

// Has reports whether the set contains the given role.
func (rs RoleSet) Has(role string) bool {
	_, ok := rs[role]
	return ok
}

// Intersects reports whether any of the given roles is in the set.
func (rs RoleSet) Intersects(roles []string) bool {
	for _, r := range roles {
		if rs.Has(r) {
			return true
		}
	}
	return false
}

// Empty reports whether the set contains no roles.
func (rs RoleSet) Empty() bool {
	return len(rs) == 0
}

// Len returns the number of roles in the set.
func (rs RoleSet) Len() int {
	return len(rs)
}

// Sorted returns the roles in lexical order for deterministic output.
func (rs RoleSet) Sorted() []string {
	out := make([]string, 0, len(rs))
	for r := range rs {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}
