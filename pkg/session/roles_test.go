package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRoleSet_IgnoresEmptyAndWhitespace(t *testing.T) {
	rs := NewRoleSet("employee", "", "  ", "itil")
	assert.Equal(t, 2, rs.Len())
	assert.True(t, rs.Has("employee"))
	assert.True(t, rs.Has("itil"))
	assert.False(t, rs.Has(""))
}

func TestRoleSet_Intersects(t *testing.T) {
	rs := NewRoleSet("employee", "knowledge")

	assert.True(t, rs.Intersects([]string{"admin", "knowledge"}))
	assert.False(t, rs.Intersects([]string{"admin", "hr"}))
	assert.False(t, rs.Intersects(nil))
}

func TestRoleSet_Empty(t *testing.T) {
	assert.True(t, NewRoleSet().Empty())
	assert.True(t, RoleSet(nil).Empty())
	assert.False(t, NewRoleSet("employee").Empty())
}

func TestRoleSet_SortedIsDeterministic(t *testing.T) {
	rs := NewRoleSet("itil", "admin", "employee")
	assert.Equal(t, []string{"admin", "employee", "itil"}, rs.Sorted())
}

func TestSession_Expired(t *testing.T) {
	active := newTestSession("u1", memTestTTL)
	assert.False(t, active.Expired())

	expired := newTestSession("u2", -memTestTTL)
	assert.True(t, expired.Expired())
	assert.Negative(t, expired.RemainingLifetime())
}

func TestSession_SummaryOmitsSecrets(t *testing.T) {
	sess := newTestSession("u1", memTestTTL)
	sess.Roles = NewRoleSet("itil", "employee")

	summary := sess.Summary()
	assert.Equal(t, "u1", summary.UserID)
	assert.Equal(t, []string{"employee", "itil"}, summary.Roles)
	assert.Equal(t, string(AuthMethodToken), summary.Method)
}
