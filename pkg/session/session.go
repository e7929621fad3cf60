// Package session provides session management for the ServiceNow knowledge
// server. It defines the Store interface for session persistence and the
// Session type that represents an authenticated caller.
package session

import (
	"context"
	"time"
)

// AuthMethod identifies how a session was established.
type AuthMethod string

const (
	// AuthMethodToken is a session established from a signed JWT.
	AuthMethodToken AuthMethod = "token"

	// AuthMethodPassword is a session established through the upstream
	// resource-owner-password grant.
	AuthMethodPassword AuthMethod = "password"
)

// Session represents an authenticated caller.
type Session struct {
	// UserID is the caller identity the session is keyed by.
	UserID string

	// Username is the caller's display name.
	Username string

	// Roles is the caller's authorization role set.
	Roles RoleSet

	// Token is the secret presented to the upstream repository on the
	// caller's behalf. Never exposed in summaries.
	Token string

	// RefreshToken is the renewable artifact from a password grant, if the
	// upstream included one. Empty for token sessions.
	RefreshToken string

	// IssuedAt is when the session was established.
	IssuedAt time.Time

	// ExpiresAt is when the session expires. A session past ExpiresAt is
	// treated as absent regardless of cache residency.
	ExpiresAt time.Time

	// Method records how the session was established.
	Method AuthMethod
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired() bool {
	return !time.Now().Before(s.ExpiresAt)
}

// RemainingLifetime returns the time until expiry, negative if expired.
func (s *Session) RemainingLifetime() time.Duration {
	return time.Until(s.ExpiresAt)
}

// Summary is the caller-visible view of a session. It carries no secrets.
type Summary struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
	Method    string    `json:"auth_method"`
}

// Summary returns the non-leaking view of the session.
func (s *Session) Summary() Summary {
	return Summary{
		UserID:    s.UserID,
		Username:  s.Username,
		Roles:     s.Roles.Sorted(),
		ExpiresAt: s.ExpiresAt,
		Method:    string(s.Method),
	}
}

// Store defines the interface for session persistence.
type Store interface {
	// Put inserts or replaces the session for its UserID.
	Put(ctx context.Context, s *Session) error

	// Get retrieves a session by caller ID. Returns nil, nil if absent or
	// expired; an expired entry is removed as a side effect.
	Get(ctx context.Context, userID string) (*Session, error)

	// Delete removes a session. Deleting an absent session is not an error.
	Delete(ctx context.Context, userID string) error

	// List returns all non-expired sessions.
	List(ctx context.Context) ([]*Session, error)

	// Cleanup removes expired sessions.
	Cleanup(ctx context.Context) error

	// Close stops background routines and releases resources.
	Close() error
}
