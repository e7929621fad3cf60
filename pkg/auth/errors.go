// Package auth implements the authentication manager: local token
// verification, credential exchange against the upstream identity endpoint,
// and session lifecycle on top of the session store.
package auth

import "errors"

// Code classifies authentication failures for callers and tool surfaces.
type Code string

const (
	// CodeTokenMalformed means the presented token could not be parsed.
	CodeTokenMalformed Code = "TOKEN_MALFORMED"

	// CodeTokenExpired means the token parsed but its expiry has passed.
	CodeTokenExpired Code = "TOKEN_EXPIRED"

	// CodeTokenInvalidSignature means the token signature did not verify.
	CodeTokenInvalidSignature Code = "TOKEN_INVALID_SIGNATURE"

	// CodeUpstreamRejected means the identity endpoint answered and refused
	// the credentials.
	CodeUpstreamRejected Code = "UPSTREAM_REJECTED"

	// CodeUpstreamUnavailable means the identity endpoint could not be
	// reached within the retry budget.
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"

	// CodeSessionAbsent means no live session exists for the user.
	CodeSessionAbsent Code = "SESSION_ABSENT"
)

// Error is a classified authentication failure. Messages never carry
// credentials or token material.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// CodeOf extracts the authentication code from an error chain, or "".
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
