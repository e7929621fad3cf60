package servicenow

import "errors"

// UpstreamCode classifies repository failures.
type UpstreamCode string

const (
	// CodeRepositoryUnavailable means the retry budget was exhausted or the
	// breaker is open; the caller may retry later.
	CodeRepositoryUnavailable UpstreamCode = "REPOSITORY_UNAVAILABLE"

	// CodeQueryRejected means the repository answered and refused the query;
	// retrying the same request will not help.
	CodeQueryRejected UpstreamCode = "QUERY_REJECTED"
)

// UpstreamError is a classified repository failure.
type UpstreamError struct {
	Code    UpstreamCode
	Message string
}

func (e *UpstreamError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Sentinel errors surfaced by the client.
var (
	// ErrNotFound means the article does not exist.
	ErrNotFound = errors.New("article not found")

	// ErrForbidden means the article exists but the caller's role set does
	// not permit reading it.
	ErrForbidden = errors.New("access to article forbidden")

	// ErrUnauthorized means the upstream rejected the caller's token.
	ErrUnauthorized = errors.New("upstream rejected token")

	// ErrGrantRejected means the identity endpoint refused the password
	// grant.
	ErrGrantRejected = errors.New("password grant rejected")
)

// UpstreamCodeOf extracts the upstream code from an error chain, or "".
func UpstreamCodeOf(err error) UpstreamCode {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ""
}
