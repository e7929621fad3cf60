package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/txn2/mcp-servicenow-knowledge/pkg/servicenow"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/session"
)

// IdentityClient is the upstream identity surface the manager exchanges
// credentials against.
type IdentityClient interface {
	PasswordGrant(ctx context.Context, username, password string) (*servicenow.Grant, error)
	RefreshGrant(ctx context.Context, refreshToken string) (*servicenow.Grant, error)
	FetchIdentity(ctx context.Context, accessToken string) (*servicenow.Identity, error)
}

// Credential carries either a signed bearer token or a username/password
// pair. Values are used for one exchange and never logged.
type Credential struct {
	Token    string
	Username string
	Password string
}

// Config holds authentication manager configuration.
type Config struct {
	// Secret is the HMAC key for local token verification.
	Secret string `yaml:"secret"`

	// Algorithm is the expected token signing algorithm. HMAC family only;
	// defaults to HS256.
	Algorithm string `yaml:"algorithm"`

	// SessionTTL caps the lifetime of any established session.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// RefreshWindow is how close to expiry a session must be before
	// RefreshIfNearExpiry acts.
	RefreshWindow time.Duration `yaml:"refresh_window"`
}

// Manager authenticates callers and owns session lifecycle. Concurrent
// Authenticate calls for the same identity coalesce into a single upstream
// exchange.
type Manager struct {
	cfg      Config
	store    session.Store
	identity IdentityClient

	mu       sync.Mutex
	inflight map[string]*flight
}

// flight is one in-progress authentication shared by all callers that
// arrived while it ran.
type flight struct {
	done chan struct{}
	sess *session.Session
	err  error
}

// NewManager creates a Manager over the given store and identity client.
func NewManager(cfg Config, store session.Store, identity IdentityClient) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = "HS256"
	}
	switch cfg.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.RefreshWindow == 0 {
		cfg.RefreshWindow = 5 * time.Minute
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		identity: identity,
		inflight: make(map[string]*flight),
	}, nil
}

// Authenticate establishes a session from the credential and stores it
// keyed by caller id. Identical concurrent calls share one exchange and
// receive the same session or the same error.
func (m *Manager) Authenticate(ctx context.Context, cred Credential) (*session.Session, error) {
	key, err := flightKey(cred)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if f, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		select {
		case <-f.done:
			return f.sess, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	m.inflight[key] = f
	m.mu.Unlock()

	f.sess, f.err = m.authenticate(ctx, cred)

	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()
	close(f.done)

	return f.sess, f.err
}

// flightKey derives the coalescing key for a credential. Password exchanges
// key on username since the caller id is unknown until the exchange returns.
func flightKey(cred Credential) (string, error) {
	switch {
	case cred.Token != "":
		return "token\x00" + cred.Token, nil
	case cred.Username != "" && cred.Password != "":
		return "password\x00" + cred.Username, nil
	default:
		return "", &Error{Code: CodeTokenMalformed, Message: "credential requires a token or a username and password"}
	}
}

func (m *Manager) authenticate(ctx context.Context, cred Credential) (*session.Session, error) {
	if cred.Token != "" {
		return m.authenticateToken(ctx, cred.Token)
	}
	return m.authenticatePassword(ctx, cred.Username, cred.Password)
}

// authenticateToken verifies the token locally; no upstream call is made.
func (m *Manager) authenticateToken(ctx context.Context, token string) (*session.Session, error) {
	claims, err := parseToken(token, []byte(m.cfg.Secret), m.cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	// The session lives exactly as long as the token; the TTL only covers
	// tokens that carry no exp claim.
	now := time.Now()
	expires := claims.ExpiresAt
	if expires.IsZero() {
		expires = now.Add(m.cfg.SessionTTL)
	}

	sess := &session.Session{
		UserID:    claims.Subject,
		Username:  claims.Username,
		Roles:     session.NewRoleSet(claims.Roles...),
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: expires,
		Method:    session.AuthMethodToken,
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	slog.Info("session established", "user", sess.UserID, "method", sess.Method)
	return sess, nil
}

// authenticatePassword exchanges the credentials upstream, resolves the
// caller's identity and roles, and establishes the session.
func (m *Manager) authenticatePassword(ctx context.Context, username, password string) (*session.Session, error) {
	grant, err := m.identity.PasswordGrant(ctx, username, password)
	if err != nil {
		return nil, classifyUpstream(err)
	}

	identity, err := m.identity.FetchIdentity(ctx, grant.AccessToken)
	if err != nil {
		return nil, classifyUpstream(err)
	}

	now := time.Now()
	ttl := grant.ExpiresIn
	if ttl <= 0 || ttl > m.cfg.SessionTTL {
		ttl = m.cfg.SessionTTL
	}

	sess := &session.Session{
		UserID:       identity.UserID,
		Username:     identity.Username,
		Roles:        session.NewRoleSet(identity.Roles...),
		Token:        grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
		Method:       session.AuthMethodPassword,
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	slog.Info("session established", "user", sess.UserID, "method", sess.Method)
	return sess, nil
}

// Resolve returns the caller's live session. Expired sessions are absent;
// the store removes them on read.
func (m *Manager) Resolve(ctx context.Context, userID string) (*session.Session, error) {
	sess, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if sess == nil {
		return nil, &Error{Code: CodeSessionAbsent, Message: "no active session for user"}
	}
	return sess, nil
}

// RefreshIfNearExpiry extends a session approaching expiry. Token sessions
// need a freshly supplied token; password-grant sessions refresh through
// the upstream refresh grant when one was issued. Sessions not yet inside
// the refresh window are returned unchanged.
func (m *Manager) RefreshIfNearExpiry(ctx context.Context, userID, freshToken string) (*session.Session, error) {
	sess, err := m.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess.RemainingLifetime() > m.cfg.RefreshWindow {
		return sess, nil
	}

	switch sess.Method {
	case session.AuthMethodToken:
		if freshToken == "" {
			return sess, nil
		}
		refreshed, err := m.authenticateToken(ctx, freshToken)
		if err != nil {
			return nil, err
		}
		if refreshed.UserID != sess.UserID {
			return nil, &Error{Code: CodeTokenInvalidSignature, Message: "refreshed token names a different subject"}
		}
		return refreshed, nil

	case session.AuthMethodPassword:
		if sess.RefreshToken == "" {
			return sess, nil
		}
		grant, err := m.identity.RefreshGrant(ctx, sess.RefreshToken)
		if err != nil {
			return nil, classifyUpstream(err)
		}
		ttl := grant.ExpiresIn
		if ttl <= 0 || ttl > m.cfg.SessionTTL {
			ttl = m.cfg.SessionTTL
		}
		sess.Token = grant.AccessToken
		if grant.RefreshToken != "" {
			sess.RefreshToken = grant.RefreshToken
		}
		sess.ExpiresAt = time.Now().Add(ttl)
		if err := m.store.Put(ctx, sess); err != nil {
			return nil, fmt.Errorf("storing refreshed session: %w", err)
		}
		slog.Info("session refreshed", "user", sess.UserID)
		return sess, nil
	}
	return sess, nil
}

// Clear removes the caller's session. Clearing an absent session is not an
// error.
func (m *Manager) Clear(ctx context.Context, userID string) error {
	if err := m.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	slog.Info("session cleared", "user", userID)
	return nil
}

// classifyUpstream maps identity-exchange failures onto the auth taxonomy.
func classifyUpstream(err error) error {
	switch {
	case errors.Is(err, servicenow.ErrGrantRejected), errors.Is(err, servicenow.ErrUnauthorized):
		return &Error{Code: CodeUpstreamRejected, Message: "identity endpoint rejected the credentials"}
	default:
		return &Error{Code: CodeUpstreamUnavailable, Message: "identity endpoint unavailable"}
	}
}
