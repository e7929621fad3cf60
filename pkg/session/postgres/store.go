// Package postgres provides PostgreSQL storage for sessions.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/mcp-servicenow-knowledge/pkg/session"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sessionColumns lists columns returned by session SELECT queries.
var sessionColumns = []string{
	"user_id", "username", "roles", "token", "refresh_token",
	"issued_at", "expires_at", "auth_method",
}

// Store implements session.Store using PostgreSQL.
type Store struct {
	db     *sql.DB
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new PostgreSQL session store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Put inserts or replaces the session for its UserID.
func (s *Store) Put(ctx context.Context, sess *session.Session) error {
	query, args, err := psq.Insert("knowledge_sessions").
		Columns(sessionColumns...).
		Values(
			sess.UserID,
			sess.Username,
			strings.Join(sess.Roles.Sorted(), ","),
			sess.Token,
			sess.RefreshToken,
			sess.IssuedAt,
			sess.ExpiresAt,
			string(sess.Method),
		).
		Suffix(`ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			roles = EXCLUDED.roles,
			token = EXCLUDED.token,
			refresh_token = EXCLUDED.refresh_token,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at,
			auth_method = EXCLUDED.auth_method`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Get retrieves a session by caller ID. Returns nil, nil if absent or
// expired. Expired rows are left to the sweep.
func (s *Store) Get(ctx context.Context, userID string) (*session.Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("knowledge_sessions").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Gt{"expires_at": time.Now()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session select: %w", err)
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return sess, nil
}

// Delete removes a session. Deleting an absent session is not an error.
func (s *Store) Delete(ctx context.Context, userID string) error {
	query, args, err := psq.Delete("knowledge_sessions").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session delete: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// List returns all non-expired sessions.
func (s *Store) List(ctx context.Context) ([]*session.Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("knowledge_sessions").
		Where(sq.Gt{"expires_at": time.Now()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// Cleanup removes expired sessions.
func (s *Store) Cleanup(ctx context.Context) error {
	query, args, err := psq.Delete("knowledge_sessions").
		Where(sq.LtOrEq{"expires_at": time.Now()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session cleanup: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("cleaning up sessions: %w", err)
	}
	return nil
}

// StartSweep starts a background goroutine that periodically removes expired
// sessions. The goroutine is stopped when Close is called.
func (s *Store) StartSweep(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Cleanup(ctx); err != nil {
					slog.Warn("session sweep failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the sweep goroutine and waits for it to exit.
// It is safe to call Close even if StartSweep was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// scanSession scans a session row using the given scan function.
func scanSession(scan func(dest ...any) error) (*session.Session, error) {
	var sess session.Session
	var roles, method string

	err := scan(
		&sess.UserID, &sess.Username, &roles, &sess.Token, &sess.RefreshToken,
		&sess.IssuedAt, &sess.ExpiresAt, &method,
	)
	if err != nil {
		return nil, err
	}

	sess.Roles = session.NewRoleSet(strings.Split(roles, ",")...)
	sess.Method = session.AuthMethod(method)
	return &sess, nil
}

// Verify interface compliance.
var _ session.Store = (*Store)(nil)
