package tools

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-servicenow-knowledge/pkg/audit"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/auth"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/servicenow"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/synthesis"
)

// Stable codes surfaced alongside the auth and upstream taxonomies.
const (
	codeNotFound     = "NOT_FOUND"
	codeForbidden    = "FORBIDDEN"
	codeUnauthorized = "UNAUTHORIZED"
	codeBadRequest   = "BAD_REQUEST"
)

type authenticateInput struct {
	JWTToken string `json:"jwt_token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type authenticateOutput struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Roles      []string  `json:"roles"`
	ExpiresAt  time.Time `json:"expires_at"`
	AuthMethod string    `json:"auth_method"`
}

type searchInput struct {
	Query      string `json:"query"`
	UserID     string `json:"user_id"`
	Mode       string `json:"mode,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Synthesize *bool  `json:"synthesize,omitempty"`
}

type getArticleInput struct {
	ArticleID string `json:"article_id"`
	UserID    string `json:"user_id"`
}

type userContextInput struct {
	UserID string `json:"user_id"`
}

type clearSessionInput struct {
	UserID string `json:"user_id"`
}

type clearSessionOutput struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

func (t *Toolkit) handleAuthenticate(ctx context.Context, _ *mcp.CallToolRequest, input authenticateInput) (*mcp.CallToolResult, any, error) {
	started := time.Now()
	event := audit.NewEvent(audit.EventTypeAuth).
		WithTool(toolAuthenticate).
		WithRequestID(uuid.NewString()).
		WithParameters(map[string]any{
			"jwt_token": input.JWTToken,
			"username":  input.Username,
			"password":  input.Password,
		})

	sess, err := t.manager.Authenticate(ctx, auth.Credential{
		Token:    input.JWTToken,
		Username: input.Username,
		Password: input.Password,
	})
	if err != nil {
		code := string(auth.CodeOf(err))
		if code == "" {
			code = codeBadRequest
		}
		t.record(ctx, event.WithResult(false, code, "authentication failed", time.Since(started)))
		return errorResult(code, "authentication failed: "+safeMessage(err)), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}

	t.record(ctx, event.
		WithUser(sess.UserID, sess.Username).
		WithAuthMethod(string(sess.Method)).
		WithResult(true, "", "", time.Since(started)))

	return jsonResult(authenticateOutput{
		UserID:     sess.UserID,
		Username:   sess.Username,
		Roles:      sess.Roles.Sorted(),
		ExpiresAt:  sess.ExpiresAt,
		AuthMethod: string(sess.Method),
	})
}

func (t *Toolkit) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input searchInput) (*mcp.CallToolResult, any, error) {
	started := time.Now()
	event := audit.NewEvent(audit.EventTypeToolCall).
		WithTool(toolSearch).
		WithRequestID(uuid.NewString()).
		WithParameters(map[string]any{
			"query":   input.Query,
			"user_id": input.UserID,
			"mode":    input.Mode,
			"limit":   input.Limit,
		})

	if input.Query == "" {
		t.record(ctx, event.WithResult(false, codeBadRequest, "empty query", time.Since(started)))
		return errorResult(codeBadRequest, "query is required"), nil, nil
	}

	sess, err := t.manager.Resolve(ctx, input.UserID)
	if err != nil {
		code := string(auth.CodeOf(err))
		t.record(ctx, event.WithResult(false, code, "no session", time.Since(started)))
		return errorResult(code, "authenticate first: no active session for user"), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	event.WithUser(sess.UserID, sess.Username)

	result, err := t.client.Search(ctx, sess.Token, sess.Roles, servicenow.SearchRequest{
		Query: input.Query,
		Mode:  servicenow.SearchMode(input.Mode),
		Limit: input.Limit,
	})
	if err != nil {
		code, msg := upstreamFailure(err)
		t.record(ctx, event.WithResult(false, code, msg, time.Since(started)))
		return errorResult(code, msg), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}

	t.record(ctx, event.WithResult(true, "", "", time.Since(started)))

	if input.Synthesize != nil && !*input.Synthesize {
		return jsonResult(result)
	}
	answer := t.engine.Synthesize(result, input.Query, 0)
	return textResult(synthesis.FormatAnswer(answer))
}

func (t *Toolkit) handleGetArticle(ctx context.Context, _ *mcp.CallToolRequest, input getArticleInput) (*mcp.CallToolResult, any, error) {
	started := time.Now()
	event := audit.NewEvent(audit.EventTypeToolCall).
		WithTool(toolGetArticle).
		WithRequestID(uuid.NewString()).
		WithParameters(map[string]any{
			"article_id": input.ArticleID,
			"user_id":    input.UserID,
		})

	if input.ArticleID == "" {
		t.record(ctx, event.WithResult(false, codeBadRequest, "empty article id", time.Since(started)))
		return errorResult(codeBadRequest, "article_id is required"), nil, nil
	}

	sess, err := t.manager.Resolve(ctx, input.UserID)
	if err != nil {
		code := string(auth.CodeOf(err))
		t.record(ctx, event.WithResult(false, code, "no session", time.Since(started)))
		return errorResult(code, "authenticate first: no active session for user"), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	event.WithUser(sess.UserID, sess.Username)

	article, err := t.client.GetArticle(ctx, sess.Token, sess.Roles, input.ArticleID)
	if err != nil {
		code, msg := upstreamFailure(err)
		t.record(ctx, event.WithResult(false, code, msg, time.Since(started)))
		return errorResult(code, msg), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}

	t.record(ctx, event.WithResult(true, "", "", time.Since(started)))
	return jsonResult(article)
}

func (t *Toolkit) handleUserContext(ctx context.Context, _ *mcp.CallToolRequest, input userContextInput) (*mcp.CallToolResult, any, error) {
	sess, err := t.manager.Resolve(ctx, input.UserID)
	if err != nil {
		return errorResult(string(auth.CodeOf(err)), "unauthenticated: no active session for user"), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	return jsonResult(sess.Summary())
}

func (t *Toolkit) handleClearSession(ctx context.Context, _ *mcp.CallToolRequest, input clearSessionInput) (*mcp.CallToolResult, any, error) {
	started := time.Now()
	event := audit.NewEvent(audit.EventTypeAuth).
		WithTool(toolClearSession).
		WithRequestID(uuid.NewString()).
		WithUser(input.UserID, "")

	if err := t.manager.Clear(ctx, input.UserID); err != nil {
		t.record(ctx, event.WithResult(false, "INTERNAL", "clear failed", time.Since(started)))
		return errorResult("INTERNAL", "clearing session failed"), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}

	t.record(ctx, event.WithResult(true, "", "", time.Since(started)))
	return jsonResult(clearSessionOutput{UserID: input.UserID, Status: "cleared"})
}

// record sends the event to the audit sink; audit failures never fail the
// tool call.
func (t *Toolkit) record(ctx context.Context, event *audit.Event) {
	_ = t.auditor.Log(ctx, *event)
}

// upstreamFailure maps a repository error to a tool-facing code and message.
func upstreamFailure(err error) (code, msg string) {
	switch {
	case errors.Is(err, servicenow.ErrNotFound):
		return codeNotFound, "article not found"
	case errors.Is(err, servicenow.ErrForbidden):
		return codeForbidden, "access to this article is not permitted for your roles"
	case errors.Is(err, servicenow.ErrUnauthorized):
		return codeUnauthorized, "the knowledge repository rejected the session token; re-authenticate"
	}
	if code := servicenow.UpstreamCodeOf(err); code != "" {
		return string(code), safeMessage(err)
	}
	return string(servicenow.CodeRepositoryUnavailable), "knowledge repository unavailable"
}

// safeMessage returns the error text for taxonomy errors, which never carry
// credentials.
func safeMessage(err error) string {
	var ae *auth.Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	var ue *servicenow.UpstreamError
	if errors.As(err, &ue) {
		return ue.Message
	}
	return "request failed"
}
