// Package tools exposes the knowledge server's MCP tool surface:
// authentication, role-aware search, article retrieval, and session
// management.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-servicenow-knowledge/pkg/audit"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/auth"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/servicenow"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/session"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/synthesis"
)

// Tool names registered by this toolkit.
const (
	toolAuthenticate = "authenticate_user"
	toolSearch       = "search_knowledge"
	toolGetArticle   = "get_article"
	toolUserContext  = "get_user_context"
	toolClearSession = "clear_user_session"
)

// KnowledgeClient is the repository surface the toolkit queries.
type KnowledgeClient interface {
	Search(ctx context.Context, token string, roles session.RoleSet, req servicenow.SearchRequest) (*servicenow.SearchResult, error)
	GetArticle(ctx context.Context, token string, roles session.RoleSet, articleID string) (*servicenow.Article, error)
}

// Toolkit wires the authentication manager, knowledge client, and synthesis
// engine into MCP tools.
type Toolkit struct {
	name    string
	manager *auth.Manager
	client  KnowledgeClient
	engine  *synthesis.Engine
	auditor audit.Logger
}

// New creates the knowledge toolkit. A nil auditor disables audit output.
func New(name string, manager *auth.Manager, client KnowledgeClient, engine *synthesis.Engine, auditor audit.Logger) (*Toolkit, error) {
	if manager == nil {
		return nil, fmt.Errorf("auth manager is required")
	}
	if client == nil {
		return nil, fmt.Errorf("knowledge client is required")
	}
	if engine == nil {
		engine = synthesis.NewEngine()
	}
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	return &Toolkit{
		name:    name,
		manager: manager,
		client:  client,
		engine:  engine,
		auditor: auditor,
	}, nil
}

// Kind returns the toolkit kind.
func (*Toolkit) Kind() string {
	return "servicenow-knowledge"
}

// Name returns the toolkit instance name.
func (t *Toolkit) Name() string {
	return t.name
}

// RegisterTools registers the knowledge tools with the MCP server.
func (t *Toolkit) RegisterTools(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name: toolAuthenticate,
		Description: "Authenticates a user with either a signed JWT token or a username/password pair " +
			"and establishes a session. Returns the caller id, roles, and session expiry.",
	}, t.handleAuthenticate)

	mcp.AddTool(s, &mcp.Tool{
		Name: toolSearch,
		Description: "Searches the knowledge base as the authenticated user. Only published articles " +
			"visible to the user's roles are returned. By default results are synthesized into a " +
			"single cited answer; set synthesize=false for raw article data.",
	}, t.handleSearch)

	mcp.AddTool(s, &mcp.Tool{
		Name: toolGetArticle,
		Description: "Fetches one knowledge article by sys_id on behalf of the authenticated user. " +
			"Access is denied when the article's roles do not overlap the user's roles.",
	}, t.handleGetArticle)

	mcp.AddTool(s, &mcp.Tool{
		Name:        toolUserContext,
		Description: "Returns the authenticated user's session summary: identity, roles, and expiry.",
	}, t.handleUserContext)

	mcp.AddTool(s, &mcp.Tool{
		Name:        toolClearSession,
		Description: "Ends the user's session. Clearing an absent session succeeds.",
	}, t.handleClearSession)
}

// Tools returns the list of tool names provided by this toolkit.
func (*Toolkit) Tools() []string {
	return []string{
		toolAuthenticate,
		toolSearch,
		toolGetArticle,
		toolUserContext,
		toolClearSession,
	}
}

// Close releases resources.
func (t *Toolkit) Close() error {
	return t.auditor.Close()
}

// errorResult creates an error CallToolResult carrying a stable code.
func errorResult(code, msg string) *mcp.CallToolResult {
	body, _ := json.Marshal(map[string]string{"error": msg, "code": code})
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
		IsError: true,
	}
}

// textResult creates a success CallToolResult with plain text content.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// jsonResult creates a success CallToolResult with a JSON-encoded payload.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult("INTERNAL", "encoding response"), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	return textResult(string(data))
}
