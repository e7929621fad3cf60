package servicenow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/txn2/mcp-servicenow-knowledge/pkg/retry"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/session"
)

const (
	knowledgeTablePath = "/api/now/table/kb_knowledge"

	// knowledgeFields is the field projection requested from the Table API.
	knowledgeFields = "sys_id,number,short_description,text,topic,category," +
		"subcategory,workflow_state,roles,can_read_user_criteria," +
		"view_count,helpful_count"

	maxRelatedTopics = 5
)

// Config holds ServiceNow client configuration.
type Config struct {
	InstanceURL      string        `yaml:"instance_url"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	CoolDown         time.Duration `yaml:"cool_down"`
	ClientID         string        `yaml:"client_id"`
	ClientSecret     string        `yaml:"client_secret"`
	DefaultLimit     int           `yaml:"default_limit"`
	MaxLimit         int           `yaml:"max_limit"`
}

// Client executes knowledge queries and identity exchanges against one
// ServiceNow instance. All network calls share one retry policy and breaker.
type Client struct {
	cfg        Config
	httpClient *http.Client
	policy     *retry.Policy
}

// New creates a new ServiceNow client.
func New(cfg Config) (*Client, error) {
	if cfg.InstanceURL == "" {
		return nil, fmt.Errorf("servicenow instance URL is required")
	}
	cfg.InstanceURL = strings.TrimSuffix(cfg.InstanceURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.CoolDown == 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.DefaultLimit == 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit == 0 {
		cfg.MaxLimit = 50
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		policy:     retry.New(cfg.MaxRetries, cfg.BackoffBase, cfg.BreakerThreshold, cfg.CoolDown),
	}, nil
}

// InstanceURL returns the configured instance base URL.
func (c *Client) InstanceURL() string {
	return c.cfg.InstanceURL
}

// Search executes an access-filtered knowledge search on the caller's
// behalf.
func (c *Client) Search(ctx context.Context, token string, roles session.RoleSet, req SearchRequest) (*SearchResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = c.cfg.DefaultLimit
	}
	if limit > c.cfg.MaxLimit {
		limit = c.cfg.MaxLimit
	}

	params := url.Values{}
	params.Set("sysparm_query", BuildQuery(roles, req))
	params.Set("sysparm_limit", strconv.Itoa(limit))
	params.Set("sysparm_fields", knowledgeFields)
	params.Set("sysparm_display_value", "true")

	var envelope struct {
		Result []articleRecord `json:"result"`
	}
	endpoint := c.cfg.InstanceURL + knowledgeTablePath + "?" + params.Encode()
	if err := c.getJSON(ctx, endpoint, token, &envelope); err != nil {
		return nil, err
	}

	articles := make([]Article, 0, len(envelope.Result))
	for _, rec := range envelope.Result {
		a := rec.toArticle(c.cfg.InstanceURL)
		if a.Published() {
			articles = append(articles, a)
		}
	}

	slog.Debug("knowledge search completed",
		"query", req.Query,
		"mode", string(req.ResolveMode()),
		"results", len(articles),
	)

	return &SearchResult{
		Articles:      articles,
		TotalCount:    len(articles),
		Query:         req.Query,
		RelatedTopics: relatedTopics(articles, maxRelatedTopics),
	}, nil
}

// GetArticle fetches one article by sys_id, enforcing the caller's role
// set. Returns ErrNotFound for missing or unpublished articles and
// ErrForbidden when the role sets do not intersect.
func (c *Client) GetArticle(ctx context.Context, token string, roles session.RoleSet, articleID string) (*Article, error) {
	params := url.Values{}
	params.Set("sysparm_fields", knowledgeFields)
	params.Set("sysparm_display_value", "true")

	var envelope struct {
		Result *articleRecord `json:"result"`
	}
	endpoint := c.cfg.InstanceURL + knowledgeTablePath + "/" + url.PathEscape(articleID) + "?" + params.Encode()
	if err := c.getJSON(ctx, endpoint, token, &envelope); err != nil {
		return nil, err
	}
	if envelope.Result == nil {
		return nil, ErrNotFound
	}

	article := envelope.Result.toArticle(c.cfg.InstanceURL)
	if !article.Published() {
		return nil, ErrNotFound
	}
	if required := article.RoleList(); len(required) > 0 && !roles.Intersects(required) {
		return nil, ErrForbidden
	}
	return &article, nil
}

// getJSON issues an authorized GET under the retry policy and decodes the
// response into out.
func (c *Client) getJSON(ctx context.Context, endpoint, token string, out any) error {
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		return c.doJSON(req, out)
	})
	return classifyFinal(err)
}

// doJSON executes one attempt, classifying failures as retryable or
// permanent.
func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and transport failures are retryable.
		return fmt.Errorf("calling %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("upstream returned %d", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return retry.Permanent(ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(ErrNotFound)
	case resp.StatusCode >= http.StatusBadRequest:
		return retry.Permanent(&UpstreamError{
			Code:    CodeQueryRejected,
			Message: fmt.Sprintf("upstream returned %d", resp.StatusCode),
		})
	}

	if err := decodeBody(resp, out); err != nil {
		return retry.Permanent(&UpstreamError{
			Code:    CodeQueryRejected,
			Message: "malformed upstream response",
		})
	}
	return nil
}

// decodeBody reads and unmarshals a JSON response body.
func decodeBody(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	return json.Unmarshal(body, out)
}

// classifyFinal maps a post-retry error to the surfaced taxonomy: permanent
// classifications pass through, everything else collapses to repository
// unavailability.
func classifyFinal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, retry.ErrBreakerOpen) {
		return &UpstreamError{Code: CodeRepositoryUnavailable, Message: "repository breaker open"}
	}
	if retry.IsPermanent(err) {
		var ue *UpstreamError
		if errors.As(err, &ue) {
			return ue
		}
		return errors.Unwrap(err)
	}
	return &UpstreamError{Code: CodeRepositoryUnavailable, Message: "repository unavailable: " + err.Error()}
}
