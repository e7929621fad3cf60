package servicenow

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/txn2/mcp-servicenow-knowledge/pkg/retry"
)

const (
	oauthTokenPath = "/oauth_token.do"
	profilePath    = "/api/now/v1/user/profile"
	userRolePath   = "/api/now/table/sys_user_has_role"

	// defaultRole is granted when the role lookup fails so a freshly
	// authenticated caller can still read public knowledge.
	defaultRole = "knowledge"
)

// Grant is the result of a successful password grant.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Identity describes the authenticated user as reported by the instance.
type Identity struct {
	UserID   string
	Username string
	Roles    []string
}

// PasswordGrant exchanges user credentials for tokens at the instance's
// OAuth endpoint. Credentials are sent once and never logged or retained.
func (c *Client) PasswordGrant(ctx context.Context, username, password string) (*Grant, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("username", username)
	form.Set("password", password)

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}

	err := c.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.InstanceURL+oauthTokenPath, strings.NewReader(form.Encode()))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return c.doGrant(req, &payload)
	})
	if err != nil {
		return nil, classifyGrant(err)
	}

	return &Grant{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresIn:    time.Duration(payload.ExpiresIn) * time.Second,
	}, nil
}

// RefreshGrant exchanges a refresh token for a fresh token pair.
func (c *Client) RefreshGrant(ctx context.Context, refreshToken string) (*Grant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("refresh_token", refreshToken)

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}

	err := c.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.InstanceURL+oauthTokenPath, strings.NewReader(form.Encode()))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return c.doGrant(req, &payload)
	})
	if err != nil {
		return nil, classifyGrant(err)
	}

	return &Grant{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresIn:    time.Duration(payload.ExpiresIn) * time.Second,
	}, nil
}

// doGrant executes one grant attempt. Any 4xx means the endpoint answered
// and refused the credentials, which is never retried.
func (c *Client) doGrant(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return &UpstreamError{
			Code:    CodeRepositoryUnavailable,
			Message: "identity endpoint returned " + resp.Status,
		}
	case resp.StatusCode >= http.StatusBadRequest:
		return retry.Permanent(ErrGrantRejected)
	}

	if err := decodeBody(resp, out); err != nil {
		return retry.Permanent(ErrGrantRejected)
	}
	return nil
}

// classifyGrant maps a post-retry grant failure onto the error taxonomy.
func classifyGrant(err error) error {
	final := classifyFinal(err)
	if errors.Is(final, ErrUnauthorized) {
		return ErrGrantRejected
	}
	return final
}

// FetchIdentity resolves the authenticated user's id, username, and role
// names using the freshly issued access token.
func (c *Client) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	var profile struct {
		Result struct {
			SysID    string `json:"sys_id"`
			UserName string `json:"user_name"`
		} `json:"result"`
	}
	if err := c.getJSON(ctx, c.cfg.InstanceURL+profilePath, accessToken, &profile); err != nil {
		return nil, err
	}

	identity := &Identity{
		UserID:   profile.Result.SysID,
		Username: profile.Result.UserName,
	}

	roles, err := c.fetchRoles(ctx, accessToken, identity.UserID)
	if err != nil {
		// Role lookup is best effort; fall back to the baseline role rather
		// than failing the whole exchange.
		slog.Warn("role lookup failed, assigning default role",
			"user", identity.Username, "error", err)
		roles = []string{defaultRole}
	}
	identity.Roles = roles
	return identity, nil
}

// fetchRoles lists the user's role names from the role assignment table.
func (c *Client) fetchRoles(ctx context.Context, accessToken, userID string) ([]string, error) {
	params := url.Values{}
	params.Set("sysparm_query", "user="+userID)
	params.Set("sysparm_fields", "role.name")

	var envelope struct {
		Result []map[string]string `json:"result"`
	}
	endpoint := c.cfg.InstanceURL + userRolePath + "?" + params.Encode()
	if err := c.getJSON(ctx, endpoint, accessToken, &envelope); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var roles []string
	for _, rec := range envelope.Result {
		name := strings.TrimSpace(rec["role.name"])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		roles = append(roles, name)
	}
	if len(roles) == 0 {
		roles = []string{defaultRole}
	}
	return roles, nil
}
