package servicenow

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_PasswordGrant(t *testing.T) {
	var gotForm map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, oauthTokenPath, r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"grant_type":    r.PostFormValue("grant_type"),
			"client_id":     r.PostFormValue("client_id"),
			"client_secret": r.PostFormValue("client_secret"),
			"username":      r.PostFormValue("username"),
			"password":      r.PostFormValue("password"),
		}
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":1800}`))
	}))

	grant, err := client.PasswordGrant(context.Background(), "alice", "s3cret")

	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"grant_type":    "password",
		"client_id":     "client-id",
		"client_secret": "client-secret",
		"username":      "alice",
		"password":      "s3cret",
	}, gotForm)
	assert.Equal(t, "at-1", grant.AccessToken)
	assert.Equal(t, "rt-1", grant.RefreshToken)
	assert.Equal(t, 30*time.Minute, grant.ExpiresIn)
}

func TestClient_PasswordGrantRejectedNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.PasswordGrant(context.Background(), "alice", "wrong")

	assert.ErrorIs(t, err, ErrGrantRejected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_PasswordGrantEndpointDown(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.PasswordGrant(context.Background(), "alice", "s3cret")

	require.Error(t, err)
	assert.Equal(t, CodeRepositoryUnavailable, UpstreamCodeOf(err))
}

func TestClient_RefreshGrant(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostFormValue("grant_type"))
		assert.Equal(t, "rt-1", r.PostFormValue("refresh_token"))
		_, _ = w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-2","expires_in":1800}`))
	}))

	grant, err := client.RefreshGrant(context.Background(), "rt-1")

	require.NoError(t, err)
	assert.Equal(t, "at-2", grant.AccessToken)
	assert.Equal(t, "rt-2", grant.RefreshToken)
}

func TestClient_FetchIdentity(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case profilePath:
			assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"result":{"sys_id":"u-1","user_name":"alice"}}`))
		case userRolePath:
			assert.Equal(t, "user=u-1", r.URL.Query().Get("sysparm_query"))
			_, _ = w.Write([]byte(`{"result":[
				{"role.name":"itil"},
				{"role.name":"itil"},
				{"role.name":"knowledge"},
				{"role.name":""}
			]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	identity, err := client.FetchIdentity(context.Background(), "at-1")

	require.NoError(t, err)
	assert.Equal(t, "u-1", identity.UserID)
	assert.Equal(t, "alice", identity.Username)
	assert.Equal(t, []string{"itil", "knowledge"}, identity.Roles)
}

func TestClient_FetchIdentityRoleLookupFallsBack(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case profilePath:
			_, _ = w.Write([]byte(`{"result":{"sys_id":"u-1","user_name":"alice"}}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))

	identity, err := client.FetchIdentity(context.Background(), "at-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"knowledge"}, identity.Roles, "baseline role assigned when the lookup fails")
}

func TestClient_FetchIdentityNoRoleAssignments(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case profilePath:
			_, _ = w.Write([]byte(`{"result":{"sys_id":"u-1","user_name":"alice"}}`))
		case userRolePath:
			_, _ = w.Write([]byte(`{"result":[]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	identity, err := client.FetchIdentity(context.Background(), "at-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"knowledge"}, identity.Roles)
}

func TestClient_FetchIdentityProfileFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.FetchIdentity(context.Background(), "bad-token")

	assert.ErrorIs(t, err, ErrUnauthorized)
}
