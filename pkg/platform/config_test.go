package platform

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("SN_CLIENT_SECRET", "from-env")

	path := writeConfig(t, `
server:
  name: knowledge-server
  transport: http
  address: ":9090"
servicenow:
  instance_url: https://dev.service-now.com
  client_id: cid
  client_secret: ${SN_CLIENT_SECRET}
auth:
  jwt_secret: topsecret
  max_sessions: 50
`)

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "knowledge-server", cfg.Server.Name)
	assert.Equal(t, TransportHTTP, cfg.Server.Transport)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "https://dev.service-now.com", cfg.ServiceNow.InstanceURL)
	assert.Equal(t, "from-env", cfg.ServiceNow.ClientSecret, "env vars expand inside values")
	assert.Equal(t, 50, cfg.Auth.MaxSessions)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
servicenow:
  instance_url: https://dev.service-now.com
auth:
  jwt_secret: topsecret
`)

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "mcp-servicenow-knowledge", cfg.Server.Name)
	assert.Equal(t, TransportStdio, cfg.Server.Transport)
	assert.Equal(t, "HS256", cfg.Auth.JWTAlgorithm)
	assert.Equal(t, 30*time.Minute, cfg.Auth.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.Auth.RefreshWindow)
	assert.Equal(t, 1000, cfg.Auth.MaxSessions)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.ServiceNow.InstanceURL = "https://dev.service-now.com"
		cfg.Auth.JWTSecret = "topsecret"
		applyDefaults(cfg)
		return cfg
	}

	require.NoError(t, valid().Validate())

	missingInstance := valid()
	missingInstance.ServiceNow.InstanceURL = ""
	assert.ErrorContains(t, missingInstance.Validate(), "instance_url")

	missingSecret := valid()
	missingSecret.Auth.JWTSecret = ""
	assert.ErrorContains(t, missingSecret.Validate(), "jwt_secret")

	badTransport := valid()
	badTransport.Server.Transport = "sse"
	assert.ErrorContains(t, badTransport.Validate(), "transport")

	badAlgorithm := valid()
	badAlgorithm.Auth.JWTAlgorithm = "RS256"
	assert.ErrorContains(t, badAlgorithm.Validate(), "jwt_algorithm")
}

func TestExpandEnvVars_UnsetBecomesEmpty(t *testing.T) {
	assert.Equal(t, "value=", expandEnvVars("value=${DEFINITELY_NOT_SET_12345}"))
}
