// Package platform loads and validates server configuration and owns
// top-level component wiring.
package platform

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/txn2/mcp-servicenow-knowledge/pkg/audit"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/servicenow"
)

// Transport names accepted by ServerConfig.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config holds the complete server configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	ServiceNow servicenow.Config `yaml:"servicenow"`
	Auth       AuthSettings      `yaml:"auth"`
	Database   DatabaseConfig    `yaml:"database"`
	Audit      audit.Config      `yaml:"audit"`
}

// ServerConfig configures the MCP server surface.
type ServerConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Transport string `yaml:"transport"` // "stdio", "http"
	Address   string `yaml:"address"`
}

// AuthSettings configures the authentication manager and session store.
type AuthSettings struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTAlgorithm  string        `yaml:"jwt_algorithm"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	RefreshWindow time.Duration `yaml:"refresh_window"`
	MaxSessions   int           `yaml:"max_sessions"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DatabaseConfig configures the optional PostgreSQL backing store. With no
// DSN the session store is in-memory and audit events go to the log.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "mcp-servicenow-knowledge"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "1.0.0"
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = TransportStdio
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Auth.JWTAlgorithm == "" {
		cfg.Auth.JWTAlgorithm = "HS256"
	}
	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = 30 * time.Minute
	}
	if cfg.Auth.RefreshWindow == 0 {
		cfg.Auth.RefreshWindow = 5 * time.Minute
	}
	if cfg.Auth.MaxSessions == 0 {
		cfg.Auth.MaxSessions = 1000
	}
	if cfg.Auth.SweepInterval == 0 {
		cfg.Auth.SweepInterval = 5 * time.Minute
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.ServiceNow.InstanceURL == "" {
		errs = append(errs, "servicenow.instance_url is required")
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required")
	}
	switch c.Auth.JWTAlgorithm {
	case "", "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Sprintf("auth.jwt_algorithm %q is not supported", c.Auth.JWTAlgorithm))
	}
	switch c.Server.Transport {
	case TransportStdio, TransportHTTP:
	default:
		errs = append(errs, fmt.Sprintf("server.transport %q is not supported", c.Server.Transport))
	}
	if c.Server.Transport == TransportHTTP && c.Server.Address == "" {
		errs = append(errs, "server.address is required for the http transport")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
