// Package server assembles the knowledge platform: configuration, session
// store, authentication manager, repository client, synthesis engine, and
// the MCP tool surface.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	// Registers the postgres driver for database/sql.
	_ "github.com/lib/pq"

	"github.com/txn2/mcp-servicenow-knowledge/pkg/audit"
	auditpg "github.com/txn2/mcp-servicenow-knowledge/pkg/audit/postgres"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/auth"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/health"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/platform"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/servicenow"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/session"
	sessionpg "github.com/txn2/mcp-servicenow-knowledge/pkg/session/postgres"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/synthesis"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/tools"
)

// Version is the server version reported to MCP clients.
const Version = "1.0.0"

// auditCleanupInterval is how often the audit retention policy runs.
const auditCleanupInterval = 24 * time.Hour

// Platform owns every wired component and their shutdown order.
type Platform struct {
	cfg     *platform.Config
	db      *sql.DB
	store   session.Store
	auditor audit.Logger
	manager *auth.Manager
	client  *servicenow.Client
	toolkit *tools.Toolkit
	server  *mcp.Server
	checker *health.Checker
}

// NewFromConfigFile loads, validates, and wires a Platform from a config
// file path.
func NewFromConfigFile(path string) (*Platform, error) {
	cfg, err := platform.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// New wires a Platform from a validated configuration.
func New(cfg *platform.Config) (*Platform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Platform{cfg: cfg, checker: health.NewChecker()}

	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		p.db = db

		pgStore := sessionpg.New(db)
		if cfg.Auth.SweepInterval > 0 {
			pgStore.StartSweep(cfg.Auth.SweepInterval)
		}
		p.store = pgStore
	} else {
		memStore := session.NewMemoryStore(cfg.Auth.MaxSessions)
		if cfg.Auth.SweepInterval > 0 {
			memStore.StartSweep(cfg.Auth.SweepInterval)
		}
		p.store = memStore
	}

	p.auditor = buildAuditor(cfg, p.db)

	client, err := servicenow.New(cfg.ServiceNow)
	if err != nil {
		p.closePartial()
		return nil, err
	}
	p.client = client

	manager, err := auth.NewManager(auth.Config{
		Secret:        cfg.Auth.JWTSecret,
		Algorithm:     cfg.Auth.JWTAlgorithm,
		SessionTTL:    cfg.Auth.SessionTTL,
		RefreshWindow: cfg.Auth.RefreshWindow,
	}, p.store, client)
	if err != nil {
		p.closePartial()
		return nil, err
	}
	p.manager = manager

	toolkit, err := tools.New("servicenow", manager, client, synthesis.NewEngine(), p.auditor)
	if err != nil {
		p.closePartial()
		return nil, err
	}
	p.toolkit = toolkit

	p.server = mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, nil)
	toolkit.RegisterTools(p.server)

	p.checker.WithSessionCounter(func() int {
		sessions, err := p.store.List(context.Background())
		if err != nil {
			return 0
		}
		return len(sessions)
	})
	p.checker.SetReady()

	slog.Info("platform assembled",
		"server", cfg.Server.Name,
		"instance", cfg.ServiceNow.InstanceURL,
		"store", storeKind(cfg),
		"tools", len(toolkit.Tools()),
	)
	return p, nil
}

// buildAuditor picks the audit sink: postgres when a database is present,
// slog otherwise, nop when disabled.
func buildAuditor(cfg *platform.Config, db *sql.DB) audit.Logger {
	if !cfg.Audit.Enabled {
		return audit.NopLogger{}
	}
	if db != nil {
		store := auditpg.New(db, cfg.Audit)
		store.StartCleanupRoutine(auditCleanupInterval)
		return store
	}
	return audit.NewSlogLogger(slog.Default())
}

func storeKind(cfg *platform.Config) string {
	if cfg.Database.DSN != "" {
		return "postgres"
	}
	return "memory"
}

// Config returns the platform configuration.
func (p *Platform) Config() *platform.Config {
	return p.cfg
}

// MCPServer returns the assembled MCP server.
func (p *Platform) MCPServer() *mcp.Server {
	return p.server
}

// Health returns the readiness checker.
func (p *Platform) Health() *health.Checker {
	return p.checker
}

// Close shuts the platform down in reverse construction order.
func (p *Platform) Close() error {
	p.checker.SetDraining()

	var firstErr error
	if p.toolkit != nil {
		if err := p.toolkit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// closePartial releases resources acquired before a construction failure.
func (p *Platform) closePartial() {
	if p.auditor != nil {
		_ = p.auditor.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
	if p.db != nil {
		_ = p.db.Close()
	}
}
