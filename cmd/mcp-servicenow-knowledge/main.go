// Package main provides the entry point for the mcp-servicenow-knowledge
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-servicenow-knowledge/internal/server"
	"github.com/txn2/mcp-servicenow-knowledge/pkg/platform"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	transport   string
	address     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.transport, "transport", "", "Transport type: stdio, http (overrides config)")
	flag.StringVar(&opts.address, "address", "", "Listen address for the http transport (overrides config)")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("mcp-servicenow-knowledge version %s\n", server.Version)
		return nil
	}
	if opts.configPath == "" {
		return errors.New("a config file is required (-config)")
	}

	// stdout carries the protocol on the stdio transport; logs go to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	p, err := server.NewFromConfigFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer func() { _ = p.Close() }()

	applyOverrides(p.Config(), opts)
	ctx := setupSignalContext()

	switch p.Config().Server.Transport {
	case platform.TransportStdio:
		return p.MCPServer().Run(ctx, &mcp.StdioTransport{})
	case platform.TransportHTTP:
		return serveHTTP(ctx, p)
	default:
		return fmt.Errorf("unknown transport: %s", p.Config().Server.Transport)
	}
}

func applyOverrides(cfg *platform.Config, opts serverOptions) {
	if opts.transport != "" {
		cfg.Server.Transport = opts.transport
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}
}

// serveHTTP serves the MCP streamable handler plus health endpoints until
// the context is cancelled.
func serveHTTP(ctx context.Context, p *server.Platform) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return p.MCPServer() }, nil))
	mux.HandleFunc("/healthz", p.Health().LivenessHandler())
	mux.HandleFunc("/readyz", p.Health().ReadinessHandler())

	httpServer := &http.Server{
		Addr:              p.Config().Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http transport listening", "address", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		p.Health().SetDraining()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}
