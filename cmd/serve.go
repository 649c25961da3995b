package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/giantswarm/prompt-testing/internal/api"
	mcptools "github.com/giantswarm/prompt-testing/internal/mcp"
)

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"
)

func newServeCmd() *cobra.Command {
	var (
		transport    string
		httpAddr     string
		httpEndpoint string
		debug        bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server and REST API",
		Long: `Start the MCP server to expose prompt testing tools via the Model Context Protocol.

Supports multiple transport types:
  - stdio: Standard input/output (default, for IDE integration)
  - streamable-http: HTTP with streaming support; the REST API under /api/v1
    and Prometheus metrics under /metrics are served on the same address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})))
			}

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http-addr") {
				settings.HTTPAddr = httpAddr
			}

			// Set up graceful shutdown.
			shutdownCtx, cancel := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer cancel()

			defer setupTracing(shutdownCtx, settings)()
			sc, cleanup, err := newServerContext(shutdownCtx, settings)
			if err != nil {
				return err
			}
			defer cleanup()

			// Create MCP server.
			mcpSrv := mcpserver.NewMCPServer("prompt-testing", rootCmd.Version,
				mcpserver.WithToolCapabilities(true),
			)

			if err := mcptools.RegisterTools(mcpSrv, sc); err != nil {
				return fmt.Errorf("failed to register MCP tools: %w", err)
			}

			switch transport {
			case transportStdio:
				return runStdioServer(mcpSrv)
			case transportStreamableHTTP:
				fmt.Printf("Starting prompt-testing with %s transport...\n", transport)
				apiRouter := api.NewRouter(shutdownCtx, sc)
				return runHTTPServer(mcpSrv, apiRouter, settings.HTTPAddr, httpEndpoint, shutdownCtx)
			default:
				return fmt.Errorf("unsupported transport: %s (supported: stdio, streamable-http)", transport)
			}
		},
	}

	cmd.Flags().StringVar(&transport, "transport", transportStdio, "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":3000", "HTTP server address (for streamable-http; overrides config)")
	cmd.Flags().StringVar(&httpEndpoint, "http-endpoint", "/mcp", "MCP endpoint path (for streamable-http)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func runHTTPServer(mcpSrv *mcpserver.MCPServer, apiRouter http.Handler, addr, endpoint string, ctx context.Context) error {
	mcpHandler := mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithEndpointPath(endpoint),
	)

	mux := chi.NewRouter()
	mux.Handle(endpoint, mcpHandler)
	mux.Mount("/", apiRouter)

	fmt.Printf("  MCP endpoint: %s\n", endpoint)
	fmt.Printf("  REST API: /api/v1\n")
	fmt.Printf("  Metrics: /metrics\n")

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// run_test_case blocks until every step is judged.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Println("Shutdown signal received, stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	fmt.Println("HTTP server stopped")
	return nil
}
