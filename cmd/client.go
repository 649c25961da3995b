package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/giantswarm/prompt-testing/internal/config"
	"github.com/giantswarm/prompt-testing/internal/engine"
	"github.com/giantswarm/prompt-testing/internal/judge"
	"github.com/giantswarm/prompt-testing/internal/llm"
	"github.com/giantswarm/prompt-testing/internal/observability"
	"github.com/giantswarm/prompt-testing/internal/server"
	"github.com/giantswarm/prompt-testing/internal/store"
)

// loadSettings resolves the configuration and applies the persistent flag
// overrides.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	configPath, _ := cmd.Flags().GetString("config")
	s, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("suites-dir") {
		s.SuitesDir, _ = cmd.Flags().GetString("suites-dir")
	}
	if cmd.Flags().Changed("db") {
		s.DBPath, _ = cmd.Flags().GetString("db")
	}
	return s, nil
}

// newLLMClient creates the chat client from settings. An API key is required.
func newLLMClient(s *config.Settings, metrics *observability.Metrics) (*llm.OpenAIClient, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	opts := s.ClientOptions()
	if metrics != nil {
		opts = append(opts, llm.WithAttemptObserver(metrics.RecordChatAttempt))
	}
	return llm.NewOpenAIClient(opts...), nil
}

// openStore opens the SQLite store when a database path is configured and
// an in-memory store otherwise.
func openStore(ctx context.Context, s *config.Settings) (store.Store, error) {
	if s.DBPath == "" {
		slog.Debug("results are kept in memory")
		return store.NewMemory(), nil
	}
	st, err := store.OpenSQLite(ctx, s.DBPath)
	if err != nil {
		return nil, err
	}
	slog.Debug("results are stored in SQLite", "path", s.DBPath)
	return st, nil
}

// newServerContext wires the client, judge, store and engine. The returned
// cleanup closes the store.
func newServerContext(ctx context.Context, s *config.Settings) (*server.ServerContext, func(), error) {
	metrics := observability.NewMetrics()

	client, err := newLLMClient(s, metrics)
	if err != nil {
		return nil, nil, err
	}

	st, err := openStore(ctx, s)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open result store: %w", err)
	}

	eng := engine.New(client, judge.New(client, s.JudgeModel), st,
		engine.WithDefaultModels(s.Model, s.JudgeModel),
		engine.WithMaxTurns(s.MaxTurns),
		engine.WithMetrics(metrics),
	)

	sc := &server.ServerContext{
		Engine:    eng,
		Store:     st,
		Models:    client,
		Metrics:   metrics,
		SuitesDir: s.SuitesDir,
	}
	cleanup := func() {
		eng.WaitAll()
		if err := st.Close(); err != nil {
			slog.Warn("failed to close result store", "error", err)
		}
	}
	return sc, cleanup, nil
}

// setupTracing installs the OTLP exporter when configured and returns the
// flush function.
func setupTracing(ctx context.Context, s *config.Settings) func() {
	shutdown, err := observability.InitTracing(ctx, s.OTLPEndpoint, "prompt-testing", rootCmd.Version)
	if err != nil {
		slog.Warn("tracing not available", "error", err)
		return func() {}
	}
	return func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}
}
