// Package api exposes test execution over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/giantswarm/prompt-testing/internal/server"
)

// NewRouter creates the HTTP router with all API routes. Executions started
// through the API run under baseCtx, so cancelling it stops them at the next
// step boundary.
func NewRouter(baseCtx context.Context, sc *server.ServerContext) http.Handler {
	h := &handlers{sc: sc, baseCtx: baseCtx}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(logRequests)
	r.Use(traceRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	if sc.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(sc.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/prompts", h.listPrompts)
		r.Get("/models", h.listModels)

		r.Route("/testing", func(r chi.Router) {
			r.Post("/{prompt}/{testCase}/execute", h.execute)
			r.Get("/executions/{id}", h.getExecution)
			r.Get("/history/{testCase}", h.history)
		})
	})

	return r
}
