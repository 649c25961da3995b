package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/prompt-testing/internal/server"
)

type handlers struct {
	sc      *server.ServerContext
	baseCtx context.Context
}

type executeRequest struct {
	Model      string `json:"model"`
	JudgeModel string `json:"judgeModel"`
}

type executeResponse struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
	Poll        string `json:"poll"`
}

func (h *handlers) execute(w http.ResponseWriter, r *http.Request) {
	promptName := chi.URLParam(r, "prompt")
	testCaseID := chi.URLParam(r, "testCase")

	var body executeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req, err := h.sc.NewRequest(promptName, testCaseID, body.Model, body.JudgeModel)
	if err != nil {
		respondFailure(w, err)
		return
	}

	// The run outlives the request but stays in the caller's trace.
	ctx := trace.ContextWithSpanContext(h.baseCtx, trace.SpanContextFromContext(r.Context()))
	id, err := h.sc.Engine.Start(ctx, req)
	if err != nil {
		respondFailure(w, err)
		return
	}

	slog.Info("execution started",
		"execution_id", id,
		"prompt", promptName,
		"test_case", testCaseID,
	)

	respondJSON(w, http.StatusAccepted, executeResponse{
		ExecutionID: id,
		Status:      "RUNNING",
		Poll:        "/api/v1/testing/executions/" + id,
	})
}

func (h *handlers) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.sc.Store.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	executions, err := h.sc.Store.ListExecutions(r.Context(), chi.URLParam(r, "testCase"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, executions)
}

func (h *handlers) listPrompts(w http.ResponseWriter, _ *http.Request) {
	prompts, errs, err := h.sc.ListPrompts()
	if err != nil {
		respondFailure(w, err)
		return
	}
	for _, e := range errs {
		slog.Warn("skipping prompt that failed to load", "error", e)
	}
	respondJSON(w, http.StatusOK, prompts)
}

func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	if h.sc.Models == nil {
		respondError(w, http.StatusNotImplemented, "model listing is not configured")
		return
	}
	models, err := h.sc.Models.ListModels(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"models": models})
}

func respondFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, server.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	case server.IsNotFound(err):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
