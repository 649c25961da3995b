package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/prompt-testing/internal/engine"
	"github.com/giantswarm/prompt-testing/internal/judge"
	"github.com/giantswarm/prompt-testing/internal/llm"
	"github.com/giantswarm/prompt-testing/internal/observability"
	"github.com/giantswarm/prompt-testing/internal/server"
	"github.com/giantswarm/prompt-testing/internal/store"
	"github.com/giantswarm/prompt-testing/internal/testsuite"
	"github.com/giantswarm/prompt-testing/internal/testutil"
)

type stubModels struct {
	models []string
	err    error
}

func (s stubModels) ListModels(context.Context) ([]string, error) {
	return s.models, s.err
}

type fixture struct {
	sc     *server.ServerContext
	client *testutil.MockLLMClient
	srv    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := &testutil.MockLLMClient{
		Handler: func(_ []llm.Message, model string) (string, error) {
			if model == "judge/model" {
				return `{"passed": true, "score": 8, "feedback": "fine"}`, nil
			}
			return `{"user_response": "done"}`, nil
		},
	}
	st := store.NewMemory()
	metrics := observability.NewMetrics()
	eng := engine.New(client, judge.New(client, "judge/model"), st,
		engine.WithDefaultModels("sim/model", "judge/model"),
		engine.WithMetrics(metrics),
	)
	sc := &server.ServerContext{
		Engine:  eng,
		Store:   st,
		Models:  stubModels{models: []string{"a/model", "b/model"}},
		Metrics: metrics,
	}
	srv := httptest.NewServer(NewRouter(context.Background(), sc))
	t.Cleanup(srv.Close)
	t.Cleanup(eng.WaitAll)
	return &fixture{sc: sc, client: client, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestExecuteAndPoll(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/testing/agent_basic_tool/basic_flow/execute", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var started executeResponse
	require.NoError(t, json.Unmarshal(body, &started))
	assert.NotEmpty(t, started.ExecutionID)
	assert.Equal(t, "RUNNING", started.Status)
	assert.Equal(t, "/api/v1/testing/executions/"+started.ExecutionID, started.Poll)

	f.sc.Engine.Wait(started.ExecutionID)

	resp, body = f.do(t, http.MethodGet, started.Poll, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var exec testsuite.Execution
	require.NoError(t, json.Unmarshal(body, &exec))
	assert.Equal(t, testsuite.StatusCompleted, exec.Status)
	assert.Equal(t, "basic_flow", exec.TestCaseID)
	assert.Equal(t, "sim/model", exec.Model)
	require.Len(t, exec.Results, 2)
	assert.True(t, exec.Results[0].Evaluation.Passed)
	assert.Contains(t, exec.Results[0].RenderedPrompt, "Customer name: Alex")
}

func TestExecuteModelOverride(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/testing/agent_basic_tool/structured_input/execute",
		`{"model": "other/model", "judgeModel": "judge/model"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var started executeResponse
	require.NoError(t, json.Unmarshal(body, &started))
	f.sc.Engine.Wait(started.ExecutionID)

	exec, err := f.sc.Store.GetExecution(context.Background(), started.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "other/model", exec.Model)

	models := map[string]bool{}
	for _, c := range f.client.Calls() {
		models[c.Model] = true
	}
	assert.True(t, models["other/model"])
}

func TestExecuteErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{name: "unknown prompt", path: "/api/v1/testing/missing/basic_flow/execute", want: http.StatusNotFound},
		{name: "unknown test case", path: "/api/v1/testing/agent_basic_tool/missing/execute", want: http.StatusNotFound},
		{name: "bad body", path: "/api/v1/testing/agent_basic_tool/basic_flow/execute", body: "{", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode, string(body))
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/v1/testing/executions/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "execution not found: nope")
}

func TestHistory(t *testing.T) {
	f := newFixture(t)

	var ids []string
	for range 2 {
		resp, body := f.do(t, http.MethodPost, "/api/v1/testing/agent_basic_tool/basic_flow/execute", "")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		var started executeResponse
		require.NoError(t, json.Unmarshal(body, &started))
		ids = append(ids, started.ExecutionID)
	}
	f.sc.Engine.WaitAll()

	resp, body := f.do(t, http.MethodGet, "/api/v1/testing/history/basic_flow", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var executions []testsuite.Execution
	require.NoError(t, json.Unmarshal(body, &executions))
	require.Len(t, executions, 2)
	assert.ElementsMatch(t, ids, []string{executions[0].ID, executions[1].ID})

	resp, body = f.do(t, http.MethodGet, "/api/v1/testing/history/unknown", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))
}

func TestListPrompts(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/v1/prompts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var prompts []server.PromptInfo
	require.NoError(t, json.Unmarshal(body, &prompts))
	var names []string
	for _, p := range prompts {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "agent_basic_tool")
}

func TestListModels(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/v1/models", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"models": ["a/model", "b/model"]}`, string(body))

	f.sc.Models = stubModels{err: errors.New("upstream down")}
	resp, _ = f.do(t, http.MethodGet, "/api/v1/models", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/testing/agent_basic_tool/basic_flow/execute", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started executeResponse
	require.NoError(t, json.Unmarshal(body, &started))
	f.sc.Engine.Wait(started.ExecutionID)

	resp, body = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `prompt_testing_executions_total{status="COMPLETED"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/v1/prompts", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
