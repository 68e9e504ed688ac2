package adapter

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/test-runner/internal/variable"
	"yqhp/test-runner/pkg/jsonx"
	"yqhp/test-runner/pkg/types"
)

func renoServer(t *testing.T, status int, body string) (*httptest.Server, *string) {
	t.Helper()
	var received string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/evaluate", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		received = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &received
}

func renoStep(spec *types.RenoSpec) *types.Step {
	return &types.Step{Name: "eval", Type: types.StepTypeReno, Spec: spec}
}

func threshold(v float64) *float64 { return &v }

func TestRenoAdapter_BelowThreshold(t *testing.T) {
	server, received := renoServer(t, http.StatusOK, `{
		"summary": {"total": 10, "passed": 5, "failed": 5},
		"results": [
			{"test_id": "t1", "passed": false, "suggestions": ["tighten prompt", "add example"]},
			{"id": 2, "passed": false, "suggestions": ["tighten prompt"]},
			{"name": "t3", "passed": true}
		]
	}`)

	a, err := NewRenoAdapter(newTestEnv(t, nil, nil))
	require.NoError(t, err)

	res := a.ExecuteStep(context.Background(), renoStep(&types.RenoSpec{
		Scenario: "onboarding", PassThreshold: threshold(0.6), BaseURL: server.URL,
	}))
	assert.Equal(t, types.StepFailed, res.Status)
	assert.Contains(t, res.Error, "50.0% < 60%")
	assert.Equal(t, "Pass rate 50.0% < 60% threshold (5/10 passed)", res.Error)
	assert.JSONEq(t, `{"scenario":"onboarding"}`, *received)

	eval := res.Response.(*RenoEvaluation)
	assert.Equal(t, 10, eval.Total)
	assert.Equal(t, 5, eval.Passed)
	assert.InDelta(t, 0.5, eval.PassRate, 1e-9)
	assert.Equal(t, []string{"t1", "2"}, eval.FailedTests)
	assert.Equal(t, []string{"tighten prompt", "add example"}, eval.Suggestions)
}

func TestRenoAdapter_AtThresholdPasses(t *testing.T) {
	server, _ := renoServer(t, http.StatusOK, `{"summary": {"total": 10, "passed": 6, "failed": 4}}`)
	a, err := NewRenoAdapter(newTestEnv(t, nil, nil))
	require.NoError(t, err)

	res := a.ExecuteStep(context.Background(), renoStep(&types.RenoSpec{Scenario: "s", BaseURL: server.URL}))
	assert.Equal(t, types.StepPassed, res.Status, res.Error)
}

func TestRenoAdapter_ZeroTotalFails(t *testing.T) {
	server, _ := renoServer(t, http.StatusOK, `{"summary": {"total": 0, "passed": 0, "failed": 0}}`)
	a, err := NewRenoAdapter(newTestEnv(t, nil, nil))
	require.NoError(t, err)

	res := a.ExecuteStep(context.Background(), renoStep(&types.RenoSpec{Scenario: "s", BaseURL: server.URL, PassThreshold: threshold(0.75)}))
	assert.Equal(t, types.StepFailed, res.Status)
	assert.Equal(t, "Pass rate 0.0% < 75% threshold (0/0 passed)", res.Error)
}

func TestRenoAdapter_APIError(t *testing.T) {
	server, _ := renoServer(t, http.StatusServiceUnavailable, `{"error": "model overloaded"}`)
	a, err := NewRenoAdapter(newTestEnv(t, nil, nil))
	require.NoError(t, err)

	res := a.ExecuteStep(context.Background(), renoStep(&types.RenoSpec{Scenario: "s", BaseURL: server.URL}))
	assert.Equal(t, types.StepFailed, res.Status)
	assert.Equal(t, "Reno API error (HTTP 503): model overloaded", res.Error)
}

func TestRenoAdapter_APIErrorPlainText(t *testing.T) {
	server, _ := renoServer(t, http.StatusBadGateway, "upstream down")
	a, err := NewRenoAdapter(newTestEnv(t, nil, nil))
	require.NoError(t, err)

	res := a.ExecuteStep(context.Background(), renoStep(&types.RenoSpec{Scenario: "s", BaseURL: server.URL}))
	assert.Equal(t, "Reno API error (HTTP 502): upstream down", res.Error)
}

func TestRenoAdapter_ServiceNotAvailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	a, err := NewRenoAdapter(newTestEnv(t, nil, nil))
	require.NoError(t, err)

	res := a.ExecuteStep(context.Background(), renoStep(&types.RenoSpec{Scenario: "s", BaseURL: base}))
	assert.Equal(t, "Reno service not available at "+base, res.Error)
}

func TestRenoAdapter_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(400 * time.Millisecond)
	}))
	defer server.Close()

	a, err := NewRenoAdapter(newTestEnv(t, nil, nil))
	require.NoError(t, err)

	res := a.ExecuteStep(context.Background(), renoStep(&types.RenoSpec{
		Scenario: "s", BaseURL: server.URL, Timeout: types.Duration(50 * time.Millisecond),
	}))
	assert.Equal(t, "Reno evaluation timed out after 50ms", res.Error)
}

func TestRenoAdapter_BaseURLPrecedence(t *testing.T) {
	stepServer, _ := renoServer(t, http.StatusOK, `{"summary":{"total":1,"passed":1}}`)
	scenarioServer, _ := renoServer(t, http.StatusOK, `{"summary":{"total":1,"passed":0}}`)
	configServer, _ := renoServer(t, http.StatusOK, `{"summary":{"total":2,"passed":0}}`)

	cfg := DefaultConfig()
	cfg.Reno.BaseURL = configServer.URL
	scenario := &types.Scenario{RenoConfig: &types.RenoConfig{BaseURL: scenarioServer.URL}}

	env, err := NewEnv(scenario, variable.NewStore(), cfg, zap.NewNop())
	require.NoError(t, err)
	a, err := NewRenoAdapter(env)
	require.NoError(t, err)

	res := a.ExecuteStep(context.Background(), renoStep(&types.RenoSpec{Scenario: "s", BaseURL: stepServer.URL}))
	assert.Equal(t, types.StepPassed, res.Status)

	res = a.ExecuteStep(context.Background(), renoStep(&types.RenoSpec{Scenario: "s"}))
	assert.Equal(t, "Pass rate 0.0% < 60% threshold (0/1 passed)", res.Error)

	env.Scenario = nil
	res = a.ExecuteStep(context.Background(), renoStep(&types.RenoSpec{Scenario: "s"}))
	assert.Equal(t, "Pass rate 0.0% < 60% threshold (0/2 passed)", res.Error)

	env.Config.Reno.BaseURL = ""
	res = a.ExecuteStep(context.Background(), renoStep(&types.RenoSpec{Scenario: "s"}))
	assert.Equal(t, "Reno base URL is not configured", res.Error)
}

func TestRenoAdapter_ScenarioRefResolvesVariables(t *testing.T) {
	server, received := renoServer(t, http.StatusOK, `{"summary":{"total":1,"passed":1}}`)
	vars := variable.NewStore()
	vars.Set("suite", "checkout")
	a, err := NewRenoAdapter(newTestEnv(t, nil, vars))
	require.NoError(t, err)

	res := a.ExecuteStep(context.Background(), renoStep(&types.RenoSpec{Scenario: "{{suite}}-v2", BaseURL: server.URL + "/"}))
	require.Equal(t, types.StepPassed, res.Status, res.Error)

	payload, ok := jsonx.Decode([]byte(*received))
	require.True(t, ok)
	assert.Equal(t, "checkout-v2", payload.(map[string]any)["scenario"])
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "60", formatPercent(0.6))
	assert.Equal(t, "65.5", formatPercent(0.655))
	assert.Equal(t, "100", formatPercent(1))
	assert.Equal(t, "0", formatPercent(0))
}
