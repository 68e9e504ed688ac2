package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/test-runner/internal/adapter"
	"yqhp/test-runner/internal/config"
	"yqhp/test-runner/internal/runner"
	"yqhp/test-runner/internal/scenario"
	"yqhp/test-runner/internal/scheduler"
	"yqhp/test-runner/internal/store"
	"yqhp/test-runner/pkg/types"
)

type mapLoader map[string]*types.Scenario

func (m mapLoader) Load(_ context.Context, project, slug string) (*types.Scenario, error) {
	sc, ok := m[project+"/"+slug]
	if !ok {
		return nil, &scenario.NotFoundError{Project: project, Slug: slug}
	}
	return sc, nil
}

// stubAdapter 名字以 fail 开头的步骤总是失败；gate 不为空时先等待放行
type stubAdapter struct {
	gate chan struct{}
}

func (a *stubAdapter) Type() string { return types.StepTypeHTTP }

func (a *stubAdapter) ExecuteStep(ctx context.Context, step *types.Step) *types.StepResult {
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
		}
	}
	result := types.NewStepResult(step.Name, step.Type)
	defer result.Finish()
	if strings.HasPrefix(step.Name, "fail") {
		return result.Fail("expected status 200, got 500")
	}
	return result
}

type recordingNotifier struct {
	runs     chan *types.RunSummary
	failures chan error
}

func (n *recordingNotifier) NotifyRun(_ context.Context, s *types.RunSummary) error {
	n.runs <- s
	return nil
}

func (n *recordingNotifier) NotifyFailure(_ context.Context, _, _ string, err error) error {
	n.failures <- err
	return nil
}

type staticJobs []scheduler.JobInfo

func (j staticJobs) Jobs() []scheduler.JobInfo { return j }

type testEnv struct {
	server   *Server
	store    *store.MemoryStore
	notifier *recordingNotifier
	stub     *stubAdapter
}

func scenarioOf(slug string, steps ...string) *types.Scenario {
	sc := &types.Scenario{Name: "Scenario " + slug, Slug: slug, Project: "acme", Environment: types.EnvStaging}
	for _, name := range steps {
		sc.Steps = append(sc.Steps, types.Step{
			Name: name,
			Type: types.StepTypeHTTP,
			Spec: &types.HTTPSpec{URL: "http://svc/" + name},
		})
	}
	return sc
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    store.NewMemoryStore(),
		notifier: &recordingNotifier{runs: make(chan *types.RunSummary, 4), failures: make(chan error, 4)},
		stub:     &stubAdapter{},
	}
	registry := adapter.NewRegistry()
	registry.MustRegister(types.StepTypeHTTP, func(*adapter.Env) (adapter.Adapter, error) {
		return env.stub, nil
	})
	loader := mapLoader{
		"acme/login":    scenarioOf("login", "open", "submit"),
		"acme/checkout": scenarioOf("checkout", "cart", "fail-pay"),
	}
	r := runner.New(loader, env.store,
		runner.WithRegistry(registry),
		runner.WithLogger(zap.NewNop()),
		runner.WithRetryDelay(0),
	)

	cfg := config.DefaultConfig().Server
	opts = append([]Option{WithLogger(zap.NewNop()), WithNotifier(env.notifier)}, opts...)
	env.server = NewServer(&cfg, r, loader, env.store, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.server.Shutdown(ctx)
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, Response) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.server.App().Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out Response
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

// decode 把 Response.Data 转成具体类型
func decode[T any](t *testing.T, data any) T {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func (e *testEnv) submit(t *testing.T, body string) RunAccepted {
	t.Helper()
	status, resp := e.do(t, http.MethodPost, "/api/test/run", body)
	require.Equal(t, fiber.StatusAccepted, status, resp.Message)
	require.True(t, resp.Success)
	return decode[RunAccepted](t, resp.Data)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := env.server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestRunTest_AcceptedThenPersisted(t *testing.T) {
	env := newTestEnv(t)

	accepted := env.submit(t, `{"project":"acme","scenario":"login"}`)
	assert.Equal(t, types.RunRunning, accepted.Status)
	require.NotEmpty(t, accepted.ExecutionID)

	env.server.Wait()

	status, resp := env.do(t, http.MethodGet, "/api/test/results/"+accepted.ExecutionID, "")
	require.Equal(t, fiber.StatusOK, status)
	detail := decode[ResultDetail](t, resp.Data)
	require.NotNil(t, detail.Run)
	assert.Equal(t, types.RunPassed, detail.Run.Status)
	assert.Equal(t, types.TriggerAPI, detail.Run.TriggeredBy)
	assert.Equal(t, 2, detail.Run.PassedSteps)
	require.Len(t, detail.Steps, 2)
	assert.Equal(t, "open", detail.Steps[0].Name)

	select {
	case summary := <-env.notifier.runs:
		assert.Equal(t, accepted.ExecutionID, summary.RunID)
		assert.Equal(t, types.RunPassed, summary.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("notification not sent")
	}
}

func TestRunTest_FailedRunNotifiesFailures(t *testing.T) {
	env := newTestEnv(t)

	accepted := env.submit(t, `{"project":"acme","scenario":"checkout","max_retry":1}`)
	env.server.Wait()

	select {
	case summary := <-env.notifier.runs:
		assert.Equal(t, accepted.ExecutionID, summary.RunID)
		assert.Equal(t, types.RunFailed, summary.Status)
		assert.Equal(t, 1, summary.RetryCount)
		require.Len(t, summary.Failures, 1)
		assert.Equal(t, "fail-pay", summary.Failures[0].Name)
	case <-time.After(5 * time.Second):
		t.Fatal("notification not sent")
	}
}

func TestRunTest_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	status, resp := env.do(t, http.MethodPost, "/api/test/run", `{"project":`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.False(t, resp.Success)

	status, resp = env.do(t, http.MethodPost, "/api/test/run", `{"project":"acme"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, resp.Message, "scenario")

	status, _ = env.do(t, http.MethodPost, "/api/test/run", `{"project":"acme","scenario":"login","retry_variables":"sometimes"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestRunTest_UnknownScenarioCreatesNoRun(t *testing.T) {
	env := newTestEnv(t)

	status, resp := env.do(t, http.MethodPost, "/api/test/run", `{"project":"acme","scenario":"ghost"}`)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "scenario not found")

	runs, total, err := env.store.ListRuns(context.Background(), types.RunFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, runs)
}

func TestGetExecution_WhileRunning(t *testing.T) {
	env := newTestEnv(t)
	env.stub.gate = make(chan struct{})

	accepted := env.submit(t, `{"project":"acme","scenario":"login"}`)

	var state runner.State
	require.Eventually(t, func() bool {
		status, resp := env.do(t, http.MethodGet, "/api/test/executions/"+accepted.ExecutionID, "")
		if status != fiber.StatusOK {
			return false
		}
		state = decode[runner.State](t, resp.Data)
		return state.Phase == runner.PhaseRunning
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, accepted.ExecutionID, state.RunID)

	close(env.stub.gate)
	env.server.Wait()

	status, _ := env.do(t, http.MethodGet, "/api/test/executions/"+accepted.ExecutionID, "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestListResults(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, `{"project":"acme","scenario":"login"}`)
	env.server.Wait()
	env.submit(t, `{"project":"acme","scenario":"checkout","auto_fix":false}`)
	env.server.Wait()

	status, resp := env.do(t, http.MethodGet, "/api/test/results?project=acme&page_size=1", "")
	require.Equal(t, fiber.StatusOK, status)
	page := decode[PageData](t, resp.Data)
	assert.EqualValues(t, 2, page.Total)
	assert.Equal(t, 1, page.PageSize)

	status, resp = env.do(t, http.MethodGet, "/api/test/results?status=FAILED", "")
	require.Equal(t, fiber.StatusOK, status)
	page = decode[PageData](t, resp.Data)
	assert.EqualValues(t, 1, page.Total)
	runs := decode[[]types.Run](t, page.List)
	require.Len(t, runs, 1)
	assert.Equal(t, "checkout", runs[0].Scenario)

	status, _ = env.do(t, http.MethodGet, "/api/test/results?status=MAYBE", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestGetResult_NotFound(t *testing.T) {
	env := newTestEnv(t)
	status, resp := env.do(t, http.MethodGet, "/api/test/results/nope", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.False(t, resp.Success)
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, `{"project":"acme","scenario":"login"}`)
	env.server.Wait()
	env.submit(t, `{"project":"acme","scenario":"checkout","auto_fix":false}`)
	env.server.Wait()

	status, resp := env.do(t, http.MethodGet, "/api/test/stats/acme", "")
	require.Equal(t, fiber.StatusOK, status)
	stats := decode[types.ProjectStats](t, resp.Data)
	assert.EqualValues(t, 2, stats.TotalRuns)
	assert.EqualValues(t, 1, stats.PassedRuns)
	assert.EqualValues(t, 1, stats.FailedRuns)
	assert.InDelta(t, 0.5, stats.PassRate, 0.0001)
}

func TestListSchedules(t *testing.T) {
	env := newTestEnv(t)
	status, resp := env.do(t, http.MethodGet, "/api/test/schedules", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, resp.Data)

	jobs := staticJobs{{Project: "acme", Scenario: "login", Schedule: "*/5 * * * *"}}
	env = newTestEnv(t, WithJobs(jobs))
	status, resp = env.do(t, http.MethodGet, "/api/test/schedules", "")
	require.Equal(t, fiber.StatusOK, status)
	listed := decode[[]scheduler.JobInfo](t, resp.Data)
	require.Len(t, listed, 1)
	assert.Equal(t, "login", listed[0].Scenario)
}
