package notifier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"yqhp/test-runner/pkg/jsonx"
	"yqhp/test-runner/pkg/types"
)

type capture struct {
	mu       sync.Mutex
	messages []slackMessage
}

func (c *capture) last() slackMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages[len(c.messages)-1]
}

func newSlackServer(t *testing.T, failFirst int) (*httptest.Server, *capture, *atomic.Int32) {
	t.Helper()
	c := &capture{}
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if int(n) <= failFirst {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("rate_limited"))
			return
		}
		body, _ := io.ReadAll(r.Body)
		var msg slackMessage
		assert.NoError(t, jsonx.Unmarshal(body, &msg))
		c.mu.Lock()
		c.messages = append(c.messages, msg)
		c.mu.Unlock()
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv, c, &hits
}

func summary(status types.RunStatus) *types.RunSummary {
	s := &types.RunSummary{
		RunID:        "run-1",
		Project:      "acme",
		Scenario:     "login",
		ScenarioName: "Login flow",
		Environment:  types.EnvStaging,
		TriggeredBy:  types.TriggerSchedule,
		Status:       status,
		TotalSteps:   3,
		PassedSteps:  3,
		RetryCount:   1,
		DurationMs:   1500,
	}
	if status == types.RunFailed {
		s.PassedSteps = 2
		s.FailedSteps = 1
		s.Failures = []types.StepFailure{{Name: "profile", Error: "Expected status 200, got 500"}}
	}
	return s
}

func TestSlack_NotifyRun(t *testing.T) {
	srv, c, _ := newSlackServer(t, 0)
	s, err := NewSlack(&SlackConfig{WebhookURL: srv.URL, Channel: "#qa", DashboardURL: "https://dash/"})
	require.NoError(t, err)

	require.NoError(t, s.NotifyRun(context.Background(), summary(types.RunFailed)))

	msg := c.last()
	assert.Equal(t, "#qa", msg.Channel)
	assert.Contains(t, msg.Text, ":x: *Login flow* (acme/login) FAILED in 1.5s")
	assert.Contains(t, msg.Text, "<https://dash/runs/run-1|details>")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, colorFailed, msg.Attachments[0].Color)
	assert.Contains(t, msg.Attachments[0].Text, "*profile*: Expected status 200, got 500")
	assert.Equal(t, "2/3 passed", msg.Attachments[0].Fields[0].Value)
}

func TestSlack_OnlyFailures(t *testing.T) {
	srv, _, hits := newSlackServer(t, 0)
	s, err := NewSlack(&SlackConfig{WebhookURL: srv.URL, OnlyFailures: true})
	require.NoError(t, err)

	require.NoError(t, s.NotifyRun(context.Background(), summary(types.RunPassed)))
	assert.Zero(t, hits.Load())
}

func TestSlack_Retry(t *testing.T) {
	srv, c, hits := newSlackServer(t, 2)
	s, err := NewSlack(&SlackConfig{WebhookURL: srv.URL, RetryAttempts: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, s.NotifyRun(context.Background(), summary(types.RunPassed)))
	assert.EqualValues(t, 3, hits.Load())
	assert.Contains(t, c.last().Text, ":white_check_mark:")
}

func TestSlack_RetryExhausted(t *testing.T) {
	srv, _, hits := newSlackServer(t, 10)
	s, err := NewSlack(&SlackConfig{WebhookURL: srv.URL, RetryAttempts: 1, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	err = s.NotifyRun(context.Background(), summary(types.RunPassed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 attempts")
	assert.Contains(t, err.Error(), "rate_limited")
	assert.EqualValues(t, 2, hits.Load())
}

func TestSlack_NotifyFailure(t *testing.T) {
	srv, c, _ := newSlackServer(t, 0)
	s, err := NewSlack(&SlackConfig{WebhookURL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, s.NotifyFailure(context.Background(), "acme", "login", errors.New("scenario not found")))
	msg := c.last()
	assert.Contains(t, msg.Text, "*acme/login* could not run")
	assert.Contains(t, msg.Attachments[0].Text, "scenario not found")
}

func TestNew(t *testing.T) {
	assert.IsType(t, Nop{}, New(nil))
	assert.IsType(t, Nop{}, New(&SlackConfig{}))
	assert.IsType(t, &Slack{}, New(&SlackConfig{WebhookURL: "http://hooks"}))

	_, err := NewSlack(&SlackConfig{})
	assert.Error(t, err)
}

type failingNotifier struct{ panics bool }

func (f failingNotifier) NotifyRun(context.Context, *types.RunSummary) error {
	if f.panics {
		panic("bad notifier")
	}
	return errors.New("webhook down")
}

func (f failingNotifier) NotifyFailure(context.Context, string, string, error) error {
	return errors.New("webhook down")
}

func TestDispatch_ErrorsAreLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)

	<-Dispatch(context.Background(), failingNotifier{}, summary(types.RunFailed), log)
	<-DispatchFailure(context.Background(), failingNotifier{}, "acme", "login", errors.New("x"), log)
	<-Dispatch(context.Background(), failingNotifier{panics: true}, summary(types.RunFailed), log)

	assert.Equal(t, 2, logs.FilterMessage("send notification failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("notifier panic").Len())
}

func TestDispatch_SurvivesCallerCancel(t *testing.T) {
	srv, c, _ := newSlackServer(t, 0)
	s, err := NewSlack(&SlackConfig{WebhookURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	<-Dispatch(ctx, s, summary(types.RunPassed), zap.NewNop())
	assert.Len(t, c.messages, 1)
}
