package adapter

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"yqhp/test-runner/internal/variable"
	"yqhp/test-runner/pkg/jsonx"
	"yqhp/test-runner/pkg/types"
)

func newTestEnv(t *testing.T, scenario *types.Scenario, vars *variable.Store) *Env {
	t.Helper()
	if vars == nil {
		vars = variable.NewStore()
	}
	env, err := NewEnv(scenario, vars, DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	return env
}

func parseStep(t *testing.T, src string) *types.Step {
	t.Helper()
	var step types.Step
	require.NoError(t, yaml.Unmarshal([]byte(src), &step))
	return &step
}

func TestHTTPAdapter_LoginThenProfile(t *testing.T) {
	var profileURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			assert.Equal(t, http.MethodPost, r.Method)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token":"abc123"}`))
		case "/me":
			profileURL = "http://x" + r.URL.RequestURI()
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	env := newTestEnv(t, nil, nil)
	a, err := NewHTTPAdapter(env)
	require.NoError(t, err)

	login := parseStep(t, `
name: login
type: http
method: POST
url: `+server.URL+`/login
expect:
  status: 200
  json:
    token: "@string"
save:
  tok: $.token
`)
	res := a.ExecuteStep(context.Background(), login)
	require.Equal(t, types.StepPassed, res.Status, res.Error)

	tok, ok := env.Vars.Get("tok")
	require.True(t, ok)
	assert.Equal(t, "abc123", tok)

	profile := parseStep(t, `
name: profile
type: http
url: `+server.URL+`/me?auth={{tok}}
expect:
  status: 200
`)
	res = a.ExecuteStep(context.Background(), profile)
	require.Equal(t, types.StepPassed, res.Status, res.Error)
	assert.Equal(t, "http://x/me?auth=abc123", profileURL)

	out := res.Response.(*HTTPResponse)
	assert.Equal(t, server.URL+"/me?auth=abc123", out.URL)
	assert.Equal(t, "GET", out.Method)
}

func TestHTTPAdapter_ResolvesHeadersAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"auth":"` + r.Header.Get("Authorization") + `","ct":"` + r.Header.Get("Content-Type") + `","body":` + string(body) + `}`))
	}))
	defer server.Close()

	vars := variable.NewStore()
	vars.Seed(map[string]string{"tok": "t1", "user": "alice"})
	env := newTestEnv(t, nil, vars)
	a, err := NewHTTPAdapter(env)
	require.NoError(t, err)

	step := parseStep(t, `
name: echo
type: http
method: put
url: `+server.URL+`/echo
headers:
  Authorization: Bearer {{tok}}
body:
  user: "{{user}}"
  missing: "{{nope}}"
expect:
  json:
    auth: Bearer t1
    ct: application/json
    body:
      user: alice
      missing: "{{nope}}"
`)
	res := a.ExecuteStep(context.Background(), step)
	require.Equal(t, types.StepPassed, res.Status, res.Error)
	assert.Equal(t, "PUT", res.Response.(*HTTPResponse).Method)
}

func TestHTTPAdapter_StringBodySentVerbatim(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
	}))
	defer server.Close()

	vars := variable.NewStore()
	vars.Set("n", 3)
	a, err := NewHTTPAdapter(newTestEnv(t, nil, vars))
	require.NoError(t, err)

	step := &types.Step{Name: "raw", Type: types.StepTypeHTTP, Spec: &types.HTTPSpec{
		Method: "POST", URL: server.URL, Body: "count={{n}}",
	}}
	res := a.ExecuteStep(context.Background(), step)
	require.Equal(t, types.StepPassed, res.Status, res.Error)
	assert.Equal(t, "count=3", got)
}

func TestHTTPAdapter_AnyStatusIsAResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	a, err := NewHTTPAdapter(newTestEnv(t, nil, nil))
	require.NoError(t, err)

	// no expectations: a 500 still passes
	res := a.ExecuteStep(context.Background(), &types.Step{Name: "s", Type: "http", Spec: &types.HTTPSpec{URL: server.URL}})
	assert.Equal(t, types.StepPassed, res.Status)

	status := 200
	res = a.ExecuteStep(context.Background(), &types.Step{Name: "s", Type: "http", Spec: &types.HTTPSpec{
		URL: server.URL, Expect: &types.Expect{Status: &status},
	}})
	assert.Equal(t, types.StepFailed, res.Status)
	assert.Equal(t, "Expected status 200, got 500", res.Error)

	out := res.Response.(*HTTPResponse)
	require.NotNil(t, out)
	assert.Equal(t, 500, out.StatusCode)
	assert.Equal(t, "boom", out.BodyRaw)
	assert.False(t, res.EndedAt.IsZero())
}

func TestHTTPAdapter_SaveRunsBeforeExpect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"token":"new","items":[{"id":"i0"}]}`))
	}))
	defer server.Close()

	vars := variable.NewStore()
	vars.Set("tok", "old")
	env := newTestEnv(t, nil, vars)
	a, err := NewHTTPAdapter(env)
	require.NoError(t, err)

	status := 200
	res := a.ExecuteStep(context.Background(), &types.Step{Name: "s", Type: "http", Spec: &types.HTTPSpec{
		URL:    server.URL,
		Expect: &types.Expect{Status: &status},
		Save:   map[string]string{"tok": "$.token", "first": "$.items.0.id", "gone": "$.nope"},
	}})
	assert.Equal(t, types.StepFailed, res.Status)

	tok, _ := env.Vars.Get("tok")
	assert.Equal(t, "new", tok)
	first, _ := env.Vars.Get("first")
	assert.Equal(t, "i0", first)
	_, ok := env.Vars.Get("gone")
	assert.False(t, ok)
}

func TestHTTPAdapter_SaveFromNonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer server.Close()

	env := newTestEnv(t, nil, nil)
	a, err := NewHTTPAdapter(env)
	require.NoError(t, err)

	res := a.ExecuteStep(context.Background(), &types.Step{Name: "s", Type: "http", Spec: &types.HTTPSpec{
		URL:  server.URL,
		Save: map[string]string{"tok": "$.token"},
	}})
	assert.Equal(t, types.StepPassed, res.Status)
	assert.Equal(t, 0, env.Vars.Len())
}

func TestHTTPAdapter_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	a, err := NewHTTPAdapter(newTestEnv(t, nil, nil))
	require.NoError(t, err)

	res := a.ExecuteStep(context.Background(), &types.Step{Name: "slow", Type: "http", Spec: &types.HTTPSpec{
		URL: server.URL, Timeout: types.Duration(100 * time.Millisecond),
	}})
	assert.Equal(t, types.StepFailed, res.Status)
	assert.Equal(t, "Request timed out after 100ms", res.Error)
	assert.Nil(t, res.Response)
}

func TestHTTPAdapter_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	a, err := NewHTTPAdapter(newTestEnv(t, nil, nil))
	require.NoError(t, err)

	url := "http://" + addr + "/login"
	res := a.ExecuteStep(context.Background(), &types.Step{Name: "down", Type: "http", Spec: &types.HTTPSpec{URL: url}})
	assert.Equal(t, types.StepFailed, res.Status)
	assert.Equal(t, "Connection refused: "+url, res.Error)
	assert.Nil(t, res.Response)
}

func TestHTTPAdapter_GlobalHeadersOverriddenByStep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("X-Env") + "|" + r.Header.Get("X-Team")))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.HTTP.Headers = map[string]string{"X-Env": "global", "X-Team": "qa"}
	env, err := NewEnv(nil, variable.NewStore(), cfg, zap.NewNop())
	require.NoError(t, err)
	a, err := NewHTTPAdapter(env)
	require.NoError(t, err)

	res := a.ExecuteStep(context.Background(), &types.Step{Name: "h", Type: "http", Spec: &types.HTTPSpec{
		URL:     server.URL,
		Headers: map[string]string{"X-Env": "step"},
		Expect:  &types.Expect{Contains: types.StringList{"step|qa"}},
	}})
	assert.Equal(t, types.StepPassed, res.Status, res.Error)
}

func TestHTTPAdapter_WrongSpec(t *testing.T) {
	a, err := NewHTTPAdapter(newTestEnv(t, nil, nil))
	require.NoError(t, err)
	res := a.ExecuteStep(context.Background(), &types.Step{Name: "x", Type: "http", Spec: &types.RenoSpec{Scenario: "s"}})
	assert.Equal(t, types.StepFailed, res.Status)
	assert.True(t, strings.Contains(res.Error, "no http payload"))
}

func TestHTTPResponse_JSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"a":[1,2]}`))
	}))
	defer server.Close()

	a, err := NewHTTPAdapter(newTestEnv(t, nil, nil))
	require.NoError(t, err)
	res := a.ExecuteStep(context.Background(), &types.Step{Name: "j", Type: "http", Spec: &types.HTTPSpec{URL: server.URL}})
	out := res.Response.(*HTTPResponse)
	assert.Equal(t, `{"a":[1,2]}`, jsonx.Stringify(out.Body))
	assert.Empty(t, out.BodyRaw)
	assert.Equal(t, "application/json", out.Headers["Content-Type"])
}
