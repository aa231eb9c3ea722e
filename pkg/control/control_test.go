package control

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"deskpilot/pkg/config"
	"deskpilot/pkg/rest"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newServer(t *testing.T, hits *int32) *httptest.Server {
	files := map[string][]byte{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "python", req["template"])
		_, _ = io.WriteString(w, `{"session_id":"s-1","status":"running"}`)
	})
	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"sessions":[{"session_id":"s-1"},{"session_id":"s-2"}]}`)
	})
	mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "s-1":
		case "s-down":
			w.WriteHeader(http.StatusBadGateway)
			return
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /sessions/s-1/exec", func(w http.ResponseWriter, r *http.Request) {
		var req execRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Command == "false" {
			_, _ = io.WriteString(w, `{"stdout":"","stderr":"","exit_code":1}`)
			return
		}
		_, _ = io.WriteString(w, `{"stdout":"hi\n","stderr":"","exit_code":0}`)
	})
	mux.HandleFunc("PUT /sessions/s-1/files", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		files[r.URL.Query().Get("path")] = data
	})
	mux.HandleFunc("GET /sessions/s-1/files", func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[r.URL.Query().Get("path")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"no such file"}`)
			return
		}
		_, _ = w.Write(data)
	})
	mux.HandleFunc("GET /sessions/s-1/files/list", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/home/user", r.URL.Query().Get("path"))
		_, _ = io.WriteString(w, `{"entries":[{"name":"notes.txt","path":"/home/user/notes.txt","size":5}]}`)
	})

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}))
}

func newClient(t *testing.T, srv *httptest.Server) *Client {
	c, err := New(config.ControlConfig{BaseURL: srv.URL, APIKey: "key", Template: "python"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(config.ControlConfig{BaseURL: "https://control.example.com"}, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "api key")
}

func TestClient_NotInitialized(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	defer srv.Close()
	c := newClient(t, srv)
	ctx := context.Background()

	assert.Nil(t, c.Session())
	_, err := c.Exec(ctx, "ls")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.ReadFile(ctx, "/etc/hosts")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, c.WriteFile(ctx, "/tmp/x", []byte("x")), ErrNotInitialized)
	_, err = c.ListFiles(ctx, "/")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, c.StopSession(ctx), ErrNotInitialized)

	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestClient_SessionLifecycle(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	defer srv.Close()
	c := newClient(t, srv)
	ctx := context.Background()

	s, err := c.StartSession(ctx, StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, "s-1", s.ID)
	assert.Equal(t, "running", c.Session().Status)

	res, err := c.Exec(ctx, "echo hi")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", res.Stdout)

	res, err = c.Exec(ctx, "false")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)

	require.NoError(t, c.WriteFile(ctx, "/home/user/notes.txt", []byte("hello")))
	data, err := c.ReadFile(ctx, "/home/user/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = c.ReadFile(ctx, "/missing")
	var apiErr *rest.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "no such file", apiErr.Message)

	entries, err := c.ListFiles(ctx, "/home/user")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "notes.txt", entries[0].Name)
	assert.EqualValues(t, 5, entries[0].Size)

	sessions, err := c.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	require.NoError(t, c.StopSession(ctx))
	assert.Nil(t, c.Session())
	_, err = c.Exec(ctx, "ls")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestClient_StopUnknownSessionSucceeds(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	defer srv.Close()
	c := newClient(t, srv)

	c.Attach("s-9")
	assert.NoError(t, c.StopSession(context.Background()))
}

func TestClient_StartWhileActive(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	defer srv.Close()
	c := newClient(t, srv)
	ctx := context.Background()

	_, err := c.StartSession(ctx, StartOptions{})
	require.NoError(t, err)
	before := atomic.LoadInt32(&hits)

	_, err = c.StartSession(ctx, StartOptions{})
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, before, atomic.LoadInt32(&hits))
	assert.Equal(t, "s-1", c.Session().ID)

	require.NoError(t, c.StopSession(ctx))
	_, err = c.StartSession(ctx, StartOptions{})
	assert.NoError(t, err)
}

func TestClient_StopFailureKeepsSession(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	defer srv.Close()
	c := newClient(t, srv)

	c.Attach("s-down")
	err := c.StopSession(context.Background())
	var apiErr *rest.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	require.NotNil(t, c.Session())
	assert.Equal(t, "s-down", c.Session().ID)
}
