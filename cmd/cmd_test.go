package cmd

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"deskpilot/pkg/config"
	"deskpilot/pkg/llm"
	"deskpilot/pkg/mocks"
	"deskpilot/pkg/sandbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// execute runs the command tree with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// fakeBackends swaps the LLM and sandbox constructors for mocks.
func fakeBackends(t *testing.T, responses ...*llm.Response) (*mocks.MockClient, *mocks.MockSession) {
	t.Helper()
	t.Setenv("DESKPILOT_LLM_API_KEY", "llm-key")
	t.Setenv("DESKPILOT_SANDBOX_API_KEY", "sandbox-key")
	t.Setenv("DESKPILOT_SANDBOX_BASE_URL", "https://sandbox.example.com")
	t.Setenv("DESKPILOT_SANDBOX_SCREENSHOT_WAIT", "0s")

	client := &mocks.MockClient{}
	for _, r := range responses {
		client.On("Complete", mock.Anything, mock.Anything).Return(r, nil).Once()
	}
	session := &mocks.MockSession{}
	session.On("CaptureScreen", mock.Anything).Return([]byte("\x89PNG\r\n\x1a\n"), nil)
	session.On("Terminate", mock.Anything).Return(nil).Once()
	provider := &mocks.MockProvider{}
	provider.On("CreateSession", mock.Anything).Return(session, nil).Once()

	origClient, origProvider := newLLMClient, newSandboxProvider
	newLLMClient = func(config.LLMConfig, *zap.Logger) (llm.Client, error) { return client, nil }
	newSandboxProvider = func(config.SandboxConfig, *zap.Logger) (sandbox.Provider, error) { return provider, nil }
	t.Cleanup(func() {
		newLLMClient, newSandboxProvider = origClient, origProvider
	})
	return client, session
}

func TestRunCmd_Instructions(t *testing.T) {
	client, session := fakeBackends(t, mocks.TextResponse("Hello!"), mocks.TextResponse("Bye!"))

	out, err := execute(t, "", "run", "-q", "say hello", "say bye")
	require.NoError(t, err)
	assert.Equal(t, "Hello!\nBye!\n", out)

	client.AssertNumberOfCalls(t, "Complete", 2)
	session.AssertCalled(t, "Terminate", mock.Anything)
}

func TestRunCmd_DemoList(t *testing.T) {
	responses := make([]*llm.Response, len(demoInstructions))
	for i := range responses {
		responses[i] = mocks.TextResponse("ok")
	}
	client, _ := fakeBackends(t, responses...)

	_, err := execute(t, "", "run", "-q")
	require.NoError(t, err)
	client.AssertNumberOfCalls(t, "Complete", len(demoInstructions))
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	fakeBackends(t)
	t.Setenv("DESKPILOT_AGENT_MAX_ROUND_TRIPS", "1")

	_, err := execute(t, "", "run", "-q", "hi")
	assert.ErrorContains(t, err, "agent.max_round_trips")
}

func TestChatCmd_ReadsUntilQuit(t *testing.T) {
	client, session := fakeBackends(t, mocks.TextResponse("first"), mocks.TextResponse("second"))

	out, err := execute(t, "one\ntwo\nquit\nnever sent\n", "chat", "-q")
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", out)
	client.AssertNumberOfCalls(t, "Complete", 2)
	session.AssertCalled(t, "Terminate", mock.Anything)
}

func TestChatCmd_MonitorOutput(t *testing.T) {
	fakeBackends(t, mocks.TextResponse("Hello there"))

	out, err := execute(t, "say hello\n", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "say hello")
	assert.Contains(t, out, "Hello there")
}

func TestConfigFlag(t *testing.T) {
	fakeBackends(t, mocks.TextResponse("ok"))
	path := filepath.Join(t.TempDir(), "deskpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  max_round_trips: 0\n"), 0o644))

	_, err := execute(t, "", "--config", path, "run", "-q", "hi")
	assert.ErrorContains(t, err, "agent.max_round_trips")

	_, err = execute(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "run")
	assert.ErrorContains(t, err, "error reading config file")
}

func TestControlCmd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"session_id":"ctl-1","status":"running"}`)
	})
	mux.HandleFunc("POST /sessions/ctl-1/exec", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"stdout":"hello\n","stderr":"","exit_code":0}`)
	})
	mux.HandleFunc("GET /sessions/ctl-1/files", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "contents of "+r.URL.Query().Get("path"))
	})
	mux.HandleFunc("GET /sessions/ctl-1/files/list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"entries":[{"name":"notes.txt","path":"/home/notes.txt","size":12}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Setenv("DESKPILOT_CONTROL_API_KEY", "ctl-key")
	t.Setenv("DESKPILOT_CONTROL_BASE_URL", srv.URL)

	out, err := execute(t, "", "control", "start")
	require.NoError(t, err)
	assert.Equal(t, "ctl-1\n", out)

	out, err = execute(t, "", "control", "exec", "-s", "ctl-1", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	out, err = execute(t, "", "control", "read", "--session", "ctl-1", "/etc/hostname")
	require.NoError(t, err)
	assert.Equal(t, "contents of /etc/hostname", out)

	out, err = execute(t, "", "control", "ls", "-s", "ctl-1", "/home")
	require.NoError(t, err)
	assert.Contains(t, out, "notes.txt")

	_, err = execute(t, "", "control", "exec", "echo no session")
	assert.ErrorContains(t, err, "control session is not started")
}

func TestControlCmd_RequiresConfig(t *testing.T) {
	_, err := execute(t, "", "control", "list")
	assert.ErrorContains(t, err, "control.api_key")
}
