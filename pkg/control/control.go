// Package control wraps the agent-control service: remote sessions with
// shell and file access, independent of the turn loop.
package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"deskpilot/pkg/config"
	"deskpilot/pkg/rest"
	"deskpilot/pkg/utils"

	"go.uber.org/zap"
)

// ErrNotInitialized is returned by session-dependent calls before
// StartSession or after StopSession.
var ErrNotInitialized = errors.New("control session is not started")

// ErrAlreadyStarted is returned by StartSession while a session is active.
var ErrAlreadyStarted = errors.New("control session is already started")

type Session struct {
	ID        string            `json:"session_id"`
	Status    string            `json:"status,omitempty"`
	Template  string            `json:"template,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type StartOptions struct {
	// Template defaults to control.template from the configuration.
	Template string
	Timeout  time.Duration
	Metadata map[string]string
}

type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

type FileInfo struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// Client holds at most one active session.
type Client struct {
	api      *rest.Client
	template string
	logger   *zap.Logger

	mu      sync.Mutex
	session *Session
}

func New(cfg config.ControlConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("control service requires an api key")
	}
	api, err := rest.New(cfg.BaseURL, logger.Named("http"),
		rest.WithHeader("Authorization", "Bearer "+cfg.APIKey),
		rest.WithTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, err
	}
	return &Client{api: api, template: cfg.Template, logger: logger.Named("control")}, nil
}

type startRequest struct {
	Template  string            `json:"template,omitempty"`
	TimeoutMs int64             `json:"timeout_ms,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// StartSession creates a session and makes it the active one. It fails
// with ErrAlreadyStarted, without contacting the service, while another
// session is active.
func (c *Client) StartSession(ctx context.Context, opts StartOptions) (*Session, error) {
	if _, err := c.activeID(); err == nil {
		return nil, ErrAlreadyStarted
	}
	if opts.Template == "" {
		opts.Template = c.template
	}
	var s Session
	err := c.api.JSON(ctx, http.MethodPost, "/sessions", nil, startRequest{
		Template:  opts.Template,
		TimeoutMs: opts.Timeout.Milliseconds(),
		Metadata:  opts.Metadata,
	}, &s)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	if s.ID == "" {
		return nil, errors.New("control service returned no session id")
	}

	c.mu.Lock()
	if c.session != nil {
		// A concurrent StartSession won; do not leak this one.
		c.mu.Unlock()
		_ = c.api.JSON(context.WithoutCancel(ctx), http.MethodDelete, sessionPath(s.ID, ""), nil, nil, nil)
		return nil, ErrAlreadyStarted
	}
	c.session = &s
	c.mu.Unlock()

	c.logger.Info("Session started", zap.String("session_id", s.ID))
	return &s, nil
}

// Session returns the active session, or nil.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Attach makes an existing session, e.g. one from ListSessions, the active
// one without contacting the service.
func (c *Client) Attach(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = &Session{ID: id}
}

func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var resp struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.api.JSON(ctx, http.MethodGet, "/sessions", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return resp.Sessions, nil
}

func (c *Client) activeID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return "", ErrNotInitialized
	}
	return c.session.ID, nil
}

func sessionPath(id, suffix string) string {
	return "/sessions/" + url.PathEscape(id) + suffix
}

// StopSession deletes the active session. If the request fails the session
// stays active so StopSession can be retried.
func (c *Client) StopSession(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		return ErrNotInitialized
	}

	err := c.api.JSON(ctx, http.MethodDelete, sessionPath(s.ID, ""), nil, nil, nil)
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		err = nil
	}
	if err != nil {
		c.mu.Lock()
		if c.session == nil {
			c.session = s
		}
		c.mu.Unlock()
		return fmt.Errorf("failed to stop session %s: %w", s.ID, err)
	}
	c.logger.Info("Session stopped", zap.String("session_id", s.ID))
	return nil
}

type execRequest struct {
	Command string `json:"command"`
}

// Exec runs a shell command in the session. A non-zero exit code is not an
// error.
func (c *Client) Exec(ctx context.Context, command string) (*ExecResult, error) {
	id, err := c.activeID()
	if err != nil {
		return nil, err
	}
	var res ExecResult
	if err := c.api.JSON(ctx, http.MethodPost, sessionPath(id, "/exec"), nil, execRequest{Command: command}, &res); err != nil {
		return nil, fmt.Errorf("exec failed: %w", err)
	}
	c.logger.Debug("Command executed", zap.String("command", command), zap.Int("exit_code", res.ExitCode))
	return &res, nil
}

func (c *Client) ReadFile(ctx context.Context, path string) ([]byte, error) {
	id, err := c.activeID()
	if err != nil {
		return nil, err
	}
	data, err := c.api.Raw(ctx, http.MethodGet, sessionPath(id, "/files"), url.Values{"path": {path}}, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func (c *Client) WriteFile(ctx context.Context, path string, data []byte) error {
	id, err := c.activeID()
	if err != nil {
		return err
	}
	mimeType, _ := utils.DetectMimeAndExt(data)
	if _, err := c.api.Raw(ctx, http.MethodPut, sessionPath(id, "/files"), url.Values{"path": {path}}, bytes.NewReader(data), mimeType); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (c *Client) ListFiles(ctx context.Context, dir string) ([]FileInfo, error) {
	id, err := c.activeID()
	if err != nil {
		return nil, err
	}
	var resp struct {
		Entries []FileInfo `json:"entries"`
	}
	if err := c.api.JSON(ctx, http.MethodGet, sessionPath(id, "/files/list"), url.Values{"path": {dir}}, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	return resp.Entries, nil
}
