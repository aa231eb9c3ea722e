// Package remote drives a hosted desktop sandbox through its REST API.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"deskpilot/pkg/config"
	"deskpilot/pkg/rest"
	"deskpilot/pkg/sandbox"

	"go.uber.org/zap"
)

// Provider creates sessions on the hosted sandbox service.
type Provider struct {
	api      *rest.Client
	template string
	timeout  int64
	logger   *zap.Logger
}

// New validates cfg and builds a provider. The API key is mandatory.
func New(cfg config.SandboxConfig, logger *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("remote sandbox requires an api key")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("remote sandbox requires a base url")
	}

	api, err := rest.New(cfg.BaseURL, logger.Named("http"),
		rest.WithHeader("X-API-Key", cfg.APIKey),
		rest.WithRateLimit(cfg.RateLimit),
	)
	if err != nil {
		return nil, err
	}

	return &Provider{
		api:      api,
		template: cfg.Template,
		timeout:  cfg.Timeout.Milliseconds(),
		logger:   logger.Named("remote"),
	}, nil
}

func (p *Provider) Name() string { return "remote" }

type createRequest struct {
	Template  string `json:"template,omitempty"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

type createResponse struct {
	SandboxID string `json:"sandbox_id"`
}

func (p *Provider) CreateSession(ctx context.Context) (sandbox.Session, error) {
	var resp createResponse
	if err := p.api.JSON(ctx, http.MethodPost, "/sandboxes", nil, createRequest{Template: p.template, TimeoutMs: p.timeout}, &resp); err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	if resp.SandboxID == "" {
		return nil, errors.New("sandbox service returned no sandbox id")
	}

	p.logger.Info("Sandbox created", zap.String("sandbox_id", resp.SandboxID))
	return &Session{id: resp.SandboxID, api: p.api, logger: p.logger.With(zap.String("sandbox_id", resp.SandboxID))}, nil
}

// Session is one hosted sandbox.
type Session struct {
	id     string
	api    *rest.Client
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

func (s *Session) ID() string { return s.id }

func (s *Session) path(suffix string) string {
	return "/sandboxes/" + url.PathEscape(s.id) + suffix
}

func (s *Session) alive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sandbox.ErrSessionClosed
	}
	return nil
}

func (s *Session) CaptureScreen(ctx context.Context) ([]byte, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	data, err := s.api.Raw(ctx, http.MethodGet, s.path("/screenshot"), nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("screenshot failed: empty image")
	}
	return data, nil
}

type clickRequest struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Button string `json:"button"`
	Double bool   `json:"double"`
}

func (s *Session) Click(ctx context.Context, x, y int, button sandbox.Button, double bool) error {
	if err := s.alive(); err != nil {
		return err
	}
	return s.api.JSON(ctx, http.MethodPost, s.path("/mouse/click"), nil, clickRequest{X: x, Y: y, Button: string(button), Double: double}, nil)
}

func (s *Session) SendText(ctx context.Context, text string) error {
	if err := s.alive(); err != nil {
		return err
	}
	return s.api.JSON(ctx, http.MethodPost, s.path("/keyboard/type"), nil, map[string]string{"text": text}, nil)
}

func (s *Session) SendKey(ctx context.Context, key string) error {
	if err := s.alive(); err != nil {
		return err
	}
	return s.api.JSON(ctx, http.MethodPost, s.path("/keyboard/press"), nil, map[string]string{"key": key}, nil)
}

func (s *Session) Launch(ctx context.Context, app string) error {
	if err := s.alive(); err != nil {
		return err
	}
	return s.api.JSON(ctx, http.MethodPost, s.path("/applications/launch"), nil, map[string]string{"application": app}, nil)
}

// Terminate deletes the sandbox. A sandbox the service no longer knows
// counts as terminated. After a failed delete the session stays usable and
// Terminate may be called again.
func (s *Session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.api.JSON(ctx, http.MethodDelete, s.path(""), nil, nil, nil)
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		err = nil
	}
	if err != nil {
		s.mu.Lock()
		s.closed = false
		s.mu.Unlock()
		return fmt.Errorf("failed to terminate sandbox %s: %w", s.id, err)
	}
	s.logger.Info("Sandbox terminated")
	return nil
}

func init() {
	sandbox.RegisterBackend("remote", func(cfg config.SandboxConfig, logger *zap.Logger) (sandbox.Provider, error) {
		return New(cfg, logger)
	})
}
