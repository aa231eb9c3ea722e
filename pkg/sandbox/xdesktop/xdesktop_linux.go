//go:build linux

package xdesktop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"deskpilot/pkg/config"
	"deskpilot/pkg/sandbox"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Provider struct {
	display string
	logger  *zap.Logger
}

func New(cfg config.SandboxConfig, logger *zap.Logger) (*Provider, error) {
	if _, err := exec.LookPath("xdotool"); err != nil {
		return nil, fmt.Errorf("xdesktop backend requires xdotool: %w", err)
	}
	return &Provider{display: cfg.Display, logger: logger.Named("xdesktop")}, nil
}

func (p *Provider) Name() string { return "xdesktop" }

func (p *Provider) CreateSession(ctx context.Context) (sandbox.Session, error) {
	id := uuid.NewString()
	p.logger.Info("Attached to display", zap.String("display", p.display), zap.String("sandbox_id", id))
	return &Session{
		id:          id,
		display:     p.display,
		execCommand: exec.CommandContext,
		logger:      p.logger.With(zap.String("sandbox_id", id)),
	}, nil
}

// Session attaches to the display. Terminate kills the applications it
// launched but leaves the display running.
type Session struct {
	id          string
	display     string
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
	logger      *zap.Logger

	mu       sync.Mutex
	closed   bool
	launched []*exec.Cmd
}

func (s *Session) ID() string { return s.id }

func (s *Session) alive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sandbox.ErrSessionClosed
	}
	return nil
}

func (s *Session) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := s.execCommand(ctx, name, args...)
	cmd.Env = os.Environ()
	if s.display != "" {
		cmd.Env = append(cmd.Env, "DISPLAY="+s.display)
	}
	return cmd
}

func (s *Session) run(ctx context.Context, name string, args ...string) error {
	if err := s.alive(); err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd := s.command(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// CaptureScreen tries gnome-screenshot first and falls back to scrot.
func (s *Session) CaptureScreen(ctx context.Context) ([]byte, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp("", "deskpilot-*.png")
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := s.run(ctx, "gnome-screenshot", "-f", path); err != nil {
		s.logger.Warn("gnome-screenshot failed, trying scrot", zap.Error(err))
		// scrot refuses to overwrite an existing file.
		os.Remove(path)
		if err := s.run(ctx, "scrot", path); err != nil {
			return nil, fmt.Errorf("screenshot failed (tried gnome-screenshot and scrot): %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read screenshot file: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("screenshot failed: empty image")
	}
	return data, nil
}

func buttonNumber(b sandbox.Button) string {
	switch b {
	case sandbox.ButtonMiddle:
		return "2"
	case sandbox.ButtonRight:
		return "3"
	default:
		return "1"
	}
}

func (s *Session) Click(ctx context.Context, x, y int, button sandbox.Button, double bool) error {
	args := []string{"mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y), "click"}
	if double {
		args = append(args, "--repeat", "2")
	}
	args = append(args, buttonNumber(button))
	return s.run(ctx, "xdotool", args...)
}

func (s *Session) SendText(ctx context.Context, text string) error {
	return s.run(ctx, "xdotool", "type", "--delay", "12", "--", text)
}

func (s *Session) SendKey(ctx context.Context, key string) error {
	return s.run(ctx, "xdotool", "key", "--", key)
}

// Launch starts app detached from ctx so it outlives the request that
// opened it.
func (s *Session) Launch(ctx context.Context, app string) error {
	if err := s.alive(); err != nil {
		return err
	}
	fields := strings.Fields(app)
	if len(fields) == 0 {
		return errors.New("empty application name")
	}
	cmd := s.command(context.Background(), fields[0], fields[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch %s: %w", app, err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			s.logger.Debug("Application exited", zap.String("app", app), zap.Error(err))
		}
	}()

	s.mu.Lock()
	s.launched = append(s.launched, cmd)
	s.mu.Unlock()
	s.logger.Info("Application launched", zap.String("app", app), zap.Int("pid", cmd.Process.Pid))
	return nil
}

func (s *Session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	launched := s.launched
	s.launched = nil
	s.mu.Unlock()

	var errs []error
	for _, cmd := range launched {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, err)
		}
	}
	s.logger.Info("Detached from display", zap.Int("killed", len(launched)))
	return errors.Join(errs...)
}
