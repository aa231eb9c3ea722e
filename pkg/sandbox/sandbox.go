// Package sandbox defines the boundary to an isolated desktop environment and
// a registry of backends implementing it.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"deskpilot/pkg/config"

	"go.uber.org/zap"
)

// Button is a pointer button.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// Key names follow the X keysym spelling used by xdotool. Backends with a
// different vocabulary translate from these.
const (
	KeyReturn    = "Return"
	KeyPageUp    = "Page_Up"
	KeyPageDown  = "Page_Down"
	KeyTab       = "Tab"
	KeyEscape    = "Escape"
	KeyBackspace = "BackSpace"
)

// ErrSessionClosed is returned by operations on a terminated session.
var ErrSessionClosed = errors.New("sandbox session is closed")

// Provider creates sandbox sessions.
type Provider interface {
	Name() string
	CreateSession(ctx context.Context) (Session, error)
}

// Session is one live sandbox. Terminate is idempotent; every other method
// returns ErrSessionClosed after it.
type Session interface {
	ID() string
	// CaptureScreen returns the current screen as encoded image bytes (PNG
	// unless the backend says otherwise).
	CaptureScreen(ctx context.Context) ([]byte, error)
	Click(ctx context.Context, x, y int, button Button, double bool) error
	SendText(ctx context.Context, text string) error
	SendKey(ctx context.Context, key string) error
	Launch(ctx context.Context, app string) error
	Terminate(ctx context.Context) error
}

// Factory builds a Provider from configuration.
type Factory func(cfg config.SandboxConfig, logger *zap.Logger) (Provider, error)

var (
	mu       sync.RWMutex
	backends = make(map[string]Factory)
)

// RegisterBackend makes a backend available under name. Backends call it
// from init.
func RegisterBackend(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	backends[name] = f
}

// Backends lists registered backend names.
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFromConfig builds the provider selected by cfg.Backend.
func NewFromConfig(cfg config.SandboxConfig, logger *zap.Logger) (Provider, error) {
	mu.RLock()
	f, ok := backends[cfg.Backend]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sandbox backend %q (registered: %v)", cfg.Backend, Backends())
	}
	return f(cfg, logger.Named("sandbox"))
}
