// Package chromium runs the desktop as a local Chromium window driven over
// the DevTools protocol. It is meant for development without a hosted
// sandbox: "applications" are URLs.
package chromium

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"deskpilot/pkg/config"
	"deskpilot/pkg/sandbox"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var keyNames = map[string]string{
	sandbox.KeyReturn:    kb.Enter,
	"Enter":              kb.Enter,
	sandbox.KeyPageUp:    kb.PageUp,
	sandbox.KeyPageDown:  kb.PageDown,
	sandbox.KeyTab:       kb.Tab,
	sandbox.KeyEscape:    kb.Escape,
	sandbox.KeyBackspace: kb.Backspace,
	"Delete":             kb.Delete,
	"Home":               kb.Home,
	"End":                kb.End,
	"Up":                 kb.ArrowUp,
	"Down":               kb.ArrowDown,
	"Left":               kb.ArrowLeft,
	"Right":              kb.ArrowRight,
	"space":              " ",
}

// translateKey maps an X keysym name onto the chromedp key vocabulary.
func translateKey(key string) (string, error) {
	if k, ok := keyNames[key]; ok {
		return k, nil
	}
	if utf8.RuneCountInString(key) == 1 {
		return key, nil
	}
	return "", fmt.Errorf("unsupported key %q", key)
}

type Provider struct {
	cfg    config.ChromiumConfig
	logger *zap.Logger
}

func New(cfg config.ChromiumConfig, logger *zap.Logger) *Provider {
	return &Provider{cfg: cfg, logger: logger.Named("chromium")}
}

func (p *Provider) Name() string { return "chromium" }

func (p *Provider) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(p.cfg.Width, p.cfg.Height),
	)
	if p.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(p.cfg.ExecPath))
	}
	return opts
}

// CreateSession starts a fresh browser process and opens the start page.
func (p *Provider) CreateSession(ctx context.Context) (sandbox.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), p.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		id:          uuid.NewString(),
		cfg:         p.cfg,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
	}
	s.logger = p.logger.With(zap.String("sandbox_id", s.id))

	// The first Run allocates the browser and lives as long as its context,
	// so it must run on the tab context itself. ctx only bounds the wait.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()
	var err error
	select {
	case err = <-started:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chromium: %w", err)
	}

	start := p.cfg.StartURL
	if start == "" {
		start = "about:blank"
	}
	if err := s.run(ctx, chromedp.Navigate(start)); err != nil {
		_ = s.Terminate(context.Background())
		return nil, fmt.Errorf("failed to open start page: %w", err)
	}
	s.logger.Info("Browser session started", zap.String("start_url", start))
	return s, nil
}

// Session is one browser process with a single tab.
type Session struct {
	id          string
	cfg         config.ChromiumConfig
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger

	mu     sync.Mutex
	closed bool
}

func (s *Session) ID() string { return s.id }

// run executes actions on the tab, aborting when either ctx or the session
// ends. The browser is already allocated by CreateSession, so cancelling
// the derived context leaves the tab open.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return sandbox.ErrSessionClosed
	}

	runCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) CaptureScreen(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	if len(buf) == 0 {
		return nil, errors.New("screenshot failed: empty image")
	}
	return buf, nil
}

func (s *Session) Click(ctx context.Context, x, y int, button sandbox.Button, double bool) error {
	opts := []chromedp.MouseOption{buttonOption(button)}
	if double {
		opts = append(opts, chromedp.ClickCount(2))
	}
	return s.run(ctx, chromedp.MouseClickXY(float64(x), float64(y), opts...))
}

func buttonOption(b sandbox.Button) chromedp.MouseOption {
	switch b {
	case sandbox.ButtonRight:
		return chromedp.ButtonRight
	case sandbox.ButtonMiddle:
		return chromedp.ButtonMiddle
	default:
		return chromedp.ButtonLeft
	}
}

func (s *Session) SendText(ctx context.Context, text string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.InsertText(text).Do(ctx)
	}))
}

func (s *Session) SendKey(ctx context.Context, key string) error {
	k, err := translateKey(key)
	if err != nil {
		return err
	}
	return s.run(ctx, chromedp.KeyEvent(k))
}

// Launch navigates to the URL registered for app, or to app itself when it
// is already a URL.
func (s *Session) Launch(ctx context.Context, app string) error {
	target, ok := s.cfg.Apps[strings.ToLower(app)]
	if !ok {
		if !strings.Contains(app, "://") {
			return fmt.Errorf("unknown application %q", app)
		}
		target = app
	}
	s.logger.Debug("Launching", zap.String("app", app), zap.String("url", target))
	return s.run(ctx, chromedp.Navigate(target))
}

func (s *Session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := chromedp.Cancel(s.tabCtx)
	s.tabCancel()
	s.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	s.logger.Info("Browser session closed")
	return nil
}

func init() {
	sandbox.RegisterBackend("chromium", func(cfg config.SandboxConfig, logger *zap.Logger) (sandbox.Provider, error) {
		return New(cfg.Chromium, logger), nil
	})
}
