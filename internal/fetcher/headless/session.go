package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/headless-fetch/internal/browser"
	"github.com/JakeFAU/headless-fetch/internal/metrics"
)

// ErrSessionClosed is returned by Browser after Close.
var ErrSessionClosed = errors.New("browser session closed")

// LaunchOptions derives the browser launch options from cfg: always headless,
// certificate errors ignored when configured, and a --proxy-server switch only
// when the proxy is enabled.
func LaunchOptions(cfg Config) browser.LaunchOptions {
	opts := browser.LaunchOptions{
		Headless:          true,
		IgnoreHTTPSErrors: cfg.IgnoreInvalidSSL,
		UserAgent:         cfg.UserAgent,
	}
	if arg := cfg.Proxy.LaunchArg(); arg != "" {
		opts.Args = append(opts.Args, arg)
	}
	return opts
}

// Session lazily launches one browser and hands the same handle, or the same
// launch error, to every caller.
type Session struct {
	launcher browser.Launcher
	opts     browser.LaunchOptions
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	start   sync.Once
	ready   chan struct{}
	browser browser.Browser
	err     error

	mu     sync.Mutex
	closed bool
}

// NewSession creates a Session. Nothing is launched until the first Browser call.
func NewSession(launcher browser.Launcher, opts browser.LaunchOptions, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		launcher: launcher,
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
	}
}

// Browser returns the shared browser, launching it on the first call. Callers
// arriving while the launch is in flight wait for it; ctx only bounds the
// caller's wait, never the launch itself. A launch failure is returned to every
// caller and is not retried.
func (s *Session) Browser(ctx context.Context) (browser.Browser, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	s.start.Do(func() {
		go s.launch()
	})
	select {
	case <-s.ready:
		return s.browser, s.err
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for browser: %w", ctx.Err())
	}
}

func (s *Session) launch() {
	defer close(s.ready)
	s.logger.Info("launching browser",
		zap.Bool("ignore_https_errors", s.opts.IgnoreHTTPSErrors),
		zap.Bool("proxied", len(s.opts.Args) > 0),
	)
	if s.launcher == nil {
		s.err = errors.New("no browser launcher configured")
		return
	}
	b, err := s.launcher.Launch(s.ctx, s.opts)
	metrics.ObserveBrowserLaunch(err)
	if err != nil {
		s.err = fmt.Errorf("launch browser: %w", err)
		s.logger.Error("browser launch failed", zap.Error(err))
		return
	}
	s.browser = b
}

// Close shuts the browser down once it has launched. A launch still in flight
// is waited for so the process is not leaked.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.start.Do(func() {
		s.err = ErrSessionClosed
		close(s.ready)
	})
	<-s.ready
	defer s.cancel()
	if s.browser == nil {
		return nil
	}
	if err := s.browser.Close(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
