// Package chrome implements the browser capability on top of headless Chrome
// driven through chromedp.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/headless-fetch/internal/browser"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultIdleTime          = 500 * time.Millisecond
	defaultContentTimeout    = 30 * time.Second
)

// documentExpression serializes the root element without waiting for a
// selector to match.
const documentExpression = `document.documentElement ? document.documentElement.outerHTML : ""`

// Launcher starts Chrome processes through a chromedp exec allocator.
type Launcher struct {
	logger *zap.Logger
}

// NewLauncher creates a Launcher.
func NewLauncher(logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{logger: logger}
}

// Launch starts a browser process and waits until it accepts commands.
func (l *Launcher) Launch(_ context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	sugar := l.logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(sugar.Errorf))
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return &Browser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		userAgent:   opts.UserAgent,
		logger:      l.logger,
	}, nil
}

func allocatorOptions(opts browser.LaunchOptions) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if opts.IgnoreHTTPSErrors {
		out = append(out, chromedp.Flag("ignore-certificate-errors", true))
	}
	if opts.UserAgent != "" {
		out = append(out, chromedp.UserAgent(opts.UserAgent))
	}
	for _, arg := range opts.Args {
		name, value, ok := parseSwitch(arg)
		if !ok {
			continue
		}
		out = append(out, chromedp.Flag(name, value))
	}
	return out
}

// parseSwitch splits "--name=value" into its parts. A bare "--name" yields true.
func parseSwitch(arg string) (string, interface{}, bool) {
	trimmed := strings.TrimLeft(strings.TrimSpace(arg), "-")
	if trimmed == "" {
		return "", nil, false
	}
	name, value, found := strings.Cut(trimmed, "=")
	if !found {
		return name, true, true
	}
	return name, value, true
}

// Browser is a running Chrome process.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	userAgent   string
	logger      *zap.Logger
	closeOnce   sync.Once
	closeErr    error
}

// NewPage opens a new tab with the network domain enabled.
func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	actions := []chromedp.Action{network.Enable()}
	if b.userAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(b.userAgent))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		cancel()
		return nil, fmt.Errorf("new page: %w", err)
	}
	frameID := ""
	if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
		frameID = string(c.Target.TargetID)
	}
	p := &Page{
		ctx:      tabCtx,
		cancel:   cancel,
		idle:     newNetworkIdle(),
		meta:     newResponseMeta(frameID),
		attempts: make(map[fetch.RequestID]int),
		logger:   b.logger,
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)
	return p, nil
}

// Close shuts the browser process down.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = chromedp.Cancel(b.ctx)
		b.cancel()
		b.allocCancel()
	})
	if b.closeErr != nil && !errors.Is(b.closeErr, context.Canceled) {
		return fmt.Errorf("close browser: %w", b.closeErr)
	}
	return nil
}

// Page is a single Chrome tab.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	idle   *networkIdle
	meta   *responseMeta
	logger *zap.Logger

	mu       sync.Mutex
	creds    *browser.Credentials
	attempts map[fetch.RequestID]int

	closeOnce sync.Once
	closeErr  error
}

func (p *Page) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		p.idle.started(string(e.RequestID))
		p.meta.captureRequest(e)
	case *network.EventResponseReceived:
		p.meta.captureResponse(e)
	case *network.EventLoadingFinished:
		p.idle.finished(string(e.RequestID))
	case *network.EventLoadingFailed:
		p.idle.finished(string(e.RequestID))
	case *fetch.EventRequestPaused:
		go p.continueRequest(e.RequestID)
	case *fetch.EventAuthRequired:
		go p.answerChallenge(e.RequestID)
	}
}

func (p *Page) continueRequest(id fetch.RequestID) {
	if err := chromedp.Run(p.ctx, fetch.ContinueRequest(id)); err != nil {
		p.logger.Debug("continue paused request failed", zap.String("request_id", string(id)), zap.Error(err))
	}
}

func (p *Page) answerChallenge(id fetch.RequestID) {
	p.mu.Lock()
	creds := p.creds
	p.attempts[id]++
	attempt := p.attempts[id]
	p.mu.Unlock()

	response := &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseCancelAuth}
	if creds != nil && attempt == 1 {
		response = &fetch.AuthChallengeResponse{
			Response: fetch.AuthChallengeResponseResponseProvideCredentials,
			Username: creds.Username,
			Password: creds.Password,
		}
	}
	if err := chromedp.Run(p.ctx, fetch.ContinueWithAuth(id, response)); err != nil {
		p.logger.Debug("answer auth challenge failed", zap.String("request_id", string(id)), zap.Error(err))
	}
}

// Authenticate enables request interception so basic auth challenges are
// answered with creds. A nil creds disables interception.
func (p *Page) Authenticate(ctx context.Context, creds *browser.Credentials) error {
	p.mu.Lock()
	previous := p.creds
	p.creds = creds
	p.mu.Unlock()

	switch {
	case creds == nil && previous == nil:
		return nil
	case creds == nil:
		if err := p.run(ctx, fetch.Disable()); err != nil {
			return fmt.Errorf("disable authentication: %w", err)
		}
	default:
		if err := p.run(ctx, fetch.Enable().WithHandleAuthRequests(true)); err != nil {
			return fmt.Errorf("enable authentication: %w", err)
		}
	}
	return nil
}

// Goto navigates to rawURL and returns the main document response.
func (p *Page) Goto(ctx context.Context, rawURL string, opts browser.NavigateOptions) (*browser.Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	idleTime := opts.IdleTime
	if idleTime <= 0 {
		idleTime = defaultIdleTime
	}

	navCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	p.meta.reset()
	p.idle.reset()

	if err := chromedp.Run(navCtx, chromedp.Navigate(rawURL)); err != nil {
		return nil, navigationError(err, timeout)
	}
	if opts.WaitUntil == browser.WaitNetworkIdle {
		if err := p.idle.wait(navCtx, opts.IdleInflight, idleTime); err != nil {
			return nil, navigationError(err, timeout)
		}
	}
	resp := p.meta.snapshot()
	if resp == nil {
		return nil, browser.ErrNoResponse
	}
	return resp, nil
}

func navigationError(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("navigation timeout of %d ms exceeded: %w", timeout.Milliseconds(), err)
	}
	return fmt.Errorf("navigate: %w", err)
}

// Content returns the serialized document. Documents without an html root,
// such as XML feeds, are serialized from their root element. The read is
// bounded by ctx and by defaultContentTimeout.
func (p *Page) Content(ctx context.Context) (string, error) {
	readCtx, cancel := context.WithTimeout(ctx, defaultContentTimeout)
	defer cancel()
	var html string
	if err := p.run(readCtx, chromedp.Evaluate(documentExpression, &html)); err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return html, nil
}

// Close closes the tab. Subsequent calls return the first result.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = chromedp.Cancel(p.ctx)
		p.cancel()
	})
	if p.closeErr != nil && !errors.Is(p.closeErr, context.Canceled) {
		return fmt.Errorf("close page: %w", p.closeErr)
	}
	return nil
}

func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()
	return chromedp.Run(runCtx, actions...)
}

// forwardCancel cancels a chromedp task context when the caller's context ends.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
