package headless

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/headless-fetch/internal/browser"
	"github.com/JakeFAU/headless-fetch/internal/crawler"
	"github.com/JakeFAU/headless-fetch/internal/progress"
	"github.com/JakeFAU/headless-fetch/internal/queue/memory"
)

type fakeLauncher struct {
	launches atomic.Int32
	delay    time.Duration
	err      error
	browser  *fakeBrowser
	gotOpts  browser.LaunchOptions
	mu       sync.Mutex
}

func (l *fakeLauncher) Launch(_ context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	l.launches.Add(1)
	l.mu.Lock()
	l.gotOpts = opts
	l.mu.Unlock()
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.browser, nil
}

func (l *fakeLauncher) Opts() browser.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gotOpts
}

type fakeBrowser struct {
	page    browser.Page
	newPage func() browser.Page
	pageErr error
	closes  atomic.Int32
}

func (b *fakeBrowser) NewPage(context.Context) (browser.Page, error) {
	if b.pageErr != nil {
		return nil, b.pageErr
	}
	if b.newPage != nil {
		return b.newPage(), nil
	}
	return b.page, nil
}

func (b *fakeBrowser) Close() error {
	b.closes.Add(1)
	return nil
}

type fakePage struct {
	mu         sync.Mutex
	creds      []*browser.Credentials
	gotoOpts   browser.NavigateOptions
	gotoURL    string
	response   *browser.Response
	gotoErr    error
	body       string
	contentErr error
	// blockContent makes Content wait until its context is done.
	blockContent bool
	closes       int
	// onGoto runs after navigation succeeds, before Goto returns.
	onGoto func()
}

func (p *fakePage) Authenticate(_ context.Context, creds *browser.Credentials) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = append(p.creds, creds)
	return nil
}

func (p *fakePage) Goto(_ context.Context, rawURL string, opts browser.NavigateOptions) (*browser.Response, error) {
	p.mu.Lock()
	p.gotoURL = rawURL
	p.gotoOpts = opts
	p.mu.Unlock()
	if p.gotoErr != nil {
		return nil, p.gotoErr
	}
	if p.onGoto != nil {
		p.onGoto()
	}
	return p.response, nil
}

func (p *fakePage) Content(ctx context.Context) (string, error) {
	if p.blockContent {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return p.body, p.contentErr
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePage) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// flakyQueue wraps a memory store and fails updates matched by failOn.
type flakyQueue struct {
	*memory.Store
	failOn func(crawler.Update) bool
}

var errQueueDown = errors.New("queue unavailable")

func (q *flakyQueue) Update(ctx context.Context, id int64, update crawler.Update) (crawler.QueueItem, error) {
	if q.failOn != nil && q.failOn(update) {
		return crawler.QueueItem{}, errQueueDown
	}
	return q.Store.Update(ctx, id, update)
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) Kinds() []progress.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Kind, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Kind)
	}
	return out
}

func (r *recorder) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

// stepClock advances by step on every Now call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}
