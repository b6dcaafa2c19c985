// Package headless drives a browser through one fetch cycle per queue item:
// spool the item, navigate with a bounded network-idle wait, record the
// response on the queue, read the document, and report every outcome as an
// event.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/headless-fetch/internal/auth"
	"github.com/JakeFAU/headless-fetch/internal/browser"
	"github.com/JakeFAU/headless-fetch/internal/crawler"
	"github.com/JakeFAU/headless-fetch/internal/id"
	"github.com/JakeFAU/headless-fetch/internal/metrics"
	"github.com/JakeFAU/headless-fetch/internal/progress"
)

const (
	// DefaultTimeout bounds a navigation when Config.Timeout is unset.
	DefaultTimeout  = 30 * time.Second
	defaultIdleTime = 500 * time.Millisecond
	tracerName      = "github.com/JakeFAU/headless-fetch/internal/fetcher/headless"
)

var timeoutPattern = regexp.MustCompile(`(?i)timeout`)

// Config controls browser launch and navigation.
type Config struct {
	// Timeout bounds each navigation, including the network-idle wait. The
	// document read after a successful navigation gets its own Timeout.
	Timeout          time.Duration
	IdleTime         time.Duration
	IgnoreInvalidSSL bool
	UserAgent        string
	Proxy            browser.ProxyConfig
}

// AuthLookup resolves credentials by host.
type AuthLookup interface {
	GetAuthFor(domain string) (auth.Authentication, bool)
}

// Deps are the collaborators a Client drives.
type Deps struct {
	Launcher browser.Launcher
	Queue    crawler.Queue
	Auth     AuthLookup
	// Open is shared with the dispatcher, which reads its size for admission.
	Open   *crawler.OpenRequestSet
	Events progress.Emitter
}

// Client runs fetch cycles against a lazily launched, shared browser.
type Client struct {
	cfg     Config
	queue   crawler.Queue
	auth    AuthLookup
	open    *crawler.OpenRequestSet
	events  progress.Emitter
	session *Session
	logger  *zap.Logger
	clock   crawler.Clock
	tracer  trace.Tracer
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces the clock used for latency measurement.
func WithClock(clock crawler.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithTracer replaces the global tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// NewClient validates deps and creates a Client. The browser is not launched
// until the first fetch or Browser call.
func NewClient(cfg Config, deps Deps, opts ...Option) (*Client, error) {
	if deps.Launcher == nil {
		return nil, errors.New("browser launcher is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.IdleTime <= 0 {
		cfg.IdleTime = defaultIdleTime
	}
	metrics.Init()
	c := &Client{
		cfg:    cfg,
		queue:  deps.Queue,
		auth:   deps.Auth,
		open:   deps.Open,
		events: deps.Events,
		logger: zap.NewNop(),
		clock:  crawler.SystemClock{},
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.auth == nil {
		c.auth = auth.NewStore()
	}
	if c.open == nil {
		c.open = crawler.NewOpenRequestSet(metrics.SetOpenRequests)
	}
	if c.events == nil {
		c.events = progress.Discard
	}
	c.session = NewSession(deps.Launcher, LaunchOptions(cfg), c.logger)
	return c, nil
}

// Open returns the open request set the client inserts into and removes from.
func (c *Client) Open() *crawler.OpenRequestSet {
	return c.open
}

// Timeout returns the navigation bound reported in fetchtimeout events.
func (c *Client) Timeout() time.Duration {
	return c.cfg.Timeout
}

// Browser returns the shared browser, launching it if needed. Callers that
// want a launch failure to be fatal use this before dispatching work.
func (c *Client) Browser(ctx context.Context) (browser.Browser, error) {
	return c.session.Browser(ctx)
}

// Close shuts the shared browser down.
func (c *Client) Close() error {
	return c.session.Close()
}

type cycleKey struct{}

// WithCycleID attaches a fetch cycle id to ctx.
func WithCycleID(ctx context.Context, cycleID uuid.UUID) context.Context {
	return context.WithValue(ctx, cycleKey{}, cycleID)
}

// CycleID returns the fetch cycle id carried by ctx, or uuid.Nil.
func CycleID(ctx context.Context) uuid.UUID {
	cycleID, _ := ctx.Value(cycleKey{}).(uuid.UUID)
	return cycleID
}

// Fetch runs one fetch cycle for item. Outcomes are reported only through
// queue updates and events. The cycle runs to a terminal state even if ctx is
// cancelled; navigation is bounded by Config.Timeout.
func (c *Client) Fetch(ctx context.Context, item crawler.QueueItem) {
	ctx = context.WithoutCancel(ctx)
	if CycleID(ctx) == uuid.Nil {
		ctx = WithCycleID(ctx, id.New())
	}
	ctx, span := c.tracer.Start(ctx, "headless.Fetch", trace.WithAttributes(
		attribute.Int64("queue_item.id", item.ID),
		semconv.URLFull(item.URL),
		semconv.ServerAddress(item.Host),
	))
	defer span.End()
	logger := c.cycleLogger(ctx, item)

	spooled, err := c.queue.Update(ctx, item.ID, crawler.Update{Status: crawler.StatusSpooled})
	if err != nil {
		c.queueError(ctx, item, fmt.Errorf("spool: %w", err))
		span.SetStatus(codes.Error, "spool failed")
		return
	}
	item = spooled
	logger.Debug("spooled")

	b, err := c.session.Browser(ctx)
	if err != nil {
		c.handleError(ctx, item, nil, err)
		return
	}
	page, err := b.NewPage(ctx)
	if err != nil {
		c.handleError(ctx, item, nil, err)
		return
	}

	if creds := c.credentialsFor(item.Host); creds != nil {
		logger.Debug("applying basic auth", zap.String("username", creds.Username))
		if err := page.Authenticate(ctx, creds); err != nil {
			c.handleError(ctx, item, page, fmt.Errorf("authenticate: %w", err))
			return
		}
	}

	commenced := c.clock.Now()
	raw, err := page.Goto(ctx, item.URL, browser.NavigateOptions{
		Timeout:      c.cfg.Timeout,
		WaitUntil:    browser.WaitNetworkIdle,
		IdleInflight: 0,
		IdleTime:     c.cfg.IdleTime,
	})
	if err == nil && raw == nil {
		err = browser.ErrNoResponse
	}
	elapsed := c.clock.Now().Sub(commenced)
	if err != nil {
		if IsTimeout(err) {
			metrics.ObserveNavigation("timeout", elapsed)
			c.handleTimeout(ctx, item, page)
			return
		}
		metrics.ObserveNavigation("error", elapsed)
		c.handleError(ctx, item, page, err)
		return
	}
	metrics.ObserveNavigation("ok", elapsed)

	resp := NormalizeResponse(raw)
	if resp.Req == nil {
		resp.Req = &browser.Request{Method: http.MethodGet, URL: item.URL}
	}
	c.open.Add(resp.Req)
	c.HandleResponse(ctx, item, resp, commenced, page)
}

// credentialsFor returns basic credentials registered for host. Certificate
// entries are not applied at navigation time.
func (c *Client) credentialsFor(host string) *browser.Credentials {
	entry, ok := c.auth.GetAuthFor(host)
	if !ok {
		return nil
	}
	basic, ok := entry.(*auth.Basic)
	if !ok {
		return nil
	}
	return &browser.Credentials{Username: basic.Username, Password: basic.Password}
}

// HandleResponse records a successful navigation: it writes the response
// metadata to the queue and emits fetchheaders, then marks the item downloaded,
// reads the document, and emits fetchcomplete. A failed queue update emits
// queueerror and ends only its own branch. resp.Req must already be in the
// open request set; it is removed and the page closed before returning.
func (c *Client) HandleResponse(
	ctx context.Context,
	item crawler.QueueItem,
	resp *crawler.Response,
	commenced time.Time,
	page browser.Page,
) {
	defer c.cleanup(ctx, item, page, resp)

	latency := c.clock.Now().Sub(commenced)
	state := crawler.StateData{
		RequestLatency: latency,
		RequestTime:    latency,
		ContentLength:  resp.ContentLength,
		ContentType:    resp.ContentType,
		Code:           resp.StatusCode,
		Headers:        resp.Headers,
	}
	if updated, err := c.queue.Update(ctx, item.ID, crawler.Update{StateData: &state}); err != nil {
		c.queueError(ctx, item, fmt.Errorf("record response: %w", err))
	} else {
		item = updated
		evt := c.event(ctx, progress.KindFetchHeaders, item)
		evt.Response = resp
		c.emit(evt)
	}

	done, err := c.queue.Update(ctx, item.ID, crawler.Update{
		Status:  crawler.StatusDownloaded,
		Fetched: crawler.Bool(true),
	})
	if err != nil {
		c.queueError(ctx, item, fmt.Errorf("mark downloaded: %w", err))
		return
	}
	item = done
	metrics.ObserveFetchCycle(item.URL, string(crawler.StatusDownloaded))

	readCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	body, err := page.Content(readCtx)
	cancel()
	if err != nil {
		c.cycleLogger(ctx, item).Warn("read document failed", zap.Error(err))
		evt := c.event(ctx, progress.KindFetchClientError, item)
		evt.Err = fmt.Errorf("read document: %w", err)
		c.emit(evt)
		return
	}
	evt := c.event(ctx, progress.KindFetchComplete, item)
	evt.Body = body
	evt.Response = resp
	c.emit(evt)
	c.cycleLogger(ctx, item).Info("fetch complete",
		zap.Int("code", resp.StatusCode),
		zap.Duration("latency", latency),
		zap.Int("body_bytes", len(body)),
	)
}

func (c *Client) handleTimeout(ctx context.Context, item crawler.QueueItem, page browser.Page) {
	defer c.cleanup(ctx, item, page, nil)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("fetch.outcome", string(crawler.StatusTimeout)))

	updated, err := c.queue.Update(ctx, item.ID, crawler.Update{
		Status:  crawler.StatusTimeout,
		Fetched: crawler.Bool(true),
	})
	if err != nil {
		c.queueError(ctx, item, fmt.Errorf("mark timeout: %w", err))
		return
	}
	metrics.ObserveFetchCycle(updated.URL, string(crawler.StatusTimeout))
	c.cycleLogger(ctx, updated).Info("fetch timed out", zap.Duration("timeout", c.cfg.Timeout))
	evt := c.event(ctx, progress.KindFetchTimeout, updated)
	evt.Timeout = c.cfg.Timeout
	c.emit(evt)
}

// handleError marks the item failed with the client error code. The
// fetchclienterror event is emitted whether or not that update succeeds. page
// may be nil when the failure happened before a page was opened.
func (c *Client) handleError(ctx context.Context, item crawler.QueueItem, page browser.Page, cause error) {
	defer c.cleanup(ctx, item, page, nil)
	span := trace.SpanFromContext(ctx)
	span.RecordError(cause)
	span.SetStatus(codes.Error, "fetch failed")
	span.SetAttributes(attribute.String("fetch.outcome", string(crawler.StatusFailed)))

	updated, err := c.queue.Update(ctx, item.ID, crawler.Update{
		Status:    crawler.StatusFailed,
		Fetched:   crawler.Bool(true),
		StateData: &crawler.StateData{Code: crawler.ClientErrorCode},
	})
	if err != nil {
		c.queueError(ctx, item, fmt.Errorf("mark failed: %w", err))
	} else {
		item = updated
		metrics.ObserveFetchCycle(item.URL, string(crawler.StatusFailed))
	}
	c.cycleLogger(ctx, item).Warn("fetch failed", zap.Error(cause))
	evt := c.event(ctx, progress.KindFetchClientError, item)
	evt.Err = cause
	c.emit(evt)
}

// cleanup ends every fetch cycle. When resp is set its request must be in the
// open request set; a missing entry is a bookkeeping bug.
func (c *Client) cleanup(ctx context.Context, item crawler.QueueItem, page browser.Page, resp *crawler.Response) {
	logger := c.cycleLogger(ctx, item)
	if resp != nil {
		if err := c.open.Remove(resp.Req); err != nil {
			metrics.ObserveCleanupMismatch()
			logger.DPanic("open request set out of sync", zap.Error(err))
		}
	}
	if page == nil {
		return
	}
	if err := page.Close(); err != nil {
		logger.Warn("close page failed", zap.Error(err))
	}
}

func (c *Client) queueError(ctx context.Context, item crawler.QueueItem, err error) {
	metrics.ObserveQueueError()
	c.cycleLogger(ctx, item).Error("queue update failed", zap.Error(err))
	evt := c.event(ctx, progress.KindQueueError, item)
	evt.Err = err
	c.emit(evt)
}

func (c *Client) event(ctx context.Context, kind progress.Kind, item crawler.QueueItem) progress.Event {
	return progress.New(kind, CycleID(ctx), item)
}

func (c *Client) emit(evt progress.Event) {
	c.events.Emit(evt)
}

func (c *Client) cycleLogger(ctx context.Context, item crawler.QueueItem) *zap.Logger {
	return c.logger.With(
		zap.Int64("queue_item_id", item.ID),
		zap.String("url", item.URL),
		zap.String("host", item.Host),
		zap.Stringer("cycle_id", CycleID(ctx)),
		zap.String("status", string(item.Status)),
	)
}

// IsTimeout reports whether a navigation error is a timeout: either a deadline
// expiry or an error whose message mentions a timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || timeoutPattern.MatchString(err.Error())
}
