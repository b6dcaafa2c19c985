package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/headless-fetch/internal/auth"
	"github.com/JakeFAU/headless-fetch/internal/browser"
	"github.com/JakeFAU/headless-fetch/internal/crawler"
	"github.com/JakeFAU/headless-fetch/internal/progress"
	"github.com/JakeFAU/headless-fetch/internal/queue/memory"
)

type harness struct {
	client   *Client
	store    *memory.Store
	queue    *flakyQueue
	launcher *fakeLauncher
	page     *fakePage
	auth     *auth.Store
	events   *recorder
	sizes    *[]int
	item     crawler.QueueItem
}

func newHarness(t *testing.T, page *fakePage) *harness {
	t.Helper()

	store := memory.NewStore()
	item, err := store.Add(context.Background(), "https://example.com")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		sizes []int
	)
	open := crawler.NewOpenRequestSet(func(n int) {
		mu.Lock()
		sizes = append(sizes, n)
		mu.Unlock()
	})
	h := &harness{
		store:    store,
		queue:    &flakyQueue{Store: store},
		launcher: &fakeLauncher{browser: &fakeBrowser{page: page}},
		page:     page,
		auth:     auth.NewStore(),
		events:   &recorder{},
		sizes:    &sizes,
		item:     item,
	}
	h.client, err = NewClient(Config{Timeout: 30 * time.Second}, Deps{
		Launcher: h.launcher,
		Queue:    h.queue,
		Auth:     h.auth,
		Open:     open,
		Events:   h.events,
	}, WithClock(&stepClock{now: time.Unix(1700000000, 0), step: 40 * time.Millisecond}))
	require.NoError(t, err)
	return h
}

func (h *harness) final(t *testing.T) crawler.QueueItem {
	t.Helper()
	item, err := h.store.Get(context.Background(), h.item.ID)
	require.NoError(t, err)
	return item
}

func okResponse() *browser.Response {
	return &browser.Response{
		Status: 200,
		URL:    "https://example.com/",
		Headers: http.Header{
			"Content-Length": {"512"},
			"Content-Type":   {"text/html"},
		},
		Request: &browser.Request{ID: "1", Method: http.MethodGet, URL: "https://example.com/"},
	}
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	page := &fakePage{response: okResponse(), body: "<html><body>hello</body></html>"}
	h := newHarness(t, page)

	h.client.Fetch(context.Background(), h.item)

	require.Equal(t, []progress.Kind{progress.KindFetchHeaders, progress.KindFetchComplete}, h.events.Kinds())
	final := h.final(t)
	require.Equal(t, crawler.StatusDownloaded, final.Status)
	require.True(t, final.Fetched)
	require.Equal(t, int64(512), final.StateData.ContentLength)
	require.Equal(t, 200, final.StateData.Code)
	require.Equal(t, "text/html", final.StateData.ContentType)
	require.Positive(t, final.StateData.RequestLatency)
	require.Equal(t, final.StateData.RequestLatency, final.StateData.RequestTime)

	events := h.events.Events()
	require.Same(t, page.response, events[0].Response.Raw)
	require.Equal(t, crawler.StatusSpooled, events[0].Item.Status, "headers are recorded before download completes")
	require.Equal(t, page.body, events[1].Body)
	require.Equal(t, crawler.StatusDownloaded, events[1].Item.Status)
	require.Equal(t, events[0].CycleID, events[1].CycleID)

	require.Equal(t, []int{1, 0}, *h.sizes, "request inserted once and removed once")
	require.Zero(t, h.client.Open().Len())
	require.Equal(t, 1, page.Closes())
	require.Equal(t, "https://example.com/", page.gotoURL)
	require.Equal(t, browser.NavigateOptions{
		Timeout:      30 * time.Second,
		WaitUntil:    browser.WaitNetworkIdle,
		IdleInflight: 0,
		IdleTime:     defaultIdleTime,
	}, page.gotoOpts)
	require.Empty(t, page.creds, "no auth registered")
}

func TestFetchRequestIsOpenWhileHandlingResponse(t *testing.T) {
	t.Parallel()

	page := &fakePage{response: okResponse()}
	h := newHarness(t, page)
	var openDuringCycle bool
	h.client.events = progress.Listeners{func(evt progress.Event) {
		if evt.Kind == progress.KindFetchHeaders {
			openDuringCycle = h.client.Open().Contains(evt.Response.Req)
		}
	}}

	h.client.Fetch(context.Background(), h.item)
	require.True(t, openDuringCycle)
	require.Zero(t, h.client.Open().Len())
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"deadline": fmt.Errorf("navigation timeout of 30000 ms exceeded: %w", context.DeadlineExceeded),
		"message":  errors.New("Navigation Timeout Exceeded: 30000ms exceeded"),
	}
	for name, gotoErr := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			page := &fakePage{gotoErr: gotoErr}
			h := newHarness(t, page)

			h.client.Fetch(context.Background(), h.item)

			require.Equal(t, []progress.Kind{progress.KindFetchTimeout}, h.events.Kinds())
			evt := h.events.Events()[0]
			require.Equal(t, 30*time.Second, evt.Timeout)
			require.Equal(t, crawler.StatusTimeout, evt.Item.Status)
			final := h.final(t)
			require.Equal(t, crawler.StatusTimeout, final.Status)
			require.True(t, final.Fetched)
			require.Zero(t, final.StateData.Code, "code left unset on timeout")
			require.Empty(t, *h.sizes, "open request set never touched")
			require.Equal(t, 1, page.Closes())
		})
	}
}

func TestFetchGenericError(t *testing.T) {
	t.Parallel()

	cause := errors.New("net::ERR_NAME_NOT_RESOLVED")
	page := &fakePage{gotoErr: cause}
	h := newHarness(t, page)

	h.client.Fetch(context.Background(), h.item)

	require.Equal(t, []progress.Kind{progress.KindFetchClientError}, h.events.Kinds())
	evt := h.events.Events()[0]
	require.ErrorIs(t, evt.Err, cause)
	final := h.final(t)
	require.Equal(t, crawler.StatusFailed, final.Status)
	require.True(t, final.Fetched)
	require.Equal(t, crawler.ClientErrorCode, final.StateData.Code)
	require.Empty(t, *h.sizes)
	require.Equal(t, 1, page.Closes())
}

func TestFetchNilResponseIsClientError(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	h := newHarness(t, page)

	h.client.Fetch(context.Background(), h.item)

	require.Equal(t, []progress.Kind{progress.KindFetchClientError}, h.events.Kinds())
	require.ErrorIs(t, h.events.Events()[0].Err, browser.ErrNoResponse)
	require.Equal(t, 1, page.Closes())
}

func TestFetchSpoolFailureAbortsCycle(t *testing.T) {
	t.Parallel()

	page := &fakePage{response: okResponse()}
	h := newHarness(t, page)
	h.queue.failOn = func(u crawler.Update) bool { return u.Status == crawler.StatusSpooled }

	h.client.Fetch(context.Background(), h.item)

	require.Equal(t, []progress.Kind{progress.KindQueueError}, h.events.Kinds())
	require.ErrorIs(t, h.events.Events()[0].Err, errQueueDown)
	require.Equal(t, crawler.StatusQueued, h.final(t).Status)
	require.Zero(t, h.launcher.launches.Load(), "browser not touched")
	require.Zero(t, page.Closes())
}

func TestHandleResponseStateDataFailureStillDownloads(t *testing.T) {
	t.Parallel()

	page := &fakePage{response: okResponse(), body: "<html></html>"}
	h := newHarness(t, page)
	h.queue.failOn = func(u crawler.Update) bool { return u.StateData != nil && u.Status == "" }

	h.client.Fetch(context.Background(), h.item)

	require.Equal(t, []progress.Kind{progress.KindQueueError, progress.KindFetchComplete}, h.events.Kinds())
	final := h.final(t)
	require.Equal(t, crawler.StatusDownloaded, final.Status)
	require.Zero(t, final.StateData.ContentLength)
	require.Zero(t, h.client.Open().Len())
	require.Equal(t, 1, page.Closes())
}

func TestHandleResponseDownloadedFailureStillCleansUp(t *testing.T) {
	t.Parallel()

	page := &fakePage{response: okResponse(), body: "<html></html>"}
	h := newHarness(t, page)
	h.queue.failOn = func(u crawler.Update) bool { return u.Status == crawler.StatusDownloaded }

	h.client.Fetch(context.Background(), h.item)

	require.Equal(t, []progress.Kind{progress.KindFetchHeaders, progress.KindQueueError}, h.events.Kinds())
	require.Equal(t, crawler.StatusSpooled, h.final(t).Status)
	require.Equal(t, []int{1, 0}, *h.sizes)
	require.Equal(t, 1, page.Closes())
}

func TestHandleResponseContentFailure(t *testing.T) {
	t.Parallel()

	readErr := errors.New("target closed")
	page := &fakePage{response: okResponse(), contentErr: readErr}
	h := newHarness(t, page)

	h.client.Fetch(context.Background(), h.item)

	require.Equal(t, []progress.Kind{progress.KindFetchHeaders, progress.KindFetchClientError}, h.events.Kinds())
	require.ErrorIs(t, h.events.Events()[1].Err, readErr)
	require.Equal(t, crawler.StatusDownloaded, h.final(t).Status)
	require.Zero(t, h.client.Open().Len())
	require.Equal(t, 1, page.Closes())
}

func TestHandleResponseBoundsDocumentRead(t *testing.T) {
	t.Parallel()

	page := &fakePage{response: okResponse(), blockContent: true}
	h := newHarness(t, page)
	h.client.cfg.Timeout = 50 * time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.client.Fetch(context.Background(), h.item)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not settle while the document read hung")
	}

	require.Equal(t, []progress.Kind{progress.KindFetchHeaders, progress.KindFetchClientError}, h.events.Kinds())
	require.ErrorIs(t, h.events.Events()[1].Err, context.DeadlineExceeded)
	require.Equal(t, crawler.StatusDownloaded, h.final(t).Status)
	require.Equal(t, []int{1, 0}, *h.sizes, "request removed after the read gave up")
	require.Zero(t, h.client.Open().Len())
	require.Equal(t, 1, page.Closes())
}

func TestFetchErrorPathEmitsEvenWhenUpdateFails(t *testing.T) {
	t.Parallel()

	page := &fakePage{gotoErr: errors.New("net::ERR_CONNECTION_RESET")}
	h := newHarness(t, page)
	h.queue.failOn = func(u crawler.Update) bool { return u.Status == crawler.StatusFailed }

	h.client.Fetch(context.Background(), h.item)

	require.Equal(t, []progress.Kind{progress.KindQueueError, progress.KindFetchClientError}, h.events.Kinds())
	require.Equal(t, crawler.StatusSpooled, h.events.Events()[1].Item.Status)
	require.Equal(t, 1, page.Closes())
}

func TestFetchTimeoutPathUpdateFailure(t *testing.T) {
	t.Parallel()

	page := &fakePage{gotoErr: context.DeadlineExceeded}
	h := newHarness(t, page)
	h.queue.failOn = func(u crawler.Update) bool { return u.Status == crawler.StatusTimeout }

	h.client.Fetch(context.Background(), h.item)

	require.Equal(t, []progress.Kind{progress.KindQueueError}, h.events.Kinds())
	require.Equal(t, 1, page.Closes())
}

func TestFetchLaunchFailure(t *testing.T) {
	t.Parallel()

	page := &fakePage{response: okResponse()}
	h := newHarness(t, page)
	launchErr := errors.New("chrome not found")
	h.launcher.err = launchErr

	h.client.Fetch(context.Background(), h.item)
	second, err := h.store.Add(context.Background(), "https://example.com/2")
	require.NoError(t, err)
	h.client.Fetch(context.Background(), second)

	require.Equal(t, []progress.Kind{progress.KindFetchClientError, progress.KindFetchClientError}, h.events.Kinds())
	require.ErrorIs(t, h.events.Events()[0].Err, launchErr)
	require.Equal(t, crawler.StatusFailed, h.final(t).Status)
	require.Equal(t, int32(1), h.launcher.launches.Load(), "launch failure is not retried")

	_, err = h.client.Browser(context.Background())
	require.ErrorIs(t, err, launchErr)
	require.Zero(t, page.Closes())
}

func TestFetchNewPageFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakePage{})
	h.launcher.browser.pageErr = errors.New("too many tabs")

	h.client.Fetch(context.Background(), h.item)

	require.Equal(t, []progress.Kind{progress.KindFetchClientError}, h.events.Kinds())
	require.Equal(t, crawler.StatusFailed, h.final(t).Status)
}

func TestFetchRunsToCompletionAfterCancel(t *testing.T) {
	t.Parallel()

	page := &fakePage{response: okResponse(), body: "ok"}
	h := newHarness(t, page)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.client.Fetch(ctx, h.item)

	require.Equal(t, crawler.StatusDownloaded, h.final(t).Status)
}

func TestFetchConcurrentCyclesShareBrowser(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	launcher := &fakeLauncher{
		delay: 20 * time.Millisecond,
		browser: &fakeBrowser{newPage: func() browser.Page {
			return &fakePage{response: okResponse(), body: "ok"}
		}},
	}
	client, err := NewClient(Config{}, Deps{Launcher: launcher, Queue: store})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		item, err := store.Add(context.Background(), fmt.Sprintf("https://example.com/%d", i))
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.Fetch(context.Background(), item)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), launcher.launches.Load())
	require.Zero(t, client.Open().Len())
	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[crawler.Status]int{crawler.StatusDownloaded: 20}, counts)
	require.NoError(t, client.Close())
	require.Equal(t, int32(1), launcher.browser.closes.Load())
}

// mockPage records the credentials handed to the authentication step.
type mockPage struct {
	mock.Mock
	fakePage
}

func (m *mockPage) Authenticate(ctx context.Context, creds *browser.Credentials) error {
	args := m.Called(ctx, creds)
	return args.Error(0)
}

func TestFetchAppliesBasicAuth(t *testing.T) {
	t.Parallel()

	page := &mockPage{fakePage: fakePage{response: okResponse(), body: "secret page"}}
	page.On("Authenticate", mock.Anything, &browser.Credentials{Username: "alice", Password: "s3cret"}).
		Return(nil).Once()

	h := newHarness(t, &page.fakePage)
	h.launcher.browser.page = page
	h.auth.SetBasicAuth("example.com", "alice", "s3cret")

	h.client.Fetch(context.Background(), h.item)

	page.AssertExpectations(t)
	assert.Equal(t, crawler.StatusDownloaded, h.final(t).Status)
}

func TestFetchAuthenticateFailure(t *testing.T) {
	t.Parallel()

	authErr := errors.New("fetch domain unavailable")
	page := &mockPage{fakePage: fakePage{response: okResponse()}}
	page.On("Authenticate", mock.Anything, mock.Anything).Return(authErr).Once()

	h := newHarness(t, &page.fakePage)
	h.launcher.browser.page = page
	h.auth.SetBasicAuth("example.com", "alice", "s3cret")

	h.client.Fetch(context.Background(), h.item)

	page.AssertExpectations(t)
	require.Equal(t, []progress.Kind{progress.KindFetchClientError}, h.events.Kinds())
	require.ErrorIs(t, h.events.Events()[0].Err, authErr)
	final := h.final(t)
	require.Equal(t, crawler.StatusFailed, final.Status)
	require.Equal(t, crawler.ClientErrorCode, final.StateData.Code)
	require.Empty(t, page.gotoURL, "navigation never started")
	require.Empty(t, *h.sizes)
	require.Equal(t, 1, page.Closes())
}

func TestFetchIgnoresCertificateAuth(t *testing.T) {
	t.Parallel()

	page := &fakePage{response: okResponse()}
	h := newHarness(t, page)
	h.auth.SetX509Auth("example.com", "/certs/client.p12", "pw")

	h.client.Fetch(context.Background(), h.item)

	require.Empty(t, page.creds)
	require.Equal(t, crawler.StatusDownloaded, h.final(t).Status)
}

func TestIsTimeout(t *testing.T) {
	t.Parallel()

	require.True(t, IsTimeout(context.DeadlineExceeded))
	require.True(t, IsTimeout(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
	require.True(t, IsTimeout(errors.New("Navigation timeout of 30000 ms exceeded")))
	require.True(t, IsTimeout(errors.New("TIMEOUT")))
	require.False(t, IsTimeout(errors.New("net::ERR_CONNECTION_REFUSED")))
	require.False(t, IsTimeout(context.Canceled))
	require.False(t, IsTimeout(nil))
}

func TestNewClientValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, Deps{Queue: memory.NewStore()})
	require.Error(t, err)
	_, err = NewClient(Config{}, Deps{Launcher: &fakeLauncher{}})
	require.Error(t, err)

	c, err := NewClient(Config{}, Deps{Launcher: &fakeLauncher{}, Queue: memory.NewStore()})
	require.NoError(t, err)
	require.Equal(t, DefaultTimeout, c.Timeout())
}
