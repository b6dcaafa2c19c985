// Package browser defines the browser-automation capability consumed by the
// fetch client: launch a browser, open pages, authenticate, navigate with a
// bounded wait, read the document, and close pages.
package browser

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrNoResponse is returned when a navigation settles without a main document response.
var ErrNoResponse = errors.New("navigation produced no response")

// Launcher starts browser processes.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is a running browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single browser tab.
type Page interface {
	// Authenticate sets HTTP basic credentials for subsequent navigations.
	// Passing nil disables authentication.
	Authenticate(ctx context.Context, creds *Credentials) error
	Goto(ctx context.Context, rawURL string, opts NavigateOptions) (*Response, error)
	Content(ctx context.Context) (string, error)
	Close() error
}

// LaunchOptions configure a browser process.
type LaunchOptions struct {
	Headless          bool
	IgnoreHTTPSErrors bool
	UserAgent         string
	// Args are raw command line switches such as "--proxy-server=http://host:3128".
	Args []string
}

// WaitUntil names the condition a navigation waits for before it resolves.
type WaitUntil string

// Supported navigation wait conditions.
const (
	WaitLoad        WaitUntil = "load"
	WaitNetworkIdle WaitUntil = "networkidle"
)

// NavigateOptions bound a navigation.
type NavigateOptions struct {
	Timeout   time.Duration
	WaitUntil WaitUntil
	// IdleInflight is the number of in-flight requests tolerated while the
	// network is considered idle.
	IdleInflight int
	// IdleTime is how long the network must stay idle.
	IdleTime time.Duration
}

// Credentials are HTTP basic authentication credentials.
type Credentials struct {
	Username string
	Password string
}

// Request is the request that produced a navigation response. Headers are the
// request headers as sent by the browser.
type Request struct {
	ID      string
	Method  string
	URL     string
	Headers http.Header
}

// Response is the main document response of a navigation.
type Response struct {
	Status     int
	StatusText string
	URL        string
	Headers    http.Header
	Request    *Request
}
