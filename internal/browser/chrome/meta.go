package chrome

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/headless-fetch/internal/browser"
)

// responseMeta records the main-frame document request and response of the
// current navigation.
type responseMeta struct {
	mu       sync.RWMutex
	frameID  string
	requests map[network.RequestID]*browser.Request
	response *browser.Response
}

func newResponseMeta(frameID string) *responseMeta {
	return &responseMeta{
		frameID:  frameID,
		requests: make(map[network.RequestID]*browser.Request),
	}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[network.RequestID]*browser.Request)
	m.response = nil
}

func (m *responseMeta) isMainDocument(frameID string, typ network.ResourceType) bool {
	if typ != network.ResourceTypeDocument {
		return false
	}
	return m.frameID == "" || frameID == m.frameID
}

func (m *responseMeta) captureRequest(ev *network.EventRequestWillBeSent) {
	if ev.Request == nil || !m.isMainDocument(string(ev.FrameID), ev.Type) {
		return
	}
	req := &browser.Request{
		ID:      string(ev.RequestID),
		Method:  ev.Request.Method,
		URL:     ev.Request.URL,
		Headers: toHTTPHeader(ev.Request.Headers),
	}
	m.mu.Lock()
	m.requests[ev.RequestID] = req
	m.mu.Unlock()
}

func (m *responseMeta) captureResponse(ev *network.EventResponseReceived) {
	if ev.Response == nil || !m.isMainDocument(string(ev.FrameID), ev.Type) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[ev.RequestID]
	if !ok {
		req = &browser.Request{
			ID:      string(ev.RequestID),
			Method:  http.MethodGet,
			URL:     ev.Response.URL,
			Headers: toHTTPHeader(ev.Response.RequestHeaders),
		}
	}
	m.response = &browser.Response{
		Status:     int(ev.Response.Status),
		StatusText: ev.Response.StatusText,
		URL:        ev.Response.URL,
		Headers:    toHTTPHeader(ev.Response.Headers),
		Request:    req,
	}
}

func (m *responseMeta) snapshot() *browser.Response {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.response
}

// toHTTPHeader converts CDP headers. CDP joins repeated headers with newlines.
func toHTTPHeader(src network.Headers) http.Header {
	headers := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			for _, entry := range strings.Split(v, "\n") {
				headers.Add(key, entry)
			}
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}
