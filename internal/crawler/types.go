package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/headless-fetch/internal/browser"
)

// Status is the fetch lifecycle state of a queue item.
type Status string

// Queue item status values.
const (
	StatusQueued     Status = "queued"
	StatusSpooled    Status = "spooled"
	StatusDownloaded Status = "downloaded"
	StatusTimeout    Status = "timeout"
	StatusFailed     Status = "failed"
)

// ClientErrorCode is the synthetic status code recorded when a fetch failed
// without a real HTTP status.
const ClientErrorCode = 600

// Sentinel errors returned by queue stores.
var (
	ErrItemNotFound = errors.New("queue item not found")
	ErrQueueEmpty   = errors.New("no queued items")
)

// Terminal reports whether s ends a fetch cycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusDownloaded, StatusTimeout, StatusFailed:
		return true
	default:
		return false
	}
}

// StateData carries fetch metadata recorded on a queue item. Its JSON form
// stores latencies in milliseconds.
type StateData struct {
	RequestLatency time.Duration
	// RequestTime mirrors RequestLatency for older consumers.
	RequestTime   time.Duration
	ContentLength int64
	ContentType   string
	Code          int
	Headers       http.Header
}

// stateDataJSON is the stored form of StateData. Latencies are whole
// milliseconds.
type stateDataJSON struct {
	RequestLatency int64       `json:"requestLatency,omitempty"`
	RequestTime    int64       `json:"requestTime,omitempty"`
	ContentLength  int64       `json:"contentLength,omitempty"`
	ContentType    string      `json:"contentType,omitempty"`
	Code           int         `json:"code,omitempty"`
	Headers        http.Header `json:"headers,omitempty"`
}

// MarshalJSON encodes latencies as milliseconds.
func (s StateData) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateDataJSON{
		RequestLatency: s.RequestLatency.Milliseconds(),
		RequestTime:    s.RequestTime.Milliseconds(),
		ContentLength:  s.ContentLength,
		ContentType:    s.ContentType,
		Code:           s.Code,
		Headers:        s.Headers,
	})
}

// UnmarshalJSON decodes latencies stored as milliseconds.
func (s *StateData) UnmarshalJSON(data []byte) error {
	var raw stateDataJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode state data: %w", err)
	}
	*s = StateData{
		RequestLatency: time.Duration(raw.RequestLatency) * time.Millisecond,
		RequestTime:    time.Duration(raw.RequestTime) * time.Millisecond,
		ContentLength:  raw.ContentLength,
		ContentType:    raw.ContentType,
		Code:           raw.Code,
		Headers:        raw.Headers,
	}
	return nil
}

// Merge returns s with every non-zero field of patch applied.
func (s StateData) Merge(patch StateData) StateData {
	if patch.RequestLatency != 0 {
		s.RequestLatency = patch.RequestLatency
	}
	if patch.RequestTime != 0 {
		s.RequestTime = patch.RequestTime
	}
	if patch.ContentLength != 0 {
		s.ContentLength = patch.ContentLength
	}
	if patch.ContentType != "" {
		s.ContentType = patch.ContentType
	}
	if patch.Code != 0 {
		s.Code = patch.Code
	}
	if patch.Headers != nil {
		s.Headers = patch.Headers.Clone()
	}
	return s
}

// QueueItem is a URL tracked by the work queue.
type QueueItem struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Host      string    `json:"host"`
	Status    Status    `json:"status"`
	Fetched   bool      `json:"fetched"`
	StateData StateData `json:"stateData"`
}

// Update is a partial set of queue item fields. Zero-valued fields are left
// unchanged; StateData is merged field by field.
type Update struct {
	Status    Status
	Fetched   *bool
	StateData *StateData
}

// Apply returns item with the update applied.
func (u Update) Apply(item QueueItem) QueueItem {
	if u.Status != "" {
		item.Status = u.Status
	}
	if u.Fetched != nil {
		item.Fetched = *u.Fetched
	}
	if u.StateData != nil {
		item.StateData = item.StateData.Merge(*u.StateData)
	}
	return item
}

// Bool returns a pointer to v for use in Update.
func Bool(v bool) *bool {
	return &v
}

// Response is the normalized view of a navigation response.
type Response struct {
	StatusCode    int
	Headers       http.Header
	ContentLength int64
	ContentType   string
	// Req is the originating request; it is the same handle tracked in the
	// OpenRequestSet.
	Req *browser.Request
	Raw *browser.Response
}
