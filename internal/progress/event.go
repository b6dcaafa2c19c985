package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/headless-fetch/internal/crawler"
	"github.com/JakeFAU/headless-fetch/internal/id"
)

// Kind names the outcome an Event reports.
type Kind string

// Event kinds emitted by the fetch client.
const (
	KindQueueError       Kind = "queueerror"
	KindFetchHeaders     Kind = "fetchheaders"
	KindFetchComplete    Kind = "fetchcomplete"
	KindFetchTimeout     Kind = "fetchtimeout"
	KindFetchClientError Kind = "fetchclienterror"
)

// Terminal reports whether k closes a fetch cycle for listeners that only
// care about final outcomes.
func (k Kind) Terminal() bool {
	switch k {
	case KindFetchComplete, KindFetchTimeout, KindFetchClientError:
		return true
	default:
		return false
	}
}

// Event is a single fetch lifecycle notification.
type Event struct {
	// ID uniquely identifies the event.
	ID uuid.UUID
	Kind Kind
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// CycleID groups the events of one fetch cycle.
	CycleID uuid.UUID
	// Item is the queue item as last seen by the client.
	Item crawler.QueueItem
	// Response is set for fetchheaders and fetchcomplete.
	Response *crawler.Response
	// Body is the serialized document for fetchcomplete.
	Body string
	// Timeout is the navigation timeout that elapsed for fetchtimeout.
	Timeout time.Duration
	// Err is set for queueerror and fetchclienterror.
	Err error
}

// New returns an event of kind k for item stamped with a fresh ID and the
// current time.
func New(kind Kind, cycleID uuid.UUID, item crawler.QueueItem) Event {
	return Event{
		ID:      id.New(),
		Kind:    kind,
		TS:      time.Now().UTC(),
		CycleID: cycleID,
		Item:    item,
	}
}

// Validate checks that the payload required by the event kind is present.
func (e Event) Validate() error {
	if e.ID == uuid.Nil {
		return errors.New("event id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindQueueError, KindFetchClientError:
		if e.Err == nil {
			return fmt.Errorf("%s requires an error", e.Kind)
		}
	case KindFetchHeaders, KindFetchComplete:
		if e.Response == nil {
			return fmt.Errorf("%s requires a response", e.Kind)
		}
	case KindFetchTimeout:
		if e.Timeout < 0 {
			return errors.New("timeout must be >= 0")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// ErrorText returns the event error message, or "" when there is none.
func (e Event) ErrorText() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
