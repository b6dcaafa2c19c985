package sinks

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/headless-fetch/internal/progress"
)

// Publisher delivers a JSON payload with message attributes.
type Publisher interface {
	Publish(ctx context.Context, attrs map[string]string, payload any) (string, error)
}

// Outcome is the message published for a fetch event.
type Outcome struct {
	EventID       string    `json:"event_id"`
	CycleID       string    `json:"cycle_id"`
	Kind          string    `json:"kind"`
	ItemID        int64     `json:"item_id"`
	URL           string    `json:"url"`
	Host          string    `json:"host"`
	Status        string    `json:"status"`
	Code          int       `json:"code,omitempty"`
	ContentType   string    `json:"content_type,omitempty"`
	ContentLength int64     `json:"content_length,omitempty"`
	BodyBytes     int       `json:"body_bytes,omitempty"`
	TimeoutMS     int64     `json:"timeout_ms,omitempty"`
	Error         string    `json:"error,omitempty"`
	TS            time.Time `json:"ts"`
}

// NewOutcome summarizes evt. The page body itself is never included.
func NewOutcome(evt progress.Event) Outcome {
	out := Outcome{
		EventID:   evt.ID.String(),
		CycleID:   evt.CycleID.String(),
		Kind:      string(evt.Kind),
		ItemID:    evt.Item.ID,
		URL:       evt.Item.URL,
		Host:      evt.Item.Host,
		Status:    string(evt.Item.Status),
		Code:      evt.Item.StateData.Code,
		BodyBytes: len(evt.Body),
		TimeoutMS: evt.Timeout.Milliseconds(),
		Error:     evt.ErrorText(),
		TS:        evt.TS,
	}
	if evt.Response != nil {
		out.Code = evt.Response.StatusCode
		out.ContentType = evt.Response.ContentType
		out.ContentLength = evt.Response.ContentLength
	}
	return out
}

// PublishSink publishes an Outcome for terminal events and queue errors.
type PublishSink struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewPublishSink creates a PublishSink.
func NewPublishSink(publisher Publisher, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{publisher: publisher, logger: logger}
}

// Consume publishes each relevant event in order and stops at the first error.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if !evt.Kind.Terminal() && evt.Kind != progress.KindQueueError {
			continue
		}
		attrs := map[string]string{
			"kind":    string(evt.Kind),
			"host":    evt.Item.Host,
			"item_id": strconv.FormatInt(evt.Item.ID, 10),
		}
		id, err := s.publisher.Publish(ctx, attrs, NewOutcome(evt))
		if err != nil {
			return fmt.Errorf("publish %s for item %d: %w", evt.Kind, evt.Item.ID, err)
		}
		s.logger.Debug("published fetch outcome", zap.String("message_id", id), zap.String("kind", string(evt.Kind)))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
