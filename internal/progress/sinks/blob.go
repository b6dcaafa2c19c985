package sinks

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/headless-fetch/internal/progress"
)

// BlobStore persists objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// BlobSink stores the body of every fetchcomplete event.
type BlobSink struct {
	store  BlobStore
	prefix string
	logger *zap.Logger
	onSave func(progress.Event, string)
}

// BlobOption customizes a BlobSink.
type BlobOption func(*BlobSink)

// WithPrefix places objects under prefix.
func WithPrefix(prefix string) BlobOption {
	return func(s *BlobSink) {
		s.prefix = strings.Trim(prefix, "/")
	}
}

// WithSaveHook registers fn to be called with the URI of each stored body.
func WithSaveHook(fn func(evt progress.Event, uri string)) BlobOption {
	return func(s *BlobSink) {
		s.onSave = fn
	}
}

// NewBlobSink creates a BlobSink writing to store.
func NewBlobSink(store BlobStore, logger *zap.Logger, opts ...BlobOption) *BlobSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &BlobSink{store: store, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ObjectPath returns the object path used for evt's body:
// [prefix/]host/<item id>/<cycle id>.html
func (s *BlobSink) ObjectPath(evt progress.Event) string {
	host := evt.Item.Host
	if host == "" {
		host = "unknown"
	}
	p := fmt.Sprintf("%s/%d/%s.html", host, evt.Item.ID, evt.CycleID)
	if s.prefix != "" {
		p = s.prefix + "/" + p
	}
	return p
}

// Consume writes each fetchcomplete body. The first failure aborts the batch.
func (s *BlobSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Kind != progress.KindFetchComplete {
			continue
		}
		contentType := "text/html; charset=utf-8"
		if evt.Response != nil && evt.Response.ContentType != "" {
			contentType = evt.Response.ContentType
		}
		uri, err := s.store.PutObject(ctx, s.ObjectPath(evt), contentType, strings.NewReader(evt.Body))
		if err != nil {
			return fmt.Errorf("store body for item %d: %w", evt.Item.ID, err)
		}
		s.logger.Debug("stored page body",
			zap.Int64("queue_item_id", evt.Item.ID),
			zap.String("uri", uri),
			zap.Int("bytes", len(evt.Body)),
		)
		if s.onSave != nil {
			s.onSave(evt, uri)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *BlobSink) Close(context.Context) error {
	return nil
}
