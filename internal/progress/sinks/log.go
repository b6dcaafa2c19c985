package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/headless-fetch/internal/progress"
)

// LogSink writes one structured log line per fetch event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("kind", string(evt.Kind)),
			zap.Stringer("cycle_id", evt.CycleID),
			zap.Int64("queue_item_id", evt.Item.ID),
			zap.String("url", evt.Item.URL),
			zap.String("status", string(evt.Item.Status)),
		}
		if evt.Response != nil {
			fields = append(fields,
				zap.Int("code", evt.Response.StatusCode),
				zap.Int64("content_length", evt.Response.ContentLength),
			)
		}
		if evt.Kind == progress.KindFetchComplete {
			fields = append(fields, zap.Int("body_bytes", len(evt.Body)))
		}
		if evt.Kind == progress.KindFetchTimeout {
			fields = append(fields, zap.Duration("timeout", evt.Timeout))
		}
		if evt.Err != nil {
			fields = append(fields, zap.Error(evt.Err))
		}
		s.logger.Log(levelFor(evt.Kind), "fetch event", fields...)
	}
	return nil
}

func levelFor(kind progress.Kind) zapcore.Level {
	switch kind {
	case progress.KindQueueError, progress.KindFetchClientError:
		return zapcore.WarnLevel
	case progress.KindFetchHeaders:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
