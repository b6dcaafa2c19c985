package sinks

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/headless-fetch/internal/crawler"
	"github.com/JakeFAU/headless-fetch/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	clientErr := progress.New(progress.KindFetchClientError, uuid.New(), crawler.QueueItem{ID: 2, URL: "https://x.test/"})
	clientErr.Err = errors.New("net::ERR_NAME_NOT_RESOLVED")
	complete := progress.New(progress.KindFetchComplete, uuid.New(), crawler.QueueItem{ID: 3})
	complete.Response = &crawler.Response{StatusCode: 200}

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{clientErr, complete}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, "fetchclienterror", entries[0].ContextMap()["kind"])
	require.Equal(t, zapcore.InfoLevel, entries[1].Level)
	require.EqualValues(t, 200, entries[1].ContextMap()["code"])
}
