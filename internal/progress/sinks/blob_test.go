package sinks

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/headless-fetch/internal/crawler"
	"github.com/JakeFAU/headless-fetch/internal/progress"
	"github.com/JakeFAU/headless-fetch/internal/storage/memory"
)

func TestBlobSinkStoresCompletedBodies(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	var saved []string
	sink := NewBlobSink(store, nil, WithPrefix("/bodies/"), WithSaveHook(func(_ progress.Event, uri string) {
		saved = append(saved, uri)
	}))

	cycle := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	item := crawler.QueueItem{ID: 9, Host: "example.com"}
	complete := progress.New(progress.KindFetchComplete, cycle, item)
	complete.Response = &crawler.Response{StatusCode: 200, ContentType: "text/html"}
	complete.Body = "<html>ok</html>"
	headers := progress.New(progress.KindFetchHeaders, cycle, item)
	headers.Response = complete.Response

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{headers, complete}))

	path := "bodies/example.com/9/11111111-2222-3333-4444-555555555555.html"
	require.Equal(t, path, sink.ObjectPath(complete))
	require.Equal(t, []string{path}, store.Paths())
	obj, ok := store.Get(path)
	require.True(t, ok)
	require.Equal(t, "<html>ok</html>", string(obj.Data))
	require.Equal(t, "text/html", obj.ContentType)
	require.Equal(t, []string{"memory://" + path}, saved)
}

func TestBlobSinkReturnsStoreErrors(t *testing.T) {
	t.Parallel()

	sink := NewBlobSink(failingStore{}, nil)
	evt := progress.New(progress.KindFetchComplete, uuid.New(), crawler.QueueItem{ID: 1})
	evt.Response = &crawler.Response{}
	require.Error(t, sink.Consume(context.Background(), []progress.Event{evt}))
	require.Equal(t, "unknown/1/"+evt.CycleID.String()+".html", sink.ObjectPath(evt))
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}
