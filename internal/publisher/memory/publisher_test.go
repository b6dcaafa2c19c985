package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	attrs := map[string]string{"kind": "fetchcomplete"}
	id1, err := pub.Publish(context.Background(), attrs, "first")
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), nil, "second")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	attrs["kind"] = "changed"
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "fetchcomplete", msgs[0].Attributes["kind"])
	require.Equal(t, "second", msgs[1].Payload)

	msgs[0].Payload = "modified"
	require.Equal(t, "first", pub.Messages()[0].Payload)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("unavailable"))
	_, err := pub.Publish(context.Background(), nil, "x")
	require.EqualError(t, err, "unavailable")
	require.Empty(t, pub.Messages())
}
