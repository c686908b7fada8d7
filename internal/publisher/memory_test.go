package publisher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := NewMemory()
	id1, err := pub.Publish(context.Background(), "scan-events", ScanEvent{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "scan-events", ScanEvent{RunID: "run-2"})
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "run-1", msgs[0].Payload.(ScanEvent).RunID)

	msgs[0].Topic = "modified"
	assert.Equal(t, "scan-events", pub.Messages()[0].Topic)
}
