package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id, err := pub.Publish(context.Background(), "jobs.completed", map[string]string{"job_id": "j1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	id, err = pub.Publish(context.Background(), "jobs.failed", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "jobs.completed", msgs[0].Topic)
	require.Equal(t, "jobs.failed", msgs[1].Topic)

	// Messages returns a copy
	msgs[0].Topic = "mutated"
	require.Equal(t, "jobs.completed", pub.Messages()[0].Topic)
}
