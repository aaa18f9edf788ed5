package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueue(client, nil), mr
}

func TestEnqueueDequeue_MediaMirror(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	payload := MediaMirrorPayload{
		ThrowID:      uuid.New(),
		OwnerID:      uuid.New(),
		VideoRef:     "videos/o/a.mp4",
		ThumbnailRef: "thumbnails/o/a.jpg",
	}

	require.NoError(t, q.EnqueueMediaMirror(ctx, payload))
	n, err := q.Len(ctx, QueueMedia)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeMediaMirror, job.Type)
	assert.Equal(t, 0, job.Attempt)

	var got MediaMirrorPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, payload, got)
}

func TestDequeue_SkipsMalformedEntries(t *testing.T) {
	q, mr := newTestQueue(t)
	_, err := mr.RPush(QueueMedia, "{not json")
	require.NoError(t, err)

	job, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRetry_MovesToDLQAfterMaxRetries(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	job := &Job{ID: "job-1", Type: JobTypeMediaMirror, Payload: json.RawMessage(`{}`)}

	for i := 1; i < MaxRetries; i++ {
		require.NoError(t, q.Retry(ctx, job))
		assert.Equal(t, i, job.Attempt)
	}
	n, _ := q.Len(ctx, QueueMedia)
	assert.Equal(t, int64(MaxRetries-1), n)

	require.NoError(t, q.Retry(ctx, job))
	dlq, err := mr.List(QueueDLQ)
	require.NoError(t, err)
	require.Len(t, dlq, 1)

	var dead Job
	require.NoError(t, json.Unmarshal([]byte(dlq[0]), &dead))
	assert.Equal(t, "job-1", dead.ID)
	assert.Equal(t, MaxRetries, dead.Attempt)
}
