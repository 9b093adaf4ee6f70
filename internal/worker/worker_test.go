package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"todo-tracker/internal/logging"
	"todo-tracker/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemover struct {
	mu      sync.Mutex
	removed []string
	fail    error
}

func (f *fakeRemover) Remove(ctx context.Context, publicID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.removed = append(f.removed, publicID)
	return nil
}

func (f *fakeRemover) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func startWorker(t *testing.T, client *redis.Client, register func(w *Worker)) *Worker {
	t.Helper()
	w := NewWorker(WorkerConfig{
		RedisClient:  client,
		PollInterval: time.Second,
		RetryBackoff: time.Millisecond,
		Logger:       logging.Discard(),
	})
	register(w)
	w.Start(2)
	t.Cleanup(w.Stop)
	return w
}

func TestJobQueue_CleanupAttachmentsEnqueuesJob(t *testing.T) {
	mr, client := setupRedis(t)
	queue := NewJobQueue(client, 3)
	owner := uuid.Must(uuid.NewV4())

	err := queue.CleanupAttachments(context.Background(), owner, []models.Attachment{
		{PublicID: "a.png"}, {PublicID: "b.pdf"},
	})
	require.NoError(t, err)

	size, err := queue.GetQueueSize(context.Background(), DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	items, err := mr.List(DefaultQueue)
	require.NoError(t, err)
	var job Job
	require.NoError(t, json.Unmarshal([]byte(items[0]), &job))
	assert.Equal(t, JobTypeAttachmentCleanup, job.Type)
	assert.Equal(t, 3, job.MaxTries)

	var payload AttachmentCleanupPayload
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, owner, payload.OwnerID)
	assert.Equal(t, []string{"a.png", "b.pdf"}, payload.PublicIDs)
}

func TestJobQueue_NothingToClean(t *testing.T) {
	mr, client := setupRedis(t)
	queue := NewJobQueue(client, 3)

	require.NoError(t, queue.CleanupAttachments(context.Background(), uuid.Must(uuid.NewV4()), nil))
	assert.False(t, mr.Exists(DefaultQueue))
}

func TestWorker_RemovesAttachments(t *testing.T) {
	_, client := setupRedis(t)
	remover := &fakeRemover{}
	startWorker(t, client, func(w *Worker) {
		w.RegisterHandler(JobTypeAttachmentCleanup, AttachmentCleanupHandler(remover, logging.Discard()))
	})

	queue := NewJobQueue(client, 3)
	require.NoError(t, queue.CleanupAttachments(context.Background(), uuid.Must(uuid.NewV4()), []models.Attachment{
		{PublicID: "one.jpg"}, {PublicID: "two.jpg"},
	}))

	require.Eventually(t, func() bool { return len(remover.Removed()) == 2 }, 5*time.Second, 20*time.Millisecond)
	assert.ElementsMatch(t, []string{"one.jpg", "two.jpg"}, remover.Removed())
}

func TestWorker_FailingJobEndsInDeadQueue(t *testing.T) {
	mr, client := setupRedis(t)
	remover := &fakeRemover{fail: errors.New("disk on fire")}
	startWorker(t, client, func(w *Worker) {
		w.RegisterHandler(JobTypeAttachmentCleanup, AttachmentCleanupHandler(remover, logging.Discard()))
	})

	queue := NewJobQueue(client, 2)
	require.NoError(t, queue.CleanupAttachments(context.Background(), uuid.Must(uuid.NewV4()), []models.Attachment{{PublicID: "x.png"}}))

	require.Eventually(t, func() bool { return mr.Exists(DeadQueue) }, 5*time.Second, 20*time.Millisecond)

	items, err := mr.List(DeadQueue)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var dead deadJob
	require.NoError(t, json.Unmarshal([]byte(items[0]), &dead))
	assert.Equal(t, 2, dead.OriginalJob.Attempts)
	assert.Contains(t, dead.Error, "disk on fire")
}

func TestWorker_UnknownJobTypeIsDeadLettered(t *testing.T) {
	mr, client := setupRedis(t)
	startWorker(t, client, func(w *Worker) {})

	queue := NewJobQueue(client, 3)
	_, err := queue.Enqueue(context.Background(), DefaultQueue, JobType("mystery"), map[string]string{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return mr.Exists(DeadQueue) }, 5*time.Second, 20*time.Millisecond)
	items, err := mr.List(DeadQueue)
	require.NoError(t, err)
	assert.Contains(t, items[0], "no handler registered")
}

func TestWorker_DelayedJobWaits(t *testing.T) {
	_, client := setupRedis(t)
	remover := &fakeRemover{}
	startWorker(t, client, func(w *Worker) {
		w.RegisterHandler(JobTypeAttachmentCleanup, AttachmentCleanupHandler(remover, logging.Discard()))
	})

	queue := NewJobQueue(client, 3)
	payload := AttachmentCleanupPayload{PublicIDs: []string{"later.png"}}
	_, err := queue.EnqueueAt(context.Background(), DefaultQueue, JobTypeAttachmentCleanup, payload, time.Now().Add(700*time.Millisecond))
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, remover.Removed())
	require.Eventually(t, func() bool { return len(remover.Removed()) == 1 }, 5*time.Second, 20*time.Millisecond)
}
