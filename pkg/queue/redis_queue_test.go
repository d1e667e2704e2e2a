package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, job := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, job.ID, job.DocumentID, job.Kind); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["job_id"] != job.ID || got.Values["document_id"] != job.DocumentID || got.Values["kind"] != KindExtractText {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, job := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, job.ID, job.DocumentID, job.Kind); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}

	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestEnqueueRejectsUnknownKind(t *testing.T) {
	q := newQueue(t)
	if _, err := q.Enqueue(context.Background(), "doc-1", "transcode"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := q.Enqueue(context.Background(), "  ", KindProcess); err == nil {
		t.Fatal("expected error for blank document id")
	}
	job, err := q.Enqueue(context.Background(), "doc-1", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Kind != KindProcess || job.Status != StatusQueued {
		t.Fatalf("job = %+v, want queued process job", job)
	}
}

func TestStartRetriesUntilHandlerSucceeds(t *testing.T) {
	q := newQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		q.Wait()
	}()

	job, err := q.Enqueue(ctx, "doc-1", KindProcess)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var calls atomic.Int32
	q.Start(ctx, 1, func(_ context.Context, got JobStatus) error {
		if got.DocumentID != "doc-1" {
			t.Errorf("document id = %q, want doc-1", got.DocumentID)
		}
		if calls.Add(1) < 2 {
			return errors.New("redis hiccup")
		}
		return nil
	})

	final := waitForStatus(t, q, job.ID, StatusDone)
	if final.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", final.Attempts)
	}
	if final.ErrorMessage != "" {
		t.Fatalf("error message = %q, want empty", final.ErrorMessage)
	}
}

func TestStartMarksFailedAfterMaxAttempts(t *testing.T) {
	q := newQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		q.Wait()
	}()

	job, err := q.Enqueue(ctx, "doc-2", KindExtractText)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Start(ctx, 2, func(context.Context, JobStatus) error {
		return errors.New("store unavailable")
	})

	final := waitForStatus(t, q, job.ID, StatusFailed)
	if final.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", final.Attempts)
	}
	if final.ErrorMessage != "store unavailable" {
		t.Fatalf("error message = %q", final.ErrorMessage)
	}
	if final.Kind != KindExtractText {
		t.Fatalf("kind = %q, want %q", final.Kind, KindExtractText)
	}
}

func waitForStatus(t *testing.T, q *RedisJobQueue, jobID, status string) JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok, err := q.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if ok && job.Status == status {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _, _ := q.GetJob(context.Background(), jobID)
	t.Fatalf("job %s status = %q, want %q", jobID, job.Status, status)
	return JobStatus{}
}

func newQueue(t *testing.T) *RedisJobQueue {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:queue",
		Group:      "test-group",
		Consumer:   "consumer-1",
		Block:      20 * time.Millisecond,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, string, JobStatus) {
	t.Helper()

	q := newQueue(t)
	ctx := context.Background()
	q.ensureGroup(ctx)

	job, err := q.Enqueue(ctx, "doc-1", KindExtractText)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}

	return q, ctx, streams[0].Messages[0].ID, job
}
