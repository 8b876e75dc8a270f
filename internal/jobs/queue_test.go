package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func openTestQueue(t *testing.T, opts QueueOptions) *Queue {
	t.Helper()
	q, err := OpenQueue(context.Background(), ":memory:", opts)
	if err != nil {
		t.Fatalf("OpenQueue failed: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueue_PublishClaimAck(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, QueueOptions{Visibility: time.Minute})

	if err := q.Publish(ctx, "job-1"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := q.Publish(ctx, "job-1"); err != nil {
		t.Fatalf("duplicate Publish failed: %v", err)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}

	jobs, err := q.BatchClaim(ctx, 10)
	if err != nil {
		t.Fatalf("BatchClaim failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].JobID != "job-1" || jobs[0].Attempts != 1 {
		t.Fatalf("BatchClaim = %+v", jobs)
	}

	// Claimed deliveries are invisible
	again, err := q.BatchClaim(ctx, 10)
	if err != nil {
		t.Fatalf("BatchClaim failed: %v", err)
	}
	if again == nil || len(again) != 0 {
		t.Errorf("second BatchClaim = %v, want empty non-nil slice", again)
	}

	if err := q.Ack(ctx, jobs[0].ID); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Errorf("Len after Ack = %d, want 0", n)
	}
}

func TestQueue_NackRedelivers(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, QueueOptions{Visibility: time.Hour})

	if err := q.Publish(ctx, "job-1"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	first, _ := q.BatchClaim(ctx, 1)
	if len(first) != 1 {
		t.Fatalf("expected a delivery, got %v", first)
	}
	if err := q.Nack(ctx, first[0].ID); err != nil {
		t.Fatalf("Nack failed: %v", err)
	}

	second, err := q.BatchClaim(ctx, 1)
	if err != nil {
		t.Fatalf("BatchClaim failed: %v", err)
	}
	if len(second) != 1 || second[0].Attempts != 2 {
		t.Errorf("redelivery = %+v, want attempts 2", second)
	}
}

func TestQueue_VisibilityTimeoutRedelivers(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, QueueOptions{Visibility: 20 * time.Millisecond})

	if err := q.Publish(ctx, "job-1"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if jobs, _ := q.BatchClaim(ctx, 1); len(jobs) != 1 {
		t.Fatalf("expected a delivery")
	}

	time.Sleep(40 * time.Millisecond)
	jobs, err := q.BatchClaim(ctx, 1)
	if err != nil {
		t.Fatalf("BatchClaim failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("expired delivery not redelivered")
	}
}

func TestQueue_RunBatchBoundsConcurrency(t *testing.T) {
	q := openTestQueue(t, QueueOptions{PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if err := q.Publish(ctx, id); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	seen := map[string]int{}
	failOnce := map[string]bool{"c": true}

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.RunBatch(ctx, 2, func(ctx context.Context, j *QueuedJob) error {
			mu.Lock()
			inFlight++
			maxInFlight = max(maxInFlight, inFlight)
			seen[j.JobID]++
			fail := failOnce[j.JobID]
			delete(failOnce, j.JobID)
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			if fail {
				return errors.New("transient")
			}
			return nil
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := q.Len(context.Background())
		if err == nil && n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue not drained, %d left", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if maxInFlight > 2 {
		t.Errorf("max in flight = %d, want <= 2", maxInFlight)
	}
	if seen["c"] != 2 {
		t.Errorf("job c handled %d times, want 2 (nack then redelivery)", seen["c"])
	}
	for _, id := range []string{"a", "b", "d", "e"} {
		if seen[id] != 1 {
			t.Errorf("job %s handled %d times, want 1", id, seen[id])
		}
	}
}

func TestQueue_MaxAttemptsDiscards(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, QueueOptions{PollInterval: 5 * time.Millisecond, MaxAttempts: 1})

	if err := q.Publish(ctx, "poison"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	calls := 0
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.RunBatch(runCtx, 1, func(context.Context, *QueuedJob) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return errors.New("always fails")
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if n, _ := q.Len(ctx); n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("poison job was not discarded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}
