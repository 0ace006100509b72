package progress

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPublishLatestWins(t *testing.T) {
	pub := NewPublisher(NewMemoryStore())
	ctx := context.Background()

	pub.Publish(ctx, "job-1", Snapshot{Stage: "summary", Message: "generating summary"})
	pub.Publish(ctx, "job-1", Snapshot{Stage: "section_images", Step: 3, TotalSteps: 7, Message: "image 3 of 7"})

	snap, ok := pub.Peek("job-1")
	if !ok {
		t.Fatal("expected a snapshot")
	}
	if snap.Stage != "section_images" || snap.Step != 3 {
		t.Fatalf("expected latest snapshot to win, got %+v", snap)
	}
}

func TestPeekDurableSurvivesFreshPublisher(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	pub := NewPublisher(store)
	pub.Publish(ctx, "job-1", Snapshot{Stage: "completed", Complete: true})

	// A new publisher over the same store simulates a process restart.
	fresh := NewPublisher(store)
	if _, ok := fresh.Peek("job-1"); ok {
		t.Fatal("ephemeral map should be empty after restart")
	}
	snap, ok, err := fresh.Resolve(ctx, "job-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !ok || !snap.Complete {
		t.Fatalf("expected durable fallback to recover terminal snapshot, got %+v ok=%v", snap, ok)
	}
}

type failingStore struct{}

func (failingStore) Upsert(ctx context.Context, jobID string, snap Snapshot) error {
	return errors.New("db down")
}

func (failingStore) Get(ctx context.Context, jobID string) (Snapshot, bool, error) {
	return Snapshot{}, false, errors.New("db down")
}

func TestDurableFailureDoesNotFailPublish(t *testing.T) {
	pub := NewPublisher(failingStore{})
	pub.Publish(context.Background(), "job-1", Snapshot{Stage: "summary"})

	snap, ok := pub.Peek("job-1")
	if !ok || snap.Stage != "summary" {
		t.Fatalf("ephemeral snapshot should be written despite durable failure, got %+v ok=%v", snap, ok)
	}
}

func TestSnapshotTerminal(t *testing.T) {
	if (Snapshot{Stage: "summary"}).Terminal() {
		t.Fatal("in-progress snapshot should not be terminal")
	}
	if !(Snapshot{Complete: true}).Terminal() {
		t.Fatal("complete snapshot should be terminal")
	}
	if !(Snapshot{Error: "provider_error"}).Terminal() {
		t.Fatal("error snapshot should be terminal")
	}
}

func TestPollLimiterWindow(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewPollLimiter(time.Second, func() time.Time { return now })

	if !limiter.Allow("user-1", "job-1") {
		t.Fatal("first poll should be allowed")
	}
	if limiter.Allow("user-1", "job-1") {
		t.Fatal("immediate re-poll should be throttled")
	}
	if !limiter.Allow("user-1", "job-2") {
		t.Fatal("different job should not be throttled")
	}

	now = now.Add(1100 * time.Millisecond)
	if !limiter.Allow("user-1", "job-1") {
		t.Fatal("poll after window should be allowed")
	}
}
