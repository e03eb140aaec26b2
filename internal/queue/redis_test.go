package queue

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisQueueWithClient(client)
}

func TestEnqueueDequeueOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue(%q): %v", id, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if got != want {
			t.Errorf("Dequeue = %q, want %q", got, want)
		}
	}
}

func TestDequeueEmpty(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got != "" {
		t.Errorf("Dequeue on empty queue = %q, want empty string", got)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue(%q): %v", id, err)
		}
	}
	if err := q.Remove(ctx, "b"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 2 {
		t.Errorf("Depth after remove = %d, want 2", depth)
	}

	first, _ := q.Dequeue(ctx)
	second, _ := q.Dequeue(ctx)
	if first != "a" || second != "c" {
		t.Errorf("remaining jobs = %q, %q, want a, c", first, second)
	}
}

func TestRemoveMissing(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Remove(ctx, "ghost"); err != nil {
		t.Fatalf("Remove of absent id should be a no-op, got %v", err)
	}
}

func TestDepth(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 0 {
		t.Errorf("Depth of empty queue = %d, want 0", depth)
	}

	q.Enqueue(ctx, "a")
	q.Enqueue(ctx, "b")
	depth, _ = q.Depth(ctx)
	if depth != 2 {
		t.Errorf("Depth = %d, want 2", depth)
	}
}
