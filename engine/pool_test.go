package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestWorkerPool_ProcessesAllItems(t *testing.T) {
	in := make(chan Item[int], 5)
	out := make(chan Outcome[int], 5)
	for i := 0; i < 5; i++ {
		in <- Item[int]{Index: uint64(i), Payload: i * 2}
	}
	close(in)

	pool := NewWorkerPool(3, func(ctx context.Context, item Item[int]) Outcome[int] {
		return Outcome[int]{Index: item.Index, Kind: OutcomeSuccess, Value: item.Payload}
	})

	g, ctx := errgroup.WithContext(context.Background())
	pool.Run(ctx, g, in, out, nil)

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("g.Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker pool")
	}
	close(out)

	got := make(map[uint64]int)
	for o := range out {
		got[o.Index] = o.Value
	}
	if len(got) != 5 {
		t.Fatalf("got %d outcomes, want 5", len(got))
	}
	for i := 0; i < 5; i++ {
		if got[uint64(i)] != i*2 {
			t.Errorf("outcome[%d] = %d, want %d", i, got[uint64(i)], i*2)
		}
	}
}

func TestWorkerPool_CallsOnIdleWhenChannelEmpty(t *testing.T) {
	in := make(chan Item[int])
	out := make(chan Outcome[int], 1)

	var idleCalls atomic.Int32
	pool := NewWorkerPool(1, func(ctx context.Context, item Item[int]) Outcome[int] {
		return Outcome[int]{Index: item.Index, Kind: OutcomeSuccess}
	})

	g, ctx := errgroup.WithContext(context.Background())
	pool.Run(ctx, g, in, out, func() { idleCalls.Add(1) })

	deadline := time.After(time.Second)
	for idleCalls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("onIdle was never called while input was empty")
		case <-time.After(time.Millisecond):
		}
	}

	close(in)
	select {
	case err := <-waitFor(g):
		if err != nil {
			t.Fatalf("g.Wait() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pool shutdown")
	}
}

func waitFor(g *errgroup.Group) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- g.Wait() }()
	return ch
}

func TestWorkerPool_StopsOnContextCancellation(t *testing.T) {
	in := make(chan Item[int])
	out := make(chan Outcome[int])

	pool := NewWorkerPool(2, func(ctx context.Context, item Item[int]) Outcome[int] {
		return Outcome[int]{Index: item.Index, Kind: OutcomeSuccess}
	})

	g, ctx := errgroup.WithContext(context.Background())
	cancelCtx, cancel := context.WithCancel(ctx)
	pool.Run(cancelCtx, g, in, out, nil)

	cancel()

	select {
	case <-waitFor(g):
	case <-time.After(time.Second):
		t.Fatal("workers did not stop after context cancellation")
	}
}
