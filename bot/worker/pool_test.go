package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolConcurrencyLimit(t *testing.T) {
	pool := New(2)
	defer func() {
		_ = pool.Shutdown(context.Background())
	}()

	var current int32
	var max int32

	work := func() {
		val := atomic.AddInt32(&current, 1)
		for {
			prev := atomic.LoadInt32(&max)
			if val <= prev {
				break
			}
			if atomic.CompareAndSwapInt32(&max, prev, val) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&current, -1)
	}

	for i := 0; i < 4; i++ {
		if err := pool.Submit(work); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	_ = pool.Shutdown(context.Background())
	if max > 2 {
		t.Fatalf("expected max concurrency <= 2, got %d", max)
	}
}

func TestPoolSubmitAfterShutdown(t *testing.T) {
	pool := New(1)
	_ = pool.Shutdown(context.Background())
	if err := pool.Submit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolSubmitWait(t *testing.T) {
	pool := New(1)
	defer func() {
		_ = pool.Shutdown(context.Background())
	}()

	wantErr := errors.New("task error")
	if err := pool.SubmitWait(func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("expected task error back, got %v", err)
	}
	if err := pool.SubmitWait(nil); err != nil {
		t.Fatalf("nil task: %v", err)
	}
}

func TestPoolShutdownDrainsTasks(t *testing.T) {
	pool := New(2)

	var done int32
	for i := 0; i < 6; i++ {
		_ = pool.Submit(func() {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&done, 1)
		})
	}

	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := atomic.LoadInt32(&done); got != 6 {
		t.Fatalf("expected all tasks drained, got %d", got)
	}
}

func TestPoolSize(t *testing.T) {
	pool := New(3)
	defer func() {
		_ = pool.Shutdown(context.Background())
	}()
	if pool.Size() != 3 {
		t.Fatalf("size = %d", pool.Size())
	}

	tiny := New(0)
	defer func() {
		_ = tiny.Shutdown(context.Background())
	}()
	if tiny.Size() != 1 {
		t.Fatalf("zero size must clamp to 1, got %d", tiny.Size())
	}
}
