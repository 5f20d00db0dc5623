//go:build !integration

package worker

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestPool_RunAll(t *testing.T) {
	t.Run("should run every task with bounded concurrency", func(t *testing.T) {
		// --- Arrange ---
		ctx := context.Background()
		p := NewPool(2, newTestLogger())
		p.Start(ctx)
		defer p.Stop()

		var running, peak, done int32
		tasks := make([]func(ctx context.Context), 10)
		for i := range tasks {
			tasks[i] = func(ctx context.Context) {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				atomic.AddInt32(&done, 1)
			}
		}

		// --- Act ---
		p.RunAll(ctx, tasks)

		// --- Assert ---
		if done != 10 {
			t.Errorf("expected 10 tasks done, got %d", done)
		}
		if peak > 2 {
			t.Errorf("expected at most 2 concurrent tasks, got %d", peak)
		}
	})

	t.Run("should return when the context ends before all tasks are submitted", func(t *testing.T) {
		// --- Arrange ---
		ctx, cancel := context.WithCancel(context.Background())
		p := NewPool(1, newTestLogger())
		p.Start(context.Background())
		defer p.Stop()

		release := make(chan struct{})
		var done int32
		block := func(ctx context.Context) {
			<-release
			atomic.AddInt32(&done, 1)
		}
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
			time.Sleep(20 * time.Millisecond)
			close(release)
		}()

		// --- Act ---
		p.RunAll(ctx, []func(ctx context.Context){block, block, block, block})

		// --- Assert ---
		if done == 0 || done == 4 {
			t.Errorf("expected the submitted tasks only, got %d", done)
		}
	})

	t.Run("should return when the workers exit with tasks still queued", func(t *testing.T) {
		// --- Arrange ---
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p := NewPool(1, newTestLogger())
		p.Start(ctx)
		defer p.Stop()

		var started int32
		slow := func(ctx context.Context) {
			atomic.AddInt32(&started, 1)
			time.Sleep(50 * time.Millisecond)
		}
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		// --- Act ---
		done := make(chan struct{})
		go func() {
			p.RunAll(ctx, []func(ctx context.Context){slow, slow, slow})
			close(done)
		}()

		// --- Assert ---
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("RunAll still blocked after cancellation")
		}
		if n := atomic.LoadInt32(&started); n == 3 {
			t.Errorf("expected queued tasks to be dropped, got %d started", n)
		}
	})
}
