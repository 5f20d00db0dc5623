//go:build !integration

package scheduler

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestScheduler(t *testing.T) {
	t.Run("should run the job on every tick until stopped", func(t *testing.T) {
		// --- Arrange ---
		logger := zerolog.New(io.Discard)
		var runs int32
		job := JobFunc{JobName: "duplicate_report", Fn: func(ctx context.Context) (int, error) {
			atomic.AddInt32(&runs, 1)
			return 0, nil
		}}
		s := NewScheduler(10*time.Millisecond, job, &logger)

		// --- Act ---
		s.Start(context.Background())
		s.Start(context.Background())
		time.Sleep(55 * time.Millisecond)
		s.Stop()
		after := atomic.LoadInt32(&runs)
		time.Sleep(30 * time.Millisecond)
		s.Stop()

		// --- Assert ---
		if after < 2 {
			t.Errorf("expected several runs, got %d", after)
		}
		if atomic.LoadInt32(&runs) != after {
			t.Error("job ran after Stop")
		}
	})
}
