package async

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/tenantbilling/pkg/observability"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newLogger() (*observability.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return observability.NewLogger(observability.DebugLevel, buf), buf
}

func TestSafeGo_Success(t *testing.T) {
	logger, buf := newLogger()
	done := make(chan struct{})

	SafeGo(context.Background(), logger, time.Second, "test task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not execute function")
	}
	assert.NotContains(t, buf.String(), "Background task failed")
}

func TestSafeGo_ErrorIsLogged(t *testing.T) {
	logger, buf := newLogger()

	SafeGo(context.Background(), logger, time.Second, "failing task", func(ctx context.Context) error {
		return errors.New("boom")
	})

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(buf.String()), []byte("Background task failed"))
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, buf.String(), "failing task")
}

func TestSafeGo_Timeout(t *testing.T) {
	logger, _ := newLogger()
	result := make(chan error, 1)

	SafeGo(context.Background(), logger, 50*time.Millisecond, "slow task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			result <- nil
		case <-ctx.Done():
			result <- ctx.Err()
		}
		return nil
	})

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("task was not cancelled")
	}
}

func TestSafeGo_PanicRecovered(t *testing.T) {
	logger, buf := newLogger()

	SafeGo(context.Background(), logger, time.Second, "panicking task", func(ctx context.Context) error {
		panic("unexpected")
	})

	assert.Eventually(t, func() bool {
		out := buf.String()
		return bytes.Contains([]byte(out), []byte("PANIC recovered")) &&
			bytes.Contains([]byte(out), []byte("Background task failed"))
	}, time.Second, 10*time.Millisecond)
}

func TestEvery_RunsUntilCancelled(t *testing.T) {
	logger, _ := newLogger()
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32

	Every(ctx, logger, 10*time.Millisecond, "tick", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	time.Sleep(30 * time.Millisecond)
	stopped := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())
}

func TestEvery_ContinuesAfterFailure(t *testing.T) {
	logger, buf := newLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var runs atomic.Int32

	Every(ctx, logger, 10*time.Millisecond, "flaky", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("first run")
		}
		return errors.New("still failing")
	})

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, buf.String(), "Periodic task failed")
}
