package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *Logger {
	return NewLogger(ErrorLevel, &bytes.Buffer{})
}

func TestNewShutdownManager_Defaults(t *testing.T) {
	sm := NewShutdownManager(nil, 0)
	assert.Equal(t, DefaultShutdownTimeout, sm.timeout)
	assert.NotNil(t, sm.logger)

	sm.Register("nil", nil)
	assert.Empty(t, sm.funcs)
}

func TestShutdown_RunsAllClosers(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), time.Second)

	var calls int32
	for _, name := range []string{"postgres", "redis", "otel"} {
		sm.Register(name, func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestShutdown_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), time.Second)
	sm.Register("postgres", func(ctx context.Context) error { return errors.New("close failed") })
	sm.Register("redis", func(ctx context.Context) error { return nil })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: close failed")
}

func TestShutdown_Timeout(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), 20*time.Millisecond)
	sm.Register("scheduler", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestShutdown_StopsServers(t *testing.T) {
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Start()
	defer ts.Close()

	sm := NewShutdownManager(quietLogger(), time.Second, ts.Config)
	require.NoError(t, sm.Shutdown(context.Background()))

	_, err := http.Get(ts.URL)
	assert.Error(t, err)
}

func TestWaitForShutdown_ContextCanceled(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), time.Second)
	var closed int32
	sm.Register("cron", func(ctx context.Context) error {
		atomic.StoreInt32(&closed, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForShutdown(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&closed))
}
