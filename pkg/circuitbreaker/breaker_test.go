package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock, threshold int, timeout time.Duration) *Breaker {
	b := New("test", Config{FailureThreshold: threshold, Timeout: timeout})
	b.now = clock.Now
	return b
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 3, time.Minute)

	for i := 0; i < 2; i++ {
		require.True(t, b.CanExecute())
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Failures())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())
}

func TestBreaker_HalfOpenAdmitsExactlyOneCall(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 2, time.Minute)
	b.RecordFailure()
	b.RecordFailure()

	clock.Advance(59 * time.Second)
	assert.False(t, b.CanExecute(), "still inside timeout")

	clock.Advance(time.Second)
	assert.True(t, b.CanExecute(), "first check after timeout admits a trial call")
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.CanExecute(), "second check while trial in flight is denied")
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, time.Minute)
	b.RecordFailure()
	clock.Advance(time.Minute)

	require.True(t, b.CanExecute())
	b.RecordSuccess()

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
	assert.True(t, b.CanExecute())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, time.Minute)
	b.RecordFailure()
	clock.Advance(2 * time.Minute)

	require.True(t, b.CanExecute())
	b.RecordFailure()

	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())

	// The timeout restarts from the latest failure
	clock.Advance(30 * time.Second)
	assert.False(t, b.CanExecute())
	clock.Advance(30 * time.Second)
	assert.True(t, b.CanExecute())
}

func TestBreaker_SuccessResetsCounterWhileClosed(t *testing.T) {
	b := New("test", Config{FailureThreshold: 3, Timeout: time.Minute})
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Failures())
}

func TestBreaker_Execute(t *testing.T) {
	t.Run("records failure", func(t *testing.T) {
		b := New("test", Config{FailureThreshold: 1, Timeout: time.Minute})
		err := b.Execute(func() error { return errors.New("boom") })
		assert.EqualError(t, err, "boom")
		assert.Equal(t, StateOpen, b.State())
	})

	t.Run("denied when open", func(t *testing.T) {
		b := New("test", Config{FailureThreshold: 1, Timeout: time.Minute})
		b.RecordFailure()

		called := false
		err := b.Execute(func() error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, ErrOpen)
		assert.False(t, called)
	})

	t.Run("records success", func(t *testing.T) {
		b := New("test", Config{FailureThreshold: 2, Timeout: time.Minute})
		b.RecordFailure()
		require.NoError(t, b.Execute(func() error { return nil }))
		assert.Equal(t, 0, b.Failures())
	})
}

func TestBreaker_Defaults(t *testing.T) {
	b := New("x", Config{})
	st := b.Status()
	assert.Equal(t, 5, st.FailureThreshold)
	assert.Equal(t, 60*time.Second, st.Timeout)
	assert.Nil(t, st.LastFailure)
}

func TestManager(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	m := NewManager(nil,
		WithClock(clock.Now),
		WithStateChangeHook(func(name string, from, to State) {
			transitions = append(transitions, name+":"+string(from)+"->"+string(to))
		}),
	)

	t.Run("default thresholds", func(t *testing.T) {
		identity := m.Get(Identity).Status()
		assert.Equal(t, 5, identity.FailureThreshold)
		assert.Equal(t, 60*time.Second, identity.Timeout)

		payment := m.Get(Payment).Status()
		assert.Equal(t, 3, payment.FailureThreshold)
		assert.Equal(t, 120*time.Second, payment.Timeout)
	})

	t.Run("get returns the same instance", func(t *testing.T) {
		assert.Same(t, m.Get(Identity), m.Get(Identity))
	})

	t.Run("independent breakers", func(t *testing.T) {
		p := m.Get(Payment)
		for i := 0; i < 3; i++ {
			p.RecordFailure()
		}
		assert.Equal(t, StateOpen, p.State())
		assert.Equal(t, StateClosed, m.Get(Identity).State())
		assert.Equal(t, []string{"payment:CLOSED->OPEN"}, transitions)
	})

	t.Run("reset", func(t *testing.T) {
		assert.True(t, m.Reset(Payment))
		assert.Equal(t, StateClosed, m.Get(Payment).State())
		assert.False(t, m.Reset("unknown"))
	})

	t.Run("reset all", func(t *testing.T) {
		m.Get(Identity).RecordFailure()
		m.ResetAll()
		for _, st := range m.Snapshot() {
			assert.Equal(t, StateClosed, st.State)
			assert.Equal(t, 0, st.Failures)
		}
	})

	t.Run("snapshot sorted by name", func(t *testing.T) {
		m.Get("zeta")
		snap := m.Snapshot()
		require.Len(t, snap, 3)
		assert.Equal(t, Identity, snap[0].Name)
		assert.Equal(t, Payment, snap[1].Name)
		assert.Equal(t, "zeta", snap[2].Name)
	})
}

func TestManager_ConfigOverride(t *testing.T) {
	m := NewManager(map[string]Config{Identity: {FailureThreshold: 2, Timeout: time.Second}})
	st := m.Get(Identity).Status()
	assert.Equal(t, 2, st.FailureThreshold)
	assert.Equal(t, time.Second, st.Timeout)
}
