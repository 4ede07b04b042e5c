package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute when the breaker denies a call
var ErrOpen = errors.New("circuit breaker is open")

// State is the state of a breaker
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config holds per-dependency thresholds
type Config struct {
	FailureThreshold int
	Timeout          time.Duration
}

// Breaker tracks failures of a single dependency. It is safe for concurrent use.
type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	trialInFlight bool

	onStateChange func(name string, from, to State)
}

// New creates a closed breaker
func New(name string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &Breaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Name returns the dependency name
func (b *Breaker) Name() string {
	return b.name
}

// CanExecute reports whether a call may proceed. In the OPEN state the first
// check after the timeout moves the breaker to HALF_OPEN and admits exactly one
// trial call; further checks are denied until that call is recorded.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.config.Timeout {
			return false
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// RecordSuccess records a successful call
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialInFlight = false
	b.failures = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// RecordFailure records a failed call
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialInFlight = false
	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// Execute runs fn when the breaker permits it and records the outcome.
// ErrOpen is returned without calling fn when the call is denied.
func (b *Breaker) Execute(fn func() error) error {
	if !b.CanExecute() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current state without side effects
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker back to CLOSED with a zero failure count
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialInFlight = false
	b.lastFailure = time.Time{}
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// Status is a point-in-time view of a breaker
type Status struct {
	Name             string        `json:"name"`
	State            State         `json:"state"`
	Failures         int           `json:"failures"`
	FailureThreshold int           `json:"failure_threshold"`
	Timeout          time.Duration `json:"timeout"`
	LastFailure      *time.Time    `json:"last_failure,omitempty"`
}

// Status returns a snapshot of the breaker
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Status{
		Name:             b.name,
		State:            b.state,
		Failures:         b.failures,
		FailureThreshold: b.config.FailureThreshold,
		Timeout:          b.config.Timeout,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailure = &t
	}
	return s
}

// transition must be called with mu held
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(b.name, from, to)
	}
}
