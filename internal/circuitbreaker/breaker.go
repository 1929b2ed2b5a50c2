// Package circuitbreaker stops calls to a remote dependency, such as the
// shared parse cache, once it keeps failing. While open every call fails
// fast; after Timeout one probe call decides whether to close again.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrOpenState = errors.New("circuit breaker is open")

type Config struct {
	// Threshold is the number of calls in one interval before the failure
	// ratio is looked at.
	Threshold    uint32
	FailureRatio float64
	// Interval clears the counts while closed.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration

	// OnStateChange is called with the breaker locked and must not call
	// back into it.
	OnStateChange func(from, to State)
}

func DefaultConfig() Config {
	return Config{
		Threshold:    20,
		FailureRatio: 0.5,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
	}
}

type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	state    State
	total    uint32
	failures uint32
	probing  bool
	expiry   time.Time
}

func New(cfg Config) *CircuitBreaker {
	def := DefaultConfig()
	if cfg.Threshold == 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = def.FailureRatio
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cb := &CircuitBreaker{cfg: cfg, now: time.Now}
	cb.expiry = cb.now().Add(cfg.Interval)
	return cb
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance(cb.now())
	return cb.state
}

// Counts are the calls and failures seen in the current interval.
func (cb *CircuitBreaker) Counts() (total, failures uint32) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.total, cb.failures
}

// Execute runs fn unless the breaker is open. Only one call at a time is
// let through while half-open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrOpenState
	}
	err := fn()
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance(cb.now())
	switch cb.state {
	case StateOpen:
		return false
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
	}
	return true
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := cb.now()
	cb.advance(now)

	switch cb.state {
	case StateClosed:
		cb.total++
		if !success {
			cb.failures++
		}
		if cb.total >= cb.cfg.Threshold && float64(cb.failures)/float64(cb.total) >= cb.cfg.FailureRatio {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.probing = false
		if success {
			cb.setState(StateClosed, now)
		} else {
			cb.setState(StateOpen, now)
		}
	}
}

// advance applies the time-based transitions.
func (cb *CircuitBreaker) advance(now time.Time) {
	if now.Before(cb.expiry) {
		return
	}
	switch cb.state {
	case StateClosed:
		cb.total, cb.failures = 0, 0
		cb.expiry = now.Add(cb.cfg.Interval)
	case StateOpen:
		cb.setState(StateHalfOpen, now)
	}
}

func (cb *CircuitBreaker) setState(to State, now time.Time) {
	from := cb.state
	cb.state = to
	cb.total, cb.failures = 0, 0
	switch to {
	case StateClosed:
		cb.expiry = now.Add(cb.cfg.Interval)
	case StateOpen:
		cb.expiry = now.Add(cb.cfg.Timeout)
	case StateHalfOpen:
		cb.expiry = now
	}
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
