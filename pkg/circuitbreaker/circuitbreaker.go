// Package circuitbreaker keeps request paths responsive when a collaborator
// (the content catalog, Redis) is failing: after a run of failures calls are
// rejected outright for a cool-down period, then a few trial calls decide
// whether to close again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects every call until the cool-down has passed.
	StateOpen
	// StateHalfOpen lets a limited number of trial calls through.
	StateHalfOpen
)

// String returns the string representation of the state.
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

var (
	// ErrCircuitOpen is returned without calling through while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when every half-open trial slot is taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Settings configures a breaker. Zero thresholds and timeouts fall back to
// 5 failures, 1 success, a 30s cool-down and 1 trial call.
type Settings struct {
	Name string

	// FailureThreshold consecutive failures open a closed breaker.
	FailureThreshold int

	// SuccessThreshold consecutive trial successes close a half-open breaker.
	SuccessThreshold int

	// OpenTimeout is the cool-down before the first trial call.
	OpenTimeout time.Duration

	// HalfOpenTrials bounds concurrent trial calls.
	HalfOpenTrials int

	// IsFailure decides which errors count against the breaker. nil counts
	// every error.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker guards calls to one collaborator.
type CircuitBreaker struct {
	settings Settings
	now      func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	trials    int
	openedAt  time.Time
}

// New creates a closed breaker.
func New(s Settings) *CircuitBreaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 1
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.HalfOpenTrials <= 0 {
		s.HalfOpenTrials = 1
	}
	return &CircuitBreaker{settings: s, now: time.Now}
}

type transition struct {
	from, to State
}

// Execute calls fn unless the breaker rejects the call, and records the
// outcome. fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, moved, err := cb.admit()
	cb.notify(moved)
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	cb.notify(cb.record(trial, callErr))
	return callErr
}

func (cb *CircuitBreaker) admit() (trial bool, moved *transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.settings.OpenTimeout {
			return false, nil, ErrCircuitOpen
		}
		moved = cb.moveLocked(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.trials >= cb.settings.HalfOpenTrials {
			return false, moved, ErrTooManyRequests
		}
		cb.trials++
		return true, moved, nil
	}
	return false, moved, nil
}

func (cb *CircuitBreaker) record(trial bool, err error) *transition {
	failed := err != nil
	if failed && cb.settings.IsFailure != nil {
		failed = cb.settings.IsFailure(err)
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial && cb.trials > 0 {
		cb.trials--
	}

	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
			return nil
		}
		cb.failures++
		if cb.failures >= cb.settings.FailureThreshold {
			return cb.moveLocked(StateOpen)
		}
	case StateHalfOpen:
		if failed {
			return cb.moveLocked(StateOpen)
		}
		cb.successes++
		if cb.successes >= cb.settings.SuccessThreshold {
			return cb.moveLocked(StateClosed)
		}
	}
	// A call admitted before the breaker opened finishes while open; its
	// outcome does not change the cool-down.
	return nil
}

func (cb *CircuitBreaker) moveLocked(to State) *transition {
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.trials = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t != nil && cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, t.from, t.to)
	}
}

// State returns the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen reports whether calls are currently being rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}

// CatalogBreaker guards the content catalog. isFailure lets callers exclude
// "not found" answers, which come from a working catalog.
func CatalogBreaker(onStateChange func(name string, from, to State), isFailure func(error) bool) *CircuitBreaker {
	return New(Settings{
		Name:             "catalog",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      15 * time.Second,
		HalfOpenTrials:   1,
		IsFailure:        isFailure,
		OnStateChange:    onStateChange,
	})
}

// CacheBreaker guards a Redis-backed helper. A cache failure only costs
// latency or a stale count, so it opens early and tries again soon.
func CacheBreaker(name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:             name,
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      5 * time.Second,
		HalfOpenTrials:   1,
		OnStateChange:    onStateChange,
	})
}
