package obs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitState is one of the three states a CircuitBreaker can be in.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig tunes when a breaker opens and how it probes for
// recovery.
type CircuitBreakerConfig struct {
	Name string

	// MaxFailures opens the circuit outright once reached, regardless of
	// MinRequests/FailureThreshold.
	MaxFailures int

	// Timeout is how long an open circuit waits before probing again
	// (half-open).
	Timeout time.Duration

	// MaxRequests caps how many probe requests a half-open circuit admits;
	// that many successes close it again.
	MaxRequests int

	// FailureThreshold is the failure rate (0.0-1.0) that opens the
	// circuit once MinRequests have been observed.
	FailureThreshold float64
	MinRequests      int

	// ResetTimeout is how long a closed circuit runs before its rolling
	// counters are reset to a fresh generation.
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns the defaults used for storage-adapter
// retryable operations: 5 failures within one 60s counting window, or a 60%
// failure rate over at least 10 requests in it, opens the circuit for 30s
// before probing again.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		MaxRequests:      3,
		FailureThreshold: 0.6,
		MinRequests:      10,
		ResetTimeout:     60 * time.Second,
	}
}

// CircuitBreaker wraps a fallible operation, tripping open after a burst or
// sustained rate of failures and periodically re-probing for recovery.
// Generation counters distinguish a request issued just before a state
// transition from one issued after, so a slow in-flight call from the old
// generation can't corrupt the new generation's counts.
type CircuitBreaker struct {
	mu     sync.RWMutex
	config CircuitBreakerConfig
	state  CircuitState

	failures   int
	successes  int
	requests   int
	generation int64

	lastFailureTime time.Time
	lastSuccessTime time.Time
	expiry          time.Time

	onStateChange func(name string, from, to CircuitState)
}

func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
		expiry: time.Now().Add(config.ResetTimeout),
	}
}

// Execute runs fn under the breaker's protection: rejected outright while
// open, counted and possibly tripping the circuit while closed or
// half-open. A panic inside fn is recorded as a failure and re-panicked.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	generation, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(generation, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	err = fn()
	cb.afterRequest(generation, err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() (int64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, generation := cb.currentState(now)

	switch {
	case state == CircuitOpen:
		return generation, fmt.Errorf("circuit breaker %q is open", cb.config.Name)
	case state == CircuitHalfOpen && cb.requests >= cb.config.MaxRequests:
		return generation, fmt.Errorf("circuit breaker %q is half-open and at its probe limit", cb.config.Name)
	}

	cb.requests++
	return generation, nil
}

func (cb *CircuitBreaker) afterRequest(generation int64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, currentGeneration := cb.currentState(now)
	if generation != currentGeneration {
		return
	}

	if err != nil {
		cb.onFailure(state, now)
	} else {
		cb.onSuccess(state, now)
	}
}

func (cb *CircuitBreaker) onFailure(state CircuitState, now time.Time) {
	cb.failures++
	cb.lastFailureTime = now

	switch state {
	case CircuitClosed:
		if cb.shouldOpen(now) {
			cb.setState(CircuitOpen, now)
		}
	case CircuitHalfOpen:
		cb.setState(CircuitOpen, now)
	}
}

func (cb *CircuitBreaker) onSuccess(state CircuitState, now time.Time) {
	cb.successes++
	cb.lastSuccessTime = now

	if state == CircuitHalfOpen && cb.successes >= cb.config.MaxRequests {
		cb.setState(CircuitClosed, now)
	}
}

func (cb *CircuitBreaker) shouldOpen(now time.Time) bool {
	if cb.failures >= cb.config.MaxFailures {
		return true
	}
	if cb.requests >= cb.config.MinRequests {
		return float64(cb.failures)/float64(cb.requests) >= cb.config.FailureThreshold
	}
	return false
}

func (cb *CircuitBreaker) currentState(now time.Time) (CircuitState, int64) {
	switch cb.state {
	case CircuitClosed:
		if cb.expiry.Before(now) {
			cb.toNewGeneration(now)
		}
	case CircuitOpen:
		if cb.expiry.Before(now) {
			cb.setState(CircuitHalfOpen, now)
		}
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) setState(state CircuitState, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	cb.toNewGeneration(now)
	if cb.onStateChange != nil {
		cb.onStateChange(cb.config.Name, prev, state)
	}
}

func (cb *CircuitBreaker) toNewGeneration(now time.Time) {
	cb.generation++
	cb.requests, cb.failures, cb.successes = 0, 0, 0

	var timeout time.Duration
	switch cb.state {
	case CircuitClosed:
		timeout = cb.config.ResetTimeout
	case CircuitOpen, CircuitHalfOpen:
		timeout = cb.config.Timeout
	}
	cb.expiry = now.Add(timeout)
}

// State returns the breaker's current state, advancing its generation
// first if the current one has expired.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	state, _ := cb.currentState(time.Now())
	return state
}

// Counts returns the current generation's failure/success/request tallies.
func (cb *CircuitBreaker) Counts() (failures, successes, requests int) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures, cb.successes, cb.requests
}

func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Reset forces the breaker back to closed, discarding its history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(CircuitClosed, time.Now())
}

// CircuitBreakerManager hands out one breaker per name, lazily created, so
// a storage adapter can keep a single breaker per backend op without
// plumbing it through every call site.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

func NewCircuitBreakerManager() *CircuitBreakerManager {
	return &CircuitBreakerManager{breakers: make(map[string]*CircuitBreaker)}
}

func (cbm *CircuitBreakerManager) GetOrCreate(name string, config CircuitBreakerConfig) *CircuitBreaker {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()

	if breaker, exists := cbm.breakers[name]; exists {
		return breaker
	}
	config.Name = name
	breaker := NewCircuitBreaker(config)
	cbm.breakers[name] = breaker
	return breaker
}

func (cbm *CircuitBreakerManager) Get(name string) (*CircuitBreaker, bool) {
	cbm.mu.RLock()
	defer cbm.mu.RUnlock()
	breaker, exists := cbm.breakers[name]
	return breaker, exists
}

func (cbm *CircuitBreakerManager) Remove(name string) {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()
	delete(cbm.breakers, name)
}

func (cbm *CircuitBreakerManager) GetStates() map[string]CircuitState {
	cbm.mu.RLock()
	defer cbm.mu.RUnlock()
	result := make(map[string]CircuitState, len(cbm.breakers))
	for name, breaker := range cbm.breakers {
		result[name] = breaker.State()
	}
	return result
}

func (cbm *CircuitBreakerManager) ResetAll() {
	cbm.mu.RLock()
	defer cbm.mu.RUnlock()
	for _, breaker := range cbm.breakers {
		breaker.Reset()
	}
}
