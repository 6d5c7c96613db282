// Package circuitbreaker prevents cascading failures by stopping requests to
// services that are currently failing. Used by the LLM gateway.
package circuitbreaker

import (
	"errors"
	"log"
	"sync"
	"time"
)

var (
	ErrOpen            = errors.New("circuit breaker open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// CircuitBreaker guards a single upstream dependency (a tool, a provider).
type CircuitBreaker struct {
	mu                   sync.RWMutex
	name                 string
	state                State
	failureCount         int
	successCount         int
	consecutiveSuccesses int
	lastFailureTime      time.Time
	lastStateChange      time.Time

	failureThreshold int
	successThreshold int
	timeout          time.Duration
	halfOpenMax      int

	totalRequests   int64
	totalSuccesses  int64
	totalFailures   int64
	totalRejections int64
}

// New creates a circuit breaker with the given configuration.
func New(name string, failureThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 3
	}
	if timeout < time.Second {
		timeout = 5 * time.Minute
	}
	return &CircuitBreaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: 3,
		timeout:          timeout,
		halfOpenMax:      3,
		lastStateChange:  time.Now(),
	}
}

// Call attempts to execute fn through the breaker.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastFailureTime) > cb.timeout {
			cb.setState(StateHalfOpen)
			cb.successCount = 0
			cb.consecutiveSuccesses = 0
			return nil
		}
		cb.totalRejections++
		return ErrOpen
	case StateHalfOpen:
		if cb.successCount >= cb.halfOpenMax {
			cb.totalRejections++
			return ErrTooManyRequests
		}
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.totalFailures++
		cb.failureCount++
		cb.consecutiveSuccesses = 0
		cb.lastFailureTime = time.Now()

		switch cb.state {
		case StateClosed:
			if cb.failureCount >= cb.failureThreshold {
				cb.setState(StateOpen)
				log.Printf("[CircuitBreaker:%s] CLOSED -> OPEN (%d consecutive failures)", cb.name, cb.failureCount)
			}
		case StateHalfOpen:
			cb.setState(StateOpen)
			log.Printf("[CircuitBreaker:%s] HALF-OPEN -> OPEN (probe failed)", cb.name)
		}
		return
	}

	cb.totalSuccesses++
	cb.successCount++
	cb.consecutiveSuccesses++

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		if cb.consecutiveSuccesses >= cb.successThreshold {
			cb.setState(StateClosed)
			cb.failureCount = 0
			log.Printf("[CircuitBreaker:%s] HALF-OPEN -> CLOSED (service recovered)", cb.name)
		}
	}
}

func (cb *CircuitBreaker) setState(s State) {
	if cb.state != s {
		cb.state = s
		cb.lastStateChange = time.Now()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// IsOpen reports whether requests are currently being rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state == StateOpen && time.Since(cb.lastFailureTime) <= cb.timeout
}

// Stats returns a snapshot for diagnostics.
func (cb *CircuitBreaker) Stats() map[string]any {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	successRate := 0.0
	if cb.totalRequests > 0 {
		successRate = float64(cb.totalSuccesses) / float64(cb.totalRequests)
	}
	return map[string]any{
		"name":             cb.name,
		"state":            string(cb.state),
		"total_requests":   cb.totalRequests,
		"total_successes":  cb.totalSuccesses,
		"total_failures":   cb.totalFailures,
		"total_rejections": cb.totalRejections,
		"success_rate":     successRate,
	}
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.consecutiveSuccesses = 0
}
