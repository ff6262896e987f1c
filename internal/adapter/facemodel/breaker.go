// Package facemodel holds the face detection/embedding providers and the
// circuit breaker they share.
package facemodel

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	// CircuitClosed indicates the circuit is allowing requests to pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen indicates the circuit is blocking requests due to failures.
	CircuitOpen
	// CircuitHalfOpen indicates the circuit is probing recovery with limited requests.
	CircuitHalfOpen
)

// Breaker guards the model endpoint against hammering a dead sidecar.
type Breaker struct {
	mu               sync.RWMutex
	endpoint         string
	failureThreshold int
	recoveryTimeout  time.Duration
	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	totalRequests    int
	totalFailures    int
}

// NewBreaker creates a circuit breaker for the given model endpoint.
func NewBreaker(endpoint string) *Breaker {
	return &Breaker{
		endpoint:         endpoint,
		failureThreshold: 3,
		recoveryTimeout:  30 * time.Second,
		state:            CircuitClosed,
	}
}

// ShouldAttempt determines if a request should be attempted based on circuit state
func (b *Breaker) ShouldAttempt() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		return time.Since(b.lastFailureTime) > b.recoveryTimeout
	case CircuitHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful request
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++
	b.totalRequests++
	b.failureCount = 0

	switch b.state {
	case CircuitHalfOpen, CircuitOpen:
		b.state = CircuitClosed
		slog.Info("face model circuit closed after successful recovery",
			slog.String("endpoint", b.endpoint),
			slog.Int("success_count", b.successCount))
	}
}

// RecordFailure records a failed request
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.totalFailures++
	b.totalRequests++
	b.lastFailureTime = time.Now()

	if b.failureCount >= b.failureThreshold && b.state != CircuitOpen {
		b.state = CircuitOpen
		slog.Warn("face model circuit opened due to consecutive failures",
			slog.String("endpoint", b.endpoint),
			slog.Int("failure_count", b.failureCount),
			slog.Int("threshold", b.failureThreshold))
	}
}

// State returns the current circuit state
func (b *Breaker) State() CircuitState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// String returns a string representation of the circuit state
func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
