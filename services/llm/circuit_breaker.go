// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"sync"
	"time"
)

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	// CircuitClosed passes calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until OpenDuration elapses.
	CircuitOpen
	// CircuitHalfOpen lets a limited number of trial calls through.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
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

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is consecutive failures before opening (default: 3).
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold" envconfig:"FAILURE_THRESHOLD"`

	// SuccessThreshold is trial successes needed to close (default: 2).
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold" envconfig:"SUCCESS_THRESHOLD"`

	// OpenDuration is how long to reject before probing (default: 30s).
	OpenDuration time.Duration `yaml:"open_duration" json:"open_duration" envconfig:"OPEN_DURATION"`

	// HalfOpenMax is concurrent trial calls allowed while half-open (default: 1).
	HalfOpenMax int `yaml:"half_open_max" json:"half_open_max" envconfig:"HALF_OPEN_MAX"`
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenDuration:     30 * time.Second,
		HalfOpenMax:      1,
	}
}

// CircuitBreaker stops hammering a failing backend.
//
// Thread Safety: Safe for concurrent use.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	// OnStateChange, if set, is called (under the lock) on every transition.
	OnStateChange func(from, to CircuitState)

	mu             sync.Mutex
	state          CircuitState
	failures       int
	successes      int
	changedAt      time.Time
	halfOpenActive int
	rejections     int64
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}
	return &CircuitBreaker{
		config:    config,
		now:       time.Now,
		state:     CircuitClosed,
		changedAt: time.Now(),
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Rejections returns how many calls were refused.
func (cb *CircuitBreaker) Rejections() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.rejections
}

// Allow reports whether a call may proceed. When it returns true the
// caller must report the outcome through the returned done function.
func (cb *CircuitBreaker) Allow() (bool, func(success bool)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.now().Sub(cb.changedAt) >= cb.config.OpenDuration {
		cb.transitionTo(CircuitHalfOpen)
	}

	switch cb.state {
	case CircuitClosed:
		return true, cb.record
	case CircuitHalfOpen:
		if cb.halfOpenActive >= cb.config.HalfOpenMax {
			cb.rejections++
			return false, nil
		}
		cb.halfOpenActive++
		return true, func(success bool) {
			cb.mu.Lock()
			cb.halfOpenActive--
			cb.mu.Unlock()
			cb.record(success)
		}
	default:
		cb.rejections++
		return false, nil
	}
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.failures = 0
		if cb.state == CircuitHalfOpen {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.transitionTo(CircuitClosed)
			}
		}
		return
	}

	cb.failures++
	cb.successes = 0
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

// transitionTo changes state. Must be called with lock held.
func (cb *CircuitBreaker) transitionTo(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.changedAt = cb.now()
	cb.failures = 0
	cb.successes = 0
	if cb.OnStateChange != nil && from != to {
		cb.OnStateChange(from, to)
	}
}

// Reset closes the breaker and clears counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenActive = 0
	cb.changedAt = cb.now()
}
