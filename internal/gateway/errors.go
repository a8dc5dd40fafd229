package gateway

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError is returned when the token bucket denies a call.
type RateLimitedError struct {
	Provider   string
	Operation  string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("gateway: %s/%s rate limited, retry after %s", e.Provider, e.Operation, e.RetryAfter)
}

// CircuitOpenError is returned when the provider's circuit breaker rejects
// a call without touching the network.
type CircuitOpenError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("gateway: %s circuit open, next probe in %s", e.Provider, e.RetryAfter)
}

// GuardrailBlockedError is returned when a cost limit denies a call.
type GuardrailBlockedError struct {
	Provider   string
	Limit      string
	CurrentUSD float64
	LimitUSD   float64
}

func (e *GuardrailBlockedError) Error() string {
	return fmt.Sprintf("gateway: %s blocked by limit %s ($%.2f of $%.2f)",
		e.Provider, e.Limit, e.CurrentUSD, e.LimitUSD)
}

// ProviderCallError wraps a failure from the provider call itself, after
// all admission checks passed.
type ProviderCallError struct {
	Provider  string
	Operation string
	Err       error
}

func (e *ProviderCallError) Error() string {
	return fmt.Sprintf("gateway: %s/%s call failed: %v", e.Provider, e.Operation, e.Err)
}

func (e *ProviderCallError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a rate-limit denial.
func IsRateLimited(err error) bool {
	var target *RateLimitedError
	return errors.As(err, &target)
}

// IsCircuitOpen reports whether err is a circuit breaker rejection.
func IsCircuitOpen(err error) bool {
	var target *CircuitOpenError
	return errors.As(err, &target)
}

// IsGuardrailBlocked reports whether err is a guardrail denial.
func IsGuardrailBlocked(err error) bool {
	var target *GuardrailBlockedError
	return errors.As(err, &target)
}

// IsAdmissionDenied reports whether err is any pre-call denial, as opposed
// to a failure of the provider call itself.
func IsAdmissionDenied(err error) bool {
	return IsRateLimited(err) || IsCircuitOpen(err) || IsGuardrailBlocked(err)
}
