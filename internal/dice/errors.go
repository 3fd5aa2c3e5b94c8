package dice

import (
	"errors"
	"fmt"
)

// Sentinel errors for the three failure classes of the model.
// Use errors.Is(err, ErrDomain) etc. to classify a returned error.
var (
	// ErrConfiguration marks malformed or out-of-range parameters, initial
	// conditions or control trajectories.
	ErrConfiguration = errors.New("dice: invalid configuration")

	// ErrDomain marks a state transition that produced a non-physical result.
	ErrDomain = errors.New("dice: non-physical state")

	// ErrConvergence marks an optimizer run that exhausted its budget.
	ErrConvergence = errors.New("dice: optimizer did not converge")
)

// ConfigurationError reports a rejected parameter, override, initial
// condition or control value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Field + " " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool {
	if target == ErrConfiguration {
		return true
	}
	_, ok := target.(*ConfigurationError)
	return ok
}

func configErrorf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DomainError reports the period and variable at which a transition left
// the physically valid region (negative stock, NaN, overflow, ...).
type DomainError struct {
	Period   int
	Variable string
	Value    float64
	Reason   string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("domain error at period %d: %s = %g %s", e.Period, e.Variable, e.Value, e.Reason)
}

func (e *DomainError) Is(target error) bool {
	if target == ErrDomain {
		return true
	}
	_, ok := target.(*DomainError)
	return ok
}

// ConvergenceFailure is returned next to a best-effort optimizer result when
// the iteration or time budget ran out before the tolerance was met.
type ConvergenceFailure struct {
	Iterations int
	Welfare    float64
	Reason     string
}

func (e *ConvergenceFailure) Error() string {
	return fmt.Sprintf("convergence failure after %d iterations (welfare %.6g): %s", e.Iterations, e.Welfare, e.Reason)
}

func (e *ConvergenceFailure) Is(target error) bool {
	if target == ErrConvergence {
		return true
	}
	_, ok := target.(*ConvergenceFailure)
	return ok
}
