package host

import (
	"errors"
	"fmt"
)

// DefaultMaxSteps bounds the messages one transaction may dispatch.
const DefaultMaxSteps = 1000

// QuotaEnforcer counts dispatched messages of one transaction.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check counts one more step and fails once the limit is exceeded.
func (q *QuotaEnforcer) Check(txToken string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			TxToken: txToken,
			Steps:   q.current,
			Limit:   q.maxSteps,
		}
	}
	return nil
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError aborts a transaction that dispatched too many messages.
type StepsExceededError struct {
	TxToken string
	Steps   int
	Limit   int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("transaction %s exceeded max steps quota: %d steps > %d limit",
		e.TxToken, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
