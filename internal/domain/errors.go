// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDepositNotFound     = errors.New("deposit not found")
	ErrDuplicateDeposit    = errors.New("deposit id already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserBanned          = errors.New("user is banned")
	ErrStaleTransition     = errors.New("deposit status changed concurrently")
	ErrIllegalTransition   = errors.New("illegal deposit status transition")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidBounds       = errors.New("invalid deposit bounds")

	// ErrInvalidCallbackToken is returned for callbacks whose URL token does not match the deposit.
	ErrInvalidCallbackToken = errors.New("invalid callback token")

	// ErrAggregatorTransport wraps network and decoding failures talking to the aggregator.
	ErrAggregatorTransport = errors.New("payment aggregator unreachable")

	// ErrPersistence wraps failures reading or writing the state store.
	ErrPersistence = errors.New("state store operation failed")
)

// ValidationError is returned for user input that can be re-prompted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AggregatorRejectedError is an explicit non-2xx answer from the aggregator.
type AggregatorRejectedError struct {
	StatusCode int
	Body       string
}

func (e *AggregatorRejectedError) Error() string {
	return fmt.Sprintf("payment aggregator rejected request: status %d: %s", e.StatusCode, e.Body)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
