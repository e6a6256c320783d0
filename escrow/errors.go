package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrValidationRejected marks role, action or parameter checks that failed
	// before any write was attempted.
	ErrValidationRejected = errors.New("escrow: validation rejected")
	// ErrAuthorizationDenied marks actions attempted by a viewer that is not
	// eligible for them. No external call is made once this is returned.
	ErrAuthorizationDenied = errors.New("escrow: authorization denied")
	// ErrWriteFailed wraps rejected or reverted ledger and advisory writes.
	ErrWriteFailed = errors.New("escrow: write failed")
	// ErrSourceUnavailable wraps read failures from either backing source.
	ErrSourceUnavailable = errors.New("escrow: source unavailable")
	// ErrOrderNotFound is returned when the ledger has no record for an id.
	ErrOrderNotFound = errors.New("escrow: order not found")
)

func rejectf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidationRejected, fmt.Sprintf(format, args...))
}

func denyf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorizationDenied, fmt.Sprintf(format, args...))
}
