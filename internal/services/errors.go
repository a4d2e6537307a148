package services

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable classification callers switch on. The
// request layer maps kinds to HTTP statuses; the ledger never retries.
type ErrorKind string

const (
	ErrInvalidAmount        ErrorKind = "invalid_amount"
	ErrInsufficientFunds    ErrorKind = "insufficient_funds"
	ErrAccountNotFound      ErrorKind = "account_not_found"
	ErrUserNotFound         ErrorKind = "user_not_found"
	ErrPayoutLimitExceeded  ErrorKind = "payout_limit_exceeded"
	ErrCaseNotFound         ErrorKind = "case_not_found"
)

// Payout limiter sub-reasons carried inside ErrPayoutLimitExceeded.
const (
	LimitBelowMinimum        = "below_minimum"
	LimitDailyExceeded       = "daily_limit_exceeded"
	LimitMonthlyExceeded     = "monthly_limit_exceeded"
	LimitRequestRateExceeded = "request_rate_exceeded"
)

// LedgerError is a structured failure: a kind for machines, a message for
// humans, and an optional limiter sub-reason.
type LedgerError struct {
	Kind    ErrorKind
	Reason  string
	Message string
}

func (e *LedgerError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newLedgerError(kind ErrorKind, format string, args ...any) *LedgerError {
	return &LedgerError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func newLimitError(reason, format string, args ...any) *LedgerError {
	return &LedgerError{Kind: ErrPayoutLimitExceeded, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a LedgerError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var le *LedgerError
	return errors.As(err, &le) && le.Kind == kind
}

// LimitReason extracts the limiter sub-reason, or "" for other errors.
func LimitReason(err error) string {
	var le *LedgerError
	if errors.As(err, &le) && le.Kind == ErrPayoutLimitExceeded {
		return le.Reason
	}
	return ""
}
