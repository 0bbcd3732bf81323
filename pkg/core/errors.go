package core

import (
	"errors"
	"fmt"
)

// Failure taxonomy. Callers discriminate with errors.Is to decide whether
// an operation is retryable (market moved back, stale routing data) or a
// hard caller error.
var (
	// ErrOrderExists: placement collision. The caller should pick a fresh
	// witness or different parameters.
	ErrOrderExists = errors.New("order already exists")

	// ErrOrderNotFound: operation against an unknown or already-released
	// commitment key. Because the registry stores no order bodies, a
	// cancellation with the wrong maker identity also surfaces as not
	// found (the recomputed key matches nothing).
	ErrOrderNotFound = errors.New("order not found")

	// ErrUnauthorized: cancellation caller failed maker authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidSignature: execution authorization failed. Either the
	// signature was not produced by the order's witness secret, or it was
	// bound to a different executor or commitment key.
	ErrInvalidSignature = errors.New("invalid witness signature")

	// ErrInsufficientReturn: realized proceeds fall below the maker's
	// floor. Expected and frequent; safe to retry later.
	ErrInsufficientReturn = errors.New("insufficient return")

	// ErrExcessiveFee: the routing data asks for an execution fee above
	// the configured share of proceeds. Caller error; resubmit with a
	// smaller fee.
	ErrExcessiveFee = errors.New("excessive execution fee")

	// ErrRouterFailure: the external swap provider failed. Propagated,
	// never masked.
	ErrRouterFailure = errors.New("router failure")

	// ErrInsufficientBalance: asset custody pull/push fail-closed.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// StepError reports which batch step aborted the sequence. The whole batch
// is rolled back; the index is for the caller's diagnostics only.
type StepError struct {
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("batch step %d: %v", e.Index, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
