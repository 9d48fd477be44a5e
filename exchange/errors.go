/*
errors.go - Centralized error taxonomy for the exchange core

PURPOSE:
  All error types in one place. The HTTP layer maps these to status
  codes; the core never swallows any of them.

ERROR CATEGORIES:
  1. Admission errors     - request-time preconditions, no state mutated
  2. Authorization errors - wrong actor for a transition, no state mutated
  3. Settlement errors    - in-transaction failures, transaction aborted
  4. Not-found errors     - missing exchange/book/user

USAGE:
  var adm *exchange.AdmissionError
  if errors.As(err, &adm) {
      switch adm.Reason { ... }
  }
*/
package exchange

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrExchangeNotFound is returned when a referenced exchange doesn't exist.
	ErrExchangeNotFound = errors.New("exchange not found")

	// ErrBookNotFound is returned when a referenced book doesn't exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrUserNotFound is returned when a referenced user doesn't exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrInsufficientFunds is returned by the ledger when a debit would
	// take a balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrActiveExchangeExists is returned by the store when creating an
	// exchange would violate the single-active-exchange-per-book
	// invariant. The admission policy checks this too, but the store is
	// the authority: the check-then-act race is closed by a uniqueness
	// constraint, not by the application-level read.
	ErrActiveExchangeExists = errors.New("book already has an active exchange")
)

// =============================================================================
// ADMISSION ERRORS - Request-time gate failures
// =============================================================================

// AdmissionReason identifies which admission check failed. Each reason is
// distinct so the caller can render a specific, actionable message.
type AdmissionReason string

const (
	Unauthenticated         AdmissionReason = "unauthenticated"
	BookNotFound            AdmissionReason = "book_not_found"
	SelfExchangeForbidden   AdmissionReason = "self_exchange_forbidden"
	BookUnavailable         AdmissionReason = "book_unavailable"
	ActiveExchangeExists    AdmissionReason = "active_exchange_exists"
	InsufficientPoints      AdmissionReason = "insufficient_points"
	RepeatExchangeBlocked   AdmissionReason = "repeat_exchange_blocked"
	CircularExchangeBlocked AdmissionReason = "circular_exchange_blocked"
)

// AdmissionError reports why requestExchange was refused. No state was
// mutated; the request never existed.
type AdmissionError struct {
	Reason AdmissionReason
	BookID BookID
	UserID UserID
	// Detail carries check-specific context, e.g. the shortfall for
	// InsufficientPoints.
	Detail string
}

func (e *AdmissionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("admission refused (%s): %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("admission refused (%s)", e.Reason)
}

// =============================================================================
// AUTHORIZATION ERRORS - Wrong actor for a transition
// =============================================================================

// AuthorizationError reports that the caller is not allowed to perform a
// transition on an exchange (e.g. a non-owner approving, a non-requester
// cancelling, or a transition from the wrong status).
type AuthorizationError struct {
	ExchangeID ExchangeID
	CallerID   UserID
	Action     string
	Detail     string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized to %s exchange %s: %s", e.Action, e.ExchangeID, e.Detail)
}

// =============================================================================
// SETTLEMENT ERRORS - In-transaction failures (transaction aborted)
// =============================================================================

// SettlementError reports a settlement failure. The transaction was
// rolled back: the exchange remains REQUESTED and no balances or
// ownership changed.
type SettlementError struct {
	ExchangeID ExchangeID
	// Insufficient is true when the requester's balance dropped below
	// PointsUsed between request and approval.
	Insufficient bool
	Available    int
	Required     int
}

func (e *SettlementError) Error() string {
	if e.Insufficient {
		return fmt.Sprintf("settlement aborted for exchange %s: requester has %d points, needs %d",
			e.ExchangeID, e.Available, e.Required)
	}
	return fmt.Sprintf("settlement aborted for exchange %s", e.ExchangeID)
}

func (e *SettlementError) Unwrap() error {
	if e.Insufficient {
		return ErrInsufficientFunds
	}
	return nil
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrExchangeNotFound) ||
		errors.Is(err, ErrBookNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// IsClientError returns true if the error is the caller's fault rather
// than a store failure.
func IsClientError(err error) bool {
	var adm *AdmissionError
	var auth *AuthorizationError
	var set *SettlementError
	return errors.As(err, &adm) ||
		errors.As(err, &auth) ||
		errors.As(err, &set) ||
		errors.Is(err, ErrActiveExchangeExists) ||
		errors.Is(err, ErrInsufficientFunds)
}
