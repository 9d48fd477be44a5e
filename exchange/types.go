/*
Package exchange implements the book-exchange core: the Exchange state
machine, the admission policy that gates new requests, and the atomic
point/ownership settlement executed when an owner approves.

KEY CONCEPTS IN THIS FILE (types.go):
  - User:     An account with a point balance. Balances only change
              inside settlement; request/reject/cancel never touch them.
  - Book:     A physical book listing. Identity is permanent - the ID
              assigned at creation survives every ownership transfer
              (the public book-history timeline depends on this).
  - Exchange: One proposed-then-resolved transfer of one book between
              two users for a points price, snapshotted at request time.

DESIGN PRINCIPLES:
  1. Snapshot pricing: PointsUsed is fixed when the request is created
     and never recomputed, even if the book's valuation changes later.
  2. Single writer: Ledger balances and Book ownership/availability are
     mutated exclusively by the settlement transaction.
  3. Type safety: Strong typing for IDs prevents mixing user/book/exchange
     identifiers.

SEE ALSO:
  - admission.go:  Request-time admission policy
  - service.go:    State machine transitions and settlement
  - store.go:      Persistence interfaces (Ledger, Registry, TxStore)
*/
package exchange

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type BookID string
type ExchangeID string

// =============================================================================
// USER - Account with a point balance
// =============================================================================

// User is an account participating in exchanges.
// Balance is a non-negative integer; it is mutated only by settlement.
type User struct {
	ID        UserID
	Name      string
	Email     string
	Balance   int
	CreatedAt time.Time
}

// =============================================================================
// BOOK - A listed physical book
// =============================================================================

// Book is a listing in the registry.
//
// INVARIANTS:
//   - ID is permanent: assigned once, never reused, never changed across
//     ownership transfers.
//   - Exactly one owner at any time. Ownership changes ONLY via a
//     COMPLETED exchange.
//   - At most one ACTIVE exchange (REQUESTED or APPROVED) per book.
type Book struct {
	ID           BookID
	Title        string
	Author       string
	OwnerID      UserID
	Available    bool
	// ComputedPoints is the cached valuation. Nil means the valuation
	// provider has not priced the book yet; the core falls back to
	// DefaultPoints.
	ComputedPoints *int
	CreatedAt      time.Time
}

// Points returns the book's current point cost, falling back to
// DefaultPoints when no cached valuation exists.
func (b *Book) Points() int {
	if b.ComputedPoints != nil {
		return *b.ComputedPoints
	}
	return DefaultPoints
}

// DefaultPoints is the cost assumed for a book whose valuation has not
// been computed yet. Sits in the middle of the provider's [5,20] range.
const DefaultPoints = 10

// =============================================================================
// EXCHANGE - One proposed transfer of one book for points
// =============================================================================

type Status string

const (
	// StatusRequested is the initial state: the requester has asked,
	// nothing has moved yet.
	StatusRequested Status = "requested"

	// StatusApproved exists as a status value but is never a persisted
	// resting state: approval and settlement are one atomic operation
	// that lands directly on StatusCompleted. Kept so the active-status
	// set matches stored history from any two-phase predecessor.
	StatusApproved Status = "approved"

	// StatusCompleted is terminal: points and ownership have moved.
	StatusCompleted Status = "completed"

	// StatusRejected is terminal: the owner declined, nothing moved.
	StatusRejected Status = "rejected"

	// StatusDisputed is terminal pending manual resolution. Points and
	// ownership from the completed settlement are NOT reverted.
	StatusDisputed Status = "disputed"
)

// ActiveStatuses are the states in which an exchange blocks new requests
// for the same book. The SQLite partial unique index spans exactly this
// set.
var ActiveStatuses = []Status{StatusRequested, StatusApproved}

// SettledStatuses are the states whose settlement has taken effect. A
// dispute freezes the record without reverting points or ownership, so
// the anti-abuse checks count disputed trades the same as completed
// ones.
var SettledStatuses = []Status{StatusCompleted, StatusDisputed}

// IsActive reports whether the status blocks new requests on the book.
func (s Status) IsActive() bool {
	return statusIn(s, ActiveStatuses)
}

// IsSettled reports whether the exchange's settlement stands: points and
// ownership moved and have not been reverted.
func (s Status) IsSettled() bool {
	return statusIn(s, SettledStatuses)
}

func statusIn(s Status, set []Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

// Exchange records one proposed-then-resolved transfer of BookID from
// FromUserID (the owner at request time) to ToUserID (the requester).
//
// PointsUsed is the valuation snapshot taken when the request was
// created. It is immutable for the life of the record.
type Exchange struct {
	ID          ExchangeID
	BookID      BookID
	FromUserID  UserID
	ToUserID    UserID
	PointsUsed  int
	Status      Status
	// DisputeReason is set only when Status is StatusDisputed.
	DisputeReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	// CompletedAt is set only when the settlement committed.
	CompletedAt *time.Time
}

// =============================================================================
// POLICY CONSTANTS
// =============================================================================

// AbuseWindow is the trailing window inspected by the repeat-pair and
// circular-exchange checks. Two accounts cannot manufacture points by
// trading back and forth inside this window.
const AbuseWindow = 7 * 24 * time.Hour
