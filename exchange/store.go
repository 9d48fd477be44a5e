/*
store.go - Persistence interfaces for the exchange core

PURPOSE:
  Defines the narrow capability interfaces the core depends on: the
  account Ledger, the Book Registry, and the Exchange record store.
  Modelled as repositories (get/debit/credit/transfer) rather than
  ambient global state so settlement can be tested with an in-memory
  double.

TRANSACTIONAL CONTRACT:
  TxStore.WithTx runs a function against a transaction-scoped Store.
  Everything written inside either commits together or rolls back
  together. Settlement re-validates exchange status and balance INSIDE
  the transaction; pre-transaction reads are advisory only.

SINGLE-ACTIVE-EXCHANGE INVARIANT:
  CreateExchange must fail with ErrActiveExchangeExists when the book
  already has an exchange in an active status. Implementations enforce
  this with a uniqueness constraint (partial unique index in SQLite),
  not just an application-level read, closing the check-then-act race.

IMPLEMENTATIONS:
  - store/sqlite: production store (WAL, partial unique indexes)
  - store/memory: in-memory double for tests
*/
package exchange

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER - Account point balances
// =============================================================================

// Ledger holds user point balances. Debit and Credit must be callable
// inside a settlement transaction.
type Ledger interface {
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetBalance(ctx context.Context, id UserID) (int, error)

	// Debit subtracts amount from the user's balance. Fails with
	// ErrInsufficientFunds if the balance would go negative.
	Debit(ctx context.Context, id UserID, amount int) error

	// Credit adds amount to the user's balance.
	Credit(ctx context.Context, id UserID, amount int) error
}

// =============================================================================
// REGISTRY - Book records
// =============================================================================

// Registry holds book records. Ownership and availability are mutated
// only by settlement.
type Registry interface {
	GetBook(ctx context.Context, id BookID) (*Book, error)

	// TransferOwnership moves the book to a new owner. The book's ID is
	// unchanged.
	TransferOwnership(ctx context.Context, id BookID, newOwner UserID) error

	// SetAvailability flips whether the book accepts new requests.
	SetAvailability(ctx context.Context, id BookID, available bool) error
}

// =============================================================================
// EXCHANGE STORE - Exchange records and history queries
// =============================================================================

// ExchangeStore persists Exchange records. Records are never deleted
// except by cancellation of a still-REQUESTED exchange.
type ExchangeStore interface {
	GetExchange(ctx context.Context, id ExchangeID) (*Exchange, error)

	// CreateExchange persists a new REQUESTED exchange. Returns
	// ErrActiveExchangeExists if the book already has an active one.
	CreateExchange(ctx context.Context, ex *Exchange) error

	// UpdateExchange persists status/timestamps for an existing record.
	UpdateExchange(ctx context.Context, ex *Exchange) error

	// DeleteExchange removes a record. Used only for cancellation of a
	// REQUESTED exchange, which never took effect.
	DeleteExchange(ctx context.Context, id ExchangeID) error

	// ActiveExchangeForBook returns the book's exchange in an active
	// status, or nil if there is none.
	ActiveExchangeForBook(ctx context.Context, bookID BookID) (*Exchange, error)

	// ExchangesBetween returns exchanges with the exact ordered pair
	// (from, to) created OR settled at or after since, any status except
	// those deleted by cancellation. Windowing on both timestamps keeps
	// a trade created just before the cutoff but settled inside it from
	// escaping the repeat-pair cooldown.
	ExchangesBetween(ctx context.Context, from, to UserID, since time.Time) ([]Exchange, error)

	// SettledAcquisition returns the exchange by which user acquired the
	// given book, settled at or after since, or nil. Completed and
	// disputed both count: a dispute does not revert the settlement.
	// Drives the circular (A->B->A) check.
	SettledAcquisition(ctx context.Context, bookID BookID, by UserID, since time.Time) (*Exchange, error)

	// ExchangesForUser returns exchanges where the user is either party,
	// newest first.
	ExchangesForUser(ctx context.Context, id UserID) ([]Exchange, error)
}

// =============================================================================
// COMPOSED STORE
// =============================================================================

// Store is the full persistence surface the core reads and writes.
type Store interface {
	Ledger
	Registry
	ExchangeStore
}

// TxStore wraps Store with transaction support.
// Settlement runs entirely inside WithTx.
type TxStore interface {
	Store

	// WithTx executes fn against a transaction-scoped store. If fn
	// returns an error the transaction is rolled back, otherwise it is
	// committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
