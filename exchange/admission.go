/*
admission.go - Request-time admission policy

PURPOSE:
  Decides whether requestExchange may proceed BEFORE any state is
  created. Pure predicate evaluation over current Book/Ledger/Exchange
  snapshots; no side effects.

CHECK ORDER (fail-fast, each failure is a distinct AdmissionReason):
  1. Requester authenticated          -> Unauthenticated
  2. Book exists                      -> BookNotFound
  3. Requester is not the owner       -> SelfExchangeForbidden
  4. Book is available                -> BookUnavailable
  5. No active exchange on the book   -> ActiveExchangeExists
  6. Balance covers the valuation     -> InsufficientPoints
  7. No same-pair trade in the window -> RepeatExchangeBlocked
  8. No A->B->A book reversal         -> CircularExchangeBlocked

ANTI-ABUSE RATIONALE:
  Checks 7 and 8 stop two colluding accounts from manufacturing points
  by trading back and forth. Check 7 blocks the exact ordered pair
  (owner -> requester) inside the trailing window regardless of book.
  Check 8 blocks the literal two-hop reversal: the current owner
  acquired THIS book from the requester inside the window, so completing
  the request would close the A->B->A loop.

  Both checks count DISPUTED settlements the same as COMPLETED ones: a
  dispute freezes the record without reverting points or ownership, so
  disputing a trade must not reopen the window.

The verdict carries the valuation snapshot; the service stamps it onto
the new exchange as PointsUsed.
*/
package exchange

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// VALUATION PROVIDER - External collaborator, consumed as opaque input
// =============================================================================

// ValuationProvider supplies a book's current point cost. Implementations
// must return within a bounded time; the policy falls back to the cached
// or default valuation on error.
type ValuationProvider interface {
	GetCurrentPoints(ctx context.Context, book *Book) (int, error)
}

// =============================================================================
// ADMISSION POLICY
// =============================================================================

// Policy evaluates the request-time admission checks. It reads from the
// store but never writes.
type Policy struct {
	Store     Store
	Valuation ValuationProvider // optional; cached/default used when nil or failing

	// Window is the trailing abuse window. Zero means AbuseWindow.
	Window time.Duration

	// Now is injectable for tests. Nil means time.Now.
	Now func() time.Time
}

// Verdict is a successful admission: the request may proceed at the
// snapshotted valuation.
type Verdict struct {
	Book   *Book
	Points int
}

func (p *Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *Policy) window() time.Duration {
	if p.Window > 0 {
		return p.Window
	}
	return AbuseWindow
}

// Admit runs the checks in order and returns the first failure as an
// *AdmissionError, or a Verdict carrying the valuation snapshot.
func (p *Policy) Admit(ctx context.Context, bookID BookID, requester UserID) (*Verdict, error) {
	// 1. Authenticated actor.
	if requester == "" {
		return nil, &AdmissionError{Reason: Unauthenticated, BookID: bookID}
	}

	// 2. Book exists.
	book, err := p.Store.GetBook(ctx, bookID)
	if err != nil {
		if IsNotFound(err) {
			return nil, &AdmissionError{Reason: BookNotFound, BookID: bookID, UserID: requester}
		}
		return nil, err
	}

	// 3. No self-exchange, regardless of balance or availability.
	if book.OwnerID == requester {
		return nil, &AdmissionError{Reason: SelfExchangeForbidden, BookID: bookID, UserID: requester}
	}

	// 4. Book accepts requests.
	if !book.Available {
		return nil, &AdmissionError{Reason: BookUnavailable, BookID: bookID, UserID: requester}
	}

	// 5. Single active exchange per book. Advisory here; the store's
	// uniqueness constraint is the authority (see CreateExchange).
	active, err := p.Store.ActiveExchangeForBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, &AdmissionError{Reason: ActiveExchangeExists, BookID: bookID, UserID: requester}
	}

	// 6. Balance covers the valuation snapshot.
	points := p.currentPoints(ctx, book)
	balance, err := p.Store.GetBalance(ctx, requester)
	if err != nil {
		if IsNotFound(err) {
			return nil, &AdmissionError{Reason: Unauthenticated, BookID: bookID, UserID: requester}
		}
		return nil, err
	}
	if balance < points {
		return nil, &AdmissionError{
			Reason: InsufficientPoints,
			BookID: bookID,
			UserID: requester,
			Detail: fmt.Sprintf("have %d, need %d", balance, points),
		}
	}

	since := p.now().Add(-p.window())

	// 7. Repeat-pair cooldown: no settled or active exchange with the
	// exact ordered pair (owner -> requester) inside the window.
	prior, err := p.Store.ExchangesBetween(ctx, book.OwnerID, requester, since)
	if err != nil {
		return nil, err
	}
	for _, ex := range prior {
		if ex.Status.IsActive() || ex.Status.IsSettled() {
			return nil, &AdmissionError{Reason: RepeatExchangeBlocked, BookID: bookID, UserID: requester}
		}
	}

	// 8. Circular block: the current owner acquired this same book from
	// the requester inside the window, so completing this request would
	// close the A->B->A loop.
	acq, err := p.Store.SettledAcquisition(ctx, bookID, book.OwnerID, since)
	if err != nil {
		return nil, err
	}
	if acq != nil && acq.FromUserID == requester {
		return nil, &AdmissionError{Reason: CircularExchangeBlocked, BookID: bookID, UserID: requester}
	}

	return &Verdict{Book: book, Points: points}, nil
}

// currentPoints resolves the valuation snapshot: cached value first, then
// the provider, then DefaultPoints. Provider failures never block
// admission.
func (p *Policy) currentPoints(ctx context.Context, book *Book) int {
	if book.ComputedPoints != nil {
		return *book.ComputedPoints
	}
	if p.Valuation != nil {
		if pts, err := p.Valuation.GetCurrentPoints(ctx, book); err == nil {
			return pts
		}
	}
	return DefaultPoints
}
