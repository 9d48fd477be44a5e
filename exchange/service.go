/*
service.go - Exchange state machine and atomic settlement

PURPOSE:
  Owns the Exchange lifecycle: request -> approve/reject/cancel/dispute.
  Approval performs the settlement (debit, credit, ownership transfer,
  re-listing) as one all-or-nothing transaction.

STATE MACHINE:
  REQUESTED --approve--> COMPLETED   (atomic settlement)
  REQUESTED --reject---> REJECTED
  REQUESTED --cancel---> (record deleted, never took effect)
  COMPLETED --dispute--> DISPUTED    (no automatic reversal)

  APPROVED is a recognized status value but never a persisted resting
  state: "owner approves" is a single atomic operation that settles and
  lands on COMPLETED.

TRANSACTIONAL GUARANTEES:
  Every mutating transition re-validates the exchange's status INSIDE
  the store transaction. Two concurrent approves, or an approve racing a
  cancel/reject, cannot both succeed: whichever commits first flips the
  status and the loser fails its re-validation.

  Settlement also re-derives the requester's balance inside the
  transaction. Admission checked it at request time, but the balance may
  have changed since; a shortfall aborts with no partial mutation.

NOTIFICATIONS:
  Events fire after a successful transition (and on the insufficient-
  points refusal, which the requester should hear about). Dispatch is
  fire-and-forget; a notifier can never fail or roll back a transition.
*/
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Service drives the Exchange state machine over a transactional store.
type Service struct {
	Store    TxStore
	Policy   *Policy
	Notifier Notifier

	// Now is injectable for tests. Nil means time.Now.
	Now func() time.Time
}

// NewService wires a service with the default admission policy over the
// same store. A nil notifier is replaced with a no-op.
func NewService(store TxStore, valuation ValuationProvider, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		Store:    store,
		Policy:   &Policy{Store: store, Valuation: valuation},
		Notifier: notifier,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// =============================================================================
// REQUEST - Create a new exchange (no balance/ownership change)
// =============================================================================

// Request asks to exchange the book for the requester. The admission
// policy runs first; on success a REQUESTED exchange is created with the
// valuation snapshotted as PointsUsed.
func (s *Service) Request(ctx context.Context, bookID BookID, requester UserID) (*Exchange, error) {
	verdict, err := s.Policy.Admit(ctx, bookID, requester)
	if err != nil {
		var adm *AdmissionError
		if errors.As(err, &adm) && adm.Reason == InsufficientPoints {
			// The requester hears about this one; nothing was mutated.
			s.Notifier.Notify(Event{
				Kind:      EventInsufficientPoints,
				BookID:    bookID,
				Recipient: requester,
			})
		}
		return nil, err
	}

	now := s.now()
	ex := &Exchange{
		ID:         ExchangeID(uuid.NewString()),
		BookID:     bookID,
		FromUserID: verdict.Book.OwnerID,
		ToUserID:   requester,
		PointsUsed: verdict.Points,
		Status:     StatusRequested,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.Store.CreateExchange(ctx, ex); err != nil {
		if errors.Is(err, ErrActiveExchangeExists) {
			// Lost the race with a concurrent request; same verdict as
			// admission check 5.
			return nil, &AdmissionError{Reason: ActiveExchangeExists, BookID: bookID, UserID: requester}
		}
		return nil, err
	}

	s.Notifier.Notify(Event{
		Kind:       EventRequested,
		ExchangeID: ex.ID,
		BookID:     bookID,
		Recipient:  ex.FromUserID,
	})
	return ex, nil
}

// =============================================================================
// APPROVE - Atomic settlement
// =============================================================================

// Approve settles a REQUESTED exchange. Only the book's owner
// (FromUserID) may approve. All five settlement steps commit together
// or not at all:
//  1. debit PointsUsed from the requester (re-checked in-tx)
//  2. credit PointsUsed to the owner
//  3. transfer book ownership to the requester (book ID unchanged)
//  4. re-list the book (available under its new owner)
//  5. status=COMPLETED, CompletedAt set
func (s *Service) Approve(ctx context.Context, id ExchangeID, caller UserID) (*Exchange, error) {
	var settled *Exchange

	err := s.Store.WithTx(ctx, func(tx Store) error {
		ex, err := tx.GetExchange(ctx, id)
		if err != nil {
			return err
		}
		if caller != ex.FromUserID {
			return &AuthorizationError{ExchangeID: id, CallerID: caller, Action: "approve",
				Detail: "only the book's owner may approve"}
		}
		// Re-validate inside the transaction: a concurrent approve,
		// reject, or cancel may have won.
		if ex.Status != StatusRequested {
			return &AuthorizationError{ExchangeID: id, CallerID: caller, Action: "approve",
				Detail: "exchange is not in requested state"}
		}

		// Balance may have dropped since admission; re-derive.
		balance, err := tx.GetBalance(ctx, ex.ToUserID)
		if err != nil {
			return err
		}
		if balance < ex.PointsUsed {
			return &SettlementError{ExchangeID: id, Insufficient: true,
				Available: balance, Required: ex.PointsUsed}
		}

		if err := tx.Debit(ctx, ex.ToUserID, ex.PointsUsed); err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				return &SettlementError{ExchangeID: id, Insufficient: true,
					Available: balance, Required: ex.PointsUsed}
			}
			return err
		}
		if err := tx.Credit(ctx, ex.FromUserID, ex.PointsUsed); err != nil {
			return err
		}
		if err := tx.TransferOwnership(ctx, ex.BookID, ex.ToUserID); err != nil {
			return err
		}
		if err := tx.SetAvailability(ctx, ex.BookID, true); err != nil {
			return err
		}

		now := s.now()
		ex.Status = StatusCompleted
		ex.UpdatedAt = now
		ex.CompletedAt = &now
		if err := tx.UpdateExchange(ctx, ex); err != nil {
			return err
		}

		settled = ex
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Notifier.Notify(Event{
		Kind:       EventCompleted,
		ExchangeID: settled.ID,
		BookID:     settled.BookID,
		Recipient:  settled.ToUserID,
	})
	return settled, nil
}

// =============================================================================
// REJECT - Owner declines (no balance/ownership change)
// =============================================================================

// Reject declines a REQUESTED exchange. Only the owner may reject.
func (s *Service) Reject(ctx context.Context, id ExchangeID, caller UserID) error {
	var rejected *Exchange

	err := s.Store.WithTx(ctx, func(tx Store) error {
		ex, err := tx.GetExchange(ctx, id)
		if err != nil {
			return err
		}
		if caller != ex.FromUserID {
			return &AuthorizationError{ExchangeID: id, CallerID: caller, Action: "reject",
				Detail: "only the book's owner may reject"}
		}
		if ex.Status != StatusRequested {
			return &AuthorizationError{ExchangeID: id, CallerID: caller, Action: "reject",
				Detail: "exchange is not in requested state"}
		}

		ex.Status = StatusRejected
		ex.UpdatedAt = s.now()
		if err := tx.UpdateExchange(ctx, ex); err != nil {
			return err
		}
		rejected = ex
		return nil
	})
	if err != nil {
		return err
	}

	s.Notifier.Notify(Event{
		Kind:       EventRejected,
		ExchangeID: rejected.ID,
		BookID:     rejected.BookID,
		Recipient:  rejected.ToUserID,
	})
	return nil
}

// =============================================================================
// CANCEL - Requester withdraws (record deleted)
// =============================================================================

// Cancel withdraws a REQUESTED exchange. Only the requester may cancel.
// The record is deleted entirely: it never took effect, so it leaves no
// trace in the history the anti-abuse checks query.
func (s *Service) Cancel(ctx context.Context, id ExchangeID, caller UserID) error {
	var cancelled *Exchange

	err := s.Store.WithTx(ctx, func(tx Store) error {
		ex, err := tx.GetExchange(ctx, id)
		if err != nil {
			return err
		}
		if caller != ex.ToUserID {
			return &AuthorizationError{ExchangeID: id, CallerID: caller, Action: "cancel",
				Detail: "only the requester may cancel"}
		}
		if ex.Status != StatusRequested {
			return &AuthorizationError{ExchangeID: id, CallerID: caller, Action: "cancel",
				Detail: "exchange is not in requested state"}
		}

		if err := tx.DeleteExchange(ctx, ex.ID); err != nil {
			return err
		}
		cancelled = ex
		return nil
	})
	if err != nil {
		return err
	}

	s.Notifier.Notify(Event{
		Kind:       EventCancelled,
		ExchangeID: cancelled.ID,
		BookID:     cancelled.BookID,
		Recipient:  cancelled.FromUserID,
	})
	return nil
}

// =============================================================================
// DISPUTE - Escalation, not reversal
// =============================================================================

// Dispute flags a COMPLETED exchange for manual resolution. Either party
// may raise it. Points and ownership from the settlement are NOT
// reverted; the record is frozen pending administrative action.
func (s *Service) Dispute(ctx context.Context, id ExchangeID, caller UserID, reason string) (*Exchange, error) {
	var disputed *Exchange

	err := s.Store.WithTx(ctx, func(tx Store) error {
		ex, err := tx.GetExchange(ctx, id)
		if err != nil {
			return err
		}
		if caller != ex.FromUserID && caller != ex.ToUserID {
			return &AuthorizationError{ExchangeID: id, CallerID: caller, Action: "dispute",
				Detail: "only a party to the exchange may dispute"}
		}
		if ex.Status != StatusCompleted {
			return &AuthorizationError{ExchangeID: id, CallerID: caller, Action: "dispute",
				Detail: "only a completed exchange can be disputed"}
		}

		ex.Status = StatusDisputed
		ex.DisputeReason = reason
		ex.UpdatedAt = s.now()
		if err := tx.UpdateExchange(ctx, ex); err != nil {
			return err
		}
		disputed = ex
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Notify the counterparty of whoever raised it.
	recipient := disputed.FromUserID
	if caller == disputed.FromUserID {
		recipient = disputed.ToUserID
	}
	s.Notifier.Notify(Event{
		Kind:       EventDisputed,
		ExchangeID: disputed.ID,
		BookID:     disputed.BookID,
		Recipient:  recipient,
	})
	return disputed, nil
}
