// Package memory provides an in-memory exchange.TxStore (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pageturn/bookswap/exchange"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	users     map[exchange.UserID]*exchange.User
	books     map[exchange.BookID]*exchange.Book
	exchanges map[exchange.ExchangeID]*exchange.Exchange
}

func New() *Memory {
	return &Memory{
		users:     make(map[exchange.UserID]*exchange.User),
		books:     make(map[exchange.BookID]*exchange.Book),
		exchanges: make(map[exchange.ExchangeID]*exchange.Exchange),
	}
}

// PutUser seeds or replaces a user. Test/dev helper.
func (m *Memory) PutUser(u exchange.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

// PutBook seeds or replaces a book. Test/dev helper.
func (m *Memory) PutBook(b exchange.Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = &b
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) GetUser(_ context.Context, id exchange.UserID) (*exchange.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserLocked(id)
}

func (m *Memory) getUserLocked(id exchange.UserID) (*exchange.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, exchange.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetBalance(_ context.Context, id exchange.UserID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, err := m.getUserLocked(id)
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

func (m *Memory) Debit(_ context.Context, id exchange.UserID, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debitLocked(id, amount)
}

func (m *Memory) debitLocked(id exchange.UserID, amount int) error {
	u, ok := m.users[id]
	if !ok {
		return exchange.ErrUserNotFound
	}
	if u.Balance < amount {
		return exchange.ErrInsufficientFunds
	}
	u.Balance -= amount
	return nil
}

func (m *Memory) Credit(_ context.Context, id exchange.UserID, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditLocked(id, amount)
}

func (m *Memory) creditLocked(id exchange.UserID, amount int) error {
	u, ok := m.users[id]
	if !ok {
		return exchange.ErrUserNotFound
	}
	u.Balance += amount
	return nil
}

// =============================================================================
// REGISTRY
// =============================================================================

func (m *Memory) GetBook(_ context.Context, id exchange.BookID) (*exchange.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBookLocked(id)
}

func (m *Memory) getBookLocked(id exchange.BookID) (*exchange.Book, error) {
	b, ok := m.books[id]
	if !ok {
		return nil, exchange.ErrBookNotFound
	}
	cp := *b
	if b.ComputedPoints != nil {
		pts := *b.ComputedPoints
		cp.ComputedPoints = &pts
	}
	return &cp, nil
}

func (m *Memory) TransferOwnership(_ context.Context, id exchange.BookID, newOwner exchange.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transferLocked(id, newOwner)
}

func (m *Memory) transferLocked(id exchange.BookID, newOwner exchange.UserID) error {
	b, ok := m.books[id]
	if !ok {
		return exchange.ErrBookNotFound
	}
	b.OwnerID = newOwner
	return nil
}

func (m *Memory) SetAvailability(_ context.Context, id exchange.BookID, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setAvailabilityLocked(id, available)
}

func (m *Memory) setAvailabilityLocked(id exchange.BookID, available bool) error {
	b, ok := m.books[id]
	if !ok {
		return exchange.ErrBookNotFound
	}
	b.Available = available
	return nil
}

// =============================================================================
// EXCHANGE STORE
// =============================================================================

func (m *Memory) GetExchange(_ context.Context, id exchange.ExchangeID) (*exchange.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getExchangeLocked(id)
}

func (m *Memory) getExchangeLocked(id exchange.ExchangeID) (*exchange.Exchange, error) {
	ex, ok := m.exchanges[id]
	if !ok {
		return nil, exchange.ErrExchangeNotFound
	}
	cp := *ex
	if ex.CompletedAt != nil {
		at := *ex.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp, nil
}

func (m *Memory) CreateExchange(_ context.Context, ex *exchange.Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createExchangeLocked(ex)
}

func (m *Memory) createExchangeLocked(ex *exchange.Exchange) error {
	// Single-active-exchange-per-book, enforced at the store the way the
	// SQLite partial unique index does.
	for _, existing := range m.exchanges {
		if existing.BookID == ex.BookID && existing.Status.IsActive() {
			return exchange.ErrActiveExchangeExists
		}
	}
	cp := *ex
	m.exchanges[ex.ID] = &cp
	return nil
}

func (m *Memory) UpdateExchange(_ context.Context, ex *exchange.Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateExchangeLocked(ex)
}

func (m *Memory) updateExchangeLocked(ex *exchange.Exchange) error {
	if _, ok := m.exchanges[ex.ID]; !ok {
		return exchange.ErrExchangeNotFound
	}
	cp := *ex
	if ex.CompletedAt != nil {
		at := *ex.CompletedAt
		cp.CompletedAt = &at
	}
	m.exchanges[ex.ID] = &cp
	return nil
}

func (m *Memory) DeleteExchange(_ context.Context, id exchange.ExchangeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteExchangeLocked(id)
}

func (m *Memory) deleteExchangeLocked(id exchange.ExchangeID) error {
	if _, ok := m.exchanges[id]; !ok {
		return exchange.ErrExchangeNotFound
	}
	delete(m.exchanges, id)
	return nil
}

func (m *Memory) ActiveExchangeForBook(_ context.Context, bookID exchange.BookID) (*exchange.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeForBookLocked(bookID)
}

func (m *Memory) activeForBookLocked(bookID exchange.BookID) (*exchange.Exchange, error) {
	for _, ex := range m.exchanges {
		if ex.BookID == bookID && ex.Status.IsActive() {
			cp := *ex
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) ExchangesBetween(_ context.Context, from, to exchange.UserID, since time.Time) ([]exchange.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.betweenLocked(from, to, since)
}

func (m *Memory) betweenLocked(from, to exchange.UserID, since time.Time) ([]exchange.Exchange, error) {
	var result []exchange.Exchange
	for _, ex := range m.exchanges {
		if ex.FromUserID != from || ex.ToUserID != to {
			continue
		}
		// Created OR settled inside the window.
		if !ex.CreatedAt.Before(since) ||
			(ex.CompletedAt != nil && !ex.CompletedAt.Before(since)) {
			result = append(result, *ex)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) SettledAcquisition(_ context.Context, bookID exchange.BookID, by exchange.UserID, since time.Time) (*exchange.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.acquisitionLocked(bookID, by, since)
}

func (m *Memory) acquisitionLocked(bookID exchange.BookID, by exchange.UserID, since time.Time) (*exchange.Exchange, error) {
	for _, ex := range m.exchanges {
		if ex.BookID == bookID && ex.ToUserID == by && ex.Status.IsSettled() &&
			ex.CompletedAt != nil && !ex.CompletedAt.Before(since) {
			cp := *ex
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) ExchangesForUser(_ context.Context, id exchange.UserID) ([]exchange.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.forUserLocked(id)
}

func (m *Memory) forUserLocked(id exchange.UserID) ([]exchange.Exchange, error) {
	var result []exchange.Exchange
	for _, ex := range m.exchanges {
		if ex.FromUserID == id || ex.ToUserID == id {
			result = append(result, *ex)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(exchange.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users     map[exchange.UserID]*exchange.User
	books     map[exchange.BookID]*exchange.Book
	exchanges map[exchange.ExchangeID]*exchange.Exchange
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		users:     make(map[exchange.UserID]*exchange.User, len(m.users)),
		books:     make(map[exchange.BookID]*exchange.Book, len(m.books)),
		exchanges: make(map[exchange.ExchangeID]*exchange.Exchange, len(m.exchanges)),
	}
	for id, u := range m.users {
		cp := *u
		s.users[id] = &cp
	}
	for id, b := range m.books {
		cp := *b
		if b.ComputedPoints != nil {
			pts := *b.ComputedPoints
			cp.ComputedPoints = &pts
		}
		s.books[id] = &cp
	}
	for id, ex := range m.exchanges {
		cp := *ex
		if ex.CompletedAt != nil {
			at := *ex.CompletedAt
			cp.CompletedAt = &at
		}
		s.exchanges[id] = &cp
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.users = s.users
	m.books = s.books
	m.exchanges = s.exchanges
}

// txView runs against the parent while WithTx holds the write lock.
type txView struct {
	parent *Memory
}

func (tv *txView) GetUser(_ context.Context, id exchange.UserID) (*exchange.User, error) {
	return tv.parent.getUserLocked(id)
}

func (tv *txView) GetBalance(_ context.Context, id exchange.UserID) (int, error) {
	u, err := tv.parent.getUserLocked(id)
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

func (tv *txView) Debit(_ context.Context, id exchange.UserID, amount int) error {
	return tv.parent.debitLocked(id, amount)
}

func (tv *txView) Credit(_ context.Context, id exchange.UserID, amount int) error {
	return tv.parent.creditLocked(id, amount)
}

func (tv *txView) GetBook(_ context.Context, id exchange.BookID) (*exchange.Book, error) {
	return tv.parent.getBookLocked(id)
}

func (tv *txView) TransferOwnership(_ context.Context, id exchange.BookID, newOwner exchange.UserID) error {
	return tv.parent.transferLocked(id, newOwner)
}

func (tv *txView) SetAvailability(_ context.Context, id exchange.BookID, available bool) error {
	return tv.parent.setAvailabilityLocked(id, available)
}

func (tv *txView) GetExchange(_ context.Context, id exchange.ExchangeID) (*exchange.Exchange, error) {
	return tv.parent.getExchangeLocked(id)
}

func (tv *txView) CreateExchange(_ context.Context, ex *exchange.Exchange) error {
	return tv.parent.createExchangeLocked(ex)
}

func (tv *txView) UpdateExchange(_ context.Context, ex *exchange.Exchange) error {
	return tv.parent.updateExchangeLocked(ex)
}

func (tv *txView) DeleteExchange(_ context.Context, id exchange.ExchangeID) error {
	return tv.parent.deleteExchangeLocked(id)
}

func (tv *txView) ActiveExchangeForBook(_ context.Context, bookID exchange.BookID) (*exchange.Exchange, error) {
	return tv.parent.activeForBookLocked(bookID)
}

func (tv *txView) ExchangesBetween(_ context.Context, from, to exchange.UserID, since time.Time) ([]exchange.Exchange, error) {
	return tv.parent.betweenLocked(from, to, since)
}

func (tv *txView) SettledAcquisition(_ context.Context, bookID exchange.BookID, by exchange.UserID, since time.Time) (*exchange.Exchange, error) {
	return tv.parent.acquisitionLocked(bookID, by, since)
}

func (tv *txView) ExchangesForUser(_ context.Context, id exchange.UserID) ([]exchange.Exchange, error) {
	return tv.parent.forUserLocked(id)
}

var _ exchange.TxStore = (*Memory)(nil)
var _ exchange.Store = (*txView)(nil)
