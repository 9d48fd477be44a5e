/*
Package sqlite provides the SQLite-backed implementation of the exchange
storage interfaces.

PURPOSE:
  Implements exchange.TxStore (Ledger + Registry + ExchangeStore with
  transactions) plus the account/listing administration the HTTP layer
  needs. In production the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  users:      Accounts with point balances (CHECK balance >= 0)
  books:      Listings; id is permanent across ownership transfers
  exchanges:  Exchange records; deleted only by cancellation

INVARIANT ENFORCEMENT:
  idx_exchanges_one_active is a partial UNIQUE index on book_id over the
  active statuses. The admission policy's application-level read is
  advisory; this index is the authority, so two racing requests on the
  same book cannot both create an active exchange.

  The users.balance CHECK constraint backs up the ledger's in-tx balance
  re-validation: even a buggy caller cannot commit a negative balance.

CONCURRENCY:
  Uses sync.RWMutex on top of WAL mode. Settlement runs inside WithTx;
  if the callback fails, the whole transaction rolls back and no partial
  mutation is visible.

USAGE:
  store, err := sqlite.New("./bookswap.db")
  svc := exchange.NewService(store, valuation.Heuristic{}, notifier)

SEE ALSO:
  - exchange/store.go: Interface definitions
  - store/memory:      In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pageturn/bookswap/exchange"
)

// Store implements exchange.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// statusList renders a status set as a SQL IN list, so the queries and
// the partial index share one source of truth with the core's sets.
func statusList(statuses []exchange.Status) string {
	quoted := make([]string, len(statuses))
	for i, st := range statuses {
		quoted[i] = "'" + string(st) + "'"
	}
	return strings.Join(quoted, ", ")
}

var (
	activeStatuses  = statusList(exchange.ActiveStatuses)
	settledStatuses = statusList(exchange.SettledStatuses)
)

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT,
		owner_id TEXT NOT NULL REFERENCES users(id),
		available BOOLEAN NOT NULL DEFAULT TRUE,
		computed_points INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_books_owner ON books(owner_id);

	CREATE TABLE IF NOT EXISTS exchanges (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL REFERENCES books(id),
		from_user_id TEXT NOT NULL REFERENCES users(id),
		to_user_id TEXT NOT NULL REFERENCES users(id),
		points_used INTEGER NOT NULL CHECK (points_used >= 0),
		status TEXT NOT NULL,
		dispute_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT
	);

	-- CRITICAL: at most one ACTIVE exchange per book. The admission
	-- policy checks this too, but the index closes the check-then-act
	-- race between concurrent requests.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_exchanges_one_active
		ON exchanges(book_id)
		WHERE status IN (` + activeStatuses + `);

	-- Repeat-pair cooldown queries (ordered pair + window)
	CREATE INDEX IF NOT EXISTS idx_exchanges_pair_created
		ON exchanges(from_user_id, to_user_id, created_at);

	-- Circular-exchange queries (who acquired this book, when)
	CREATE INDEX IF NOT EXISTS idx_exchanges_book_to_completed
		ON exchanges(book_id, to_user_id, completed_at);

	CREATE INDEX IF NOT EXISTS idx_exchanges_from_user ON exchanges(from_user_id);
	CREATE INDEX IF NOT EXISTS idx_exchanges_to_user ON exchanges(to_user_id);
	CREATE INDEX IF NOT EXISTS idx_exchanges_status ON exchanges(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same helpers run
// inside and outside transactions.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER (exchange.Ledger interface)
// =============================================================================

func (s *Store) GetUser(ctx context.Context, id exchange.UserID) (*exchange.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, db dbtx, id exchange.UserID) (*exchange.User, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, name, email, balance, created_at FROM users WHERE id = ?`, id)

	var u exchange.User
	var email sql.NullString
	var createdAt string
	if err := row.Scan(&u.ID, &u.Name, &email, &u.Balance, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, exchange.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Email = email.String
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

func (s *Store) GetBalance(ctx context.Context, id exchange.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalance(ctx, s.db, id)
}

func getBalance(ctx context.Context, db dbtx, id exchange.UserID) (int, error) {
	var balance int
	err := db.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = ?`, id).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, exchange.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (s *Store) Debit(ctx context.Context, id exchange.UserID, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return debit(ctx, s.db, id, amount)
}

func debit(ctx context.Context, db dbtx, id exchange.UserID, amount int) error {
	// Guarded update: the WHERE clause keeps the balance non-negative
	// without a read-modify-write round trip.
	res, err := db.ExecContext(ctx,
		`UPDATE users SET balance = balance - ? WHERE id = ? AND balance >= ?`,
		amount, id, amount)
	if err != nil {
		return fmt.Errorf("failed to debit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := getBalance(ctx, db, id); err != nil {
			return err
		}
		return exchange.ErrInsufficientFunds
	}
	return nil
}

func (s *Store) Credit(ctx context.Context, id exchange.UserID, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return credit(ctx, s.db, id, amount)
}

func credit(ctx context.Context, db dbtx, id exchange.UserID, amount int) error {
	res, err := db.ExecContext(ctx,
		`UPDATE users SET balance = balance + ? WHERE id = ?`, amount, id)
	if err != nil {
		return fmt.Errorf("failed to credit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return exchange.ErrUserNotFound
	}
	return nil
}

// =============================================================================
// REGISTRY (exchange.Registry interface)
// =============================================================================

func (s *Store) GetBook(ctx context.Context, id exchange.BookID) (*exchange.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBook(ctx, s.db, id)
}

const bookColumns = `id, title, author, owner_id, available, computed_points, created_at`

func getBook(ctx context.Context, db dbtx, id exchange.BookID) (*exchange.Book, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	book, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, exchange.ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*exchange.Book, error) {
	var b exchange.Book
	var author sql.NullString
	var points sql.NullInt64
	var createdAt string
	if err := row.Scan(&b.ID, &b.Title, &author, &b.OwnerID, &b.Available, &points, &createdAt); err != nil {
		return nil, err
	}
	b.Author = author.String
	if points.Valid {
		pts := int(points.Int64)
		b.ComputedPoints = &pts
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &b, nil
}

func (s *Store) TransferOwnership(ctx context.Context, id exchange.BookID, newOwner exchange.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transferOwnership(ctx, s.db, id, newOwner)
}

func transferOwnership(ctx context.Context, db dbtx, id exchange.BookID, newOwner exchange.UserID) error {
	res, err := db.ExecContext(ctx,
		`UPDATE books SET owner_id = ? WHERE id = ?`, newOwner, id)
	if err != nil {
		return fmt.Errorf("failed to transfer ownership: %w", err)
	}
	return requireRow(res, exchange.ErrBookNotFound)
}

func (s *Store) SetAvailability(ctx context.Context, id exchange.BookID, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setAvailability(ctx, s.db, id, available)
}

func setAvailability(ctx context.Context, db dbtx, id exchange.BookID, available bool) error {
	res, err := db.ExecContext(ctx,
		`UPDATE books SET available = ? WHERE id = ?`, available, id)
	if err != nil {
		return fmt.Errorf("failed to set availability: %w", err)
	}
	return requireRow(res, exchange.ErrBookNotFound)
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

// =============================================================================
// EXCHANGE STORE (exchange.ExchangeStore interface)
// =============================================================================

const exchangeColumns = `id, book_id, from_user_id, to_user_id, points_used, status,
	dispute_reason, created_at, updated_at, completed_at`

func (s *Store) GetExchange(ctx context.Context, id exchange.ExchangeID) (*exchange.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getExchange(ctx, s.db, id)
}

func getExchange(ctx context.Context, db dbtx, id exchange.ExchangeID) (*exchange.Exchange, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges WHERE id = ?`, id)
	ex, err := scanExchange(row)
	if err == sql.ErrNoRows {
		return nil, exchange.ErrExchangeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange: %w", err)
	}
	return ex, nil
}

func scanExchange(row rowScanner) (*exchange.Exchange, error) {
	var ex exchange.Exchange
	var disputeReason sql.NullString
	var createdAt, updatedAt string
	var completedAt sql.NullString
	err := row.Scan(&ex.ID, &ex.BookID, &ex.FromUserID, &ex.ToUserID, &ex.PointsUsed,
		&ex.Status, &disputeReason, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	ex.DisputeReason = disputeReason.String
	ex.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	ex.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		ex.CompletedAt = &t
	}
	return &ex, nil
}

func (s *Store) CreateExchange(ctx context.Context, ex *exchange.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createExchange(ctx, s.db, ex)
}

func createExchange(ctx context.Context, db dbtx, ex *exchange.Exchange) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO exchanges
		(id, book_id, from_user_id, to_user_id, points_used, status,
		 dispute_reason, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.BookID, ex.FromUserID, ex.ToUserID, ex.PointsUsed, ex.Status,
		nullString(ex.DisputeReason),
		ex.CreatedAt.UTC().Format(time.RFC3339),
		ex.UpdatedAt.UTC().Format(time.RFC3339),
		nullTime(ex.CompletedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return exchange.ErrActiveExchangeExists
		}
		return fmt.Errorf("failed to create exchange: %w", err)
	}
	return nil
}

func (s *Store) UpdateExchange(ctx context.Context, ex *exchange.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateExchange(ctx, s.db, ex)
}

func updateExchange(ctx context.Context, db dbtx, ex *exchange.Exchange) error {
	res, err := db.ExecContext(ctx, `
		UPDATE exchanges
		SET status = ?, dispute_reason = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		ex.Status, nullString(ex.DisputeReason),
		ex.UpdatedAt.UTC().Format(time.RFC3339),
		nullTime(ex.CompletedAt),
		ex.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update exchange: %w", err)
	}
	return requireRow(res, exchange.ErrExchangeNotFound)
}

func (s *Store) DeleteExchange(ctx context.Context, id exchange.ExchangeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteExchange(ctx, s.db, id)
}

func deleteExchange(ctx context.Context, db dbtx, id exchange.ExchangeID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM exchanges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete exchange: %w", err)
	}
	return requireRow(res, exchange.ErrExchangeNotFound)
}

func (s *Store) ActiveExchangeForBook(ctx context.Context, bookID exchange.BookID) (*exchange.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeExchangeForBook(ctx, s.db, bookID)
}

func activeExchangeForBook(ctx context.Context, db dbtx, bookID exchange.BookID) (*exchange.Exchange, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges
		 WHERE book_id = ? AND status IN (`+activeStatuses+`)`, bookID)
	ex, err := scanExchange(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active exchange: %w", err)
	}
	return ex, nil
}

func (s *Store) ExchangesBetween(ctx context.Context, from, to exchange.UserID, since time.Time) ([]exchange.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return exchangesBetween(ctx, s.db, from, to, since)
}

func exchangesBetween(ctx context.Context, db dbtx, from, to exchange.UserID, since time.Time) ([]exchange.Exchange, error) {
	// A record counts if it was created OR settled inside the window; a
	// trade created just before the cutoff but completed after it must
	// not escape the cooldown.
	cutoff := since.UTC().Format(time.RFC3339)
	rows, err := db.QueryContext(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges
		 WHERE from_user_id = ? AND to_user_id = ?
		   AND (created_at >= ? OR completed_at >= ?)
		 ORDER BY created_at ASC`,
		from, to, cutoff, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges between users: %w", err)
	}
	return collectExchanges(rows)
}

func (s *Store) SettledAcquisition(ctx context.Context, bookID exchange.BookID, by exchange.UserID, since time.Time) (*exchange.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return settledAcquisition(ctx, s.db, bookID, by, since)
}

func settledAcquisition(ctx context.Context, db dbtx, bookID exchange.BookID, by exchange.UserID, since time.Time) (*exchange.Exchange, error) {
	// Disputed counts alongside completed: a dispute freezes the record
	// without reverting the settlement.
	row := db.QueryRowContext(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges
		 WHERE book_id = ? AND to_user_id = ? AND status IN (`+settledStatuses+`) AND completed_at >= ?
		 ORDER BY completed_at DESC LIMIT 1`,
		bookID, by, since.UTC().Format(time.RFC3339))
	ex, err := scanExchange(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query acquisition: %w", err)
	}
	return ex, nil
}

func (s *Store) ExchangesForUser(ctx context.Context, id exchange.UserID) ([]exchange.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return exchangesForUser(ctx, s.db, id)
}

func exchangesForUser(ctx context.Context, db dbtx, id exchange.UserID) ([]exchange.Exchange, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges
		 WHERE from_user_id = ? OR to_user_id = ?
		 ORDER BY created_at DESC`, id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query user exchanges: %w", err)
	}
	return collectExchanges(rows)
}

func collectExchanges(rows *sql.Rows) ([]exchange.Exchange, error) {
	defer rows.Close()
	var result []exchange.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		result = append(result, *ex)
	}
	return result, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (exchange.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(exchange.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every operation through the open *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetUser(ctx context.Context, id exchange.UserID) (*exchange.User, error) {
	return getUser(ctx, ts.tx, id)
}

func (ts *txStore) GetBalance(ctx context.Context, id exchange.UserID) (int, error) {
	return getBalance(ctx, ts.tx, id)
}

func (ts *txStore) Debit(ctx context.Context, id exchange.UserID, amount int) error {
	return debit(ctx, ts.tx, id, amount)
}

func (ts *txStore) Credit(ctx context.Context, id exchange.UserID, amount int) error {
	return credit(ctx, ts.tx, id, amount)
}

func (ts *txStore) GetBook(ctx context.Context, id exchange.BookID) (*exchange.Book, error) {
	return getBook(ctx, ts.tx, id)
}

func (ts *txStore) TransferOwnership(ctx context.Context, id exchange.BookID, newOwner exchange.UserID) error {
	return transferOwnership(ctx, ts.tx, id, newOwner)
}

func (ts *txStore) SetAvailability(ctx context.Context, id exchange.BookID, available bool) error {
	return setAvailability(ctx, ts.tx, id, available)
}

func (ts *txStore) GetExchange(ctx context.Context, id exchange.ExchangeID) (*exchange.Exchange, error) {
	return getExchange(ctx, ts.tx, id)
}

func (ts *txStore) CreateExchange(ctx context.Context, ex *exchange.Exchange) error {
	return createExchange(ctx, ts.tx, ex)
}

func (ts *txStore) UpdateExchange(ctx context.Context, ex *exchange.Exchange) error {
	return updateExchange(ctx, ts.tx, ex)
}

func (ts *txStore) DeleteExchange(ctx context.Context, id exchange.ExchangeID) error {
	return deleteExchange(ctx, ts.tx, id)
}

func (ts *txStore) ActiveExchangeForBook(ctx context.Context, bookID exchange.BookID) (*exchange.Exchange, error) {
	return activeExchangeForBook(ctx, ts.tx, bookID)
}

func (ts *txStore) ExchangesBetween(ctx context.Context, from, to exchange.UserID, since time.Time) ([]exchange.Exchange, error) {
	return exchangesBetween(ctx, ts.tx, from, to, since)
}

func (ts *txStore) SettledAcquisition(ctx context.Context, bookID exchange.BookID, by exchange.UserID, since time.Time) (*exchange.Exchange, error) {
	return settledAcquisition(ctx, ts.tx, bookID, by, since)
}

func (ts *txStore) ExchangesForUser(ctx context.Context, id exchange.UserID) ([]exchange.Exchange, error) {
	return exchangesForUser(ctx, ts.tx, id)
}

var _ exchange.TxStore = (*Store)(nil)
var _ exchange.Store = (*txStore)(nil)

// =============================================================================
// ACCOUNT & LISTING ADMINISTRATION (used by the HTTP layer)
// =============================================================================

// CreateUser inserts a new account with a starting balance.
func (s *Store) CreateUser(ctx context.Context, u exchange.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, balance, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, nullString(u.Email), u.Balance,
		u.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// ListUsers returns all accounts, oldest first.
func (s *Store) ListUsers(ctx context.Context) ([]exchange.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, balance, created_at FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []exchange.User
	for rows.Next() {
		var u exchange.User
		var email sql.NullString
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Name, &email, &u.Balance, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Email = email.String
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateBook inserts a new listing.
func (s *Store) CreateBook(ctx context.Context, b exchange.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (id, title, author, owner_id, available, computed_points, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Title, nullString(b.Author), b.OwnerID, b.Available,
		nullInt(b.ComputedPoints),
		b.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create book: %w", err)
	}
	return nil
}

// ListBooks returns all listings, newest first.
func (s *Store) ListBooks(ctx context.Context) ([]exchange.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []exchange.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

// SetComputedPoints caches a valuation on the book row. Called by the
// listing flow; never by settlement (PointsUsed is already snapshotted).
func (s *Store) SetComputedPoints(ctx context.Context, id exchange.BookID, points int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE books SET computed_points = ? WHERE id = ?`, points, id)
	if err != nil {
		return fmt.Errorf("failed to set computed points: %w", err)
	}
	return requireRow(res, exchange.ErrBookNotFound)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
