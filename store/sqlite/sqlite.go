/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.TxStore using SQLite. The same patterns apply to
  PostgreSQL in production - only minor SQL dialect differences.

COMPARE-AND-SWAP:
  UpdateBalance is an UPDATE guarded on the current value:

    UPDATE accounts SET balance = ? WHERE id = ? AND balance = ?

  Zero affected rows means either the account is gone (ErrAccountNotFound)
  or another writer got there first (ErrConcurrentModification); the two
  are distinguished with a follow-up existence check. UpdateStatus guards
  the Completed -> Reversed transition the same way.

KEY TABLES:
  accounts:         Current balance per buyer/company, funding ceilings
  transactions:     The ledger; idempotency_key is UNIQUE
  expiration_runs:  One row per settled cycle, for the scheduler and audit

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer at a time, better crash recovery.

CONCURRENCY:
  A sync.RWMutex serializes access alongside SQLite's own locking; WithTx
  holds the write lock for the whole callback, which is what gives the
  expiration cycle exclusive access against process/reverse calls.

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface contracts
  - ledger/store/memory.go: In-memory implementation for tests
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
	"github.com/warp/points-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for tests.
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

func (s *Store) migrate() error {
	schema := `
	-- Accounts (current balances; history lives in transactions)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		balance TEXT NOT NULL,
		funding_ceiling TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_kind ON accounts(kind);

	-- Transaction ledger (entries are never deleted)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		counter_id TEXT,
		store_id TEXT,
		amount TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		ts TEXT NOT NULL,
		description TEXT,
		idempotency_key TEXT UNIQUE,
		parent_id TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_subject ON transactions(subject_id, ts);
	CREATE INDEX IF NOT EXISTS idx_transactions_counter ON transactions(counter_id, ts);
	CREATE INDEX IF NOT EXISTS idx_transactions_store ON transactions(store_id) WHERE store_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Expiration cycle runs (for the scheduler and audit)
	CREATE TABLE IF NOT EXISTS expiration_runs (
		id TEXT PRIMARY KEY,
		cycle_label TEXT NOT NULL,
		as_of TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		expired_accounts INTEGER DEFAULT 0,
		expired_total TEXT DEFAULT '0',
		companies_reset INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_expiration_runs_cycle
		ON expiration_runs(cycle_label) WHERE status = 'completed';
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNT STORE (ledger.AccountStore interface)
// =============================================================================

// PutAccount seeds or overwrites an account. Onboarding is out of engine
// scope, so this lives on the implementation, not the Store interface.
func (s *Store) PutAccount(ctx context.Context, account ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO accounts (id, kind, balance, funding_ceiling, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			balance = excluded.balance,
			funding_ceiling = excluded.funding_ceiling
	`
	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.Kind, account.Balance.String(),
		account.FundingCeiling.String(), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, id)
}

func getAccount(ctx context.Context, db execer, id ledger.AccountID) (ledger.Account, error) {
	var (
		account       ledger.Account
		balance, ceil string
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, kind, balance, funding_ceiling FROM accounts WHERE id = ?", id,
	).Scan(&account.ID, &account.Kind, &balance, &ceil)
	if err == sql.ErrNoRows {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to load account: %w", err)
	}
	account.Balance = ledger.MustParseAmount(balance)
	account.FundingCeiling = ledger.MustParseAmount(ceil)
	return account, nil
}

func (s *Store) ListAccounts(ctx context.Context, kind ledger.AccountKind) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAccounts(ctx, s.db, kind)
}

func listAccounts(ctx context.Context, db execer, kind ledger.AccountKind) ([]ledger.Account, error) {
	query := "SELECT id, kind, balance, funding_ceiling FROM accounts"
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var (
			account       ledger.Account
			balance, ceil string
		)
		if err := rows.Scan(&account.ID, &account.Kind, &balance, &ceil); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		account.Balance = ledger.MustParseAmount(balance)
		account.FundingCeiling = ledger.MustParseAmount(ceil)
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (s *Store) UpdateBalance(ctx context.Context, id ledger.AccountID, newBalance, expected ledger.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateBalance(ctx, s.db, id, newBalance, expected)
}

func updateBalance(ctx context.Context, db execer, id ledger.AccountID, newBalance, expected ledger.Amount) error {
	res, err := db.ExecContext(ctx,
		"UPDATE accounts SET balance = ? WHERE id = ? AND balance = ?",
		newBalance.String(), id, expected.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Missing row and stale expectation both hit zero rows; tell them apart.
		if _, err := getAccount(ctx, db, id); err != nil {
			return err
		}
		return ledger.ErrConcurrentModification
	}
	return nil
}

func (s *Store) SetBalance(ctx context.Context, id ledger.AccountID, newBalance ledger.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setBalance(ctx, s.db, id, newBalance)
}

func setBalance(ctx context.Context, db execer, id ledger.AccountID, newBalance ledger.Amount) error {
	res, err := db.ExecContext(ctx,
		"UPDATE accounts SET balance = ? WHERE id = ?", newBalance.String(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

// =============================================================================
// LEDGER STORE (ledger.LedgerStore interface)
// =============================================================================

const transactionColumns = `id, subject_id, counter_id, store_id, amount, kind, status, ts, description, idempotency_key, parent_id, created_by`

func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTx(ctx, s.db, tx)
}

func appendTx(ctx context.Context, db execer, tx ledger.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, subject_id, counter_id, store_id, amount, kind, status, ts, description, idempotency_key, parent_id, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		tx.ID,
		tx.SubjectID,
		nullString(string(tx.CounterID)),
		nullString(string(tx.StoreID)),
		tx.Amount.String(),
		tx.Kind,
		tx.Status,
		tx.Timestamp.UTC().Format(time.RFC3339Nano),
		tx.Description,
		nullString(tx.IdempotencyKey),
		nullString(string(tx.ParentID)),
		tx.CreatedBy,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, db execer, id ledger.TransactionID) (ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to query transaction: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ledger.Transaction{}, err
		}
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return scanTransaction(rows)
}

func (s *Store) UpdateStatus(ctx context.Context, id ledger.TransactionID, status, expected ledger.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateStatus(ctx, s.db, id, status, expected)
}

func updateStatus(ctx context.Context, db execer, id ledger.TransactionID, status, expected ledger.TransactionStatus) error {
	res, err := db.ExecContext(ctx,
		"UPDATE transactions SET status = ? WHERE id = ? AND status = ?",
		status, id, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := getTransaction(ctx, db, id); err != nil {
			return err
		}
		return ledger.ErrInvalidState
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db, filter)
}

func listTransactions(ctx context.Context, db execer, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	query := "SELECT " + transactionColumns + " FROM transactions WHERE 1=1"
	var args []any

	if filter.AccountID != "" {
		query += " AND (subject_id = ? OR counter_id = ?)"
		args = append(args, filter.AccountID, filter.AccountID)
	}
	if filter.CompanyID != "" {
		query += " AND counter_id = ?"
		args = append(args, filter.CompanyID)
	}
	if filter.StoreID != "" {
		query += " AND store_id = ?"
		args = append(args, filter.StoreID)
	}
	if filter.ParentID != "" {
		query += " AND parent_id = ?"
		args = append(args, filter.ParentID)
	}
	if !filter.From.IsZero() {
		query += " AND ts >= ?"
		args = append(args, filter.From.UTC().Format(time.RFC3339Nano))
	}
	if !filter.To.IsZero() {
		query += " AND ts <= ?"
		args = append(args, filter.To.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY ts ASC, created_at ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByIdempotencyKey(ctx, s.db, key)
}

func findByIdempotencyKey(ctx context.Context, db execer, key string) (ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE idempotency_key = ?", key)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to query by idempotency key: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ledger.Transaction{}, err
		}
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return scanTransaction(rows)
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx                 ledger.Transaction
		counterID, storeID sql.NullString
		amount, ts         string
		description        sql.NullString
		idempotencyKey     sql.NullString
		parentID           sql.NullString
		createdBy          sql.NullString
	)
	err := rows.Scan(
		&tx.ID, &tx.SubjectID, &counterID, &storeID, &amount,
		&tx.Kind, &tx.Status, &ts, &description, &idempotencyKey, &parentID, &createdBy,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.CounterID = ledger.AccountID(counterID.String)
	tx.StoreID = ledger.StoreID(storeID.String)
	tx.Amount = ledger.MustParseAmount(amount)
	tx.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	tx.Description = description.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.ParentID = ledger.TransactionID(parentID.String)
	tx.CreatedBy = createdBy.String
	return tx, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The write lock is held
// for the whole callback.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
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

// txStore runs every query through the open sql.Tx so fn reads its own
// uncommitted writes.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	return getAccount(ctx, ts.tx, id)
}

func (ts *txStore) ListAccounts(ctx context.Context, kind ledger.AccountKind) ([]ledger.Account, error) {
	return listAccounts(ctx, ts.tx, kind)
}

func (ts *txStore) UpdateBalance(ctx context.Context, id ledger.AccountID, newBalance, expected ledger.Amount) error {
	return updateBalance(ctx, ts.tx, id, newBalance, expected)
}

func (ts *txStore) SetBalance(ctx context.Context, id ledger.AccountID, newBalance ledger.Amount) error {
	return setBalance(ctx, ts.tx, id, newBalance)
}

func (ts *txStore) Append(ctx context.Context, tx ledger.Transaction) error {
	return appendTx(ctx, ts.tx, tx)
}

func (ts *txStore) GetTransaction(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	return getTransaction(ctx, ts.tx, id)
}

func (ts *txStore) UpdateStatus(ctx context.Context, id ledger.TransactionID, status, expected ledger.TransactionStatus) error {
	return updateStatus(ctx, ts.tx, id, status, expected)
}

func (ts *txStore) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	return listTransactions(ctx, ts.tx, filter)
}

func (ts *txStore) FindByIdempotencyKey(ctx context.Context, key string) (ledger.Transaction, error) {
	return findByIdempotencyKey(ctx, ts.tx, key)
}

// =============================================================================
// EXPIRATION RUNS
// =============================================================================

// ExpirationRun records one scheduler-driven cycle settlement.
type ExpirationRun struct {
	ID              string
	CycleLabel      string
	AsOf            time.Time
	Status          string // pending | running | completed | failed
	ExpiredAccounts int
	ExpiredTotal    string
	CompaniesReset  int
	Error           string
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// SaveExpirationRun inserts or updates a run record.
func (s *Store) SaveExpirationRun(ctx context.Context, run ExpirationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO expiration_runs
		(id, cycle_label, as_of, status, expired_accounts, expired_total, companies_reset, error, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			expired_accounts = excluded.expired_accounts,
			expired_total = excluded.expired_total,
			companies_reset = excluded.companies_reset,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.CycleLabel, run.AsOf.UTC().Format(time.RFC3339),
		run.Status, run.ExpiredAccounts, run.ExpiredTotal, run.CompaniesReset,
		nullString(run.Error), nullTime(run.StartedAt), nullTime(run.CompletedAt),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// IsCycleComplete reports whether a completed run exists for the cycle.
func (s *Store) IsCycleComplete(ctx context.Context, cycleLabel string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM expiration_runs WHERE cycle_label = ? AND status = 'completed'",
		cycleLabel,
	).Scan(&count)
	return count > 0, err
}

// ListExpirationRuns returns runs, newest first.
func (s *Store) ListExpirationRuns(ctx context.Context, limit int) ([]ExpirationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cycle_label, as_of, status, expired_accounts, expired_total, companies_reset, error, started_at, completed_at
		FROM expiration_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiration runs: %w", err)
	}
	defer rows.Close()

	var runs []ExpirationRun
	for rows.Next() {
		var (
			run                            ExpirationRun
			asOf                           string
			errStr, startedAt, completedAt sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.CycleLabel, &asOf, &run.Status,
			&run.ExpiredAccounts, &run.ExpiredTotal, &run.CompaniesReset,
			&errStr, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan expiration run: %w", err)
		}
		run.AsOf, _ = time.Parse(time.RFC3339, asOf)
		run.Error = errStr.String
		if startedAt.Valid {
			t, _ := time.Parse(time.RFC3339, startedAt.String)
			run.StartedAt = &t
		}
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
