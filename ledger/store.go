/*
store.go - Persistence interfaces for accounts and the transaction ledger

PURPOSE:
  Defines the contract between the engine and the database. Different
  implementations can use SQLite (production) or in-memory maps (tests,
  demo); both must honor the same compare-and-swap semantics.

KEY INTERFACES:
  AccountStore: Balance reads and conditional balance writes
  LedgerStore:  Transaction persistence and queries
  Store:        Both of the above (what the engine consumes)
  TxStore:      Store plus WithTx for atomic multi-write operations

COMPARE-AND-SWAP CONTRACT:
  UpdateBalance(id, newBalance, expected) must fail with
  ErrConcurrentModification - not a generic failure - when the stored
  balance no longer equals 'expected'. The caller re-reads and retries.
  SetBalance skips the guard and is permitted only inside WithTx, where
  the caller already holds exclusive access (the expiration cycle).

LEDGER MUTATION RULES:
  Entries are appended and never deleted. The single legal in-place
  mutation is the guarded status transition Completed -> Reversed
  performed by UpdateStatus, which fails with ErrInvalidState when the
  stored status differs from 'expected'.

ATOMICITY:
  WithTx(fn) runs fn against a transactional view of the store. If fn
  returns an error nothing is visible to other readers; if it returns
  nil everything becomes visible together. One business operation (one
  entry + two mirrored balance writes) always runs inside WithTx.

SEE ALSO:
  - ledger/store/memory.go: In-memory implementation
  - store/sqlite/sqlite.go: Production implementation
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// ACCOUNT STORE - Balance reads and conditional writes
// =============================================================================

type AccountStore interface {
	// GetAccount returns the account or ErrAccountNotFound.
	GetAccount(ctx context.Context, id AccountID) (Account, error)

	// ListAccounts returns all accounts of a kind, used by the expiration
	// cycle. Pass "" for every account.
	ListAccounts(ctx context.Context, kind AccountKind) ([]Account, error)

	// UpdateBalance is a compare-and-swap: it fails with
	// ErrConcurrentModification if the stored balance no longer equals
	// 'expected'.
	UpdateBalance(ctx context.Context, id AccountID, newBalance, expected Amount) error

	// SetBalance writes unconditionally. Only valid inside WithTx.
	SetBalance(ctx context.Context, id AccountID, newBalance Amount) error
}

// =============================================================================
// LEDGER STORE - Transaction persistence
// =============================================================================

// TransactionFilter narrows ListTransactions. Zero fields match everything.
type TransactionFilter struct {
	AccountID AccountID // Matches subject OR counter
	CompanyID AccountID // Matches counter only
	StoreID   StoreID
	ParentID  TransactionID // Side entries of one parent
	From, To  time.Time
}

type LedgerStore interface {
	// Append persists an entry. Fails with ErrDuplicateIdempotencyKey if
	// the entry carries a key already present in the ledger.
	Append(ctx context.Context, tx Transaction) error

	// GetTransaction returns the entry or ErrTransactionNotFound.
	GetTransaction(ctx context.Context, id TransactionID) (Transaction, error)

	// UpdateStatus transitions an entry's status, guarded on the current
	// value. Fails with ErrInvalidState if the stored status differs from
	// 'expected'. This is the only in-place ledger mutation.
	UpdateStatus(ctx context.Context, id TransactionID, status, expected TransactionStatus) error

	// ListTransactions returns entries matching the filter, ordered by
	// timestamp ascending.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)

	// FindByIdempotencyKey returns the entry recorded under the key, or
	// ErrTransactionNotFound.
	FindByIdempotencyKey(ctx context.Context, key string) (Transaction, error)
}

// =============================================================================
// COMBINED / TRANSACTIONAL STORE
// =============================================================================

// Store is what the coordinator, reversal engine, and expiration processor
// consume.
type Store interface {
	AccountStore
	LedgerStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back; otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
