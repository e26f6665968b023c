/*
Package ledger provides the core bonus-points transaction and balance engine.

PURPOSE:
  This package contains the domain model and algorithms for a multi-party
  loyalty points economy: buyers earn and spend points at stores, stores
  belong to companies whose balances move inversely to their customers',
  and every movement is recorded as a ledger transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A decimal point quantity (never float, never negative on the wire)
  - Account: A balance holder (buyer or company)
  - Transaction: An immutable ledger entry recording a balance movement
  - Kind/Status: Transaction classification and lifecycle

DESIGN PRINCIPLES:
  1. Immutability: Completed transactions are never edited, only reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Conservation: Earn/Spend always move two balances by mirrored deltas
  4. Auditability: Every movement has an actor, timestamp, and description

USAGE:
  tx := ledger.Transaction{
      ID:        ledger.NewTransactionID(),
      SubjectID: "buyer-1",
      CounterID: "acme",
      Amount:    ledger.NewAmount(100),
      Kind:      ledger.KindEarn,
      Status:    ledger.StatusCompleted,
  }

SEE ALSO:
  - coordinator.go: Turns a business operation into one entry + two updates
  - reversal.go: Inverse application of a completed transaction
  - expiration.go: Scheduled zeroing of buyer balances
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Decimal point quantity
// =============================================================================

type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value float64) Amount {
	return Amount{Value: decimal.NewFromFloat(value)}
}

func NewAmountFromInt(value int64) Amount {
	return Amount{Value: decimal.NewFromInt(value)}
}

func ZeroAmount() Amount { return Amount{Value: decimal.Zero} }

func MustParseAmount(s string) Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroAmount()
	}
	return Amount{Value: d}
}

func (a Amount) Add(b Amount) Amount            { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount            { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Mul(s decimal.Decimal) Amount   { return Amount{Value: a.Value.Mul(s)} }
func (a Amount) Neg() Amount                    { return Amount{Value: a.Value.Neg()} }
func (a Amount) IsNegative() bool               { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                   { return a.Value.IsZero() }
func (a Amount) IsPositive() bool               { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool            { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool      { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool         { return a.Value.LessThan(b.Value) }
func (a Amount) String() string                 { return a.Value.String() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string

// StoreID labels the store where a sale happened. Attribution only:
// stores are not balance holders, their company is.
type StoreID string

func NewTransactionID() TransactionID {
	return TransactionID(uuid.NewString())
}

// =============================================================================
// ACCOUNT - Balance holder (buyer or company)
// =============================================================================

type AccountKind string

const (
	AccountBuyer   AccountKind = "buyer"
	AccountCompany AccountKind = "company"
)

type Account struct {
	ID      AccountID
	Kind    AccountKind
	Balance Amount

	// FundingCeiling is the balance a company account is restored to at
	// each expiration cycle. Zero for buyer accounts.
	FundingCeiling Amount
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

type TransactionKind string

const (
	KindEarn            TransactionKind = "earn"             // Buyer +, company -
	KindSpend           TransactionKind = "spend"            // Buyer -, company +
	KindExpire          TransactionKind = "expire"           // Cycle-end balance forfeit
	KindAdminAdjustment TransactionKind = "admin_adjustment" // Manual credit (Earn semantics)
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusReversed  TransactionStatus = "reversed"
	StatusFailed    TransactionStatus = "failed"
)

type Transaction struct {
	ID TransactionID

	// SubjectID is the buyer account; CounterID the company account.
	// CounterID is empty only for system-generated Expire entries.
	SubjectID AccountID
	CounterID AccountID
	StoreID   StoreID

	// Amount is always positive; Kind carries the direction.
	Amount Amount
	Kind   TransactionKind
	Status TransactionStatus

	Timestamp   time.Time
	Description string

	// IdempotencyKey is a caller-supplied retry token. Unique across the
	// ledger when present; retries carrying a known key are not re-applied.
	IdempotencyKey string

	// ParentID links a side entry (the cashback bonus on a sale) to the
	// entry that produced it. Reversing the parent reverses its side
	// entries in the same atomic unit.
	ParentID TransactionID

	// Audit fields
	CreatedBy string // Actor who initiated the movement
}

// Mirrored returns the signed deltas this transaction applies to its
// subject and counter accounts. The two always sum to zero.
func (t Transaction) Mirrored() (subject, counter Amount) {
	switch t.Kind {
	case KindSpend:
		return t.Amount.Neg(), t.Amount
	default: // Earn, AdminAdjustment
		return t.Amount, t.Amount.Neg()
	}
}

// IsReversible reports whether the entry is a candidate for reversal.
// Expire entries are system-generated and never reversed.
func (t Transaction) IsReversible() bool {
	return t.Status == StatusCompleted && t.Kind != KindExpire
}
