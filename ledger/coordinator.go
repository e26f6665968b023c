/*
coordinator.go - Orchestrates one business operation into one ledger entry
plus two mirrored account updates

PURPOSE:
  ProcessTransaction is the single write path for sales and admin credits.
  It validates the parties and the amount, then atomically (a) appends a
  Completed ledger entry, (b) moves the buyer's balance, and (c) moves the
  company's balance by the exact opposite amount. All three effects become
  visible together or not at all.

CONCURRENCY:
  Balances are updated with compare-and-swap against the values read at
  the start of the attempt. A conflicting writer surfaces as
  ErrConcurrentModification, which the coordinator retries with fresh
  reads up to maxAttempts before giving up. Each call is linearizable
  with respect to the two balances it touches; unrelated pairs proceed
  independently.

CONSERVATION:
  Every movement, including the cashback side entry, debits one account
  exactly what it credits the other. The engine never mints points:
  even admin credits are funded by the company account.

RETRY SAFETY:
  A call carrying an idempotency key already present in the ledger
  returns the previously recorded transaction without re-applying it.
  Callers that time out re-invoke with the same key.

SEE ALSO:
  - reversal.go: Inverse application of a completed entry
  - store.go: The compare-and-swap and WithTx contracts
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// NOTIFIER - Fire-and-forget confirmation delivery
// =============================================================================

// Notifier delivers transaction confirmations. Errors are the notifier's
// problem: a failed delivery never rolls back a committed transaction.
type Notifier interface {
	TransactionCompleted(tx Transaction)
	TransactionReversed(tx Transaction)
}

// NopNotifier is used when no dispatcher is wired.
type NopNotifier struct{}

func (NopNotifier) TransactionCompleted(Transaction) {}
func (NopNotifier) TransactionReversed(Transaction)  {}

// =============================================================================
// COORDINATOR
// =============================================================================

const defaultMaxAttempts = 5

type Coordinator struct {
	Store     TxStore
	Directory Directory
	Notifier  Notifier

	// MaxAttempts bounds the compare-and-swap retry loop. Zero means the
	// default of 5.
	MaxAttempts int

	// Now is overridable for tests. Nil means time.Now.
	Now func() time.Time
}

func NewCoordinator(store TxStore, directory Directory) *Coordinator {
	return &Coordinator{
		Store:     store,
		Directory: directory,
		Notifier:  NopNotifier{},
	}
}

// ProcessInput describes one business operation.
type ProcessInput struct {
	SubjectID AccountID // Buyer
	CounterID AccountID // Company
	StoreID   StoreID   // Optional attribution
	Kind      TransactionKind
	Amount    Amount

	// Cashback side channel: when both are positive, an additional Earn of
	// TotalCost*CashbackRate is credited to the subject and debited from
	// the company inside the same atomic unit.
	TotalCost    Amount
	CashbackRate decimal.Decimal

	Description    string
	IdempotencyKey string
	ActorID        AccountID
}

// ProcessTransaction applies one Earn, Spend, or AdminAdjustment.
func (c *Coordinator) ProcessTransaction(ctx context.Context, in ProcessInput) (Transaction, error) {
	if !in.Amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}

	switch in.Kind {
	case KindEarn, KindSpend, KindAdminAdjustment:
	default:
		return Transaction{}, fmt.Errorf("kind %q cannot be processed directly", in.Kind)
	}

	// Retry detection: a known idempotency key means the operation already
	// happened. Return what was recorded, apply nothing.
	if in.IdempotencyKey != "" {
		prior, err := c.Store.FindByIdempotencyKey(ctx, in.IdempotencyKey)
		if err == nil {
			return prior, nil
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return Transaction{}, err
		}
	}

	if err := c.checkParties(ctx, in); err != nil {
		return Transaction{}, err
	}

	bonus := cashbackBonus(in)

	var committed []Transaction
	attempts := c.maxAttempts()
	for attempt := 0; attempt < attempts; attempt++ {
		txs, err := c.attempt(ctx, in, bonus)
		if err == nil {
			committed = txs
			break
		}
		if errors.Is(err, ErrConcurrentModification) && attempt < attempts-1 {
			continue
		}
		return Transaction{}, err
	}
	if committed == nil {
		return Transaction{}, ErrConcurrentModification
	}

	for _, tx := range committed {
		c.notifier().TransactionCompleted(tx)
	}
	return committed[0], nil
}

// attempt performs one read-validate-write cycle. A nil error means the
// whole operation committed.
func (c *Coordinator) attempt(ctx context.Context, in ProcessInput, bonus Amount) ([]Transaction, error) {
	subject, err := c.Store.GetAccount(ctx, in.SubjectID)
	if err != nil {
		return nil, err
	}
	counter, err := c.Store.GetAccount(ctx, in.CounterID)
	if err != nil {
		return nil, err
	}
	if subject.Kind != AccountBuyer || counter.Kind != AccountCompany {
		return nil, fmt.Errorf("%w: subject must be a buyer and counter a company", ErrUnauthorized)
	}

	now := c.now()
	primary := Transaction{
		ID:             NewTransactionID(),
		SubjectID:      in.SubjectID,
		CounterID:      in.CounterID,
		StoreID:        in.StoreID,
		Amount:         in.Amount,
		Kind:           in.Kind,
		Status:         StatusCompleted,
		Timestamp:      now,
		Description:    in.Description,
		IdempotencyKey: in.IdempotencyKey,
		CreatedBy:      string(in.ActorID),
	}

	subjDelta, counterDelta := primary.Mirrored()

	// Spend must never drive the buyer negative. Validated against the
	// same balance the compare-and-swap below will guard.
	if in.Kind == KindSpend && subject.Balance.LessThan(in.Amount) {
		return nil, &InsufficientBalanceError{
			AccountID: subject.ID,
			Available: subject.Balance,
			Requested: in.Amount,
		}
	}

	txs := []Transaction{primary}
	if bonus.IsPositive() {
		cashback := Transaction{
			ID:          NewTransactionID(),
			SubjectID:   in.SubjectID,
			CounterID:   in.CounterID,
			StoreID:     in.StoreID,
			Amount:      bonus,
			Kind:        KindEarn,
			Status:      StatusCompleted,
			Timestamp:   now,
			Description: "cashback on " + string(primary.ID),
			ParentID:    primary.ID,
			CreatedBy:   string(in.ActorID),
		}
		if in.IdempotencyKey != "" {
			cashback.IdempotencyKey = in.IdempotencyKey + ":cashback"
		}
		txs = append(txs, cashback)
		subjDelta = subjDelta.Add(bonus)
		counterDelta = counterDelta.Sub(bonus)
	}

	newSubject := subject.Balance.Add(subjDelta)
	newCounter := counter.Balance.Add(counterDelta)

	err = c.Store.WithTx(ctx, func(s Store) error {
		for _, tx := range txs {
			if err := s.Append(ctx, tx); err != nil {
				return err
			}
		}
		if err := s.UpdateBalance(ctx, in.SubjectID, newSubject, subject.Balance); err != nil {
			return err
		}
		return s.UpdateBalance(ctx, in.CounterID, newCounter, counter.Balance)
	})
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *Coordinator) checkParties(ctx context.Context, in ProcessInput) error {
	subject, err := c.Directory.Lookup(ctx, in.SubjectID)
	if err != nil {
		return fmt.Errorf("subject %s: %w", in.SubjectID, err)
	}
	counter, err := c.Directory.Lookup(ctx, in.CounterID)
	if err != nil {
		return fmt.Errorf("counter %s: %w", in.CounterID, err)
	}
	if !subject.Active || !counter.Active {
		return ErrAccountInactive
	}

	// Admin credits may only be issued by admins.
	if in.Kind == KindAdminAdjustment {
		actor, err := c.Directory.Lookup(ctx, in.ActorID)
		if err != nil {
			return fmt.Errorf("actor %s: %w", in.ActorID, err)
		}
		if actor.Role != RoleAdmin {
			return ErrUnauthorized
		}
	}
	return nil
}

func cashbackBonus(in ProcessInput) Amount {
	if !in.TotalCost.IsPositive() || !in.CashbackRate.IsPositive() {
		return ZeroAmount()
	}
	return in.TotalCost.Mul(in.CashbackRate)
}

func (c *Coordinator) maxAttempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return defaultMaxAttempts
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Coordinator) notifier() Notifier {
	if c.Notifier != nil {
		return c.Notifier
	}
	return NopNotifier{}
}
