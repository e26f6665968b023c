/*
reversal.go - Inverse application of a completed transaction

PURPOSE:
  Reverse takes a Completed entry and applies the exact opposite of its
  original effect to both accounts, then flips the entry's status to
  Reversed. The flip is guarded on the Completed status inside the same
  atomic unit, so a second Reverse of the same entry loses the race and
  fails with ErrInvalidState. Reversed is terminal.

WINDOWS:
  How long after completion a reversal is allowed depends on who asks:
  buyers get the shortest window, admins the longest. Windows are
  configured per role; a late reversal fails with ErrWindowExpired and
  changes nothing.

SEE ALSO:
  - coordinator.go: The forward operation being undone
  - store.go: UpdateStatus guard semantics
*/
package ledger

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// REVERSAL WINDOWS - Role-bounded
// =============================================================================

type ReversalWindows struct {
	Buyer  time.Duration
	Seller time.Duration
	Admin  time.Duration
}

func DefaultReversalWindows() ReversalWindows {
	return ReversalWindows{
		Buyer:  24 * time.Hour,
		Seller: 72 * time.Hour,
		Admin:  168 * time.Hour,
	}
}

func (w ReversalWindows) For(role Role) time.Duration {
	switch role {
	case RoleAdmin:
		return w.Admin
	case RoleSeller:
		return w.Seller
	default:
		return w.Buyer
	}
}

// =============================================================================
// REVERSAL ENGINE
// =============================================================================

type ReversalEngine struct {
	Store     TxStore
	Directory Directory
	Windows   ReversalWindows
	Notifier  Notifier

	MaxAttempts int
	Now         func() time.Time
}

func NewReversalEngine(store TxStore, directory Directory) *ReversalEngine {
	return &ReversalEngine{
		Store:     store,
		Directory: directory,
		Windows:   DefaultReversalWindows(),
		Notifier:  NopNotifier{},
	}
}

// Reverse undoes the transaction's effect and marks it Reversed.
func (r *ReversalEngine) Reverse(ctx context.Context, id TransactionID, actingPartyID AccountID) error {
	tx, err := r.Store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if !tx.IsReversible() {
		return ErrInvalidState
	}

	actor, err := r.Directory.Lookup(ctx, actingPartyID)
	if err != nil {
		return err
	}
	if actor.Role != RoleAdmin && actor.ID != tx.SubjectID && actor.ID != tx.CounterID {
		return ErrUnauthorized
	}

	window := r.Windows.For(actor.Role)
	if window == 0 {
		window = DefaultReversalWindows().For(actor.Role)
	}
	age := r.now().Sub(tx.Timestamp)
	if age > window {
		return &WindowExpiredError{
			TransactionID: id,
			AgeHours:      age.Hours(),
			WindowHours:   window.Hours(),
		}
	}

	attempts := r.maxAttempts()
	for attempt := 0; attempt < attempts; attempt++ {
		err := r.attempt(ctx, tx)
		if err == nil {
			r.notifier().TransactionReversed(tx)
			return nil
		}
		if errors.Is(err, ErrConcurrentModification) && attempt < attempts-1 {
			continue
		}
		return err
	}
	return ErrConcurrentModification
}

func (r *ReversalEngine) attempt(ctx context.Context, tx Transaction) error {
	subject, err := r.Store.GetAccount(ctx, tx.SubjectID)
	if err != nil {
		return err
	}
	counter, err := r.Store.GetAccount(ctx, tx.CounterID)
	if err != nil {
		return err
	}

	// A sale's cashback side entry falls with the sale: the pre-transaction
	// state includes neither, so both inverses apply in the same unit.
	children, err := r.Store.ListTransactions(ctx, TransactionFilter{ParentID: tx.ID})
	if err != nil {
		return err
	}

	subjDelta, counterDelta := tx.Mirrored()
	reversing := []TransactionID{tx.ID}
	for _, child := range children {
		if child.Status != StatusCompleted {
			continue
		}
		s, c := child.Mirrored()
		subjDelta = subjDelta.Add(s)
		counterDelta = counterDelta.Add(c)
		reversing = append(reversing, child.ID)
	}

	newSubject := subject.Balance.Sub(subjDelta)
	newCounter := counter.Balance.Sub(counterDelta)

	// Reversing an Earn the buyer has since spent would drive the buyer
	// negative; the invariant wins over the reversal.
	if newSubject.IsNegative() {
		return &InsufficientBalanceError{
			AccountID: subject.ID,
			Available: subject.Balance,
			Requested: subjDelta,
		}
	}

	return r.Store.WithTx(ctx, func(s Store) error {
		// Guarded flips first: concurrent reversals of the same entry
		// serialize here, the loser gets ErrInvalidState.
		for _, id := range reversing {
			if err := s.UpdateStatus(ctx, id, StatusReversed, StatusCompleted); err != nil {
				return err
			}
		}
		if err := s.UpdateBalance(ctx, tx.SubjectID, newSubject, subject.Balance); err != nil {
			return err
		}
		return s.UpdateBalance(ctx, tx.CounterID, newCounter, counter.Balance)
	})
}

func (r *ReversalEngine) maxAttempts() int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return defaultMaxAttempts
}

func (r *ReversalEngine) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *ReversalEngine) notifier() Notifier {
	if r.Notifier != nil {
		return r.Notifier
	}
	return NopNotifier{}
}
