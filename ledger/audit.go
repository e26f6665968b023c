/*
audit.go - Balance replay and conservation checks

PURPOSE:
  The stored balance is the fast path; the ledger is the truth. Replaying
  an account's entries must land on the stored balance - drift means a
  balance write escaped the coordinator. The pair check verifies the core
  economic property: between a buyer and a company, one side's gain is
  exactly the other side's loss.

SEE ALSO:
  - coordinator.go: The invariant these checks verify
*/
package ledger

import (
	"context"
)

// =============================================================================
// REPLAY - Ledger entries to net balance effect
// =============================================================================

// ReplayBalance sums the signed effect of the entries on one account.
// Completed entries count; Reversed, Pending, and Failed entries net zero
// (a reversal restores both balances, so the entry's effect is gone).
func ReplayBalance(id AccountID, txs []Transaction) Amount {
	net := ZeroAmount()
	for _, tx := range txs {
		if tx.Status != StatusCompleted {
			continue
		}
		if tx.Kind == KindExpire {
			if tx.SubjectID == id {
				net = net.Sub(tx.Amount)
			}
			continue
		}
		subjDelta, counterDelta := tx.Mirrored()
		switch id {
		case tx.SubjectID:
			net = net.Add(subjDelta)
		case tx.CounterID:
			net = net.Add(counterDelta)
		}
	}
	return net
}

// =============================================================================
// ACCOUNT AUDIT - Stored balance vs replayed history
// =============================================================================

type AuditReport struct {
	AccountID AccountID
	Stored    Amount
	Replayed  Amount
	Drift     Amount // Stored - Replayed; zero when the ledger explains the balance
	Entries   int
}

func (r AuditReport) Clean() bool { return r.Drift.IsZero() }

// AuditAccount replays a buyer's full history against its stored balance.
// Buyer accounts start at zero, so the replayed net IS the expected
// balance. Company accounts are excluded: cycle resets to the funding
// ceiling are deliberately not ledgered pairwise.
func AuditAccount(ctx context.Context, store Store, id AccountID) (AuditReport, error) {
	account, err := store.GetAccount(ctx, id)
	if err != nil {
		return AuditReport{}, err
	}
	if account.Kind != AccountBuyer {
		return AuditReport{}, ErrUnauthorized
	}

	txs, err := store.ListTransactions(ctx, TransactionFilter{AccountID: id})
	if err != nil {
		return AuditReport{}, err
	}

	replayed := ReplayBalance(id, txs)
	return AuditReport{
		AccountID: id,
		Stored:    account.Balance,
		Replayed:  replayed,
		Drift:     account.Balance.Sub(replayed),
		Entries:   len(txs),
	}, nil
}

// =============================================================================
// PAIR CONSERVATION
// =============================================================================

// PairConservation nets the Earn/Spend history between one buyer and one
// company. Conserved when the buyer's net gain equals the company's net
// loss exactly. Expire entries are excluded - they are one-sided by design.
func PairConservation(subject, counter AccountID, txs []Transaction) (buyerNet, companyNet Amount, conserved bool) {
	buyerNet, companyNet = ZeroAmount(), ZeroAmount()
	for _, tx := range txs {
		if tx.Status != StatusCompleted || tx.Kind == KindExpire {
			continue
		}
		if tx.SubjectID != subject || tx.CounterID != counter {
			continue
		}
		s, c := tx.Mirrored()
		buyerNet = buyerNet.Add(s)
		companyNet = companyNet.Add(c)
	}
	return buyerNet, companyNet, buyerNet.Equal(companyNet.Neg())
}
