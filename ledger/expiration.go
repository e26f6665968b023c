/*
expiration.go - Scheduled forfeiture of unredeemed balances

PURPOSE:
  Once per cycle (quarterly by default) every positive buyer balance is
  forfeited: the loss is logged as a Completed Expire entry and the
  balance set to zero. Company balances are restored to their funding
  ceiling, replenishing the pool for the next cycle.

ATOMICITY & IDEMPOTENCE:
  The whole cycle runs inside one WithTx unit: a failure partway leaves
  no balance half-updated. On top of that, every Expire entry carries the
  idempotency key "expire:<account>:<cycle label>", so replaying the
  cycle for the same asOf - after a crash, an operator retry, or an
  overlapping scheduler tick - skips accounts already settled. One
  expiration event per account per cycle, ever.

ISOLATION:
  WithTx gives the cycle exclusive-enough access: ProcessTransaction and
  Reverse run through the same store transaction boundary, so a balance
  is never both expired and spent in the same moment.

SEE ALSO:
  - cycle.go: Quarter boundary math behind the keys
  - api/scheduler.go: The ticker that invokes RunExpirationCycle
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// EXPIRATION PROCESSOR
// =============================================================================

type ExpirationProcessor struct {
	Store TxStore
}

func NewExpirationProcessor(store TxStore) *ExpirationProcessor {
	return &ExpirationProcessor{Store: store}
}

// CycleSummary reports what one expiration run settled.
type CycleSummary struct {
	Cycle           Cycle
	ExpiredAccounts int
	ExpiredTotal    Amount
	SkippedAccounts int // Already settled in a previous run of the same cycle
	CompaniesReset  int
}

// RunExpirationCycle settles the cycle containing asOf. Safe to re-run.
func (p *ExpirationProcessor) RunExpirationCycle(ctx context.Context, asOf time.Time) (CycleSummary, error) {
	cycle := CycleFor(asOf)
	summary := CycleSummary{Cycle: cycle, ExpiredTotal: ZeroAmount()}

	err := p.Store.WithTx(ctx, func(s Store) error {
		buyers, err := s.ListAccounts(ctx, AccountBuyer)
		if err != nil {
			return err
		}

		for _, buyer := range buyers {
			if !buyer.Balance.IsPositive() {
				continue
			}

			key := ExpireKey(buyer.ID, cycle)
			_, err := s.FindByIdempotencyKey(ctx, key)
			if err == nil {
				summary.SkippedAccounts++
				continue
			}
			if !errors.Is(err, ErrTransactionNotFound) {
				return err
			}

			entry := Transaction{
				ID:             NewTransactionID(),
				SubjectID:      buyer.ID,
				Amount:         buyer.Balance,
				Kind:           KindExpire,
				Status:         StatusCompleted,
				Timestamp:      asOf.UTC(),
				Description:    fmt.Sprintf("balance expired for cycle %s", cycle.Label()),
				IdempotencyKey: key,
				CreatedBy:      "system",
			}
			if err := s.Append(ctx, entry); err != nil {
				return err
			}
			if err := s.SetBalance(ctx, buyer.ID, ZeroAmount()); err != nil {
				return err
			}

			summary.ExpiredAccounts++
			summary.ExpiredTotal = summary.ExpiredTotal.Add(buyer.Balance)
		}

		companies, err := s.ListAccounts(ctx, AccountCompany)
		if err != nil {
			return err
		}
		for _, company := range companies {
			if err := s.SetBalance(ctx, company.ID, company.FundingCeiling); err != nil {
				return err
			}
			summary.CompaniesReset++
		}
		return nil
	})
	if err != nil {
		return CycleSummary{}, err
	}
	return summary, nil
}

// ExpireKey is the idempotency key for one account's forfeiture in one cycle.
func ExpireKey(id AccountID, cycle Cycle) string {
	return fmt.Sprintf("expire:%s:%s", id, cycle.Label())
}
