package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// EXPIRATION CYCLE TESTS
// =============================================================================

func TestExpiration_ZeroesPositiveBuyers(t *testing.T) {
	// GIVEN: Two buyers with positive balances, one at zero
	// WHEN: Running the cycle
	// THEN: Positive balances forfeit via Completed Expire entries,
	//       the zero-balance buyer gets no entry

	env := newTestEnv()
	env.addBuyer("buyer-1", 150)
	env.addBuyer("buyer-2", 30)
	env.addBuyer("buyer-3", 0)
	env.addCompany("acme", 820, 1000)

	asOf := time.Date(2026, time.June, 30, 23, 0, 0, 0, time.UTC)
	processor := ledger.NewExpirationProcessor(env.store)
	summary, err := processor.RunExpirationCycle(context.Background(), asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.ExpiredAccounts != 2 {
		t.Errorf("expected 2 expired accounts, got %d", summary.ExpiredAccounts)
	}
	mustEqual(t, summary.ExpiredTotal, pts(180), "expired total")

	for _, id := range []ledger.AccountID{"buyer-1", "buyer-2", "buyer-3"} {
		mustEqual(t, env.balance(t, id), pts(0), string(id)+" balance")
	}

	txs, _ := env.store.ListTransactions(context.Background(), ledger.TransactionFilter{AccountID: "buyer-1"})
	if len(txs) != 1 {
		t.Fatalf("expected 1 expire entry for buyer-1, got %d", len(txs))
	}
	entry := txs[0]
	if entry.Kind != ledger.KindExpire || entry.Status != ledger.StatusCompleted {
		t.Errorf("expected Completed Expire entry, got %s/%s", entry.Kind, entry.Status)
	}
	if entry.CounterID != "" {
		t.Errorf("expire entries are one-sided, got counter %s", entry.CounterID)
	}
	if entry.CreatedBy != "system" {
		t.Errorf("expected system actor, got %s", entry.CreatedBy)
	}

	zeroTxs, _ := env.store.ListTransactions(context.Background(), ledger.TransactionFilter{AccountID: "buyer-3"})
	if len(zeroTxs) != 0 {
		t.Errorf("expected no entry for zero-balance buyer, got %d", len(zeroTxs))
	}
}

func TestExpiration_ResetsCompaniesToCeiling(t *testing.T) {
	// GIVEN: A company drawn down below its funding ceiling
	// WHEN: Running the cycle
	// THEN: The company balance is restored to the ceiling

	env := newTestEnv()
	env.addBuyer("buyer-1", 100)
	env.addCompany("acme", 620, 1000)
	env.addCompany("globex", 5000, 5000)

	processor := ledger.NewExpirationProcessor(env.store)
	summary, err := processor.RunExpirationCycle(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.CompaniesReset != 2 {
		t.Errorf("expected 2 companies reset, got %d", summary.CompaniesReset)
	}
	mustEqual(t, env.balance(t, "acme"), pts(1000), "acme restored to ceiling")
	mustEqual(t, env.balance(t, "globex"), pts(5000), "globex unchanged at ceiling")
}

func TestExpiration_RerunSettlesNothingTwice(t *testing.T) {
	// GIVEN: A settled cycle
	// WHEN: Running the same cycle again
	// THEN: Every account is skipped; one expire entry per account per cycle, ever

	env := newTestEnv()
	env.addBuyer("buyer-1", 150)
	env.addCompany("acme", 850, 1000)

	asOf := time.Date(2026, time.June, 30, 12, 0, 0, 0, time.UTC)
	processor := ledger.NewExpirationProcessor(env.store)

	if _, err := processor.RunExpirationCycle(context.Background(), asOf); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// Re-credit the buyer so the balance is positive again for the rerun
	// of the SAME cycle - the idempotency key still protects it.
	env.store.PutAccount(ledger.Account{ID: "buyer-1", Kind: ledger.AccountBuyer, Balance: pts(40)})

	summary, err := processor.RunExpirationCycle(context.Background(), asOf.Add(time.Hour))
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if summary.ExpiredAccounts != 0 || summary.SkippedAccounts != 1 {
		t.Errorf("expected 0 expired / 1 skipped, got %d / %d",
			summary.ExpiredAccounts, summary.SkippedAccounts)
	}
	mustEqual(t, env.balance(t, "buyer-1"), pts(40), "rerun leaves the re-credited balance")

	txs, _ := env.store.ListTransactions(context.Background(), ledger.TransactionFilter{AccountID: "buyer-1"})
	if len(txs) != 1 {
		t.Errorf("expected exactly 1 expire entry after rerun, got %d", len(txs))
	}
}

func TestExpiration_DistinctCyclesSettleIndependently(t *testing.T) {
	// GIVEN: A buyer expired in Q2 and re-credited in Q3
	// WHEN: Running the Q3 cycle
	// THEN: A second expire entry appears under the new cycle's key

	env := newTestEnv()
	env.addBuyer("buyer-1", 100)
	env.addCompany("acme", 900, 1000)
	processor := ledger.NewExpirationProcessor(env.store)

	q2 := time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC)
	if _, err := processor.RunExpirationCycle(context.Background(), q2); err != nil {
		t.Fatalf("Q2 run failed: %v", err)
	}

	env.store.PutAccount(ledger.Account{ID: "buyer-1", Kind: ledger.AccountBuyer, Balance: pts(55)})

	q3 := time.Date(2026, time.September, 30, 0, 0, 0, 0, time.UTC)
	summary, err := processor.RunExpirationCycle(context.Background(), q3)
	if err != nil {
		t.Fatalf("Q3 run failed: %v", err)
	}
	if summary.ExpiredAccounts != 1 {
		t.Errorf("expected 1 expired account in Q3, got %d", summary.ExpiredAccounts)
	}
	mustEqual(t, summary.ExpiredTotal, pts(55), "Q3 expired total")

	txs, _ := env.store.ListTransactions(context.Background(), ledger.TransactionFilter{AccountID: "buyer-1"})
	if len(txs) != 2 {
		t.Errorf("expected 2 expire entries across cycles, got %d", len(txs))
	}
}

func TestExpireKey_EncodesAccountAndCycle(t *testing.T) {
	// GIVEN: An account and a Q3 2026 cycle
	// WHEN: Building the idempotency key
	// THEN: "expire:<account>:<label>"

	cycle := ledger.CycleFor(time.Date(2026, time.August, 15, 0, 0, 0, 0, time.UTC))
	key := ledger.ExpireKey("buyer-1", cycle)
	if key != "expire:buyer-1:2026-Q3" {
		t.Errorf("unexpected key %q", key)
	}
}
