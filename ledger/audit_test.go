package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// REPLAY AND AUDIT TESTS
// =============================================================================

func TestAudit_CleanAfterMixedHistory(t *testing.T) {
	// GIVEN: Earns, spends, a reversal, and an expiration
	// WHEN: Replaying the buyer's ledger
	// THEN: The replayed net matches the stored balance exactly

	env := newTestEnv()
	env.addBuyer("buyer-1", 0)
	env.addCompany("acme", 1000, 1000)

	ctx := context.Background()
	earn := func(n float64) ledger.Transaction {
		tx, err := env.coord.ProcessTransaction(ctx, ledger.ProcessInput{
			SubjectID: "buyer-1", CounterID: "acme",
			Kind: ledger.KindEarn, Amount: pts(n), ActorID: "buyer-1",
		})
		if err != nil {
			t.Fatalf("earn failed: %v", err)
		}
		return tx
	}

	earn(200)
	toReverse := earn(50)
	if _, err := env.coord.ProcessTransaction(ctx, ledger.ProcessInput{
		SubjectID: "buyer-1", CounterID: "acme",
		Kind: ledger.KindSpend, Amount: pts(80), ActorID: "buyer-1",
	}); err != nil {
		t.Fatalf("spend failed: %v", err)
	}

	engine := ledger.NewReversalEngine(env.store, env.directory)
	if err := engine.Reverse(ctx, toReverse.ID, "buyer-1"); err != nil {
		t.Fatalf("reversal failed: %v", err)
	}

	report, err := ledger.AuditAccount(ctx, env.store, "buyer-1")
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if !report.Clean() {
		t.Errorf("expected clean audit, drift %s", report.Drift)
	}
	mustEqual(t, report.Replayed, pts(120), "replayed net")
	mustEqual(t, report.Stored, pts(120), "stored balance")
}

func TestAudit_CleanAfterExpiration(t *testing.T) {
	// GIVEN: A buyer expired to zero
	// WHEN: Replaying the ledger including the Expire entry
	// THEN: Replay lands on zero, matching the stored balance

	env := newTestEnv()
	env.addBuyer("buyer-1", 0)
	env.addCompany("acme", 1000, 1000)

	ctx := context.Background()
	if _, err := env.coord.ProcessTransaction(ctx, ledger.ProcessInput{
		SubjectID: "buyer-1", CounterID: "acme",
		Kind: ledger.KindEarn, Amount: pts(130), ActorID: "buyer-1",
	}); err != nil {
		t.Fatalf("earn failed: %v", err)
	}

	processor := ledger.NewExpirationProcessor(env.store)
	if _, err := processor.RunExpirationCycle(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("expiration failed: %v", err)
	}

	report, err := ledger.AuditAccount(ctx, env.store, "buyer-1")
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if !report.Clean() {
		t.Errorf("expected clean audit after expiration, drift %s", report.Drift)
	}
	mustEqual(t, report.Replayed, pts(0), "replayed net")
}

func TestAudit_DetectsDrift(t *testing.T) {
	// GIVEN: A balance write that bypassed the coordinator
	// WHEN: Auditing
	// THEN: Drift equals the unexplained difference

	env := newTestEnv()
	env.addBuyer("buyer-1", 0)
	env.addCompany("acme", 1000, 1000)

	ctx := context.Background()
	if _, err := env.coord.ProcessTransaction(ctx, ledger.ProcessInput{
		SubjectID: "buyer-1", CounterID: "acme",
		Kind: ledger.KindEarn, Amount: pts(100), ActorID: "buyer-1",
	}); err != nil {
		t.Fatalf("earn failed: %v", err)
	}

	// Tamper: a direct write the ledger cannot explain.
	env.store.PutAccount(ledger.Account{ID: "buyer-1", Kind: ledger.AccountBuyer, Balance: pts(175)})

	report, err := ledger.AuditAccount(ctx, env.store, "buyer-1")
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if report.Clean() {
		t.Fatal("expected drift to be detected")
	}
	mustEqual(t, report.Drift, pts(75), "drift")
}

func TestAudit_CompanyAccountsAreExcluded(t *testing.T) {
	// GIVEN: A company account
	// WHEN: Auditing it
	// THEN: ErrUnauthorized - cycle resets are deliberately not ledgered

	env := newTestEnv()
	env.addCompany("acme", 1000, 1000)

	if _, err := ledger.AuditAccount(context.Background(), env.store, "acme"); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for company audit, got %v", err)
	}
}

func TestReplayBalance_IgnoresNonCompletedEntries(t *testing.T) {
	// GIVEN: Completed, Reversed, and Failed entries
	// WHEN: Replaying
	// THEN: Only Completed entries contribute

	txs := []ledger.Transaction{
		{SubjectID: "b", CounterID: "c", Amount: pts(100), Kind: ledger.KindEarn, Status: ledger.StatusCompleted},
		{SubjectID: "b", CounterID: "c", Amount: pts(40), Kind: ledger.KindEarn, Status: ledger.StatusReversed},
		{SubjectID: "b", CounterID: "c", Amount: pts(25), Kind: ledger.KindSpend, Status: ledger.StatusFailed},
	}
	mustEqual(t, ledger.ReplayBalance("b", txs), pts(100), "replayed net")
	mustEqual(t, ledger.ReplayBalance("c", txs), pts(-100), "counter net")
}
