package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// REVERSAL HELPERS
// =============================================================================

func newReversalEnv(t *testing.T) (*testEnv, *ledger.ReversalEngine, ledger.Transaction) {
	t.Helper()
	env := newTestEnv()
	env.addBuyer("buyer-1", 0)
	env.addCompany("acme", 1000, 1000)

	tx, err := env.coord.ProcessTransaction(context.Background(), ledger.ProcessInput{
		SubjectID: "buyer-1",
		CounterID: "acme",
		Kind:      ledger.KindEarn,
		Amount:    pts(100),
		ActorID:   "buyer-1",
	})
	if err != nil {
		t.Fatalf("setup earn failed: %v", err)
	}

	engine := ledger.NewReversalEngine(env.store, env.directory)
	return env, engine, tx
}

// =============================================================================
// REVERSAL EFFECT TESTS
// =============================================================================

func TestReverse_RestoresBothBalances(t *testing.T) {
	// GIVEN: A completed 100-point earn
	// WHEN: The buyer reverses it within the window
	// THEN: Both balances return to their prior values and the entry is Reversed

	env, engine, tx := newReversalEnv(t)

	if err := engine.Reverse(context.Background(), tx.ID, "buyer-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mustEqual(t, env.balance(t, "buyer-1"), pts(0), "buyer balance restored")
	mustEqual(t, env.balance(t, "acme"), pts(1000), "company balance restored")

	stored, err := env.store.GetTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if stored.Status != ledger.StatusReversed {
		t.Errorf("expected Reversed status, got %s", stored.Status)
	}
}

func TestReverse_SpendReversal_RestoresBuyer(t *testing.T) {
	// GIVEN: An earn followed by a completed spend
	// WHEN: The spend is reversed
	// THEN: The buyer gets the spent points back, the company gives them up

	env, engine, _ := newReversalEnv(t)
	spend, err := env.coord.ProcessTransaction(context.Background(), ledger.ProcessInput{
		SubjectID: "buyer-1",
		CounterID: "acme",
		Kind:      ledger.KindSpend,
		Amount:    pts(40),
		ActorID:   "buyer-1",
	})
	if err != nil {
		t.Fatalf("setup spend failed: %v", err)
	}

	if err := engine.Reverse(context.Background(), spend.ID, "buyer-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustEqual(t, env.balance(t, "buyer-1"), pts(100), "buyer balance")
	mustEqual(t, env.balance(t, "acme"), pts(900), "company balance")
}

// saleWithCashback runs a 40-point spend against a 200 total cost at a 5%
// rate, producing the spend plus a 10-point cashback side entry. Returns
// both. Balances afterwards: buyer 70, acme 930.
func saleWithCashback(t *testing.T, env *testEnv) (spend, cashback ledger.Transaction) {
	t.Helper()
	spend, err := env.coord.ProcessTransaction(context.Background(), ledger.ProcessInput{
		SubjectID:    "buyer-1",
		CounterID:    "acme",
		Kind:         ledger.KindSpend,
		Amount:       pts(40),
		TotalCost:    pts(200),
		CashbackRate: decimal.NewFromFloat(0.05),
		ActorID:      "buyer-1",
	})
	if err != nil {
		t.Fatalf("setup spend failed: %v", err)
	}

	children, err := env.store.ListTransactions(context.Background(), ledger.TransactionFilter{ParentID: spend.ID})
	if err != nil {
		t.Fatalf("listing side entries failed: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("expected 1 cashback side entry, got %d", len(children))
	}
	return spend, children[0]
}

func TestReverse_SaleWithCashback_RestoresBothBalancesExactly(t *testing.T) {
	// GIVEN: A completed spend that carried a cashback side entry
	// WHEN: The spend is reversed
	// THEN: The cashback falls with it; both balances return to their exact
	//       pre-sale values and both entries are Reversed

	env, engine, _ := newReversalEnv(t)
	spend, cashback := saleWithCashback(t, env)

	mustEqual(t, env.balance(t, "buyer-1"), pts(70), "buyer balance after sale")
	mustEqual(t, env.balance(t, "acme"), pts(930), "company balance after sale")

	if err := engine.Reverse(context.Background(), spend.ID, "buyer-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mustEqual(t, env.balance(t, "buyer-1"), pts(100), "buyer balance after reversal")
	mustEqual(t, env.balance(t, "acme"), pts(900), "company balance after reversal")

	for _, id := range []ledger.TransactionID{spend.ID, cashback.ID} {
		stored, err := env.store.GetTransaction(context.Background(), id)
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if stored.Status != ledger.StatusReversed {
			t.Errorf("entry %s: expected Reversed status, got %s", id, stored.Status)
		}
	}
}

func TestReverse_CashbackEntryAlone_RestoresOnlyTheBonus(t *testing.T) {
	// GIVEN: A completed spend with its cashback side entry
	// WHEN: Only the cashback entry is reversed
	// THEN: Just the bonus moves back; the spend stays Completed

	env, engine, _ := newReversalEnv(t)
	spend, cashback := saleWithCashback(t, env)

	if err := engine.Reverse(context.Background(), cashback.ID, "buyer-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mustEqual(t, env.balance(t, "buyer-1"), pts(60), "buyer balance")
	mustEqual(t, env.balance(t, "acme"), pts(940), "company balance")

	stored, _ := env.store.GetTransaction(context.Background(), spend.ID)
	if stored.Status != ledger.StatusCompleted {
		t.Errorf("spend should remain Completed, got %s", stored.Status)
	}
}

func TestReverse_ParentSkipsAlreadyReversedCashback(t *testing.T) {
	// GIVEN: The cashback side entry was already reversed on its own
	// WHEN: The parent spend is reversed afterwards
	// THEN: The cashback is not un-applied twice

	env, engine, _ := newReversalEnv(t)
	spend, cashback := saleWithCashback(t, env)

	if err := engine.Reverse(context.Background(), cashback.ID, "buyer-1"); err != nil {
		t.Fatalf("cashback reversal failed: %v", err)
	}
	if err := engine.Reverse(context.Background(), spend.ID, "buyer-1"); err != nil {
		t.Fatalf("spend reversal failed: %v", err)
	}

	mustEqual(t, env.balance(t, "buyer-1"), pts(100), "buyer balance")
	mustEqual(t, env.balance(t, "acme"), pts(900), "company balance")
}

// =============================================================================
// TERMINALITY TESTS
// =============================================================================

func TestReverse_SecondReversalFails(t *testing.T) {
	// GIVEN: An already-reversed entry
	// WHEN: Reversing again
	// THEN: ErrInvalidState and balances stay put - Reversed is terminal

	env, engine, tx := newReversalEnv(t)
	if err := engine.Reverse(context.Background(), tx.ID, "buyer-1"); err != nil {
		t.Fatalf("first reversal failed: %v", err)
	}

	err := engine.Reverse(context.Background(), tx.ID, "buyer-1")
	if !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	mustEqual(t, env.balance(t, "buyer-1"), pts(0), "buyer balance unchanged")
	mustEqual(t, env.balance(t, "acme"), pts(1000), "company balance unchanged")
}

func TestReverse_ExpireEntryIsNotReversible(t *testing.T) {
	// GIVEN: A system-generated Expire entry
	// WHEN: Anyone, even an admin, tries to reverse it
	// THEN: ErrInvalidState

	env, engine, _ := newReversalEnv(t)

	processor := ledger.NewExpirationProcessor(env.store)
	asOf := time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC)
	if _, err := processor.RunExpirationCycle(context.Background(), asOf); err != nil {
		t.Fatalf("expiration failed: %v", err)
	}

	key := ledger.ExpireKey("buyer-1", ledger.CycleFor(asOf))
	entry, err := env.store.FindByIdempotencyKey(context.Background(), key)
	if err != nil {
		t.Fatalf("expire entry not found: %v", err)
	}

	if err := engine.Reverse(context.Background(), entry.ID, "admin"); !errors.Is(err, ledger.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for expire entry, got %v", err)
	}
}

// =============================================================================
// WINDOW TESTS
// =============================================================================

func TestReverse_WindowsDependOnRole(t *testing.T) {
	// GIVEN: An entry completed 48 hours ago
	// WHEN: Buyer (24h window) and admin (168h window) each try to reverse
	// THEN: The buyer is refused with WindowExpiredError, the admin succeeds

	env, engine, tx := newReversalEnv(t)
	engine.Now = func() time.Time { return tx.Timestamp.Add(48 * time.Hour) }

	err := engine.Reverse(context.Background(), tx.ID, "buyer-1")
	if !errors.Is(err, ledger.ErrWindowExpired) {
		t.Fatalf("expected ErrWindowExpired for buyer, got %v", err)
	}
	var detail *ledger.WindowExpiredError
	if !errors.As(err, &detail) {
		t.Fatal("expected structured WindowExpiredError")
	}
	if detail.WindowHours != 24 {
		t.Errorf("expected 24h window in error, got %v", detail.WindowHours)
	}

	if err := engine.Reverse(context.Background(), tx.ID, "admin"); err != nil {
		t.Fatalf("admin reversal inside 168h window failed: %v", err)
	}
	mustEqual(t, env.balance(t, "buyer-1"), pts(0), "buyer balance restored")
}

func TestReverse_SellerWindow(t *testing.T) {
	// GIVEN: An entry completed 80 hours ago
	// WHEN: The company's seller side asks for a reversal (72h window)
	// THEN: WindowExpiredError

	_, engine, tx := newReversalEnv(t)
	engine.Now = func() time.Time { return tx.Timestamp.Add(80 * time.Hour) }

	if err := engine.Reverse(context.Background(), tx.ID, "acme"); !errors.Is(err, ledger.ErrWindowExpired) {
		t.Errorf("expected ErrWindowExpired for seller after 80h, got %v", err)
	}
}

// =============================================================================
// AUTHORIZATION TESTS
// =============================================================================

func TestReverse_UnrelatedPartyIsRefused(t *testing.T) {
	// GIVEN: A completed entry between buyer-1 and acme
	// WHEN: An unrelated buyer asks for a reversal
	// THEN: ErrUnauthorized

	env, engine, tx := newReversalEnv(t)
	env.addBuyer("buyer-2", 0)

	if err := engine.Reverse(context.Background(), tx.ID, "buyer-2"); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	mustEqual(t, env.balance(t, "buyer-1"), pts(100), "buyer balance unchanged")
}

func TestReverse_UnknownTransaction(t *testing.T) {
	// GIVEN: No such entry
	// WHEN: Reversing it
	// THEN: ErrTransactionNotFound

	_, engine, _ := newReversalEnv(t)
	if err := engine.Reverse(context.Background(), "missing", "admin"); !errors.Is(err, ledger.ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

// =============================================================================
// NEGATIVE BALANCE GUARD
// =============================================================================

func TestReverse_RefusedWhenBuyerWouldGoNegative(t *testing.T) {
	// GIVEN: An earn the buyer has since spent down
	// WHEN: Reversing the earn would drive the buyer below zero
	// THEN: The reversal is refused; the non-negative invariant wins

	env, engine, earn := newReversalEnv(t)
	_, err := env.coord.ProcessTransaction(context.Background(), ledger.ProcessInput{
		SubjectID: "buyer-1",
		CounterID: "acme",
		Kind:      ledger.KindSpend,
		Amount:    pts(70),
		ActorID:   "buyer-1",
	})
	if err != nil {
		t.Fatalf("setup spend failed: %v", err)
	}

	err = engine.Reverse(context.Background(), earn.ID, "admin")
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	mustEqual(t, env.balance(t, "buyer-1"), pts(30), "buyer balance unchanged")

	stored, _ := env.store.GetTransaction(context.Background(), earn.ID)
	if stored.Status != ledger.StatusCompleted {
		t.Errorf("entry should remain Completed after refused reversal, got %s", stored.Status)
	}
}
