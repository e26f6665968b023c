package ledger_test

import (
	"testing"

	"github.com/warp/points-engine/ledger"
)

func TestMirrored_DeltasSumToZero(t *testing.T) {
	// GIVEN: Entries of each processable kind
	// WHEN: Taking the mirrored deltas
	// THEN: Subject + counter always nets to zero, direction per kind

	cases := []struct {
		kind        ledger.TransactionKind
		wantSubject ledger.Amount
	}{
		{ledger.KindEarn, pts(50)},
		{ledger.KindSpend, pts(-50)},
		{ledger.KindAdminAdjustment, pts(50)},
	}
	for _, tc := range cases {
		tx := ledger.Transaction{Amount: pts(50), Kind: tc.kind}
		subject, counter := tx.Mirrored()
		mustEqual(t, subject, tc.wantSubject, string(tc.kind)+" subject delta")
		if !subject.Add(counter).IsZero() {
			t.Errorf("%s: deltas do not sum to zero", tc.kind)
		}
	}
}

func TestIsReversible(t *testing.T) {
	cases := []struct {
		kind   ledger.TransactionKind
		status ledger.TransactionStatus
		want   bool
	}{
		{ledger.KindEarn, ledger.StatusCompleted, true},
		{ledger.KindSpend, ledger.StatusCompleted, true},
		{ledger.KindAdminAdjustment, ledger.StatusCompleted, true},
		{ledger.KindExpire, ledger.StatusCompleted, false},
		{ledger.KindEarn, ledger.StatusReversed, false},
		{ledger.KindEarn, ledger.StatusPending, false},
		{ledger.KindEarn, ledger.StatusFailed, false},
	}
	for _, tc := range cases {
		tx := ledger.Transaction{Kind: tc.kind, Status: tc.status}
		if tx.IsReversible() != tc.want {
			t.Errorf("%s/%s: IsReversible = %v, want %v", tc.kind, tc.status, tx.IsReversible(), tc.want)
		}
	}
}

func TestAmount_DecimalPrecision(t *testing.T) {
	// GIVEN: Amounts that lose precision as floats (0.1 + 0.2)
	// WHEN: Adding with decimal-backed amounts
	// THEN: The result is exactly 0.3

	sum := ledger.MustParseAmount("0.1").Add(ledger.MustParseAmount("0.2"))
	if !sum.Equal(ledger.MustParseAmount("0.3")) {
		t.Errorf("expected exactly 0.3, got %s", sum)
	}
}

func TestNewTransactionID_Unique(t *testing.T) {
	seen := make(map[ledger.TransactionID]bool)
	for i := 0; i < 100; i++ {
		id := ledger.NewTransactionID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
