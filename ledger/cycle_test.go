package ledger_test

import (
	"testing"
	"time"

	"github.com/warp/points-engine/ledger"
)

func TestCycleFor_QuarterBoundaries(t *testing.T) {
	// GIVEN: Dates at the start, middle, and end of quarters
	// WHEN: Resolving their cycle
	// THEN: Each lands in the correct quarter with correct bounds

	cases := []struct {
		at        time.Time
		wantStart time.Time
		wantLabel string
	}{
		{time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), "2026-Q1"},
		{time.Date(2026, time.March, 31, 23, 59, 59, 0, time.UTC),
			time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), "2026-Q1"},
		{time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), "2026-Q2"},
		{time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC),
			time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC), "2026-Q3"},
		{time.Date(2026, time.December, 31, 23, 0, 0, 0, time.UTC),
			time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC), "2026-Q4"},
	}

	for _, tc := range cases {
		cycle := ledger.CycleFor(tc.at)
		if !cycle.Start.Equal(tc.wantStart) {
			t.Errorf("%v: start %v, want %v", tc.at, cycle.Start, tc.wantStart)
		}
		if cycle.Label() != tc.wantLabel {
			t.Errorf("%v: label %s, want %s", tc.at, cycle.Label(), tc.wantLabel)
		}
		if !cycle.Contains(tc.at) {
			t.Errorf("%v: cycle should contain its own input", tc.at)
		}
	}
}

func TestCycle_PreviousCrossesYear(t *testing.T) {
	// GIVEN: Q1 2026
	// WHEN: Asking for the previous cycle
	// THEN: Q4 2025

	q1 := ledger.CycleFor(time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC))
	prev := q1.Previous()
	if prev.Label() != "2025-Q4" {
		t.Errorf("expected 2025-Q4, got %s", prev.Label())
	}
	if prev.Contains(q1.Start) {
		t.Error("previous cycle must not contain the next cycle's start")
	}
	if !prev.Contains(time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC)) {
		t.Error("previous cycle should contain the last moment of its quarter")
	}
}

func TestCycle_EndIsInsideTheCycle(t *testing.T) {
	// GIVEN: Any cycle
	// WHEN: Checking Contains(End)
	// THEN: True - the scheduler settles an ended quarter by passing its End

	cycle := ledger.CycleFor(time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC))
	if !cycle.Contains(cycle.End) {
		t.Error("cycle must contain its own End")
	}
	if cycle.Contains(cycle.End.Add(time.Nanosecond)) {
		t.Error("cycle must not leak into the next quarter")
	}
}
