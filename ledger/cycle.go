package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// EXPIRATION CYCLE - Quarterly boundary math
// =============================================================================

// Cycle is the quarter an expiration run settles. Expire entries are keyed
// on the cycle label so a re-run for the same quarter never double-expires.
type Cycle struct {
	Start time.Time
	End   time.Time
}

// CycleFor returns the quarter containing 'at'.
func CycleFor(at time.Time) Cycle {
	at = at.UTC()
	quarterStartMonth := time.Month(((int(at.Month())-1)/3)*3 + 1)
	start := time.Date(at.Year(), quarterStartMonth, 1, 0, 0, 0, 0, time.UTC)
	return Cycle{Start: start, End: start.AddDate(0, 3, 0).Add(-time.Nanosecond)}
}

// Previous returns the quarter before this one.
func (c Cycle) Previous() Cycle {
	return CycleFor(c.Start.AddDate(0, -1, 0))
}

// Contains reports whether 'at' falls inside the cycle.
func (c Cycle) Contains(at time.Time) bool {
	at = at.UTC()
	return !at.Before(c.Start) && !at.After(c.End)
}

// Label identifies the cycle, e.g. "2026-Q3". Used in idempotency keys.
func (c Cycle) Label() string {
	return fmt.Sprintf("%d-Q%d", c.Start.Year(), (int(c.Start.Month())-1)/3+1)
}
