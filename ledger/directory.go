/*
directory.go - Party existence and role lookup collaborator

PURPOSE:
  The engine does not own identity. Login, roles, and onboarding live in
  surrounding services; the engine only needs to answer "does this party
  exist, is it active, and what role does it hold" before moving points.
  Directory is that lookup, consumed by the coordinator and the reversal
  engine as a black box.

SEE ALSO:
  - coordinator.go: Checks both parties before processing
  - reversal.go: Derives the reversal window from the actor's role
*/
package ledger

import (
	"context"
	"sync"
)

// =============================================================================
// PARTY - Who is acting or being acted on
// =============================================================================

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

type Party struct {
	ID     AccountID
	Role   Role
	Active bool
}

// Directory resolves a party by id. Implementations are external
// collaborators; MemoryDirectory below serves tests and the demo server.
type Directory interface {
	Lookup(ctx context.Context, id AccountID) (Party, error)
}

// =============================================================================
// MEMORY DIRECTORY - For tests and demo wiring
// =============================================================================

type MemoryDirectory struct {
	mu      sync.RWMutex
	parties map[AccountID]Party
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{parties: make(map[AccountID]Party)}
}

func (d *MemoryDirectory) Register(p Party) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parties[p.ID] = p
}

func (d *MemoryDirectory) Lookup(_ context.Context, id AccountID) (Party, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.parties[id]
	if !ok {
		return Party{}, ErrAccountNotFound
	}
	return p, nil
}
