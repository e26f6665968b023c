// Package store provides in-memory Store implementations for tests and demo.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// MEMORY STORE - Accounts and ledger behind one lock
// =============================================================================

// Memory keeps accounts and transactions in keyed maps behind a RWMutex.
// No ambient globals: every caller goes through an explicit instance.
type Memory struct {
	mu           sync.RWMutex
	accounts     map[ledger.AccountID]ledger.Account
	transactions map[ledger.TransactionID]ledger.Transaction
	order        []ledger.TransactionID // Append order, for stable listings
	idempotency  map[string]ledger.TransactionID
}

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[ledger.AccountID]ledger.Account),
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
		idempotency:  make(map[string]ledger.TransactionID),
	}
}

// PutAccount seeds or overwrites an account. Onboarding is out of engine
// scope, so this lives on the implementation, not the Store interface.
func (m *Memory) PutAccount(account ledger.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = account
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id)
}

func (m *Memory) getAccountLocked(id ledger.AccountID) (ledger.Account, error) {
	account, ok := m.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return account, nil
}

func (m *Memory) ListAccounts(_ context.Context, kind ledger.AccountKind) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAccountsLocked(kind), nil
}

func (m *Memory) listAccountsLocked(kind ledger.AccountKind) []ledger.Account {
	var result []ledger.Account
	for _, account := range m.accounts {
		if kind == "" || account.Kind == kind {
			result = append(result, account)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (m *Memory) UpdateBalance(_ context.Context, id ledger.AccountID, newBalance, expected ledger.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBalanceLocked(id, newBalance, expected)
}

func (m *Memory) updateBalanceLocked(id ledger.AccountID, newBalance, expected ledger.Amount) error {
	account, ok := m.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	if !account.Balance.Equal(expected) {
		return ledger.ErrConcurrentModification
	}
	account.Balance = newBalance
	m.accounts[id] = account
	return nil
}

func (m *Memory) SetBalance(_ context.Context, id ledger.AccountID, newBalance ledger.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setBalanceLocked(id, newBalance)
}

func (m *Memory) setBalanceLocked(id ledger.AccountID, newBalance ledger.Amount) error {
	account, ok := m.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	account.Balance = newBalance
	m.accounts[id] = account
	return nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx ledger.Transaction) error {
	if tx.IdempotencyKey != "" {
		if _, exists := m.idempotency[tx.IdempotencyKey]; exists {
			return ledger.ErrDuplicateIdempotencyKey
		}
		m.idempotency[tx.IdempotencyKey] = tx.ID
	}
	m.transactions[tx.ID] = tx
	m.order = append(m.order, tx.ID)
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(id)
}

func (m *Memory) getTransactionLocked(id ledger.TransactionID) (ledger.Transaction, error) {
	tx, ok := m.transactions[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return tx, nil
}

func (m *Memory) UpdateStatus(_ context.Context, id ledger.TransactionID, status, expected ledger.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStatusLocked(id, status, expected)
}

func (m *Memory) updateStatusLocked(id ledger.TransactionID, status, expected ledger.TransactionStatus) error {
	tx, ok := m.transactions[id]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	if tx.Status != expected {
		return ledger.ErrInvalidState
	}
	tx.Status = status
	m.transactions[id] = tx
	return nil
}

func (m *Memory) ListTransactions(_ context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsLocked(filter), nil
}

func (m *Memory) listTransactionsLocked(filter ledger.TransactionFilter) []ledger.Transaction {
	var result []ledger.Transaction
	for _, id := range m.order {
		tx := m.transactions[id]
		if matches(tx, filter) {
			result = append(result, tx)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

func matches(tx ledger.Transaction, f ledger.TransactionFilter) bool {
	if f.AccountID != "" && tx.SubjectID != f.AccountID && tx.CounterID != f.AccountID {
		return false
	}
	if f.CompanyID != "" && tx.CounterID != f.CompanyID {
		return false
	}
	if f.StoreID != "" && tx.StoreID != f.StoreID {
		return false
	}
	if f.ParentID != "" && tx.ParentID != f.ParentID {
		return false
	}
	if !f.From.IsZero() && tx.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.Timestamp.After(f.To) {
		return false
	}
	return true
}

func (m *Memory) FindByIdempotencyKey(_ context.Context, key string) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByKeyLocked(key)
}

func (m *Memory) findByKeyLocked(key string) (ledger.Transaction, error) {
	id, ok := m.idempotency[key]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return m.transactions[id], nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with all-or-nothing execution. The store lock is
// held for the whole of fn, which also gives the expiration cycle the
// exclusivity it needs against concurrent process/reverse calls.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn against a view of the store. On error, state is
// restored from a snapshot taken before fn ran.
func (tm *TxMemory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts     map[ledger.AccountID]ledger.Account
	transactions map[ledger.TransactionID]ledger.Transaction
	order        []ledger.TransactionID
	idempotency  map[string]ledger.TransactionID
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		accounts:     make(map[ledger.AccountID]ledger.Account, len(tm.accounts)),
		transactions: make(map[ledger.TransactionID]ledger.Transaction, len(tm.transactions)),
		order:        append([]ledger.TransactionID{}, tm.order...),
		idempotency:  make(map[string]ledger.TransactionID, len(tm.idempotency)),
	}
	for k, v := range tm.accounts {
		s.accounts[k] = v
	}
	for k, v := range tm.transactions {
		s.transactions[k] = v
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.accounts = s.accounts
	tm.transactions = s.transactions
	tm.order = s.order
	tm.idempotency = s.idempotency
}

// txMemoryView runs against the parent's maps with the lock already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	return tv.parent.getAccountLocked(id)
}

func (tv *txMemoryView) ListAccounts(_ context.Context, kind ledger.AccountKind) ([]ledger.Account, error) {
	return tv.parent.listAccountsLocked(kind), nil
}

func (tv *txMemoryView) UpdateBalance(_ context.Context, id ledger.AccountID, newBalance, expected ledger.Amount) error {
	return tv.parent.updateBalanceLocked(id, newBalance, expected)
}

func (tv *txMemoryView) SetBalance(_ context.Context, id ledger.AccountID, newBalance ledger.Amount) error {
	return tv.parent.setBalanceLocked(id, newBalance)
}

func (tv *txMemoryView) Append(_ context.Context, tx ledger.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txMemoryView) GetTransaction(_ context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	return tv.parent.getTransactionLocked(id)
}

func (tv *txMemoryView) UpdateStatus(_ context.Context, id ledger.TransactionID, status, expected ledger.TransactionStatus) error {
	return tv.parent.updateStatusLocked(id, status, expected)
}

func (tv *txMemoryView) ListTransactions(_ context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	return tv.parent.listTransactionsLocked(filter), nil
}

func (tv *txMemoryView) FindByIdempotencyKey(_ context.Context, key string) (ledger.Transaction, error) {
	return tv.parent.findByKeyLocked(key)
}
