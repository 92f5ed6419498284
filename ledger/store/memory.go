// Package store provides in-memory ledger.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/commission-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	accounts  map[ledger.AccountID]ledger.Account
	byOwner   map[ownerKey]ledger.AccountID
	movements []ledger.Movement
}

type ownerKey struct {
	Owner ledger.Owner
	Type  ledger.AccountType
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[ledger.AccountID]ledger.Account),
		byOwner:  make(map[ownerKey]ledger.AccountID),
	}
}

func (m *Memory) CreateAccount(_ context.Context, acc ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(acc)
}

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) FindAccount(_ context.Context, owner ledger.Owner, t ledger.AccountType) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(owner, t)
}

// ApplyMovement is atomic on its own: both accounts are checked before
// either balance changes.
func (m *Memory) ApplyMovement(_ context.Context, mv ledger.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(mv)
}

func (m *Memory) Movements(_ context.Context, id ledger.AccountID) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.movementsLocked(func(mv ledger.Movement) bool {
		return mv.Source == id || mv.Destination == id
	}), nil
}

func (m *Memory) MovementsByReference(_ context.Context, ref string) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.movementsLocked(func(mv ledger.Movement) bool { return mv.Reference == ref }), nil
}

// Accounts returns a copy of every account. Used by conservation checks.
func (m *Memory) Accounts() []ledger.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out
}

func (m *Memory) createLocked(acc ledger.Account) error {
	k := ownerKey{Owner: acc.Owner, Type: acc.Type}
	if _, exists := m.byOwner[k]; exists {
		return ledger.ErrDuplicateAccount
	}
	m.accounts[acc.ID] = acc
	m.byOwner[k] = acc.ID
	return nil
}

func (m *Memory) getLocked(id ledger.AccountID) (*ledger.Account, error) {
	acc, ok := m.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return &acc, nil
}

func (m *Memory) findLocked(owner ledger.Owner, t ledger.AccountType) (*ledger.Account, error) {
	id, ok := m.byOwner[ownerKey{Owner: owner, Type: t}]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return m.getLocked(id)
}

func (m *Memory) applyLocked(mv ledger.Movement) error {
	src, ok := m.accounts[mv.Source]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	dst, ok := m.accounts[mv.Destination]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	if src.ID == dst.ID {
		return ledger.ErrSameAccount
	}

	src.Balance = src.Balance.Sub(mv.Amount)
	dst.Balance = dst.Balance.Add(mv.Amount)
	m.accounts[src.ID] = src
	m.accounts[dst.ID] = dst
	m.movements = append(m.movements, mv)
	return nil
}

func (m *Memory) movementsLocked(match func(ledger.Movement) bool) []ledger.Movement {
	var out []ledger.Movement
	for _, mv := range m.movements {
		if match(mv) {
			out = append(out, mv)
		}
	}
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, which serializes every
// balance mutation.
func (tm *TxMemory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts  map[ledger.AccountID]ledger.Account
	byOwner   map[ownerKey]ledger.AccountID
	movements int
}

func (tm *TxMemory) snapshot() memorySnapshot {
	accounts := make(map[ledger.AccountID]ledger.Account, len(tm.accounts))
	for k, v := range tm.accounts {
		accounts[k] = v
	}
	byOwner := make(map[ownerKey]ledger.AccountID, len(tm.byOwner))
	for k, v := range tm.byOwner {
		byOwner[k] = v
	}
	return memorySnapshot{accounts: accounts, byOwner: byOwner, movements: len(tm.movements)}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.accounts = s.accounts
	tm.byOwner = s.byOwner
	tm.movements = tm.movements[:s.movements]
}

// txMemoryView runs against the parent without locking; WithTx holds it.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) CreateAccount(_ context.Context, acc ledger.Account) error {
	return tv.parent.createLocked(acc)
}

func (tv *txMemoryView) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) FindAccount(_ context.Context, owner ledger.Owner, t ledger.AccountType) (*ledger.Account, error) {
	return tv.parent.findLocked(owner, t)
}

func (tv *txMemoryView) ApplyMovement(_ context.Context, mv ledger.Movement) error {
	return tv.parent.applyLocked(mv)
}

func (tv *txMemoryView) Movements(_ context.Context, id ledger.AccountID) ([]ledger.Movement, error) {
	return tv.parent.movementsLocked(func(mv ledger.Movement) bool {
		return mv.Source == id || mv.Destination == id
	}), nil
}

func (tv *txMemoryView) MovementsByReference(_ context.Context, ref string) ([]ledger.Movement, error) {
	return tv.parent.movementsLocked(func(mv ledger.Movement) bool { return mv.Reference == ref }), nil
}
