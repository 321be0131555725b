// Package memory provides the in-memory Store implementation (for
// testing/dev). It mirrors the store/sqlite surface: journal, transactions,
// entity docs and device identity.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/harbor/budget-engine/budget"
	"github.com/harbor/budget-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu           sync.RWMutex
	journal      []ledger.PendingChange
	transactions map[budget.EntityID]budget.Transaction
	entities     map[entityKey]entityDoc
	device       *budget.Identity
}

type entityKey struct {
	Type budget.EntityType
	ID   budget.EntityID
}

type entityDoc struct {
	Name string
	Doc  string
}

func New() *Store {
	return &Store{
		transactions: make(map[budget.EntityID]budget.Transaction),
		entities:     make(map[entityKey]entityDoc),
	}
}

// =============================================================================
// PENDING-CHANGE JOURNAL
// =============================================================================

// SyncJournal replaces the journal with the given snapshot.
func (m *Store) SyncJournal(_ context.Context, snapshot []ledger.PendingChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal = append([]ledger.PendingChange(nil), snapshot...)
	return nil
}

// LoadJournal returns the journaled changes in record order.
func (m *Store) LoadJournal(_ context.Context) ([]ledger.PendingChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]ledger.PendingChange(nil), m.journal...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Store) UpsertTransaction(_ context.Context, t budget.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[t.ID] = t
	return nil
}

func (m *Store) GetTransaction(_ context.Context, id budget.EntityID) (budget.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transactions[id]
	if !ok {
		return budget.Transaction{}, budget.ErrChangeNotFound
	}
	return t, nil
}

func (m *Store) DeleteTransaction(_ context.Context, id budget.EntityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transactions, id)
	return nil
}

// TransactionSnapshot returns all transactions for an account, date order.
// Implements reconcile.TransactionSource.
func (m *Store) TransactionSnapshot(_ context.Context, account budget.AccountID) ([]budget.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []budget.Transaction
	for _, t := range m.transactions {
		if t.Account == account {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// OTHER ENTITIES
// =============================================================================

func (m *Store) UpsertEntity(_ context.Context, entityType budget.EntityType, id budget.EntityID, name, doc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[entityKey{Type: entityType, ID: id}] = entityDoc{Name: name, Doc: doc}
	return nil
}

func (m *Store) DeleteEntity(_ context.Context, entityType budget.EntityType, id budget.EntityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entities, entityKey{Type: entityType, ID: id})
	return nil
}

// =============================================================================
// DEVICE IDENTITY
// =============================================================================

// DeviceIdentity returns this store's identity, creating it on first call.
func (m *Store) DeviceIdentity(_ context.Context, newID func() string) (budget.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		id := newID()
		short := id
		if len(short) > 8 {
			short = short[:8]
		}
		m.device = &budget.Identity{ID: id, ShortID: short}
	}
	return *m.device, nil
}
