/*
Package client provides a local implementation of the budget-client
boundary, backed by a budget store.

PURPOSE:
  The real budget client is an external collaborator owning the sync wire
  format and device knowledge. This package is the boundary's reference
  implementation for local-only budgets and for end-to-end tests: Push
  applies the diff straight to the local tables, and snapshots are served
  from the same tables.

APPLY SEMANTICS:
  Push applies every change or none: a failure aborts and returns the
  error, leaving the dispatcher to preserve the ledger for retry.
  - transaction create/update: field overlay onto the stored row
  - transaction delete: row removal
  - other entities: JSON payload upsert / removal

SEE ALSO:
  - syncer/dispatcher.go: the BudgetClient interface this satisfies
  - store/sqlite, store/memory: the Store implementations Push writes into
*/
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/harbor/budget-engine/budget"
	"github.com/harbor/budget-engine/ledger"
)

// Store is the persistence surface Local writes into. Satisfied by
// store/sqlite.Store and store/memory.Store.
type Store interface {
	UpsertTransaction(ctx context.Context, t budget.Transaction) error
	GetTransaction(ctx context.Context, id budget.EntityID) (budget.Transaction, error)
	DeleteTransaction(ctx context.Context, id budget.EntityID) error
	TransactionSnapshot(ctx context.Context, account budget.AccountID) ([]budget.Transaction, error)
	UpsertEntity(ctx context.Context, entityType budget.EntityType, id budget.EntityID, name, doc string) error
	DeleteEntity(ctx context.Context, entityType budget.EntityType, id budget.EntityID) error
	DeviceIdentity(ctx context.Context, newID func() string) (budget.Identity, error)
}

// Local applies pushed changes to the local budget tables.
type Local struct {
	store Store
}

func NewLocal(store Store) *Local {
	return &Local{store: store}
}

// Push persists the given changes as local table writes.
func (c *Local) Push(ctx context.Context, changes []ledger.PendingChange) error {
	for _, change := range changes {
		if err := c.apply(ctx, change); err != nil {
			return fmt.Errorf("applying %s %s/%s: %w", change.Action, change.EntityType, change.EntityID, err)
		}
	}
	return nil
}

func (c *Local) apply(ctx context.Context, change ledger.PendingChange) error {
	if change.EntityType == budget.EntityTransaction {
		return c.applyTransaction(ctx, change)
	}

	switch change.Action {
	case budget.ActionDelete:
		return c.store.DeleteEntity(ctx, change.EntityType, change.EntityID)
	default:
		doc, err := json.Marshal(change.Payload)
		if err != nil {
			return err
		}
		return c.store.UpsertEntity(ctx, change.EntityType, change.EntityID, change.EntityName, string(doc))
	}
}

func (c *Local) applyTransaction(ctx context.Context, change ledger.PendingChange) error {
	if change.Action == budget.ActionDelete {
		return c.store.DeleteTransaction(ctx, change.EntityID)
	}

	fields, ok := change.Payload.(*ledger.TransactionFields)
	if !ok {
		return budget.Invalid("payload", "transaction change without transaction fields")
	}

	row, err := c.store.GetTransaction(ctx, change.EntityID)
	switch {
	case errors.Is(err, budget.ErrChangeNotFound):
		row = budget.Transaction{ID: change.EntityID, Cleared: budget.Uncleared}
	case err != nil:
		return err
	}

	if fields.Account != nil {
		row.Account = *fields.Account
	}
	if fields.Date != nil {
		row.Date = *fields.Date
	}
	if fields.Payee != nil {
		row.Payee = *fields.Payee
	}
	if fields.Category != nil {
		row.Category = *fields.Category
	}
	if fields.Memo != nil {
		row.Memo = *fields.Memo
	}
	if fields.Amount != nil {
		row.Amount = *fields.Amount
	}
	if fields.Cleared != nil {
		row.Cleared = *fields.Cleared
	}
	if fields.Flag != nil {
		row.Flag = *fields.Flag
	}
	return c.store.UpsertTransaction(ctx, row)
}

// TransactionSnapshot serves reconciliation snapshots from the local tables.
func (c *Local) TransactionSnapshot(ctx context.Context, account budget.AccountID) ([]budget.Transaction, error) {
	return c.store.TransactionSnapshot(ctx, account)
}

// DeviceIdentity returns this device's stable identity, for display.
func (c *Local) DeviceIdentity(ctx context.Context) (budget.Identity, error) {
	return c.store.DeviceIdentity(ctx, uuid.NewString)
}
