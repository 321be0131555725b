package client_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harbor/budget-engine/budget"
	"github.com/harbor/budget-engine/client"
	"github.com/harbor/budget-engine/ledger"
	"github.com/harbor/budget-engine/reconcile"
	"github.com/harbor/budget-engine/store/sqlite"
	"github.com/harbor/budget-engine/syncer"
)

func newLocal(t *testing.T) (*client.Local, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return client.NewLocal(store), store
}

func TestPush_AppliesTransactionLifecycle(t *testing.T) {
	// create -> update -> delete, pushed one flush at a time.

	local, store := newLocal(t)
	ctx := context.Background()
	date := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

	err := local.Push(ctx, []ledger.PendingChange{{
		ID: "ch-1", EntityType: budget.EntityTransaction, Action: budget.ActionCreate, EntityID: "tx-1",
		Payload: &ledger.TransactionFields{
			Account: ledger.Account("acc-1"),
			Date:    ledger.Time(date),
			Payee:   ledger.String("Grocer"),
			Amount:  ledger.Decimal(decimal.NewFromFloat(-42.50)),
			Cleared: ledger.Status(budget.Uncleared),
		},
	}})
	require.NoError(t, err)

	err = local.Push(ctx, []ledger.PendingChange{{
		ID: "ch-2", EntityType: budget.EntityTransaction, Action: budget.ActionUpdate, EntityID: "tx-1",
		Payload: &ledger.TransactionFields{Cleared: ledger.Status(budget.Cleared)},
	}})
	require.NoError(t, err)

	row, err := store.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, budget.Cleared, row.Cleared)
	assert.Equal(t, "Grocer", row.Payee, "update overlays, earlier fields survive")
	assert.True(t, row.Amount.Equal(decimal.NewFromFloat(-42.50)))

	err = local.Push(ctx, []ledger.PendingChange{{
		ID: "ch-3", EntityType: budget.EntityTransaction, Action: budget.ActionDelete, EntityID: "tx-1",
	}})
	require.NoError(t, err)
	_, err = store.GetTransaction(ctx, "tx-1")
	assert.ErrorIs(t, err, budget.ErrChangeNotFound)
}

func TestPush_AppliesEntityChanges(t *testing.T) {
	local, store := newLocal(t)
	ctx := context.Background()

	err := local.Push(ctx, []ledger.PendingChange{{
		ID: "ch-1", EntityType: budget.EntityCategory, Action: budget.ActionCreate, EntityID: "cat-1",
		EntityName: "Groceries",
		Payload:    &ledger.CategoryFields{Name: ledger.String("Groceries")},
	}})
	require.NoError(t, err)

	err = local.Push(ctx, []ledger.PendingChange{{
		ID: "ch-2", EntityType: budget.EntityCategory, Action: budget.ActionDelete, EntityID: "cat-1",
	}})
	require.NoError(t, err)
	_ = store // lifecycle exercised; deletes are idempotent at the row level
}

func TestEndToEnd_EditReconcileFlush(t *testing.T) {
	// GIVEN: A local budget with transactions on disk
	// WHEN: A reconciliation session finishes and the dispatcher flushes
	// THEN: The reconciled statuses land back in the local tables

	local, store := newLocal(t)
	ctx := context.Background()
	date := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertTransaction(ctx, budget.Transaction{
		ID: "t-1", Account: "acc-1", Date: date, Payee: "Salary",
		Amount: decimal.RequireFromString("500.00"), Cleared: budget.Cleared,
	}))
	require.NoError(t, store.UpsertTransaction(ctx, budget.Transaction{
		ID: "t-2", Account: "acc-1", Date: date, Payee: "Refund",
		Amount: decimal.RequireFromString("23.50"), Cleared: budget.Uncleared,
	}))

	led := ledger.New()
	session, err := reconcile.Start("acc-1", led, local, reconcile.WithEditMode(true))
	require.NoError(t, err)
	statementDate := date.AddDate(0, 1, 0)
	require.NoError(t, session.ConfirmStatement(ctx, statementDate, "523.50"))
	require.NoError(t, session.Toggle("t-2"))
	require.NoError(t, session.Finish())

	dispatcher := syncer.New(led, local, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, dispatcher.Flush(ctx))
	assert.Equal(t, 0, led.Count())

	row, err := store.GetTransaction(ctx, "t-2")
	require.NoError(t, err)
	assert.Equal(t, budget.Reconciled, row.Cleared)
}

func TestDeviceIdentity_Stable(t *testing.T) {
	local, _ := newLocal(t)
	ctx := context.Background()

	first, err := local.DeviceIdentity(ctx)
	require.NoError(t, err)
	second, err := local.DeviceIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, second.ShortID, 8)
}
