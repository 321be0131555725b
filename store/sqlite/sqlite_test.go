package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harbor/budget-engine/budget"
	"github.com/harbor/budget-engine/ledger"
	"github.com/harbor/budget-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// =============================================================================
// JOURNAL
// =============================================================================

func TestJournal_RoundTrip(t *testing.T) {
	// GIVEN: A ledger with a mix of pending changes
	// WHEN: The journal is synced and reloaded into a fresh ledger
	// THEN: The restored ledger matches entry for entry

	store := newTestStore(t)
	ctx := context.Background()

	l := ledger.New()
	_, err := l.Record(ledger.NewChange{
		EntityType: budget.EntityAccount,
		Action:     budget.ActionCreate,
		EntityID:   "acc-1",
		EntityName: "Checking",
		Payload:    &ledger.AccountFields{Name: ledger.String("Checking"), OnBudget: ledger.Bool(true)},
	})
	require.NoError(t, err)
	_, err = l.Record(ledger.NewChange{
		EntityType: budget.EntityTransaction,
		Action:     budget.ActionUpdate,
		EntityID:   "tx-9",
		Payload: &ledger.TransactionFields{
			Cleared: ledger.Status(budget.Reconciled),
			Amount:  ledger.Decimal(decimal.NewFromFloat(-12.34)),
		},
	})
	require.NoError(t, err)
	_, err = l.Record(ledger.NewChange{
		EntityType: budget.EntityBudgetLine,
		Action:     budget.ActionDelete,
		EntityID:   "bl-3",
	})
	require.NoError(t, err)

	require.NoError(t, store.SyncJournal(ctx, l.Snapshot()))

	loaded, err := store.LoadJournal(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	restored := ledger.New()
	restored.Restore(loaded)
	assert.Equal(t, 3, restored.Count())

	c, ok := restored.Get(budget.EntityAccount, "acc-1")
	require.True(t, ok)
	assert.Equal(t, budget.ActionCreate, c.Action)
	fields := c.Payload.(*ledger.AccountFields)
	assert.Equal(t, "Checking", *fields.Name)
	assert.True(t, *fields.OnBudget)

	c, ok = restored.Get(budget.EntityTransaction, "tx-9")
	require.True(t, ok)
	txFields := c.Payload.(*ledger.TransactionFields)
	assert.Equal(t, budget.Reconciled, *txFields.Cleared)
	assert.True(t, txFields.Amount.Equal(decimal.NewFromFloat(-12.34)))

	c, ok = restored.Get(budget.EntityBudgetLine, "bl-3")
	require.True(t, ok)
	assert.Equal(t, budget.ActionDelete, c.Action)
	assert.Nil(t, c.Payload)
}

func TestJournal_SyncReplacesPreviousContents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	l := ledger.New()
	id, err := l.Record(ledger.NewChange{
		EntityType: budget.EntityPayee,
		Action:     budget.ActionCreate,
		EntityID:   "p-1",
		Payload:    &ledger.PayeeFields{Name: ledger.String("Grocer")},
	})
	require.NoError(t, err)
	require.NoError(t, store.SyncJournal(ctx, l.Snapshot()))

	l.Discard(id)
	require.NoError(t, store.SyncJournal(ctx, l.Snapshot()))

	loaded, err := store.LoadJournal(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestTransactions_UpsertAndSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	march1 := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	march2 := march1.AddDate(0, 0, 1)

	require.NoError(t, store.UpsertTransaction(ctx, budget.Transaction{
		ID: "t-1", Account: "acc-1", Date: march2, Payee: "Late",
		Amount: decimal.NewFromFloat(-10.50), Cleared: budget.Uncleared,
	}))
	require.NoError(t, store.UpsertTransaction(ctx, budget.Transaction{
		ID: "t-2", Account: "acc-1", Date: march1, Payee: "Early",
		Amount: decimal.NewFromFloat(200), Cleared: budget.Cleared,
	}))
	require.NoError(t, store.UpsertTransaction(ctx, budget.Transaction{
		ID: "t-3", Account: "acc-2", Date: march1, Payee: "Other account",
		Amount: decimal.NewFromInt(5), Cleared: budget.Cleared,
	}))

	snap, err := store.TransactionSnapshot(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, budget.EntityID("t-2"), snap[0].ID, "date order")
	assert.True(t, snap[0].Amount.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, budget.Cleared, snap[0].Cleared)

	// Upsert overwrites in place.
	require.NoError(t, store.UpsertTransaction(ctx, budget.Transaction{
		ID: "t-1", Account: "acc-1", Date: march2, Payee: "Late",
		Amount: decimal.NewFromFloat(-10.50), Cleared: budget.Reconciled,
	}))
	got, err := store.GetTransaction(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, budget.Reconciled, got.Cleared)
}

func TestTransactions_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertTransaction(ctx, budget.Transaction{
		ID: "t-1", Account: "acc-1", Date: time.Now().UTC(),
		Amount: decimal.NewFromInt(1), Cleared: budget.Uncleared,
	}))
	require.NoError(t, store.DeleteTransaction(ctx, "t-1"))

	_, err := store.GetTransaction(ctx, "t-1")
	assert.ErrorIs(t, err, budget.ErrChangeNotFound)
}

// =============================================================================
// DEVICE IDENTITY
// =============================================================================

func TestDeviceIdentity_CreatedOnceThenStable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.DeviceIdentity(ctx, func() string { return "abcdef1234567890" })
	require.NoError(t, err)
	assert.Equal(t, "abcdef1234567890", first.ID)
	assert.Equal(t, "abcdef12", first.ShortID)

	second, err := store.DeviceIdentity(ctx, func() string { return "different" })
	require.NoError(t, err)
	assert.Equal(t, first, second, "identity is stable across calls")
}
