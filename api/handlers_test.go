/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Ledger endpoints (record, merge conflicts, discard, state)
- Reconciliation wizard over HTTP, including the edit-mode gate
- Installment preview and creation
- Sync flush and device identity
- Budget discovery
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harbor/budget-engine/budget"
	"github.com/harbor/budget-engine/client"
	"github.com/harbor/budget-engine/ledger"
	"github.com/harbor/budget-engine/store/sqlite"
	"github.com/harbor/budget-engine/syncer"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

type testServer struct {
	router  http.Handler
	handler *Handler
	ledger  *ledger.Ledger
	store   *sqlite.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	led := ledger.New()
	local := client.NewLocal(store)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := syncer.New(led, local, log)

	h := NewHandler(led, dispatcher, local)
	return &testServer{
		router:  NewRouter(h, log),
		handler: h,
		ledger:  led,
		store:   store,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) enableEditMode(t *testing.T) {
	t.Helper()
	rec := ts.do(t, http.MethodPut, "/api/mode", ModeDTO{EditMode: true})
	require.Equal(t, http.StatusOK, rec.Code)
}

func (ts *testServer) seedTransaction(t *testing.T, id string, amount string, cleared budget.ClearedStatus) {
	t.Helper()
	require.NoError(t, ts.store.UpsertTransaction(context.Background(), budget.Transaction{
		ID:      budget.EntityID(id),
		Account: "acc-1",
		Date:    time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		Payee:   "Seed " + id,
		Amount:  decimal.RequireFromString(amount),
		Cleared: cleared,
	}))
}

// =============================================================================
// LEDGER ENDPOINTS
// =============================================================================

func TestRecordChange_RoundTrip(t *testing.T) {
	// GIVEN: An empty ledger
	ts := newTestServer(t)

	// WHEN: Recording a category rename
	rec := ts.do(t, http.MethodPost, "/api/changes", RecordChangeRequest{
		EntityType: "category",
		Action:     "update",
		EntityID:   "cat-1",
		EntityName: "Groceries",
		Payload:    json.RawMessage(`{"name":"Food"}`),
	})

	// THEN: The change is pending and listed
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[RecordChangeResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, 1, resp.Count)
	assert.True(t, resp.Dirty)

	list := decodeBody[[]ChangeDTO](t, ts.do(t, http.MethodGet, "/api/changes", nil))
	require.Len(t, list, 1)
	assert.Equal(t, "category", list[0].EntityType)
	assert.Equal(t, "cat-1", list[0].EntityID)
	assert.JSONEq(t, `{"name":"Food"}`, string(list[0].Payload))
}

func TestRecordChange_ValidationRejected(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		req  RecordChangeRequest
	}{
		{"unknown entity type", RecordChangeRequest{EntityType: "gadget", Action: "create", Payload: json.RawMessage(`{}`)}},
		{"unknown action", RecordChangeRequest{EntityType: "payee", Action: "rename", EntityID: "p-1", Payload: json.RawMessage(`{}`)}},
		{"update without id", RecordChangeRequest{EntityType: "payee", Action: "update", Payload: json.RawMessage(`{"name":"x"}`)}},
		{"update without payload", RecordChangeRequest{EntityType: "payee", Action: "update", EntityID: "p-1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/changes", tc.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, ts.ledger.Count())
		})
	}
}

func TestRecordChange_PendingDeleteConflicts(t *testing.T) {
	// GIVEN: A pending delete for an account
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/changes", RecordChangeRequest{
		EntityType: "account", Action: "delete", EntityID: "acc-9",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// WHEN: Editing the same account
	rec = ts.do(t, http.MethodPost, "/api/changes", RecordChangeRequest{
		EntityType: "account", Action: "update", EntityID: "acc-9",
		Payload: json.RawMessage(`{"name":"Renamed"}`),
	})

	// THEN: Rejected until the delete is withdrawn
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecordChange_CreateDeleteAnnihilates(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/changes", RecordChangeRequest{
		EntityType: "payee", Action: "create", EntityID: "p-1",
		Payload: json.RawMessage(`{"name":"Corner Store"}`),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/changes", RecordChangeRequest{
		EntityType: "payee", Action: "delete", EntityID: "p-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[RecordChangeResponse](t, rec)
	assert.Empty(t, resp.ID, "annihilation leaves no surviving entry")
	assert.Equal(t, 0, resp.Count)
	assert.False(t, resp.Dirty)
}

func TestDiscardAndClear(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/changes", RecordChangeRequest{
		EntityType: "category", Action: "update", EntityID: "cat-1",
		Payload: json.RawMessage(`{"hidden":true}`),
	})
	id := decodeBody[RecordChangeResponse](t, rec).ID

	state := decodeBody[LedgerStateDTO](t, ts.do(t, http.MethodDelete, "/api/changes/"+id, nil))
	assert.Equal(t, 0, state.Count)

	ts.do(t, http.MethodPost, "/api/changes", RecordChangeRequest{
		EntityType: "category", Action: "update", EntityID: "cat-2",
		Payload: json.RawMessage(`{"hidden":true}`),
	})
	state = decodeBody[LedgerStateDTO](t, ts.do(t, http.MethodDelete, "/api/changes", nil))
	assert.False(t, state.Dirty)
	assert.Equal(t, 0, ts.ledger.Count())
}

// =============================================================================
// RECONCILIATION ENDPOINTS
// =============================================================================

func TestReconciliation_RequiresEditMode(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/accounts/acc-1/reconciliation", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReconciliation_FullFlow(t *testing.T) {
	// GIVEN: 500.00 cleared and an uncleared 23.50 refund
	ts := newTestServer(t)
	ts.enableEditMode(t)
	ts.seedTransaction(t, "t-1", "500.00", budget.Cleared)
	ts.seedTransaction(t, "t-2", "23.50", budget.Uncleared)

	rec := ts.do(t, http.MethodPost, "/api/accounts/acc-1/reconciliation", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// WHEN: Confirming a 523.50 statement
	rec = ts.do(t, http.MethodPost, "/api/accounts/acc-1/reconciliation/statement", ConfirmStatementRequest{
		StatementDate:    "2025-04-01",
		StatementBalance: "523.50",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	state := decodeBody[SessionStateDTO](t, rec)
	assert.Equal(t, "500.00", state.ClearedBalance)
	assert.Equal(t, "-23.50", state.Difference)
	assert.False(t, state.Balanced)
	require.Len(t, state.Transactions, 1)

	// Finishing while unbalanced is a conflict
	rec = ts.do(t, http.MethodPost, "/api/accounts/acc-1/reconciliation/finish", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Selecting the refund balances the session
	rec = ts.do(t, http.MethodPost, "/api/accounts/acc-1/reconciliation/toggle/t-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state = decodeBody[SessionStateDTO](t, rec)
	assert.True(t, state.Balanced)
	assert.Equal(t, 1, state.SelectedCount)

	// THEN: Finish emits the reconcile update into the ledger
	rec = ts.do(t, http.MethodPost, "/api/accounts/acc-1/reconciliation/finish", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decodeBody[SessionStateDTO](t, rec).Step)
	assert.Equal(t, 1, ts.ledger.Count())

	change, ok := ts.ledger.Get(budget.EntityTransaction, "t-2")
	require.True(t, ok)
	assert.Equal(t, budget.ActionUpdate, change.Action)
}

func TestReconciliation_AdjustmentBalances(t *testing.T) {
	ts := newTestServer(t)
	ts.enableEditMode(t)
	ts.seedTransaction(t, "t-1", "500.00", budget.Cleared)

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/accounts/acc-1/reconciliation", nil).Code)
	rec := ts.do(t, http.MethodPost, "/api/accounts/acc-1/reconciliation/statement", ConfirmStatementRequest{
		StatementDate: "2025-04-01", StatementBalance: "512.25",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/accounts/acc-1/reconciliation/adjustment", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[AdjustmentResponse](t, rec)
	assert.NotEmpty(t, resp.ChangeID)
	assert.True(t, resp.Balanced)
	assert.Equal(t, "0.00", resp.Difference)
	assert.Equal(t, 1, ts.ledger.Count())
}

func TestReconciliation_SecondStartConflicts(t *testing.T) {
	ts := newTestServer(t)
	ts.enableEditMode(t)

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/accounts/acc-1/reconciliation", nil).Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/accounts/acc-1/reconciliation", nil).Code)

	// Cancel frees the slot
	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/accounts/acc-1/reconciliation", nil).Code)
	assert.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/accounts/acc-1/reconciliation", nil).Code)
}

func TestReconciliation_UnknownSessionIs404(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/accounts/acc-9/reconciliation", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/accounts/acc-9/reconciliation/finish", nil).Code)
}

// =============================================================================
// INSTALLMENT ENDPOINTS
// =============================================================================

func installmentRequest() InstallmentRequest {
	return InstallmentRequest{
		TransactionID:  "tx-1",
		AccountID:      "acc-1",
		OriginalAmount: "-1000.00",
		OriginalDate:   "2025-03-10",
		Category:       "Electronics",
		Payee:          "TechStore",
		Months:         3,
		StartDate:      "2025-04-01",
	}
}

func TestPreviewInstallment(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/installments/preview", installmentRequest())
	require.Equal(t, http.StatusOK, rec.Code)

	plan := decodeBody[InstallmentPlanDTO](t, rec)
	assert.Equal(t, "333.33", plan.MonthlyAmount)
	assert.Equal(t, "0.01", plan.RoundingAdjustment)
	require.Len(t, plan.Schedule, 3)
	assert.Equal(t, "-333.34", plan.Schedule[0])
	assert.Equal(t, "-333.33", plan.Schedule[1])
	assert.Equal(t, 0, ts.ledger.Count(), "preview records nothing")
}

func TestCreateInstallment_RecordsBothEntries(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/installments", installmentRequest())
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeBody[CreateInstallmentResponse](t, rec)
	assert.NotEmpty(t, resp.CounterChangeID)
	assert.NotEmpty(t, resp.ScheduleChangeID)
	assert.NotEqual(t, resp.CounterChangeID, resp.ScheduleChangeID)
	assert.Equal(t, 2, ts.ledger.Count())
}

func TestCreateInstallment_InvalidMonths(t *testing.T) {
	ts := newTestServer(t)
	req := installmentRequest()
	req.Months = 5

	rec := ts.do(t, http.MethodPost, "/api/installments", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, ts.ledger.Count())
}

// =============================================================================
// SYNC ENDPOINTS
// =============================================================================

func TestTriggerSync_FlushesLedger(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/changes", RecordChangeRequest{
		EntityType: "payee", Action: "create", EntityID: "p-1",
		Payload: json.RawMessage(`{"name":"Corner Store"}`),
	}).Code)

	rec := ts.do(t, http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[SyncResponse](t, rec)
	assert.Equal(t, 1, resp.Flushed)
	assert.Equal(t, 0, resp.Remaining)
	assert.False(t, ts.ledger.IsDirty())
}

func TestGetDevice(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/sync/device", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	identity := decodeBody[IdentityDTO](t, rec)
	assert.NotEmpty(t, identity.ID)
	assert.Len(t, identity.ShortID, 8)
}

// =============================================================================
// BUDGET DISCOVERY
// =============================================================================

func TestListBudgets(t *testing.T) {
	ts := newTestServer(t)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "My Budget~B0DA1C43.ynab4"), 0o755))
	ts.handler.SearchPaths = []string{root}

	rec := ts.do(t, http.MethodGet, "/api/budgets", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	budgets := decodeBody[[]struct {
		Name string `json:"name"`
		Path string `json:"path"`
	}](t, rec)
	require.Len(t, budgets, 1)
	assert.Equal(t, "My Budget", budgets[0].Name)
}
