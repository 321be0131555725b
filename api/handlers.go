/*
handlers.go - HTTP API handlers for the offline budget engine

PURPOSE:
  Exposes the ledger, sync dispatcher, reconciliation sessions, installment
  calculator and budget discovery via REST. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Changes:
    GET    /api/changes                List pending changes
    POST   /api/changes                Record a change (insert or merge)
    DELETE /api/changes                Discard all pending changes
    GET    /api/changes/state          Dirty/clean indicator
    DELETE /api/changes/{id}           Discard one change

  Sync:
    POST   /api/sync                   Flush pending changes to the client
    GET    /api/sync/device            Device identity

  Mode:
    GET    /api/mode                   Current edit mode
    PUT    /api/mode                   Enable or disable edit mode

  Reconciliation (per account):
    POST   /api/accounts/{accountID}/reconciliation            Start session
    GET    /api/accounts/{accountID}/reconciliation            Session state
    DELETE /api/accounts/{accountID}/reconciliation            Cancel session
    POST   .../reconciliation/statement                        Confirm statement
    POST   .../reconciliation/toggle/{transactionID}           Toggle selection
    POST   .../reconciliation/adjustment                       Create adjustment
    POST   .../reconciliation/finish                           Finish session

  Installments:
    POST   /api/installments/preview   Calculate a plan without recording
    POST   /api/installments           Calculate and record both entries

  Budgets:
    GET    /api/budgets                Discover budget bundles on disk

ERROR HANDLING:
  Domain errors map to HTTP status via their sentinels:
  - 400: validation errors, malformed input
  - 403: edit mode required
  - 404: unknown change or session
  - 409: balance mismatch, sync in flight, pending-delete conflict
  - 502: external client rejected the push
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harbor/budget-engine/budget"
	"github.com/harbor/budget-engine/discover"
	"github.com/harbor/budget-engine/installment"
	"github.com/harbor/budget-engine/ledger"
	"github.com/harbor/budget-engine/reconcile"
	"github.com/harbor/budget-engine/syncer"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger     *ledger.Ledger
	Dispatcher *syncer.Dispatcher
	Source     reconcile.TransactionSource

	// SearchPaths overrides budget discovery roots; empty means defaults.
	SearchPaths []string

	mu       sync.Mutex
	editMode bool
	sessions map[budget.AccountID]*reconcile.Session
}

// NewHandler creates a handler. The budget opens read-only; edit mode is
// switched on explicitly through the API.
func NewHandler(led *ledger.Ledger, dispatcher *syncer.Dispatcher, source reconcile.TransactionSource) *Handler {
	return &Handler{
		Ledger:     led,
		Dispatcher: dispatcher,
		Source:     source,
		sessions:   make(map[budget.AccountID]*reconcile.Session),
	}
}

// =============================================================================
// CHANGE HANDLERS
// =============================================================================

// ListChanges returns the pending changes in record order.
// GET /api/changes
func (h *Handler) ListChanges(w http.ResponseWriter, r *http.Request) {
	snapshot := h.Ledger.Snapshot()
	dtos := make([]ChangeDTO, len(snapshot))
	for i, c := range snapshot {
		dtos[i] = toChangeDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordChange records one change against the merge table.
// POST /api/changes
func (h *Handler) RecordChange(w http.ResponseWriter, r *http.Request) {
	var req RecordChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	nc := ledger.NewChange{
		EntityType: budget.EntityType(req.EntityType),
		Action:     budget.Action(req.Action),
		EntityID:   budget.EntityID(req.EntityID),
		EntityName: req.EntityName,
	}
	if len(req.Payload) > 0 {
		payload, err := ledger.DecodePayload(nc.EntityType, req.Payload)
		if err != nil {
			writeDomainError(w, "Invalid payload", err)
			return
		}
		nc.Payload = payload
	}

	id, err := h.Ledger.Record(nc)
	if err != nil {
		writeDomainError(w, "Failed to record change", err)
		return
	}

	writeJSON(w, http.StatusOK, RecordChangeResponse{
		ID:    string(id),
		Count: h.Ledger.Count(),
		Dirty: h.Ledger.IsDirty(),
	})
}

// DiscardChange removes one pending change.
// DELETE /api/changes/{id}
func (h *Handler) DiscardChange(w http.ResponseWriter, r *http.Request) {
	id := budget.ChangeID(chi.URLParam(r, "id"))
	h.Ledger.Discard(id)
	writeJSON(w, http.StatusOK, LedgerStateDTO{Count: h.Ledger.Count(), Dirty: h.Ledger.IsDirty()})
}

// ClearChanges discards every pending change.
// DELETE /api/changes
func (h *Handler) ClearChanges(w http.ResponseWriter, r *http.Request) {
	h.Ledger.Clear()
	writeJSON(w, http.StatusOK, LedgerStateDTO{Count: 0, Dirty: false})
}

// GetLedgerState returns the dirty/clean indicator.
// GET /api/changes/state
func (h *Handler) GetLedgerState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LedgerStateDTO{Count: h.Ledger.Count(), Dirty: h.Ledger.IsDirty()})
}

// =============================================================================
// SYNC HANDLERS
// =============================================================================

// TriggerSync flushes the ledger to the budget client.
// POST /api/sync
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	before := h.Ledger.Count()
	if err := h.Dispatcher.Flush(r.Context()); err != nil {
		writeDomainError(w, "Sync failed", err)
		return
	}
	remaining := h.Ledger.Count()
	writeJSON(w, http.StatusOK, SyncResponse{Flushed: before - remaining, Remaining: remaining})
}

// GetDevice returns the client's device identity.
// GET /api/sync/device
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	identity, err := h.Dispatcher.DeviceIdentity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load device identity", err)
		return
	}
	writeJSON(w, http.StatusOK, IdentityDTO{ID: identity.ID, ShortID: identity.ShortID})
}

// =============================================================================
// MODE HANDLERS
// =============================================================================

// GetMode returns the current edit mode.
// GET /api/mode
func (h *Handler) GetMode(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	mode := h.editMode
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, ModeDTO{EditMode: mode})
}

// SetMode enables or disables edit mode.
// PUT /api/mode
func (h *Handler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.mu.Lock()
	h.editMode = req.EditMode
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, req)
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// StartReconciliation opens a session for an account. Rejected without edit
// mode, or while another session for the account is mid-wizard.
// POST /api/accounts/{accountID}/reconciliation
func (h *Handler) StartReconciliation(w http.ResponseWriter, r *http.Request) {
	account := budget.AccountID(chi.URLParam(r, "accountID"))

	h.mu.Lock()
	mode := h.editMode
	if existing, ok := h.sessions[account]; ok {
		step := existing.Step()
		if step == reconcile.StepStatement || step == reconcile.StepSelect {
			h.mu.Unlock()
			writeError(w, http.StatusConflict, "Reconciliation already in progress for account", nil)
			return
		}
	}
	h.mu.Unlock()

	session, err := reconcile.Start(account, h.Ledger, h.Source, reconcile.WithEditMode(mode))
	if err != nil {
		writeDomainError(w, "Failed to start reconciliation", err)
		return
	}

	h.mu.Lock()
	h.sessions[account] = session
	h.mu.Unlock()

	writeJSON(w, http.StatusCreated, toSessionStateDTO(session))
}

// GetReconciliation returns the session state for rendering.
// GET /api/accounts/{accountID}/reconciliation
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, "No reconciliation session for account", nil)
		return
	}
	writeJSON(w, http.StatusOK, toSessionStateDTO(session))
}

// ConfirmStatement submits the statement date and balance, freezing the
// transaction snapshot.
// POST /api/accounts/{accountID}/reconciliation/statement
func (h *Handler) ConfirmStatement(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, "No reconciliation session for account", nil)
		return
	}

	var req ConfirmStatementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	statementDate, err := time.Parse(dateLayout, req.StatementDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid statement date, want YYYY-MM-DD", err)
		return
	}

	if err := session.ConfirmStatement(r.Context(), statementDate, req.StatementBalance); err != nil {
		writeDomainError(w, "Failed to confirm statement", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionStateDTO(session))
}

// ToggleTransaction flips one transaction's selection.
// POST /api/accounts/{accountID}/reconciliation/toggle/{transactionID}
func (h *Handler) ToggleTransaction(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, "No reconciliation session for account", nil)
		return
	}
	if err := session.Toggle(budget.EntityID(chi.URLParam(r, "transactionID"))); err != nil {
		writeDomainError(w, "Failed to toggle transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionStateDTO(session))
}

// CreateAdjustment records a synthetic balancing transaction.
// POST /api/accounts/{accountID}/reconciliation/adjustment
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, "No reconciliation session for account", nil)
		return
	}
	id, err := session.CreateAdjustment()
	if err != nil {
		writeDomainError(w, "Failed to create adjustment", err)
		return
	}
	writeJSON(w, http.StatusOK, AdjustmentResponse{
		ChangeID:   string(id),
		Difference: session.Difference().StringFixed(2),
		Balanced:   session.Balanced(),
	})
}

// FinishReconciliation marks the selected transactions Reconciled.
// POST /api/accounts/{accountID}/reconciliation/finish
func (h *Handler) FinishReconciliation(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, "No reconciliation session for account", nil)
		return
	}
	if err := session.Finish(); err != nil {
		writeDomainError(w, "Failed to finish reconciliation", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionStateDTO(session))
}

// CancelReconciliation discards the session without touching the ledger.
// DELETE /api/accounts/{accountID}/reconciliation
func (h *Handler) CancelReconciliation(w http.ResponseWriter, r *http.Request) {
	account := budget.AccountID(chi.URLParam(r, "accountID"))

	h.mu.Lock()
	session, ok := h.sessions[account]
	delete(h.sessions, account)
	h.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "No reconciliation session for account", nil)
		return
	}
	session.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(r *http.Request) (*reconcile.Session, bool) {
	account := budget.AccountID(chi.URLParam(r, "accountID"))
	h.mu.Lock()
	defer h.mu.Unlock()
	session, ok := h.sessions[account]
	return session, ok
}

// =============================================================================
// INSTALLMENT HANDLERS
// =============================================================================

// PreviewInstallment calculates a plan without recording anything.
// POST /api/installments/preview
func (h *Handler) PreviewInstallment(w http.ResponseWriter, r *http.Request) {
	plan, ok := h.calculatePlan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// CreateInstallment calculates a plan and records both entries.
// POST /api/installments
func (h *Handler) CreateInstallment(w http.ResponseWriter, r *http.Request) {
	plan, ok := h.calculatePlan(w, r)
	if !ok {
		return
	}

	counterID, err := h.Ledger.Record(plan.CounterEntry)
	if err != nil {
		writeDomainError(w, "Failed to record counter entry", err)
		return
	}
	scheduleID, err := h.Ledger.Record(plan.ScheduleEntry)
	if err != nil {
		// The counter entry must not outlive a failed schedule entry.
		h.Ledger.Discard(counterID)
		writeDomainError(w, "Failed to record schedule entry", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateInstallmentResponse{
		Plan:             toPlanDTO(plan),
		CounterChangeID:  string(counterID),
		ScheduleChangeID: string(scheduleID),
	})
}

func (h *Handler) calculatePlan(w http.ResponseWriter, r *http.Request) (*installment.Plan, bool) {
	var req InstallmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return nil, false
	}
	cfg, err := req.toConfig()
	if err != nil {
		writeDomainError(w, "Invalid installment request", err)
		return nil, false
	}
	plan, err := installment.Calculate(cfg)
	if err != nil {
		writeDomainError(w, "Invalid installment plan", err)
		return nil, false
	}
	return plan, true
}

// =============================================================================
// BUDGET DISCOVERY
// =============================================================================

// ListBudgets discovers budget bundles on the local filesystem.
// GET /api/budgets
func (h *Handler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets := discover.Find(h.SearchPaths...)
	if budgets == nil {
		budgets = []discover.BudgetInfo{}
	}
	writeJSON(w, http.StatusOK, budgets)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error to its HTTP status.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, budget.ErrEditModeRequired):
		status = http.StatusForbidden
	case errors.Is(err, budget.ErrChangeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, budget.ErrEntityDeleted),
		errors.Is(err, budget.ErrBalanceMismatch),
		errors.Is(err, budget.ErrSyncInFlight):
		status = http.StatusConflict
	case errors.Is(err, budget.ErrSyncFailed):
		status = http.StatusBadGateway
	case errors.Is(err, budget.ErrValidation):
		status = http.StatusBadRequest
	}
	writeError(w, status, message, err)
}
