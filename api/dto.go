/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY AND DATES:
  Amounts travel as fixed two-decimal strings, never floats - the engine is
  decimal end to end and the API keeps it that way. Dates are "2006-01-02";
  timestamps are RFC3339.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/codec.go: DecodePayload for the raw payload field
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/harbor/budget-engine/budget"
	"github.com/harbor/budget-engine/installment"
	"github.com/harbor/budget-engine/ledger"
	"github.com/harbor/budget-engine/reconcile"
)

const dateLayout = "2006-01-02"

// =============================================================================
// LEDGER TYPES
// =============================================================================

// ChangeDTO represents one pending change in API responses.
type ChangeDTO struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	Action     string          `json:"action"`
	EntityID   string          `json:"entity_id"`
	EntityName string          `json:"entity_name,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RecordedAt string          `json:"recorded_at"`
}

// RecordChangeRequest is the request to record a pending change. Payload is
// decoded against the entity type; deletes carry none.
type RecordChangeRequest struct {
	EntityType string          `json:"entity_type"`
	Action     string          `json:"action"`
	EntityID   string          `json:"entity_id,omitempty"`
	EntityName string          `json:"entity_name,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// RecordChangeResponse reports the surviving entry after the merge. A
// create+delete annihilation returns an empty id.
type RecordChangeResponse struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
	Dirty bool   `json:"dirty"`
}

// LedgerStateDTO is the dirty/clean indicator for the footer badge.
type LedgerStateDTO struct {
	Count int  `json:"count"`
	Dirty bool `json:"dirty"`
}

func toChangeDTO(c ledger.PendingChange) ChangeDTO {
	dto := ChangeDTO{
		ID:         string(c.ID),
		EntityType: string(c.EntityType),
		Action:     string(c.Action),
		EntityID:   string(c.EntityID),
		EntityName: c.EntityName,
		RecordedAt: c.RecordedAt.Format(time.RFC3339),
	}
	if c.Payload != nil {
		// Payload structs marshal cleanly; ignore the impossible error.
		raw, err := json.Marshal(c.Payload)
		if err == nil {
			dto.Payload = raw
		}
	}
	return dto
}

// =============================================================================
// SYNC TYPES
// =============================================================================

// SyncResponse reports the outcome of a flush.
type SyncResponse struct {
	Flushed   int `json:"flushed"`
	Remaining int `json:"remaining"`
}

// IdentityDTO is the device identity shown in the sync status popover.
type IdentityDTO struct {
	ID      string `json:"id"`
	ShortID string `json:"short_id"`
}

// ModeDTO carries the edit-mode switch.
type ModeDTO struct {
	EditMode bool `json:"edit_mode"`
}

// =============================================================================
// RECONCILIATION TYPES
// =============================================================================

// ConfirmStatementRequest is the step-1 form: the bank statement's closing
// date and balance as typed by the user.
type ConfirmStatementRequest struct {
	StatementDate    string `json:"statement_date"`
	StatementBalance string `json:"statement_balance"`
}

// SessionStateDTO is the full wizard state for rendering.
type SessionStateDTO struct {
	Account        string                     `json:"account"`
	Step           int                        `json:"step"`
	ClearedBalance string                     `json:"cleared_balance"`
	PendingBalance string                     `json:"pending_balance"`
	Difference     string                     `json:"difference"`
	Balanced       bool                       `json:"balanced"`
	SelectedCount  int                        `json:"selected_count"`
	Transactions   []SelectableTransactionDTO `json:"transactions"`
}

// SelectableTransactionDTO is one toggleable row in the selection step.
type SelectableTransactionDTO struct {
	ID       string `json:"id"`
	Date     string `json:"date"`
	Payee    string `json:"payee"`
	Category string `json:"category,omitempty"`
	Memo     string `json:"memo,omitempty"`
	Amount   string `json:"amount"`
	Cleared  string `json:"cleared"`
	Selected bool   `json:"selected"`
}

// AdjustmentResponse reports the recorded adjustment and the rebalanced
// session state.
type AdjustmentResponse struct {
	ChangeID   string `json:"change_id"`
	Difference string `json:"difference"`
	Balanced   bool   `json:"balanced"`
}

func toSessionStateDTO(s *reconcile.Session) SessionStateDTO {
	selectable := s.Selectable()
	txs := make([]SelectableTransactionDTO, len(selectable))
	for i, st := range selectable {
		txs[i] = SelectableTransactionDTO{
			ID:       string(st.ID),
			Date:     st.Date.Format(dateLayout),
			Payee:    st.Payee,
			Category: st.Category,
			Memo:     st.Memo,
			Amount:   st.Amount.StringFixed(2),
			Cleared:  string(st.Cleared),
			Selected: st.Selected,
		}
	}
	return SessionStateDTO{
		Account:        string(s.Account()),
		Step:           int(s.Step()),
		ClearedBalance: s.ClearedBalance().StringFixed(2),
		PendingBalance: s.PendingBalance().StringFixed(2),
		Difference:     s.Difference().StringFixed(2),
		Balanced:       s.Balanced(),
		SelectedCount:  s.SelectedCount(),
		Transactions:   txs,
	}
}

// =============================================================================
// INSTALLMENT TYPES
// =============================================================================

// InstallmentRequest describes the original purchase and the plan length.
type InstallmentRequest struct {
	TransactionID   string `json:"transaction_id"`
	AccountID       string `json:"account_id"`
	OriginalAmount  string `json:"original_amount"`
	OriginalDate    string `json:"original_date"`
	Category        string `json:"category,omitempty"`
	Payee           string `json:"payee,omitempty"`
	Months          int    `json:"months"`
	StartDate       string `json:"start_date"`
	CounterCategory string `json:"counter_category,omitempty"`
}

// InstallmentPlanDTO is the calculated plan, preview and create alike.
type InstallmentPlanDTO struct {
	MonthlyAmount      string   `json:"monthly_amount"`
	TotalAmount        string   `json:"total_amount"`
	RoundingAdjustment string   `json:"rounding_adjustment"`
	Months             int      `json:"months"`
	Schedule           []string `json:"schedule"`
}

// CreateInstallmentResponse returns the plan plus the two recorded entries.
type CreateInstallmentResponse struct {
	Plan             InstallmentPlanDTO `json:"plan"`
	CounterChangeID  string             `json:"counter_change_id"`
	ScheduleChangeID string             `json:"schedule_change_id"`
}

func (req InstallmentRequest) toConfig() (installment.Config, error) {
	amount, err := budget.ParseCurrency(req.OriginalAmount)
	if err != nil {
		return installment.Config{}, err
	}
	originalDate, err := time.Parse(dateLayout, req.OriginalDate)
	if err != nil {
		return installment.Config{}, budget.Invalid("originalDate", "want YYYY-MM-DD: "+req.OriginalDate)
	}
	startDate, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return installment.Config{}, budget.Invalid("startDate", "want YYYY-MM-DD: "+req.StartDate)
	}
	return installment.Config{
		TransactionID:   budget.EntityID(req.TransactionID),
		Account:         budget.AccountID(req.AccountID),
		OriginalAmount:  amount,
		OriginalDate:    originalDate,
		Category:        req.Category,
		Payee:           req.Payee,
		Months:          req.Months,
		StartDate:       startDate,
		CounterCategory: req.CounterCategory,
	}, nil
}

func toPlanDTO(p *installment.Plan) InstallmentPlanDTO {
	schedule := p.Schedule()
	amounts := make([]string, len(schedule))
	for i, a := range schedule {
		amounts[i] = a.StringFixed(2)
	}
	return InstallmentPlanDTO{
		MonthlyAmount:      p.MonthlyAmount.StringFixed(2),
		TotalAmount:        p.TotalAmount.StringFixed(2),
		RoundingAdjustment: p.RoundingAdjustment.StringFixed(2),
		Months:             p.Months,
		Schedule:           amounts,
	}
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
