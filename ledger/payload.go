/*
payload.go - Closed sum type over the five editable entity payloads

PURPOSE:
  A pending change carries the fields being created or changed. Rather than
  an untyped blob, each entity kind gets its own field struct so malformed
  payloads are caught at compile time.

MERGE SEMANTICS:
  Fields are pointers: nil means "not touched by this edit". When a create
  is followed by an update for the same entity, the update's payload is
  merged over the create's - only non-nil fields overwrite.

SEE ALSO:
  - ledger.go: applies the merge table using overlay()
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/harbor/budget-engine/budget"
)

// Payload is the closed interface over the five entity field sets.
// Only the types in this file implement it.
type Payload interface {
	// EntityType returns which entity kind this payload belongs to.
	EntityType() budget.EntityType

	// overlay returns this payload merged over base: non-nil fields of the
	// receiver overwrite the corresponding fields of base.
	overlay(base Payload) Payload
}

// =============================================================================
// ACCOUNT
// =============================================================================

type AccountFields struct {
	Name     *string `json:"name,omitempty"`
	Note     *string `json:"note,omitempty"`
	OnBudget *bool   `json:"on_budget,omitempty"`
	Closed   *bool   `json:"closed,omitempty"`
}

func (f *AccountFields) EntityType() budget.EntityType { return budget.EntityAccount }

func (f *AccountFields) overlay(base Payload) Payload {
	out := *base.(*AccountFields)
	if f.Name != nil {
		out.Name = f.Name
	}
	if f.Note != nil {
		out.Note = f.Note
	}
	if f.OnBudget != nil {
		out.OnBudget = f.OnBudget
	}
	if f.Closed != nil {
		out.Closed = f.Closed
	}
	return &out
}

// =============================================================================
// CATEGORY
// =============================================================================

type CategoryFields struct {
	Name   *string `json:"name,omitempty"`
	Group  *string `json:"group,omitempty"`
	Hidden *bool   `json:"hidden,omitempty"`
}

func (f *CategoryFields) EntityType() budget.EntityType { return budget.EntityCategory }

func (f *CategoryFields) overlay(base Payload) Payload {
	out := *base.(*CategoryFields)
	if f.Name != nil {
		out.Name = f.Name
	}
	if f.Group != nil {
		out.Group = f.Group
	}
	if f.Hidden != nil {
		out.Hidden = f.Hidden
	}
	return &out
}

// =============================================================================
// PAYEE
// =============================================================================

type PayeeFields struct {
	Name         *string `json:"name,omitempty"`
	AutoCategory *string `json:"auto_category,omitempty"`
}

func (f *PayeeFields) EntityType() budget.EntityType { return budget.EntityPayee }

func (f *PayeeFields) overlay(base Payload) Payload {
	out := *base.(*PayeeFields)
	if f.Name != nil {
		out.Name = f.Name
	}
	if f.AutoCategory != nil {
		out.AutoCategory = f.AutoCategory
	}
	return &out
}

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionFields struct {
	Account       *budget.AccountID     `json:"account,omitempty"`
	Date          *time.Time            `json:"date,omitempty"`
	Payee         *string               `json:"payee,omitempty"`
	Category      *string               `json:"category,omitempty"`
	Memo          *string               `json:"memo,omitempty"`
	Amount        *decimal.Decimal      `json:"amount,omitempty"`
	Cleared       *budget.ClearedStatus `json:"cleared,omitempty"`
	Flag          *string               `json:"flag,omitempty"`
	StatementDate *time.Time            `json:"statement_date,omitempty"`

	// Frequency and Occurrences make a create a recurring schedule entry;
	// nil for ordinary transactions. Consumers materialize the remaining
	// occurrences from these, not from the memo text.
	Frequency   *string `json:"frequency,omitempty"`
	Occurrences *int    `json:"occurrences,omitempty"`
}

func (f *TransactionFields) EntityType() budget.EntityType { return budget.EntityTransaction }

func (f *TransactionFields) overlay(base Payload) Payload {
	out := *base.(*TransactionFields)
	if f.Account != nil {
		out.Account = f.Account
	}
	if f.Date != nil {
		out.Date = f.Date
	}
	if f.Payee != nil {
		out.Payee = f.Payee
	}
	if f.Category != nil {
		out.Category = f.Category
	}
	if f.Memo != nil {
		out.Memo = f.Memo
	}
	if f.Amount != nil {
		out.Amount = f.Amount
	}
	if f.Cleared != nil {
		out.Cleared = f.Cleared
	}
	if f.Flag != nil {
		out.Flag = f.Flag
	}
	if f.StatementDate != nil {
		out.StatementDate = f.StatementDate
	}
	if f.Frequency != nil {
		out.Frequency = f.Frequency
	}
	if f.Occurrences != nil {
		out.Occurrences = f.Occurrences
	}
	return &out
}

// =============================================================================
// BUDGET LINE
// =============================================================================

type BudgetLineFields struct {
	Month    *string          `json:"month,omitempty"` // "2025-03"
	Category *string          `json:"category,omitempty"`
	Budgeted *decimal.Decimal `json:"budgeted,omitempty"`
	Note     *string          `json:"note,omitempty"`
}

func (f *BudgetLineFields) EntityType() budget.EntityType { return budget.EntityBudgetLine }

func (f *BudgetLineFields) overlay(base Payload) Payload {
	out := *base.(*BudgetLineFields)
	if f.Month != nil {
		out.Month = f.Month
	}
	if f.Category != nil {
		out.Category = f.Category
	}
	if f.Budgeted != nil {
		out.Budgeted = f.Budgeted
	}
	if f.Note != nil {
		out.Note = f.Note
	}
	return &out
}

// =============================================================================
// POINTER HELPERS - for building payload literals
// =============================================================================

func String(s string) *string                           { return &s }
func Bool(b bool) *bool                                 { return &b }
func Int(i int) *int                                    { return &i }
func Time(t time.Time) *time.Time                       { return &t }
func Decimal(d decimal.Decimal) *decimal.Decimal        { return &d }
func Account(id budget.AccountID) *budget.AccountID     { return &id }
func Status(s budget.ClearedStatus) *budget.ClearedStatus { return &s }
