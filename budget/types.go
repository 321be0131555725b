/*
Package budget provides the core domain types for the offline budget engine.

PURPOSE:
  This package contains the types shared by every other package: entity
  identifiers, the closed enumeration of editable entity kinds, cleared
  statuses, and the transaction snapshot record that reconciliation reads.

KEY CONCEPTS IN THIS FILE (types.go):
  - EntityType: which kind of budget object an edit touches
  - Action: create / update / delete
  - ClearedStatus: Uncleared -> Cleared -> Reconciled confidence ladder
  - Transaction: an immutable snapshot row, as fetched from the budget store

DESIGN PRINCIPLES:
  1. Precision: all currency amounts use decimal.Decimal, never float64
  2. Type Safety: strong typing for ids prevents mixing entity/change ids
  3. Closed enumerations: EntityType and Action validate at the boundary

SEE ALSO:
  - money.go: currency comparison and rounding helpers
  - errors.go: the shared error taxonomy
  - ledger/: the pending-change log built on these types
*/
package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type AccountID string
type ChangeID string

// =============================================================================
// ENTITY TYPES - the five editable budget objects
// =============================================================================

type EntityType string

const (
	EntityAccount     EntityType = "account"
	EntityCategory    EntityType = "category"
	EntityPayee       EntityType = "payee"
	EntityTransaction EntityType = "transaction"
	EntityBudgetLine  EntityType = "budgetLine"
)

// KnownEntityType reports whether t is one of the five editable kinds.
func KnownEntityType(t EntityType) bool {
	switch t {
	case EntityAccount, EntityCategory, EntityPayee, EntityTransaction, EntityBudgetLine:
		return true
	}
	return false
}

// =============================================================================
// ACTIONS
// =============================================================================

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func KnownAction(a Action) bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// =============================================================================
// CLEARED STATUS - confidence that a transaction matches bank records
// =============================================================================

type ClearedStatus string

const (
	Uncleared  ClearedStatus = "Uncleared"
	Cleared    ClearedStatus = "Cleared"
	Reconciled ClearedStatus = "Reconciled"
)

// =============================================================================
// TRANSACTION SNAPSHOT - read-only row fetched when a session opens
// =============================================================================

// Transaction is the immutable snapshot record reconciliation works from.
// It is never live-refreshed mid-session; sessions freeze the slice they
// are given at open time.
type Transaction struct {
	ID       EntityID
	Account  AccountID
	Date     time.Time
	Payee    string
	Category string
	Memo     string
	Amount   decimal.Decimal
	Cleared  ClearedStatus
	// Flag marks machine-generated transactions (installment counter-entries,
	// reconciliation adjustments) so views can render them distinctly.
	Flag string
}

// =============================================================================
// DEVICE IDENTITY - display only, not protocol correctness
// =============================================================================

type Identity struct {
	ID      string
	ShortID string
}
