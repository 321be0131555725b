/*
Package installment splits one outflow transaction into an offsetting
counter-entry and N equal monthly payments (an MSI plan).

PURPOSE:
  Pure numeric transform. Given an original purchase, produce:
  - a counter-entry: an inflow create that offsets the purchase in full
  - a schedule entry: a monthly recurring create for the payments

  The calculator has no side effects and no dependency on the ledger or
  a reconciliation session; callers feed its two output entries into
  Ledger.Record themselves.

CORRECTNESS PROPERTY:
  The schedule must conserve the original amount exactly. Monthly amounts
  round to 2 places, and the residual cent (positive or negative) is
  absorbed into the FIRST payment, so:

    sum(payments over Months occurrences) == -|OriginalAmount|

  Example: 1000 over 3 months -> monthly 333.33, adjustment 0.01,
  first payment -333.34, remaining two -333.33, total -1000.00.

VALIDATION:
  Preconditions are checked before any calculation; a violation returns a
  *budget.ValidationError with the specific reason, never a partial plan.

SEE ALSO:
  - ledger/payload.go: the NewChange shapes this package emits
*/
package installment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harbor/budget-engine/budget"
	"github.com/harbor/budget-engine/ledger"
)

// FlagInstallment marks machine-generated installment entries so views can
// render them distinctly from user-entered transactions.
const FlagInstallment = "msi"

// FrequencyMonthly is the recurrence carried on schedule entries.
const FrequencyMonthly = "monthly"

// ValidMonths is the closed enumeration of supported plan lengths.
var ValidMonths = []int{3, 6, 9, 12, 18, 24}

// =============================================================================
// CONFIG / PLAN
// =============================================================================

// Config is a snapshot of the original transaction plus the plan parameters.
type Config struct {
	TransactionID   budget.EntityID
	Account         budget.AccountID
	OriginalAmount  decimal.Decimal // must be negative (an outflow)
	OriginalDate    time.Time
	Category        string
	Payee           string
	Months          int
	StartDate       time.Time
	CounterCategory string // optional; falls back to Category
}

// Plan is the immutable result of a calculation. It is only a factory for
// pending changes - never persisted on its own.
type Plan struct {
	MonthlyAmount      decimal.Decimal
	TotalAmount        decimal.Decimal
	RoundingAdjustment decimal.Decimal
	Months             int

	// CounterEntry offsets the original purchase: a positive inflow dated at
	// the original transaction's date.
	CounterEntry ledger.NewChange

	// ScheduleEntry creates the monthly recurring payment. Its amount is the
	// first occurrence: -(monthly + rounding adjustment); the recurrence is
	// structured on the payload (Frequency, Occurrences), not memo text.
	ScheduleEntry ledger.NewChange
}

// Schedule enumerates the payment amounts over the plan's occurrences. The
// first payment carries the rounding correction.
func (p *Plan) Schedule() []decimal.Decimal {
	out := make([]decimal.Decimal, p.Months)
	out[0] = p.MonthlyAmount.Add(p.RoundingAdjustment).Neg()
	for i := 1; i < p.Months; i++ {
		out[i] = p.MonthlyAmount.Neg()
	}
	return out
}

// =============================================================================
// CALCULATE
// =============================================================================

// Calculate validates the config and derives the plan.
func Calculate(cfg Config) (*Plan, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	absAmount := cfg.OriginalAmount.Abs()
	months := decimal.NewFromInt(int64(cfg.Months))

	monthly := budget.RoundCurrency(absAmount.Div(months))
	adjustment := absAmount.Sub(monthly.Mul(months))

	counterCategory := cfg.CounterCategory
	if counterCategory == "" {
		counterCategory = cfg.Category
	}

	plan := &Plan{
		MonthlyAmount:      monthly,
		TotalAmount:        absAmount,
		RoundingAdjustment: adjustment,
		Months:             cfg.Months,
	}

	plan.CounterEntry = ledger.NewChange{
		EntityType: budget.EntityTransaction,
		Action:     budget.ActionCreate,
		EntityID:   budget.EntityID(uuid.NewString()),
		EntityName: fmt.Sprintf("MSI offset: %s", cfg.Payee),
		Payload: &ledger.TransactionFields{
			Account:  ledger.Account(cfg.Account),
			Date:     ledger.Time(cfg.OriginalDate),
			Payee:    ledger.String(cfg.Payee),
			Category: ledger.String(counterCategory),
			Memo:     ledger.String(fmt.Sprintf("MSI %d months offset", cfg.Months)),
			Amount:   ledger.Decimal(absAmount),
			Cleared:  ledger.Status(budget.Uncleared),
			Flag:     ledger.String(FlagInstallment),
		},
	}

	firstPayment := monthly.Add(adjustment).Neg()
	plan.ScheduleEntry = ledger.NewChange{
		EntityType: budget.EntityTransaction,
		Action:     budget.ActionCreate,
		EntityID:   budget.EntityID(uuid.NewString()),
		EntityName: fmt.Sprintf("MSI schedule: %s", cfg.Payee),
		Payload: &ledger.TransactionFields{
			Account:     ledger.Account(cfg.Account),
			Date:        ledger.Time(cfg.StartDate),
			Payee:       ledger.String(cfg.Payee),
			Category:    ledger.String(cfg.Category),
			Memo:        ledger.String(fmt.Sprintf("MSI payment 1/%d", cfg.Months)),
			Amount:      ledger.Decimal(firstPayment),
			Cleared:     ledger.Status(budget.Uncleared),
			Flag:        ledger.String(FlagInstallment),
			Frequency:   ledger.String(FrequencyMonthly),
			Occurrences: ledger.Int(cfg.Months),
		},
	}

	return plan, nil
}

func validate(cfg Config) error {
	if !cfg.OriginalAmount.IsNegative() {
		return budget.Invalid("originalAmount", "must be an outflow (negative)")
	}
	if !validMonths(cfg.Months) {
		return budget.Invalid("months", fmt.Sprintf("%d not in {3,6,9,12,18,24}", cfg.Months))
	}
	if cfg.StartDate.IsZero() {
		return budget.Invalid("startDate", "required")
	}
	if cfg.OriginalAmount.Abs().LessThan(decimal.NewFromInt(int64(cfg.Months))) {
		return budget.Invalid("originalAmount",
			fmt.Sprintf("|%s| smaller than %d months: monthly installment would be under one currency unit",
				cfg.OriginalAmount.StringFixed(2), cfg.Months))
	}
	return nil
}

func validMonths(m int) bool {
	for _, v := range ValidMonths {
		if v == m {
			return true
		}
	}
	return false
}
