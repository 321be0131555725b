/*
Package reconcile implements the guided reconciliation session.

PURPOSE:
  A reconciliation session compares a bank statement balance against the
  locally tracked cleared balance of one account, lets the user select
  uncleared transactions to settle, and emits pending changes (including a
  synthetic adjustment transaction) to close the gap.

STATE MACHINE:
  uninitialized -> step1 (Start)            requires edit mode
  step1         -> step2 (ConfirmStatement) statement balance must parse
  step2         -> step2 (Toggle)           O(1) running-sum recompute
  step2         -> step2 (CreateAdjustment) only while unbalanced
  step2         -> step3 (Finish)           only while balanced and no
                                            selected transaction has a
                                            pending delete
  any           -> closed (Cancel)          discards state, never touches
                                            the ledger

  Steps only move forward; there is no backward transition once step 3 is
  reached.

SNAPSHOT FREEZING:
  ConfirmStatement fetches the account's transactions once and never
  refreshes them mid-session. The cleared balance is the sum of amounts
  already marked Cleared or Reconciled in that frozen snapshot.

ADJUSTMENT SEMANTICS:
  CreateAdjustment emits exactly one Cleared transaction create for
  -difference and folds that amount into the running sum immediately, so
  the session reaches balance without re-pulling the snapshot. It does not
  advance the step; the user re-evaluates and finishes explicitly.

NUMERIC SEMANTICS:
  decimal balances throughout; balance means |difference| < 0.01 (fixed
  epsilon); the adjustment amount rounds to 2 places, half away from zero.

SEE ALSO:
  - ledger/: where finished sessions and adjustments record their changes
  - budget/money.go: epsilon and rounding helpers
*/
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harbor/budget-engine/budget"
	"github.com/harbor/budget-engine/ledger"
)

// FlagAdjustment marks synthetic reconciliation adjustment transactions.
const FlagAdjustment = "reconciliation-adjustment"

// AdjustmentMemo tags the adjustment so it is recognizable in registers.
const AdjustmentMemo = "Reconciliation balance adjustment"

// =============================================================================
// STEPS AND EVENTS
// =============================================================================

type Step int

const (
	StepUninitialized Step = 0
	StepStatement     Step = 1 // enter statement date and balance
	StepSelect        Step = 2 // select transactions to settle
	StepDone          Step = 3 // confirmation
)

// Transition is delivered to subscribers after every state change.
type Transition struct {
	Step       Step
	Difference decimal.Decimal
	Balanced   bool
	Selected   int
}

// TransactionSource seeds a session with an account's transaction snapshot.
// Satisfied by the external budget client and by store/sqlite.
type TransactionSource interface {
	TransactionSnapshot(ctx context.Context, account budget.AccountID) ([]budget.Transaction, error)
}

// =============================================================================
// SESSION
// =============================================================================

// Session is the stateful reconciliation wizard for one account. Create one
// per wizard invocation and discard it on Cancel or after Finish; sessions
// are not reusable.
type Session struct {
	mu sync.Mutex

	account budget.AccountID
	ledger  *ledger.Ledger
	source  TransactionSource

	step             Step
	statementDate    time.Time
	statementBalance decimal.Decimal

	// Frozen at ConfirmStatement; never live-refreshed.
	snapshot   []budget.Transaction
	selectable map[budget.EntityID]budget.Transaction

	// Running sums: clearedBalance is fixed after ConfirmStatement (plus any
	// adjustments); selectedSum tracks the toggled set in O(1) per toggle.
	clearedBalance decimal.Decimal
	selectedSum    decimal.Decimal
	selected       map[budget.EntityID]bool

	observers []func(Transition)
}

// Option configures a session at construction.
type Option func(*config)

type config struct {
	editMode bool
}

// WithEditMode marks the budget as writable. Sessions refuse to start
// without it.
func WithEditMode(enabled bool) Option {
	return func(c *config) { c.editMode = enabled }
}

// Start opens a session for an account. Requires edit mode; otherwise the
// session is rejected with budget.ErrEditModeRequired and nothing is
// allocated.
func Start(account budget.AccountID, led *ledger.Ledger, source TransactionSource, opts ...Option) (*Session, error) {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.editMode {
		return nil, budget.ErrEditModeRequired
	}
	if account == "" {
		return nil, budget.Invalid("accountId", "required")
	}

	return &Session{
		account:  account,
		ledger:   led,
		source:   source,
		step:     StepStatement,
		selected: make(map[budget.EntityID]bool),
	}, nil
}

// Subscribe registers a transition observer for wizard rendering.
// Observers run synchronously while the session lock is held; render from
// the Transition payload rather than calling back into the session.
func (s *Session) Subscribe(fn func(Transition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// =============================================================================
// STEP 1 -> 2: CONFIRM STATEMENT
// =============================================================================

// ConfirmStatement validates the user-typed statement balance, freezes the
// transaction snapshot, and advances to the selection step.
func (s *Session) ConfirmStatement(ctx context.Context, statementDate time.Time, statementBalance string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepStatement {
		return budget.Invalid("step", fmt.Sprintf("confirmStatement not allowed in step %d", s.step))
	}

	balance, err := budget.ParseCurrency(statementBalance)
	if err != nil {
		return err
	}
	if statementDate.IsZero() {
		return budget.Invalid("statementDate", "required")
	}

	txs, err := s.source.TransactionSnapshot(ctx, s.account)
	if err != nil {
		return fmt.Errorf("fetching transaction snapshot: %w", err)
	}

	s.statementDate = statementDate
	s.statementBalance = balance
	s.snapshot = txs
	s.selectable = make(map[budget.EntityID]budget.Transaction)
	s.clearedBalance = decimal.Zero
	s.selectedSum = decimal.Zero

	for _, tx := range txs {
		switch tx.Cleared {
		case budget.Cleared, budget.Reconciled:
			s.clearedBalance = s.clearedBalance.Add(tx.Amount)
		default:
			// Uncleared transactions form the selectable set. Reconciled
			// entries are never selectable again.
			s.selectable[tx.ID] = tx
		}
	}

	s.step = StepSelect
	s.notifyLocked()
	return nil
}

// =============================================================================
// STEP 2 SELF-LOOPS: TOGGLE / ADJUSTMENT
// =============================================================================

// Toggle flips a transaction's membership in the selected set, adjusting
// the running sum in O(1).
func (s *Session) Toggle(id budget.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepSelect {
		return budget.Invalid("step", fmt.Sprintf("toggle not allowed in step %d", s.step))
	}
	tx, ok := s.selectable[id]
	if !ok {
		return budget.Invalid("transactionId", "not in the selectable set: "+string(id))
	}

	if s.selected[id] {
		delete(s.selected, id)
		s.selectedSum = s.selectedSum.Sub(tx.Amount)
	} else {
		s.selected[id] = true
		s.selectedSum = s.selectedSum.Add(tx.Amount)
	}

	s.notifyLocked()
	return nil
}

// CreateAdjustment emits one synthetic Cleared transaction whose amount
// zeroes the current difference, and reflects it in the running sum
// immediately. Only available while unbalanced; does not advance the step.
func (s *Session) CreateAdjustment() (budget.ChangeID, error) {
	s.mu.Lock()

	if s.step != StepSelect {
		s.mu.Unlock()
		return "", budget.Invalid("step", fmt.Sprintf("createAdjustment not allowed in step %d", s.step))
	}
	diff := s.differenceLocked()
	if budget.WithinEpsilon(diff) {
		s.mu.Unlock()
		return "", budget.Invalid("difference", "already balanced; nothing to adjust")
	}

	amount := budget.RoundCurrency(diff.Neg())
	change := ledger.NewChange{
		EntityType: budget.EntityTransaction,
		Action:     budget.ActionCreate,
		EntityID:   budget.EntityID(uuid.NewString()),
		EntityName: AdjustmentMemo,
		Payload: &ledger.TransactionFields{
			Account: ledger.Account(s.account),
			Date:    ledger.Time(s.statementDate),
			Payee:   ledger.String("Reconciliation Adjustment"),
			Memo:    ledger.String(AdjustmentMemo),
			Amount:  ledger.Decimal(amount),
			Cleared: ledger.Status(budget.Cleared),
			Flag:    ledger.String(FlagAdjustment),
		},
	}
	s.mu.Unlock()

	// Record outside the lock: ledger observers may call back into views.
	id, err := s.ledger.Record(change)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	// The adjustment is cleared, so it folds straight into the cleared
	// balance - the user is never stuck unable to reach balance.
	s.clearedBalance = s.clearedBalance.Add(amount)
	s.notifyLocked()
	s.mu.Unlock()
	return id, nil
}

// =============================================================================
// STEP 2 -> 3: FINISH
// =============================================================================

// Finish marks every selected transaction Reconciled, attaching the
// statement date, and advances to the confirmation step. Blocked with a
// BalanceMismatchError while the difference exceeds the epsilon, and with
// ErrEntityDeleted when a selected transaction carries a pending delete in
// the ledger. On any rejection the step is left at selection and no ledger
// entries are emitted; the session never reports done unless every update
// was recorded.
func (s *Session) Finish() error {
	s.mu.Lock()

	if s.step != StepSelect {
		s.mu.Unlock()
		return budget.Invalid("step", fmt.Sprintf("finish not allowed in step %d", s.step))
	}
	diff := s.differenceLocked()
	if !budget.WithinEpsilon(diff) {
		s.mu.Unlock()
		return &budget.BalanceMismatchError{Difference: diff}
	}

	changes := make([]ledger.NewChange, 0, len(s.selected))
	for id := range s.selected {
		// A pending delete would reject the Reconciled update mid-batch;
		// surface it before emitting anything.
		if pending, ok := s.ledger.Get(budget.EntityTransaction, id); ok && pending.Action == budget.ActionDelete {
			s.mu.Unlock()
			return fmt.Errorf("transaction %s: %w", id, budget.ErrEntityDeleted)
		}
		tx := s.selectable[id]
		changes = append(changes, ledger.NewChange{
			EntityType: budget.EntityTransaction,
			Action:     budget.ActionUpdate,
			EntityID:   tx.ID,
			EntityName: tx.Payee,
			Payload: &ledger.TransactionFields{
				Cleared:       ledger.Status(budget.Reconciled),
				StatementDate: ledger.Time(s.statementDate),
			},
		})
	}
	s.mu.Unlock()

	for _, change := range changes {
		if _, err := s.ledger.Record(change); err != nil {
			// Only reachable for malformed snapshots; the step stays at
			// selection so the session never lies about being done.
			return err
		}
	}

	s.mu.Lock()
	s.step = StepDone
	s.notifyLocked()
	s.mu.Unlock()
	return nil
}

// Cancel discards all session state. Never touches the ledger - there are
// no partial commits to undo. Safe in any step.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.step = StepUninitialized
	s.snapshot = nil
	s.selectable = nil
	s.selected = map[budget.EntityID]bool{}
	s.selectedSum = decimal.Zero
	s.clearedBalance = decimal.Zero
	s.notifyLocked()
	s.mu.Unlock()
}

// =============================================================================
// DERIVED STATE
// =============================================================================

func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func (s *Session) Account() budget.AccountID { return s.account }

// ClearedBalance is the sum of already Cleared/Reconciled amounts in the
// frozen snapshot, plus any adjustments created this session.
func (s *Session) ClearedBalance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearedBalance
}

// PendingBalance = clearedBalance + sum of selected transaction amounts.
func (s *Session) PendingBalance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearedBalance.Add(s.selectedSum)
}

// Difference = pendingBalance - statementBalance.
func (s *Session) Difference() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.differenceLocked()
}

// Balanced reports |difference| < 0.01.
func (s *Session) Balanced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return budget.WithinEpsilon(s.differenceLocked())
}

// Selectable returns the frozen set of transactions the user may toggle,
// with their current selection state.
func (s *Session) Selectable() []SelectableTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SelectableTransaction, 0, len(s.selectable))
	for id, tx := range s.selectable {
		out = append(out, SelectableTransaction{Transaction: tx, Selected: s.selected[id]})
	}
	return out
}

// SelectedCount returns how many transactions are currently toggled on.
func (s *Session) SelectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.selected)
}

type SelectableTransaction struct {
	budget.Transaction
	Selected bool
}

func (s *Session) differenceLocked() decimal.Decimal {
	return s.clearedBalance.Add(s.selectedSum).Sub(s.statementBalance)
}

func (s *Session) notifyLocked() {
	diff := s.differenceLocked()
	tr := Transition{
		Step:       s.step,
		Difference: diff,
		Balanced:   budget.WithinEpsilon(diff),
		Selected:   len(s.selected),
	}
	for _, fn := range s.observers {
		fn(tr)
	}
}
