/*
Package syncer dispatches pending changes to the external budget client.

PURPOSE:
  Thin orchestrator between the ledger and the external push boundary.
  Asks the ledger "is dirty?", hands a snapshot to the client, and clears
  exactly the snapshotted entries on success.

SNAPSHOT RULE:
  Flush snapshots the ledger at the moment it is invoked. Edits recorded
  while the push is outstanding queue behind it and MUST survive the
  post-push clear - only entries included in the snapshot are discarded,
  and only at the revision the snapshot saw; an edit that merged into a
  snapshotted entry mid-push bumps its revision and is kept. This is what
  makes a slow sync safe against concurrent edits.

FAILURE SEMANTICS:
  A rejected push leaves the ledger byte-for-byte unchanged and returns a
  *budget.SyncFailure; the user retries without redoing edits. Only one
  flush may be outstanding; a second concurrent call gets ErrSyncInFlight.

SEE ALSO:
  - ledger/ledger.go: Snapshot and DiscardBatch
  - client/: the local reference implementation of BudgetClient
*/
package syncer

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/harbor/budget-engine/budget"
	"github.com/harbor/budget-engine/ledger"
)

// =============================================================================
// EXTERNAL BOUNDARY
// =============================================================================

// BudgetClient is the external budget-client collaborator. Push persists
// changes as a remote diff; its wire format and device-knowledge handling
// are entirely the client's concern.
type BudgetClient interface {
	Push(ctx context.Context, changes []ledger.PendingChange) error
	TransactionSnapshot(ctx context.Context, account budget.AccountID) ([]budget.Transaction, error)
	DeviceIdentity(ctx context.Context) (budget.Identity, error)
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher orchestrates flushes. One outstanding flush at a time.
type Dispatcher struct {
	ledger   *ledger.Ledger
	client   BudgetClient
	log      *slog.Logger
	inFlight atomic.Bool
}

func New(led *ledger.Ledger, client BudgetClient, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{ledger: led, client: client, log: log}
}

// Flush pushes the current ledger snapshot. No-op when the ledger is clean.
// On success, discards exactly the snapshotted entries; entries recorded
// during the push survive. On failure, the ledger is untouched and the
// returned error is retryable.
func (d *Dispatcher) Flush(ctx context.Context) error {
	if !d.inFlight.CompareAndSwap(false, true) {
		return budget.ErrSyncInFlight
	}
	defer d.inFlight.Store(false)

	snapshot := d.ledger.Snapshot()
	if len(snapshot) == 0 {
		return nil
	}

	d.log.Info("pushing pending changes", slog.Int("count", len(snapshot)))

	if err := d.client.Push(ctx, snapshot); err != nil {
		d.log.Warn("push rejected; ledger preserved for retry", slog.Any("error", err))
		return &budget.SyncFailure{Cause: err}
	}

	// Clears only the entries as snapshotted; anything merged or recorded
	// during the push keeps its place in the ledger.
	d.ledger.DiscardBatch(snapshot)

	d.log.Info("push confirmed", slog.Int("pushed", len(snapshot)), slog.Int("remaining", d.ledger.Count()))
	return nil
}

// InFlight reports whether a flush is currently awaiting the client.
func (d *Dispatcher) InFlight() bool { return d.inFlight.Load() }

// DeviceIdentity returns the client's device identity, display only.
func (d *Dispatcher) DeviceIdentity(ctx context.Context) (budget.Identity, error) {
	return d.client.DeviceIdentity(ctx)
}
