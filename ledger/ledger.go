/*
ledger.go - Pending-change ledger with one-entry-per-entity merging

PURPOSE:
  Records every offline mutation (create/update/delete of an account,
  category, payee, transaction, or budget line) as a deduplicated, mergeable
  log entry, and exposes the dirty/clean state that gates synchronization.

INVARIANT:
  At most one PendingChange exists per (EntityType, EntityID) pair at any
  time. Every Record call resolves against this merge table:

    existing  incoming  result
    --------  --------  ------
    create    update    keep create, payload = incoming merged over existing
    create    delete    remove the entry entirely (net-zero)
    create    create    replace payload (last write wins)
    update    update    replace payload (last write wins)
    update    delete    replace with delete
    update    create    treated as update - replace payload
    delete    anything  rejected until the delete is withdrawn (Discard)

WHY THESE RULES:
  The ledger must never emit a sequence a sync consumer could read as
  "update a never-created entity" or "delete then recreate the same id" -
  both would desync device knowledge. create+delete removal specifically
  avoids leaking a tombstone for an entity that never left the device.

OBSERVERS:
  Subscribers are notified synchronously after every successful Record,
  Discard, DiscardBatch and Clear with the new count and snapshot. This is
  the explicit publish/subscribe replacement for a reactive store.

SEE ALSO:
  - payload.go: the closed payload sum type and its overlay merge
  - syncer/dispatcher.go: snapshots the ledger and clears after a push
*/
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harbor/budget-engine/budget"
)

// =============================================================================
// PENDING CHANGE
// =============================================================================

// PendingChange is one deduplicated ledger entry awaiting synchronization.
type PendingChange struct {
	ID         budget.ChangeID
	EntityType budget.EntityType
	Action     budget.Action
	EntityID   budget.EntityID
	EntityName string // display only, not authoritative
	Payload    Payload
	RecordedAt time.Time
	Seq        uint64 // monotonic, drives snapshot ordering
	// Rev counts merges into this entry. A snapshot pins the revision it
	// saw; DiscardBatch only removes an entry whose revision still matches,
	// so an edit merged in after the snapshot is never silently dropped.
	Rev uint64
}

// NewChange is the input to Record. EntityID may be empty for creates, in
// which case the ledger assigns a client-generated id.
type NewChange struct {
	EntityType budget.EntityType
	Action     budget.Action
	EntityID   budget.EntityID
	EntityName string
	Payload    Payload
}

// Event is delivered to subscribers after every ledger mutation.
type Event struct {
	Count    int
	Dirty    bool
	Snapshot []PendingChange
}

// =============================================================================
// LEDGER
// =============================================================================

type entityKey struct {
	Type budget.EntityType
	ID   budget.EntityID
}

// Ledger is the in-memory ordered log of pending changes.
// Safe for concurrent use; all operations are synchronous and non-blocking.
type Ledger struct {
	mu        sync.Mutex
	entries   map[entityKey]*PendingChange
	seq       uint64
	observers []func(Event)

	now   func() time.Time
	newID func() budget.ChangeID
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		entries: make(map[entityKey]*PendingChange),
		now:     time.Now,
		newID:   func() budget.ChangeID { return budget.ChangeID(uuid.NewString()) },
	}
}

// Subscribe registers an observer. Returns an unsubscribe function.
// Observers run synchronously on the mutating goroutine, outside the lock.
func (l *Ledger) Subscribe(fn func(Event)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
	i := len(l.observers) - 1
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.observers[i] = nil
	}
}

// =============================================================================
// RECORD - insert or merge
// =============================================================================

// Record inserts or merges a change, preserving the one-entry-per-entity
// invariant. Returns the id of the surviving entry; a create+delete
// annihilation returns an empty id with no error.
//
// Malformed input is rejected with a *budget.ValidationError before any
// state mutation. Edits to an entity with a pending delete are rejected
// with budget.ErrEntityDeleted until that delete is discarded.
func (l *Ledger) Record(nc NewChange) (budget.ChangeID, error) {
	if err := l.validate(nc); err != nil {
		return "", err
	}

	l.mu.Lock()

	if nc.Action == budget.ActionCreate && nc.EntityID == "" {
		nc.EntityID = budget.EntityID(l.newID())
	}

	key := entityKey{Type: nc.EntityType, ID: nc.EntityID}
	existing := l.entries[key]

	var id budget.ChangeID
	var err error
	switch {
	case existing == nil:
		id = l.insertLocked(key, nc)
	default:
		id, err = l.mergeLocked(key, existing, nc)
	}

	l.mu.Unlock()
	if err != nil {
		return "", err
	}
	l.notify()
	return id, nil
}

func (l *Ledger) validate(nc NewChange) error {
	if !budget.KnownEntityType(nc.EntityType) {
		return budget.Invalid("entityType", "unknown: "+string(nc.EntityType))
	}
	if !budget.KnownAction(nc.Action) {
		return budget.Invalid("action", "unknown: "+string(nc.Action))
	}
	if nc.Action != budget.ActionCreate && nc.EntityID == "" {
		return budget.Invalid("entityId", "required for "+string(nc.Action))
	}
	if nc.Action != budget.ActionDelete {
		if nc.Payload == nil {
			return budget.Invalid("payload", "required for "+string(nc.Action))
		}
		if nc.Payload.EntityType() != nc.EntityType {
			return budget.Invalid("payload", "kind mismatch: payload is "+
				string(nc.Payload.EntityType())+", change is "+string(nc.EntityType))
		}
	}
	return nil
}

func (l *Ledger) insertLocked(key entityKey, nc NewChange) budget.ChangeID {
	l.seq++
	change := &PendingChange{
		ID:         l.newID(),
		EntityType: nc.EntityType,
		Action:     nc.Action,
		EntityID:   nc.EntityID,
		EntityName: nc.EntityName,
		Payload:    nc.Payload,
		RecordedAt: l.now(),
		Seq:        l.seq,
	}
	l.entries[key] = change
	return change.ID
}

// mergeLocked applies the merge table. The existing entry keeps its id and
// ledger position; action and payload evolve and the revision is bumped.
func (l *Ledger) mergeLocked(key entityKey, existing *PendingChange, nc NewChange) (budget.ChangeID, error) {
	if existing.Action == budget.ActionDelete {
		return "", budget.ErrEntityDeleted
	}

	existing.Rev++
	if nc.EntityName != "" {
		existing.EntityName = nc.EntityName
	}

	switch {
	case existing.Action == budget.ActionCreate && nc.Action == budget.ActionUpdate:
		existing.Payload = nc.Payload.overlay(existing.Payload)

	case existing.Action == budget.ActionCreate && nc.Action == budget.ActionDelete:
		// Net-zero: nothing was ever persisted remotely.
		delete(l.entries, key)
		return "", nil

	case nc.Action == budget.ActionDelete:
		// update + delete: the delete supersedes the edit.
		existing.Action = budget.ActionDelete
		existing.Payload = nil

	default:
		// create+create, update+update, update+create: last write wins.
		// An existing update never becomes a create - the entity already
		// exists remotely.
		existing.Payload = nc.Payload
	}
	return existing.ID, nil
}

// =============================================================================
// DISCARD / CLEAR
// =============================================================================

// Discard removes a single change ("undo this edit"). Unknown ids are a
// silent no-op.
func (l *Ledger) Discard(id budget.ChangeID) {
	l.mu.Lock()
	removed := l.discardLocked(id)
	l.mu.Unlock()
	if removed {
		l.notify()
	}
}

// DiscardBatch removes every listed change as it was snapshotted. Used by
// the sync dispatcher to clear exactly the entries included in a flush
// snapshot, never entries recorded after the snapshot was taken: an entry
// that has been merged into since the snapshot carries a higher revision
// and is kept for the next flush.
func (l *Ledger) DiscardBatch(snapshot []PendingChange) {
	l.mu.Lock()
	removed := false
	for _, snap := range snapshot {
		for key, c := range l.entries {
			if c.ID == snap.ID && c.Rev == snap.Rev {
				delete(l.entries, key)
				removed = true
				break
			}
		}
	}
	l.mu.Unlock()
	if removed {
		l.notify()
	}
}

func (l *Ledger) discardLocked(id budget.ChangeID) bool {
	for key, c := range l.entries {
		if c.ID == id {
			delete(l.entries, key)
			return true
		}
	}
	return false
}

// Clear empties the ledger. Only call after a confirmed successful sync or
// an explicit "discard all" by the user.
func (l *Ledger) Clear() {
	l.mu.Lock()
	had := len(l.entries) > 0
	l.entries = make(map[entityKey]*PendingChange)
	l.mu.Unlock()
	if had {
		l.notify()
	}
}

// =============================================================================
// READ SIDE
// =============================================================================

// Snapshot returns the current entries ordered by record time. The returned
// slice is a copy; entries are value copies and safe to hand across the
// sync boundary.
func (l *Ledger) Snapshot() []PendingChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() []PendingChange {
	out := make([]PendingChange, 0, len(l.entries))
	for _, c := range l.entries {
		out = append(out, *c)
	}
	sortBySeq(out)
	return out
}

// Restore seeds the ledger from previously journaled entries, preserving
// their ids and ordering. Only valid on an empty ledger at startup.
func (l *Ledger) Restore(changes []PendingChange) {
	l.mu.Lock()
	for i := range changes {
		c := changes[i]
		l.entries[entityKey{Type: c.EntityType, ID: c.EntityID}] = &c
		if c.Seq > l.seq {
			l.seq = c.Seq
		}
	}
	restored := len(changes) > 0
	l.mu.Unlock()
	if restored {
		l.notify()
	}
}

// Get returns the change for an entity, if one is pending.
func (l *Ledger) Get(t budget.EntityType, id budget.EntityID) (PendingChange, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.entries[entityKey{Type: t, ID: id}]
	if !ok {
		return PendingChange{}, false
	}
	return *c, true
}

// Count returns the number of pending changes.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// IsDirty reports whether anything awaits synchronization.
func (l *Ledger) IsDirty() bool { return l.Count() > 0 }

func (l *Ledger) notify() {
	l.mu.Lock()
	observers := make([]func(Event), len(l.observers))
	copy(observers, l.observers)
	ev := Event{Count: len(l.entries), Dirty: len(l.entries) > 0, Snapshot: l.snapshotLocked()}
	l.mu.Unlock()

	for _, fn := range observers {
		if fn != nil {
			fn(ev)
		}
	}
}

func sortBySeq(changes []PendingChange) {
	// Insertion sort: snapshots are small and nearly ordered already.
	for i := 1; i < len(changes); i++ {
		for j := i; j > 0 && changes[j].Seq < changes[j-1].Seq; j-- {
			changes[j], changes[j-1] = changes[j-1], changes[j]
		}
	}
}
