/*
Package sqlite provides the local SQLite persistence for the budget engine.

PURPOSE:
  Two concerns live here:
  1. The pending-change journal: the in-memory ledger mirrored to disk so
     offline edits survive an app restart.
  2. The local budget tables: transactions and other entities, used to
     seed reconciliation snapshots and to back the local client's apply.

JOURNAL STRATEGY:
  The ledger stays authoritative in memory. After every ledger event the
  journal is rewritten inside one database transaction - the change count
  is small by construction (one entry per touched entity), so a full
  rewrite is cheaper than diffing and cannot drift.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, a single
  writer at a time, better crash recovery.

MIGRATION:
  Schema is auto-migrated on New(). Use ":memory:" for tests.

SEE ALSO:
  - ledger/codec.go: the JSON document format journal rows store
  - client/local.go: applies pushed changes to the tables below
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/harbor/budget-engine/budget"
	"github.com/harbor/budget-engine/ledger"
)

// Store implements the journal and the local budget tables.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and migrates) the database at path. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_changes (
		change_id   TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		doc         TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_entity
		ON pending_changes(entity_type, entity_id);

	CREATE TABLE IF NOT EXISTS transactions (
		id          TEXT PRIMARY KEY,
		account_id  TEXT NOT NULL,
		date        TEXT NOT NULL,
		payee       TEXT NOT NULL DEFAULT '',
		category    TEXT NOT NULL DEFAULT '',
		memo        TEXT NOT NULL DEFAULT '',
		amount      TEXT NOT NULL,
		cleared     TEXT NOT NULL DEFAULT 'Uncleared',
		flag        TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_id, date);

	CREATE TABLE IF NOT EXISTS entities (
		entity_type TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		name        TEXT NOT NULL DEFAULT '',
		doc         TEXT NOT NULL,
		PRIMARY KEY (entity_type, entity_id)
	);

	CREATE TABLE IF NOT EXISTS device (
		id       TEXT PRIMARY KEY,
		short_id TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PENDING-CHANGE JOURNAL
// =============================================================================

// SyncJournal rewrites the journal to match the given ledger snapshot.
// Called from a ledger observer after every mutation.
func (s *Store) SyncJournal(ctx context.Context, snapshot []ledger.PendingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_changes`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pending_changes (change_id, entity_type, entity_id, seq, doc)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range snapshot {
		doc, err := ledger.MarshalChange(c)
		if err != nil {
			return fmt.Errorf("encoding change %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, string(c.ID), string(c.EntityType), string(c.EntityID), c.Seq, string(doc)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadJournal returns the persisted changes in record order, for ledger
// rehydration at startup.
func (s *Store) LoadJournal(ctx context.Context) ([]ledger.PendingChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM pending_changes ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.PendingChange
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		c, err := ledger.UnmarshalChange([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("decoding journal row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// UpsertTransaction writes a full transaction row.
func (s *Store) UpsertTransaction(ctx context.Context, t budget.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, date, payee, category, memo, amount, cleared, flag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			date       = excluded.date,
			payee      = excluded.payee,
			category   = excluded.category,
			memo       = excluded.memo,
			amount     = excluded.amount,
			cleared    = excluded.cleared,
			flag       = excluded.flag`,
		string(t.ID), string(t.Account), t.Date.Format(time.RFC3339), t.Payee,
		t.Category, t.Memo, t.Amount.String(), string(t.Cleared), t.Flag)
	return err
}

// GetTransaction returns one transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id budget.EntityID) (budget.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, date, payee, category, memo, amount, cleared, flag
		FROM transactions WHERE id = ?`, string(id))
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return budget.Transaction{}, budget.ErrChangeNotFound
	}
	return t, err
}

// DeleteTransaction removes a transaction row.
func (s *Store) DeleteTransaction(ctx context.Context, id budget.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, string(id))
	return err
}

// TransactionSnapshot returns all transactions for an account, date order.
// Implements reconcile.TransactionSource.
func (s *Store) TransactionSnapshot(ctx context.Context, account budget.AccountID) ([]budget.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, date, payee, category, memo, amount, cleared, flag
		FROM transactions WHERE account_id = ? ORDER BY date, id`, string(account))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []budget.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTransaction(row scannable) (budget.Transaction, error) {
	var t budget.Transaction
	var id, account, date, amount, cleared string
	if err := row.Scan(&id, &account, &date, &t.Payee, &t.Category, &t.Memo, &amount, &cleared, &t.Flag); err != nil {
		return budget.Transaction{}, err
	}

	parsed, err := time.Parse(time.RFC3339, date)
	if err != nil {
		return budget.Transaction{}, fmt.Errorf("bad date in row %s: %w", id, err)
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return budget.Transaction{}, fmt.Errorf("bad amount in row %s: %w", id, err)
	}

	t.ID = budget.EntityID(id)
	t.Account = budget.AccountID(account)
	t.Date = parsed
	t.Amount = amt
	t.Cleared = budget.ClearedStatus(cleared)
	return t, nil
}

// =============================================================================
// OTHER ENTITIES - accounts, categories, payees, budget lines
// =============================================================================

// UpsertEntity stores a non-transaction entity as its JSON payload doc.
func (s *Store) UpsertEntity(ctx context.Context, entityType budget.EntityType, id budget.EntityID, name, doc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (entity_type, entity_id, name, doc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			name = excluded.name,
			doc  = excluded.doc`,
		string(entityType), string(id), name, doc)
	return err
}

// DeleteEntity removes a non-transaction entity.
func (s *Store) DeleteEntity(ctx context.Context, entityType budget.EntityType, id budget.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ? AND entity_id = ?`,
		string(entityType), string(id))
	return err
}

// =============================================================================
// DEVICE IDENTITY
// =============================================================================

// DeviceIdentity returns the stored identity, creating one on first call.
func (s *Store) DeviceIdentity(ctx context.Context, newID func() string) (budget.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id, short string
	err := s.db.QueryRowContext(ctx, `SELECT id, short_id FROM device LIMIT 1`).Scan(&id, &short)
	if err == nil {
		return budget.Identity{ID: id, ShortID: short}, nil
	}
	if err != sql.ErrNoRows {
		return budget.Identity{}, err
	}

	id = newID()
	short = id
	if len(short) > 8 {
		short = short[:8]
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO device (id, short_id) VALUES (?, ?)`, id, short); err != nil {
		return budget.Identity{}, err
	}
	return budget.Identity{ID: id, ShortID: short}, nil
}
