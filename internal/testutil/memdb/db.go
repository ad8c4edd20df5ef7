// Package memdb is an in-memory stand-in for the Postgres repositories.
// Transactions take per-row locks (held until Commit or Rollback, like
// SELECT ... FOR UPDATE) and keep an undo log so Rollback discards writes.
// Reads outside a transaction may observe uncommitted writes.
package memdb

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lawgent/backend/internal/models"
)

var errForeignTx = errors.New("memdb: transaction was not started by memdb")

type DB struct {
	mu sync.Mutex

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	operators   map[uuid.UUID]*models.Operator
	credits     []*models.CreditTransaction
	agents      map[uuid.UUID]*models.Agent
	providers   map[uuid.UUID]*models.Provider
	requests    []*models.ServiceRequest
	checkouts   map[uuid.UUID]*models.CheckoutSession
	escrows     map[uuid.UUID]*models.EscrowTransaction
	settlements map[uuid.UUID]*models.ProviderSettlement
	events      map[string]*models.ProcessedWebhookEvent
}

func New() *DB {
	return &DB{
		locks:       make(map[string]*sync.Mutex),
		operators:   make(map[uuid.UUID]*models.Operator),
		agents:      make(map[uuid.UUID]*models.Agent),
		providers:   make(map[uuid.UUID]*models.Provider),
		checkouts:   make(map[uuid.UUID]*models.CheckoutSession),
		escrows:     make(map[uuid.UUID]*models.EscrowTransaction),
		settlements: make(map[uuid.UUID]*models.ProviderSettlement),
		events:      make(map[string]*models.ProcessedWebhookEvent),
	}
}

// Begin starts a transaction.
func (db *DB) Begin(context.Context) (pgx.Tx, error) {
	return &Tx{db: db, held: make(map[string]*sync.Mutex)}, nil
}

func (db *DB) rowLock(key string) *sync.Mutex {
	db.locksMu.Lock()
	defer db.locksMu.Unlock()
	m, ok := db.locks[key]
	if !ok {
		m = &sync.Mutex{}
		db.locks[key] = m
	}
	return m
}

// Tx satisfies pgx.Tx; only Commit and Rollback do anything.
type Tx struct {
	db   *DB
	held map[string]*sync.Mutex
	undo []func()
	done bool
}

func asTx(tx pgx.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t == nil {
		return nil, errForeignTx
	}
	if t.done {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}

// lock blocks until the row lock for key is held by t.
func (t *Tx) lock(key string) {
	if _, ok := t.held[key]; ok {
		return
	}
	m := t.db.rowLock(key)
	m.Lock()
	t.held[key] = m
}

// onRollback registers an undo step. Must be called with db.mu held.
func (t *Tx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *Tx) release() {
	for _, m := range t.held {
		m.Unlock()
	}
	t.held = nil
	t.done = true
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.undo = nil
	t.release()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.db.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.db.mu.Unlock()
	t.undo = nil
	t.release()
	return nil
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) { return nil, errors.New("memdb: nested transactions unsupported") }
func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *Tx) Conn() *pgx.Conn { return nil }
