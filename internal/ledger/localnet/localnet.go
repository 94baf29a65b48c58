// Package localnet is a single-node ledger persisted in SQLite. It executes the
// suits, messaging and blob system programs so the rest of the module can run
// without a full node.
package localnet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"suits/internal/ledger"
	"suits/internal/models"
)

const genesisDigest = "genesis"

// Options configures the programs the ledger serves.
type Options struct {
	PackageID    string
	BlobSystemID string
	ClockID      string
	Now          func() time.Time
	Logger       *slog.Logger
}

// Ledger implements ledger.Client.
type Ledger struct {
	db   *sql.DB
	opts Options
	log  *slog.Logger
	dec  cbor.DecMode

	// Execution is serial; reads go straight to the database.
	mu sync.Mutex
}

// Open opens (or creates) the ledger database at path and ensures the
// genesis registry exists.
func Open(path string, opts Options) (*Ledger, error) {
	opts.PackageID = strings.TrimSpace(opts.PackageID)
	if opts.PackageID == "" {
		return nil, fmt.Errorf("localnet: package id is required")
	}
	if opts.BlobSystemID == "" {
		opts.BlobSystemID = opts.PackageID
	}
	if opts.ClockID == "" {
		opts.ClockID = models.DefaultClockID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	dec, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		return nil, err
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	l := &Ledger{db: db, opts: opts, log: log.With("component", "localnet"), dec: dec}
	if err := l.ensureGenesis(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// RegistryID returns the genesis registry object id.
func (l *Ledger) RegistryID() ledger.ObjectID {
	return GenesisRegistryID(l.opts.PackageID)
}

func (l *Ledger) ensureGenesis() error {
	id := l.RegistryID()
	var exists int
	err := l.db.QueryRow("SELECT 1 FROM objects WHERE id = ?", string(id)).Scan(&exists)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	contents, err := encMode.Marshal(models.RegistryFields{SuitIDs: []string{}})
	if err != nil {
		return err
	}
	_, err = l.db.Exec(
		"INSERT INTO objects (id, type, owner, version, contents, created_tx) VALUES (?, ?, '', 1, ?, ?)",
		string(id), ledger.StructType(l.opts.PackageID, models.ModuleSuits, models.TypeSuitRegistry), contents, genesisDigest,
	)
	return err
}

// Submit executes op immediately. Rejected operations still produce a
// receipt, with failed status, and leave no state change behind.
func (l *Ledger) Submit(ctx context.Context, op ledger.Operation) (ledger.TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TxHandle{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.TxHandle{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM transactions").Scan(&seq); err != nil {
		return ledger.TxHandle{}, err
	}
	digest, err := txDigest(op, seq)
	if err != nil {
		return ledger.TxHandle{}, err
	}
	nowMs, err := l.tick(ctx, tx)
	if err != nil {
		return ledger.TxHandle{}, err
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT exec"); err != nil {
		return ledger.TxHandle{}, err
	}
	ex := &execution{l: l, ctx: ctx, tx: tx, digest: digest, sender: op.Sender, nowMs: nowMs}
	status, reason := ledger.StatusFinalized, ""
	if execErr := l.execute(ex, op); execErr != nil {
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO exec"); err != nil {
			return ledger.TxHandle{}, err
		}
		status, reason = ledger.StatusFailed, execErr.Error()
		ex.created = nil
		l.log.Debug("transaction rejected", "digest", digest, "target", op.Target, "err", execErr)
	}
	if _, err := tx.ExecContext(ctx, "RELEASE exec"); err != nil {
		return ledger.TxHandle{}, err
	}

	created, err := json.Marshal(ex.createdOrEmpty())
	if err != nil {
		return ledger.TxHandle{}, err
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO transactions (digest, seq, sender, target, status, error, created, timestamp_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		string(digest), seq, string(op.Sender), op.Target, string(status), reason, string(created), int64(nowMs),
	)
	if err != nil {
		return ledger.TxHandle{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.TxHandle{}, err
	}
	l.log.Debug("transaction executed", "digest", digest, "target", op.Target, "status", status)
	return ledger.TxHandle{Digest: digest}, nil
}

// tick advances the ledger clock. It never moves backwards.
func (l *Ledger) tick(ctx context.Context, tx *sql.Tx) (uint64, error) {
	now := uint64(l.opts.Now().UnixMilli())
	var last int64
	err := tx.QueryRowContext(ctx, "SELECT ms FROM clock WHERE id = 1").Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if uint64(last) > now {
		now = uint64(last)
	}
	_, err = tx.ExecContext(ctx, "INSERT INTO clock (id, ms) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET ms = excluded.ms", int64(now))
	return now, err
}

// Await returns the receipt of an executed transaction.
func (l *Ledger) Await(ctx context.Context, h ledger.TxHandle) (ledger.Receipt, error) {
	var (
		status, reason, created string
		ts                      int64
	)
	err := l.db.QueryRowContext(ctx,
		"SELECT status, COALESCE(error, ''), created, timestamp_ms FROM transactions WHERE digest = ?", string(h.Digest),
	).Scan(&status, &reason, &created, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Receipt{}, fmt.Errorf("%w: %s", ledger.ErrUnknownTransaction, h.Digest)
	}
	if err != nil {
		return ledger.Receipt{}, err
	}
	receipt := ledger.Receipt{Digest: h.Digest, Status: ledger.TxStatus(status), Error: reason, TimestampMs: uint64(ts)}
	if err := json.Unmarshal([]byte(created), &receipt.Created); err != nil {
		return ledger.Receipt{}, fmt.Errorf("decode created objects: %w", err)
	}
	return receipt, nil
}

// ReadObject returns the latest version of an object.
func (l *Ledger) ReadObject(ctx context.Context, id ledger.ObjectID) (ledger.ObjectSnapshot, error) {
	row := l.db.QueryRowContext(ctx, "SELECT id, type, owner, version, contents FROM objects WHERE id = ?", string(id))
	snap, err := l.scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ObjectSnapshot{}, fmt.Errorf("%w: %s", ledger.ErrObjectNotFound, id)
	}
	return snap, err
}

// ListOwned returns objects owned by filter.Owner in creation order.
func (l *Ledger) ListOwned(ctx context.Context, filter ledger.OwnedFilter) ([]ledger.ObjectSnapshot, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT id, type, owner, version, contents FROM objects WHERE owner = ? AND (? = '' OR type = ?) ORDER BY rowid",
		string(filter.Owner), filter.StructType, filter.StructType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.ObjectSnapshot
	for rows.Next() {
		snap, err := l.scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (l *Ledger) scanSnapshot(row rowScanner) (ledger.ObjectSnapshot, error) {
	var (
		id, typ, owner string
		version        int64
		contents       []byte
	)
	if err := row.Scan(&id, &typ, &owner, &version, &contents); err != nil {
		return ledger.ObjectSnapshot{}, err
	}
	var generic any
	if err := l.dec.Unmarshal(contents, &generic); err != nil {
		return ledger.ObjectSnapshot{}, fmt.Errorf("decode object %s: %w", id, err)
	}
	fields, err := json.Marshal(generic)
	if err != nil {
		return ledger.ObjectSnapshot{}, fmt.Errorf("render object %s: %w", id, err)
	}
	return ledger.ObjectSnapshot{
		ID:      ledger.ObjectID(id),
		Type:    typ,
		Owner:   ledger.Address(owner),
		Version: uint64(version),
		Fields:  fields,
	}, nil
}

var _ ledger.Client = (*Ledger)(nil)
