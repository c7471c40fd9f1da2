// Package postgres implements the store on PostgreSQL via pgx. Transactions
// run at SERIALIZABLE isolation with automatic retry on serialization
// failure, which supplies the per-document read-modify-write guarantee the
// ledger's counters depend on.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwise/ledger"
	"github.com/inkwise/ledger/account"
	"github.com/inkwise/ledger/device"
	ledgerstore "github.com/inkwise/ledger/store"
)

// maxTxRetries bounds retry on serialization failure before giving up.
const maxTxRetries = 5

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect dials PostgreSQL and returns a ready store.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger/postgres: ping: %w", err)
	}
	return New(pool), nil
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, ddl := range migrations {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ledger/postgres: migration failed: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ==================== Transactions ====================

// tx routes reads and writes through a pgx transaction handle.
type tx struct {
	ctx context.Context
	tx  pgx.Tx
}

var _ ledgerstore.Tx = (*tx)(nil)

func (t *tx) Account(uid string) (*account.Account, error) {
	var doc []byte
	err := t.tx.QueryRow(t.ctx,
		`SELECT doc FROM ledger_accounts WHERE uid = $1`, uid).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: get account: %w", err)
	}

	var a account.Account
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("ledger/postgres: decode account: %w", err)
	}
	return &a, nil
}

func (t *tx) PutAccount(a *account.Account) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("ledger/postgres: encode account: %w", err)
	}

	var periodEnd *time.Time
	if a.Subscription.CurrentPeriodEnd != nil {
		v := *a.Subscription.CurrentPeriodEnd
		periodEnd = &v
	}

	_, err = t.tx.Exec(t.ctx, `
INSERT INTO ledger_accounts (uid, doc, fingerprint, period_end, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (uid) DO UPDATE
SET doc = EXCLUDED.doc,
    fingerprint = EXCLUDED.fingerprint,
    period_end = EXCLUDED.period_end,
    updated_at = NOW()`,
		a.UID, doc, a.Subscription.Fingerprint, periodEnd)
	if err != nil {
		return fmt.Errorf("ledger/postgres: put account: %w", err)
	}
	return nil
}

func (t *tx) TrialRecord(deviceHash string) (*device.TrialRecord, error) {
	var doc []byte
	err := t.tx.QueryRow(t.ctx,
		`SELECT doc FROM ledger_device_trials WHERE device_hash = $1`, deviceHash).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: get trial record: %w", err)
	}

	var r device.TrialRecord
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("ledger/postgres: decode trial record: %w", err)
	}
	return &r, nil
}

func (t *tx) PutTrialRecord(r *device.TrialRecord) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("ledger/postgres: encode trial record: %w", err)
	}

	_, err = t.tx.Exec(t.ctx, `
INSERT INTO ledger_device_trials (device_hash, doc, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (device_hash) DO UPDATE
SET doc = EXCLUDED.doc, updated_at = NOW()`,
		r.DeviceHash, doc)
	if err != nil {
		return fmt.Errorf("ledger/postgres: put trial record: %w", err)
	}
	return nil
}

func (t *tx) RestoreRecord(tokenHash string) (*device.RestoreRecord, error) {
	var doc []byte
	err := t.tx.QueryRow(t.ctx,
		`SELECT doc FROM ledger_device_restores WHERE token_hash = $1`, tokenHash).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: get restore record: %w", err)
	}

	var r device.RestoreRecord
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("ledger/postgres: decode restore record: %w", err)
	}
	return &r, nil
}

func (t *tx) PutRestoreRecord(r *device.RestoreRecord) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("ledger/postgres: encode restore record: %w", err)
	}

	_, err = t.tx.Exec(t.ctx, `
INSERT INTO ledger_device_restores (token_hash, doc, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (token_hash) DO UPDATE
SET doc = EXCLUDED.doc, updated_at = NOW()`,
		r.TokenHash, doc)
	if err != nil {
		return fmt.Errorf("ledger/postgres: put restore record: %w", err)
	}
	return nil
}

// RunTransaction executes fn at SERIALIZABLE isolation, retrying on
// serialization failure (40001) or deadlock (40P01).
func (s *Store) RunTransaction(ctx context.Context, fn func(tx ledgerstore.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ledger.ErrTransactionFailed, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(tx ledgerstore.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("ledger/postgres: begin: %w", err)
	}
	defer pgtx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&tx{ctx: ctx, tx: pgtx}); err != nil {
		return err
	}
	return pgtx.Commit(ctx)
}

// ==================== Snapshot reads ====================

func (s *Store) GetAccount(ctx context.Context, uid string) (*account.Account, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM ledger_accounts WHERE uid = $1`, uid).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: get account: %w", err)
	}

	var a account.Account
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("ledger/postgres: decode account: %w", err)
	}
	return &a, nil
}

func (s *Store) FindSiblingAccounts(ctx context.Context, fingerprint string, periodEnd time.Time, tolerance time.Duration) ([]*account.Account, error) {
	if fingerprint == "" {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
SELECT doc FROM ledger_accounts
WHERE fingerprint = $1
  AND period_end BETWEEN $2 AND $3`,
		fingerprint, periodEnd.Add(-tolerance), periodEnd.Add(tolerance))
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: find sibling accounts: %w", err)
	}
	defer rows.Close()

	var result []*account.Account
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("ledger/postgres: scan sibling account: %w", err)
		}
		var a account.Account
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, fmt.Errorf("ledger/postgres: decode sibling account: %w", err)
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}

func (s *Store) GetTrialRecord(ctx context.Context, deviceHash string) (*device.TrialRecord, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM ledger_device_trials WHERE device_hash = $1`, deviceHash).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: get trial record: %w", err)
	}

	var r device.TrialRecord
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("ledger/postgres: decode trial record: %w", err)
	}
	return &r, nil
}

// ==================== Helpers ====================

// isSerializationFailure checks for SQLSTATE 40001 and 40P01.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
