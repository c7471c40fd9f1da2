// Package store defines the unified storage interface for all Ledger
// entities.
//
// The ledger's consistency model leans entirely on the store: every
// multi-step mutation runs inside RunTransaction, which must provide
// serializable per-document read-modify-write semantics with automatic
// retry on write conflict. The ledger itself never takes locks against
// the store.
package store

import (
	"context"

	"github.com/inkwise/ledger/account"
	"github.com/inkwise/ledger/device"
)

// Tx is the handle passed to a transaction body. Reads observe a consistent
// snapshot; writes are buffered and applied atomically on commit. Returning
// an error from the body aborts the transaction with no writes applied.
type Tx interface {
	// Account reads an account document. Returns ledger.ErrAccountNotFound
	// when absent.
	Account(uid string) (*account.Account, error)
	PutAccount(a *account.Account) error

	// TrialRecord reads a device trial record by device hash. Returns
	// ledger.ErrDeviceNotFound when absent.
	TrialRecord(deviceHash string) (*device.TrialRecord, error)
	PutTrialRecord(r *device.TrialRecord) error

	// RestoreRecord reads a device restore record by token hash. Returns
	// ledger.ErrDeviceNotFound when absent.
	RestoreRecord(tokenHash string) (*device.RestoreRecord, error)
	PutRestoreRecord(r *device.RestoreRecord) error
}

// Store is the unified storage interface the ledger engine runs against.
// The snapshot-read surface is composed from the per-domain slices so a
// caller that only reads accounts or device records can depend on the
// narrower contract.
type Store interface {
	// RunTransaction executes fn with serializable isolation, retrying the
	// whole body on write conflict. fn may run more than once and must be
	// side-effect free outside its Tx writes.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Snapshot reads outside any transaction.
	account.Store
	device.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
