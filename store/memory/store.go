// Package memory implements the store on in-process maps. Intended for
// tests and single-node development, not production.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/inkwise/ledger"
	"github.com/inkwise/ledger/account"
	"github.com/inkwise/ledger/device"
	"github.com/inkwise/ledger/store"
)

type Store struct {
	mu sync.Mutex

	accounts       map[string]*account.Account
	trialRecords   map[string]*device.TrialRecord
	restoreRecords map[string]*device.RestoreRecord

	closed bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:       make(map[string]*account.Account),
		trialRecords:   make(map[string]*device.TrialRecord),
		restoreRecords: make(map[string]*device.RestoreRecord),
	}
}

// tx buffers writes against cloned reads. Commit happens under the store
// mutex after the body returns nil, so a body that errors leaves no trace.
type tx struct {
	s *Store

	accounts       map[string]*account.Account
	trialRecords   map[string]*device.TrialRecord
	restoreRecords map[string]*device.RestoreRecord
}

var _ store.Tx = (*tx)(nil)

func (t *tx) Account(uid string) (*account.Account, error) {
	if a, ok := t.accounts[uid]; ok {
		return a, nil
	}
	a, ok := t.s.accounts[uid]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	// Clone so body mutations stay invisible until PutAccount.
	return a.Clone(), nil
}

func (t *tx) PutAccount(a *account.Account) error {
	t.accounts[a.UID] = a
	return nil
}

func (t *tx) TrialRecord(deviceHash string) (*device.TrialRecord, error) {
	if r, ok := t.trialRecords[deviceHash]; ok {
		return r, nil
	}
	r, ok := t.s.trialRecords[deviceHash]
	if !ok {
		return nil, ledger.ErrDeviceNotFound
	}
	return r.Clone(), nil
}

func (t *tx) PutTrialRecord(r *device.TrialRecord) error {
	t.trialRecords[r.DeviceHash] = r
	return nil
}

func (t *tx) RestoreRecord(tokenHash string) (*device.RestoreRecord, error) {
	if r, ok := t.restoreRecords[tokenHash]; ok {
		return r, nil
	}
	r, ok := t.s.restoreRecords[tokenHash]
	if !ok {
		return nil, ledger.ErrDeviceNotFound
	}
	return r.Clone(), nil
}

func (t *tx) PutRestoreRecord(r *device.RestoreRecord) error {
	t.restoreRecords[r.TokenHash] = r
	return nil
}

// RunTransaction serializes all transactions behind the store mutex, which
// trivially satisfies the serializable-isolation contract. Bodies never
// retry here because they never conflict.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ledger.ErrStoreClosed
	}

	t := &tx{
		s:              s,
		accounts:       make(map[string]*account.Account),
		trialRecords:   make(map[string]*device.TrialRecord),
		restoreRecords: make(map[string]*device.RestoreRecord),
	}

	if err := fn(t); err != nil {
		return err
	}

	for uid, a := range t.accounts {
		s.accounts[uid] = a.Clone()
	}
	for hash, r := range t.trialRecords {
		s.trialRecords[hash] = r.Clone()
	}
	for hash, r := range t.restoreRecords {
		s.restoreRecords[hash] = r.Clone()
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, uid string) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ledger.ErrStoreClosed
	}

	a, ok := s.accounts[uid]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (s *Store) FindSiblingAccounts(ctx context.Context, fingerprint string, periodEnd time.Time, tolerance time.Duration) ([]*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fingerprint == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ledger.ErrStoreClosed
	}

	result := make([]*account.Account, 0)
	for _, a := range s.accounts {
		if a.Subscription.Fingerprint != fingerprint || a.Subscription.CurrentPeriodEnd == nil {
			continue
		}
		delta := a.Subscription.CurrentPeriodEnd.Sub(periodEnd)
		if delta < 0 {
			delta = -delta
		}
		if delta <= tolerance {
			result = append(result, a.Clone())
		}
	}
	return result, nil
}

func (s *Store) GetTrialRecord(ctx context.Context, deviceHash string) (*device.TrialRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ledger.ErrStoreClosed
	}

	r, ok := s.trialRecords[deviceHash]
	if !ok {
		return nil, ledger.ErrDeviceNotFound
	}
	return r.Clone(), nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ledger.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
