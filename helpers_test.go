package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/inkwise/ledger"
	"github.com/inkwise/ledger/account"
	"github.com/inkwise/ledger/attestation"
	"github.com/inkwise/ledger/billing"
	"github.com/inkwise/ledger/store"
	"github.com/inkwise/ledger/store/memory"
)

// testNow is the fixed clock every engine test runs on.
var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, opts ...ledger.Option) (*ledger.Ledger, *memory.Store) {
	t.Helper()
	s := memory.New()
	opts = append([]ledger.Option{
		ledger.WithClock(func() time.Time { return testNow }),
	}, opts...)
	return ledger.New(s, opts...), s
}

// seedAccount writes an account directly into the store.
func seedAccount(t *testing.T, s *memory.Store, a *account.Account) {
	t.Helper()
	err := s.RunTransaction(context.Background(), func(tx store.Tx) error {
		return tx.PutAccount(a)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func mustGetAccount(t *testing.T, s *memory.Store, uid string) *account.Account {
	t.Helper()
	a, err := s.GetAccount(context.Background(), uid)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// fakeAttestor is a scripted attestation client. It records every bit write
// and can be told to fail writes of a specific bit pattern.
type fakeAttestor struct {
	mu sync.Mutex

	bits     attestation.Bits
	queryErr error
	// updateErr maps a written bit pattern to an injected failure.
	updateErr map[attestation.Bits]error

	updates []attestation.Bits
}

var _ attestation.Client = (*fakeAttestor)(nil)

func (f *fakeAttestor) QueryBits(_ context.Context, _ string) (attestation.Bits, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return attestation.Bits{}, f.queryErr
	}
	return f.bits, nil
}

func (f *fakeAttestor) UpdateBits(_ context.Context, _ string, b attestation.Bits) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErr[b]; err != nil {
		return err
	}
	f.updates = append(f.updates, b)
	f.bits = b
	return nil
}

func (f *fakeAttestor) writes() []attestation.Bits {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]attestation.Bits(nil), f.updates...)
}

// fakeBilling is a canned billing provider.
type fakeBilling struct {
	sub *billing.Subscriber
	err error
}

var _ billing.Provider = (*fakeBilling)(nil)

func (f *fakeBilling) GetSubscriber(_ context.Context, appUserID string) (*billing.Subscriber, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.sub != nil {
		return f.sub, nil
	}
	return &billing.Subscriber{AppUserID: appUserID}, nil
}
