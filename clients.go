package ledger

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/inkwise/ledger/attestation"
	"github.com/inkwise/ledger/billing"
)

// lazyClients memoizes the external SDK clients. The first caller runs the
// factory; concurrent callers await the same in-flight construction via
// singleflight instead of racing their own initializations. A failed
// construction is not cached, so a later call can retry.
type lazyClients struct {
	flight singleflight.Group

	mu      sync.RWMutex
	attest  attestation.Client
	billing billing.Provider
}

func (l *Ledger) attestation(ctx context.Context) (attestation.Client, error) {
	l.clients.mu.RLock()
	cached := l.clients.attest
	l.clients.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	if l.attestFactory == nil {
		return nil, errors.New("ledger: no attestation client configured")
	}

	v, err, _ := l.clients.flight.Do("attestation", func() (any, error) {
		c, err := l.attestFactory(ctx)
		if err != nil {
			return nil, err
		}
		l.clients.mu.Lock()
		l.clients.attest = c
		l.clients.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(attestation.Client), nil
}

func (l *Ledger) billing(ctx context.Context) (billing.Provider, error) {
	l.clients.mu.RLock()
	cached := l.clients.billing
	l.clients.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	if l.billingFactory == nil {
		return nil, errors.New("ledger: no billing provider configured")
	}

	v, err, _ := l.clients.flight.Do("billing", func() (any, error) {
		p, err := l.billingFactory(ctx)
		if err != nil {
			return nil, err
		}
		l.clients.mu.Lock()
		l.clients.billing = p
		l.clients.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(billing.Provider), nil
}
