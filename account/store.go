package account

import (
	"context"
	"time"
)

// Store is the account-facing slice of the unified storage interface:
// snapshot reads outside any transaction. Transactional access goes through
// the store package's Tx.
type Store interface {
	GetAccount(ctx context.Context, uid string) (*Account, error)

	// FindSiblingAccounts returns every account sharing fingerprint whose
	// CurrentPeriodEnd falls within tolerance of periodEnd. Used to carry
	// usage counters across accounts riding the same purchase.
	FindSiblingAccounts(ctx context.Context, fingerprint string, periodEnd time.Time, tolerance time.Duration) ([]*Account, error)
}
