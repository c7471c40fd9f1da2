// Package billing integrates the external subscription billing provider.
// The ledger only reads entitlement state from it; all payment handling
// stays on the provider's side.
package billing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/inkwise/ledger/account"
)

// Entitlement is one entitlement instance reported by the provider.
type Entitlement struct {
	// Key is the provider-side entitlement identifier (maps to a tier).
	Key string
	// ProductID identifies the purchased product.
	ProductID string
	// ExpiresAt is when access under this entitlement lapses. Nil means
	// non-expiring.
	ExpiresAt *time.Time
	// PurchasedAt is the latest purchase/renewal time.
	PurchasedAt time.Time
	// OriginalPurchaseAt is the timestamp of the very first purchase of
	// this subscription instance. It is stable across renewals and across
	// accounts, which makes it the basis of the purchase fingerprint.
	OriginalPurchaseAt time.Time
}

// Active reports whether the entitlement grants access at the given time.
func (e Entitlement) Active(now time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// Subscriber is the provider's current view of one account.
type Subscriber struct {
	AppUserID    string
	Entitlements []Entitlement
}

// Provider fetches subscriber entitlement state.
type Provider interface {
	GetSubscriber(ctx context.Context, appUserID string) (*Subscriber, error)
}

// Sentinel errors for provider transport failures.
var (
	ErrTimeout     = errors.New("billing: timeout")
	ErrUnavailable = errors.New("billing: provider unavailable")
)

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// TierForEntitlement maps a provider entitlement key to a tier. Unknown keys
// map to free.
func TierForEntitlement(key string) account.Tier {
	switch key {
	case "max":
		return account.TierMax
	case "pro":
		return account.TierPro
	case "starter":
		return account.TierStarter
	default:
		return account.TierFree
	}
}

// SelectTier picks the highest-priority tier among the subscriber's active
// entitlements, returning the winning entitlement alongside it. When nothing
// is active it returns TierFree and nil.
func SelectTier(sub *Subscriber, now time.Time) (account.Tier, *Entitlement) {
	best := account.TierFree
	var winner *Entitlement

	for i := range sub.Entitlements {
		e := &sub.Entitlements[i]
		if !e.Active(now) {
			continue
		}
		tier := TierForEntitlement(e.Key)
		if tier.Paid() && tier.Rank() > best.Rank() {
			best = tier
			winner = e
		}
	}

	return best, winner
}

// Fingerprint derives the stable purchase identifier shared by every account
// that ever held the same subscription instance.
func Fingerprint(e *Entitlement) string {
	return fmt.Sprintf("%s:%s", e.ProductID, strconv.FormatInt(e.OriginalPurchaseAt.UnixMilli(), 10))
}
