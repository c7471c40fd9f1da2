package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/inkwise/ledger/account"
	"github.com/inkwise/ledger/store"
)

// EnsureAccount creates the account if absent, with zeroed allowances and no
// active subscription, or touches LastUsedAt if present. Idempotent.
func (l *Ledger) EnsureAccount(ctx context.Context, uid string) error {
	if uid == "" {
		return fmt.Errorf("%w: empty uid", ErrInvalidInput)
	}

	var created bool
	err := l.store.RunTransaction(ctx, func(tx store.Tx) error {
		created = false
		a, err := tx.Account(uid)
		switch {
		case errors.Is(err, ErrAccountNotFound):
			a = account.New(uid)
			created = true
		case err != nil:
			return err
		}

		a.LastUsedAt = l.clock()
		a.Touch()
		return tx.PutAccount(a)
	})
	if err != nil {
		return err
	}

	if created {
		l.plugins.EmitAccountCreated(ctx, uid)
		l.logger.Debug("account created", "uid", uid)
	}
	return nil
}

// Remaining returns the layered remaining allowance for the usage type:
// the active monthly remainder plus net free credit. An account that does
// not exist yet has zero remaining; that is not an error. Use it to
// pre-flight-reject requests before doing expensive work.
func (l *Ledger) Remaining(ctx context.Context, uid string, t account.UsageType) (int, error) {
	if uid == "" {
		return 0, fmt.Errorf("%w: empty uid", ErrInvalidInput)
	}
	if !t.Valid() {
		return 0, fmt.Errorf("%w: usage type %q", ErrInvalidInput, t)
	}

	a, err := l.store.GetAccount(ctx, uid)
	if errors.Is(err, ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return a.Remaining(t), nil
}

// DecrementUsage consumes exactly one unit of the usage type and returns the
// remaining allowance after the decrement. The monthly allowance is consumed
// first while the subscription is active; free credit covers the rest.
// Fails with ErrInsufficientCredit when nothing remains, leaving the account
// untouched. Concurrent calls serialize through the store's transaction
// isolation, so no unit is ever lost or double-spent.
func (l *Ledger) DecrementUsage(ctx context.Context, uid string, t account.UsageType) (int, error) {
	if uid == "" {
		return 0, fmt.Errorf("%w: empty uid", ErrInvalidInput)
	}
	if !t.Valid() {
		return 0, fmt.Errorf("%w: usage type %q", ErrInvalidInput, t)
	}

	var remainingAfter int
	err := l.store.RunTransaction(ctx, func(tx store.Tx) error {
		a, err := tx.Account(uid)
		if errors.Is(err, ErrAccountNotFound) {
			// A never-seen account holds nothing to consume.
			return ErrInsufficientCredit
		}
		if err != nil {
			return err
		}

		switch {
		case a.Subscription.IsActive && a.Monthly.Remaining(t) > 0:
			a.Monthly.Consume(t)
		case a.Free.Remaining(t) > 0:
			// Writing the free credits migrates any legacy flattened
			// counters to the limit/used shape in the same update.
			a.Free.Normalize()
			a.Free.Consume(t)
		default:
			return ErrInsufficientCredit
		}

		remainingAfter = a.Remaining(t)
		a.LastUsedAt = l.clock()
		a.Touch()
		return tx.PutAccount(a)
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredit) {
			l.plugins.EmitQuotaExceeded(ctx, uid, string(t))
			l.logger.Info("usage denied",
				"uid", uid,
				"op", "decrement_usage",
				"usage_type", t,
				"error_kind", "insufficient_credit",
			)
		}
		return 0, err
	}

	l.plugins.EmitUsageDecremented(ctx, uid, string(t), remainingAfter)
	return remainingAfter, nil
}

// Usage is a read-only summary of an account's entitlement state, shaped
// for a usage endpoint.
type Usage struct {
	Tier              account.Tier `json:"tier"`
	Active            bool         `json:"active"`
	GenerateRemaining int          `json:"generate_remaining"`
	DownloadRemaining int          `json:"download_remaining"`
	PeriodEnd         string       `json:"period_end,omitempty"`
}

// GetUsage returns the remaining allowance per type plus subscription state.
func (l *Ledger) GetUsage(ctx context.Context, uid string) (*Usage, error) {
	if uid == "" {
		return nil, fmt.Errorf("%w: empty uid", ErrInvalidInput)
	}

	a, err := l.store.GetAccount(ctx, uid)
	if errors.Is(err, ErrAccountNotFound) {
		return &Usage{Tier: account.TierFree}, nil
	}
	if err != nil {
		return nil, err
	}

	u := &Usage{
		Tier:              a.Subscription.Status,
		Active:            a.Subscription.IsActive,
		GenerateRemaining: a.Remaining(account.UsageGenerate),
		DownloadRemaining: a.Remaining(account.UsageDownload),
	}
	if a.Subscription.CurrentPeriodEnd != nil {
		u.PeriodEnd = a.Subscription.CurrentPeriodEnd.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return u, nil
}
