package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/inkwise/ledger/account"
	"github.com/inkwise/ledger/billing"
	"github.com/inkwise/ledger/store"
)

// SyncSubscription reconciles the billing provider's entitlement state into
// the account's allowance and returns the resulting tier.
//
// Usage counters survive reconciliation unless the billing period genuinely
// advanced. On (re)activation they are initialized to the carried-over
// floor: the maximum counters observed among sibling accounts riding the
// same purchase fingerprint, so re-registering a fresh account under a paid
// subscription cannot reset its consumption.
func (l *Ledger) SyncSubscription(ctx context.Context, uid string) (account.Tier, error) {
	if uid == "" {
		return "", fmt.Errorf("%w: empty uid", ErrInvalidInput)
	}

	provider, err := l.billing(ctx)
	if err != nil {
		return "", err
	}

	sub, err := provider.GetSubscriber(ctx, uid)
	if err != nil {
		return "", upstreamErr(err)
	}

	now := l.clock()
	tier, ent := billing.SelectTier(sub, now)

	if !tier.Paid() {
		err := l.store.RunTransaction(ctx, func(tx store.Tx) error {
			a, err := tx.Account(uid)
			if errors.Is(err, ErrAccountNotFound) {
				a = account.New(uid)
			} else if err != nil {
				return err
			}
			// Expired or free: drop access, leave usage counters alone so
			// a reactivation within the same period resumes where it was.
			a.Subscription.Status = account.TierFree
			a.Subscription.IsActive = false
			a.Touch()
			return tx.PutAccount(a)
		})
		if err != nil {
			return "", err
		}
		l.plugins.EmitSubscriptionSynced(ctx, uid, string(account.TierFree))
		return account.TierFree, nil
	}

	fingerprint := billing.Fingerprint(ent)
	limits := l.limitsFor(tier)

	// Carried-over floor from sibling accounts on the same purchase whose
	// period end lines up with the provider's.
	var floorGen, floorDl int
	if ent.ExpiresAt != nil {
		siblings, err := l.store.FindSiblingAccounts(ctx, fingerprint, *ent.ExpiresAt, l.syncTolerance)
		if err != nil {
			return "", err
		}
		for _, s := range siblings {
			floorGen = max(floorGen, s.Monthly.GenerationsUsed)
			floorDl = max(floorDl, s.Monthly.DownloadsUsed)
		}
	}

	err = l.store.RunTransaction(ctx, func(tx store.Tx) error {
		a, err := tx.Account(uid)
		if errors.Is(err, ErrAccountNotFound) {
			a = account.New(uid)
		} else if err != nil {
			return err
		}

		prev := a.Subscription
		periodAdvanced := prev.CurrentPeriodEnd == nil ||
			(ent.ExpiresAt != nil && ent.ExpiresAt.After(prev.CurrentPeriodEnd.Add(l.renewalBuffer)))
		wasInactive := !prev.IsActive || !prev.Status.Paid()

		a.Subscription.Status = tier
		a.Subscription.IsActive = true
		a.Subscription.CurrentPeriodEnd = ent.ExpiresAt
		a.Subscription.Provider = "revenuecat"
		a.Subscription.Fingerprint = fingerprint
		a.Monthly.GenerateLimit = limits.Generate
		a.Monthly.DownloadLimit = limits.Download

		if periodAdvanced || wasInactive {
			genFloor, dlFloor := floorGen, floorDl
			if !periodAdvanced {
				// Same billing period: the account's own consumption also
				// counts toward the floor.
				genFloor = max(genFloor, a.Monthly.GenerationsUsed)
				dlFloor = max(dlFloor, a.Monthly.DownloadsUsed)
			}
			a.Monthly.GenerationsUsed = genFloor
			a.Monthly.DownloadsUsed = dlFloor
		}
		// Paid with an unchanged period and already active: limits and
		// period were refreshed above, counters stay untouched.

		a.Touch()
		return tx.PutAccount(a)
	})
	if err != nil {
		return "", err
	}

	l.plugins.EmitSubscriptionSynced(ctx, uid, string(tier))
	l.logger.Info("subscription synced",
		"uid", uid,
		"op", "sync_subscription",
		"tier", tier,
	)
	return tier, nil
}

// HandleBillingWebhook processes a provider-pushed subscription event. The
// authorization header is checked against the configured shared secret
// before the payload is touched. Server-to-server payloads carry their own
// app_user_id and are trusted, so no fingerprint floor applies here.
func (l *Ledger) HandleBillingWebhook(ctx context.Context, authHeader string, body []byte) error {
	ev, err := billing.ParseWebhook(body, authHeader, l.webhookSecret)
	if err != nil {
		if errors.Is(err, billing.ErrWebhookAuth) {
			l.logger.Warn("webhook rejected", "op", "billing_webhook", "error_kind", "unauthorized")
			return ErrWebhookUnauthorized
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	l.plugins.EmitWebhookReceived(ctx, string(ev.Type), ev.AppUserID)

	switch {
	case ev.Type.Activates():
		tier := account.TierFree
		for _, key := range ev.EntitlementIDs {
			if t := billing.TierForEntitlement(key); t.Rank() > tier.Rank() {
				tier = t
			}
		}
		if !tier.Paid() {
			l.logger.Warn("webhook activation without paid entitlement",
				"uid", ev.AppUserID,
				"op", "billing_webhook",
				"event_type", ev.Type,
			)
			return nil
		}

		limits := l.limitsFor(tier)
		err := l.store.RunTransaction(ctx, func(tx store.Tx) error {
			a, err := tx.Account(ev.AppUserID)
			if errors.Is(err, ErrAccountNotFound) {
				a = account.New(ev.AppUserID)
			} else if err != nil {
				return err
			}

			a.Subscription.Status = tier
			a.Subscription.IsActive = true
			a.Subscription.CurrentPeriodEnd = ev.ExpirationAt
			a.Subscription.Provider = "revenuecat"
			a.Monthly = account.MonthlyAllowance{
				GenerateLimit: limits.Generate,
				DownloadLimit: limits.Download,
			}
			a.Touch()
			return tx.PutAccount(a)
		})
		if err != nil {
			return err
		}

		l.plugins.EmitSubscriptionSynced(ctx, ev.AppUserID, string(tier))
		l.logger.Info("webhook activated subscription",
			"uid", ev.AppUserID,
			"op", "billing_webhook",
			"event_type", ev.Type,
			"tier", tier,
		)
		return nil

	case ev.Type.Deactivates():
		// A cancellation usually means auto-renew-off with access running
		// until period end. Only tear down once the stated expiry passed.
		if ev.ExpirationAt != nil && ev.ExpirationAt.After(l.clock()) {
			l.logger.Info("webhook cancellation with access until period end",
				"uid", ev.AppUserID,
				"op", "billing_webhook",
				"event_type", ev.Type,
			)
			return nil
		}

		err := l.store.RunTransaction(ctx, func(tx store.Tx) error {
			a, err := tx.Account(ev.AppUserID)
			if errors.Is(err, ErrAccountNotFound) {
				// Nothing to tear down.
				return nil
			}
			if err != nil {
				return err
			}
			a.Subscription.Status = account.TierFree
			a.Subscription.IsActive = false
			a.Touch()
			return tx.PutAccount(a)
		})
		if err != nil {
			return err
		}

		l.plugins.EmitSubscriptionSynced(ctx, ev.AppUserID, string(account.TierFree))
		return nil

	default:
		l.logger.Debug("ignoring webhook event",
			"uid", ev.AppUserID,
			"op", "billing_webhook",
			"event_type", ev.Type,
		)
		return nil
	}
}
