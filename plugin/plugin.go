// Package plugin provides an extensible plugin system for Ledger.
// Plugins can hook into entitlement lifecycle events to extend functionality.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Account hooks
// ──────────────────────────────────────────────────

// OnAccountCreated is called the first time an account is seen.
type OnAccountCreated interface {
	Plugin
	OnAccountCreated(ctx context.Context, uid string) error
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageDecremented is called after a unit of usage is successfully
// consumed. remaining is the layered allowance left after the decrement.
type OnUsageDecremented interface {
	Plugin
	OnUsageDecremented(ctx context.Context, uid, usageType string, remaining int) error
}

// OnQuotaExceeded is called when a decrement is denied for lack of credit.
type OnQuotaExceeded interface {
	Plugin
	OnQuotaExceeded(ctx context.Context, uid, usageType string) error
}

// ──────────────────────────────────────────────────
// Trial hooks
// ──────────────────────────────────────────────────

// OnTrialClaimed is called after a trial grant lands on an account.
// provider is the claim path ("device", "devicecheck", "restore").
type OnTrialClaimed interface {
	Plugin
	OnTrialClaimed(ctx context.Context, uid, provider string, granted int) error
}

// OnTrialRejected is called when a trial claim is refused.
type OnTrialRejected interface {
	Plugin
	OnTrialRejected(ctx context.Context, uid, reason string) error
}

// OnTrialUnfinalized is called when credits were granted but the device's
// consumed bit could not be written. The grant stands; the device needs
// operator reconciliation.
type OnTrialUnfinalized interface {
	Plugin
	OnTrialUnfinalized(ctx context.Context, uid string) error
}

// OnCreditsRestored is called after free credit migrates between accounts.
type OnCreditsRestored interface {
	Plugin
	OnCreditsRestored(ctx context.Context, fromUID, toUID string, restored int) error
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnSubscriptionSynced is called after provider state is reconciled into an
// account, whether by pull or by webhook.
type OnSubscriptionSynced interface {
	Plugin
	OnSubscriptionSynced(ctx context.Context, uid, tier string) error
}

// OnWebhookReceived is called for every authenticated webhook delivery,
// before it is applied.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, eventType, uid string) error
}
