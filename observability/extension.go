// Package observability provides a metrics extension for Ledger that records
// lifecycle event counts via a pluggable MetricFactory.
package observability

import (
	"context"

	"github.com/inkwise/ledger/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnAccountCreated     = (*MetricsExtension)(nil)
	_ plugin.OnUsageDecremented   = (*MetricsExtension)(nil)
	_ plugin.OnQuotaExceeded      = (*MetricsExtension)(nil)
	_ plugin.OnTrialClaimed       = (*MetricsExtension)(nil)
	_ plugin.OnTrialRejected      = (*MetricsExtension)(nil)
	_ plugin.OnTrialUnfinalized   = (*MetricsExtension)(nil)
	_ plugin.OnCreditsRestored    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionSynced = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Ledger plugin to automatically track entitlement metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Account metrics
	AccountsCreated Counter

	// Usage metrics
	UsageDecremented   Counter
	QuotaExceeded      Counter
	RemainingAllowance Histogram

	// Trial metrics
	TrialsClaimed     Counter
	TrialsRejected    Counter
	TrialsUnfinalized Counter
	CreditsRestored   Counter
	CreditsMigrated   Histogram

	// Billing metrics
	SubscriptionsSynced Counter
	WebhooksReceived    Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Account metrics
		AccountsCreated: factory.Counter("ledger.account.created"),

		// Usage metrics
		UsageDecremented:   factory.Counter("ledger.usage.decremented"),
		QuotaExceeded:      factory.Counter("ledger.usage.quota_exceeded"),
		RemainingAllowance: factory.Histogram("ledger.usage.remaining"),

		// Trial metrics
		TrialsClaimed:     factory.Counter("ledger.trial.claimed"),
		TrialsRejected:    factory.Counter("ledger.trial.rejected"),
		TrialsUnfinalized: factory.Counter("ledger.trial.unfinalized"),
		CreditsRestored:   factory.Counter("ledger.restore.completed"),
		CreditsMigrated:   factory.Histogram("ledger.restore.credits"),

		// Billing metrics
		SubscriptionsSynced: factory.Counter("ledger.subscription.synced"),
		WebhooksReceived:    factory.Counter("ledger.webhook.received"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// OnAccountCreated implements plugin.OnAccountCreated.
func (m *MetricsExtension) OnAccountCreated(_ context.Context, _ string) error {
	m.AccountsCreated.Inc()
	return nil
}

// OnUsageDecremented implements plugin.OnUsageDecremented.
func (m *MetricsExtension) OnUsageDecremented(_ context.Context, _, _ string, remaining int) error {
	m.UsageDecremented.Inc()
	m.RemainingAllowance.Observe(float64(remaining))
	return nil
}

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (m *MetricsExtension) OnQuotaExceeded(_ context.Context, _, _ string) error {
	m.QuotaExceeded.Inc()
	return nil
}

// OnTrialClaimed implements plugin.OnTrialClaimed.
func (m *MetricsExtension) OnTrialClaimed(_ context.Context, _, _ string, _ int) error {
	m.TrialsClaimed.Inc()
	return nil
}

// OnTrialRejected implements plugin.OnTrialRejected.
func (m *MetricsExtension) OnTrialRejected(_ context.Context, _, _ string) error {
	m.TrialsRejected.Inc()
	return nil
}

// OnTrialUnfinalized implements plugin.OnTrialUnfinalized.
func (m *MetricsExtension) OnTrialUnfinalized(_ context.Context, _ string) error {
	m.TrialsUnfinalized.Inc()
	return nil
}

// OnCreditsRestored implements plugin.OnCreditsRestored.
func (m *MetricsExtension) OnCreditsRestored(_ context.Context, _, _ string, restored int) error {
	m.CreditsRestored.Inc()
	m.CreditsMigrated.Observe(float64(restored))
	return nil
}

// OnSubscriptionSynced implements plugin.OnSubscriptionSynced.
func (m *MetricsExtension) OnSubscriptionSynced(_ context.Context, _, _ string) error {
	m.SubscriptionsSynced.Inc()
	return nil
}

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, _, _ string) error {
	m.WebhooksReceived.Inc()
	return nil
}
