package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/inkwise/ledger/account"
	"github.com/inkwise/ledger/attestation"
	"github.com/inkwise/ledger/billing"
	"github.com/inkwise/ledger/plugin"
	"github.com/inkwise/ledger/store"
)

// Ledger is the entitlement and usage engine.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	clock   func() time.Time

	// External clients, lazily constructed (see clients.go).
	attestFactory  func(ctx context.Context) (attestation.Client, error)
	billingFactory func(ctx context.Context) (billing.Provider, error)
	clients        lazyClients

	// Configuration
	trialGrant    account.Limits
	tierLimits    map[account.Tier]account.Limits
	webhookSecret string
	// syncTolerance bounds how far apart two period ends may be while
	// still counting as the same billing period of a shared purchase.
	syncTolerance time.Duration
	// renewalBuffer is how far past the stored period end the provider's
	// period end must be before counters reset as a genuine renewal.
	renewalBuffer time.Duration
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:         s,
		plugins:       plugin.NewRegistry(),
		logger:        slog.Default(),
		clock:         func() time.Time { return time.Now().UTC() },
		trialGrant:    account.Limits{Generate: 3, Download: 3},
		tierLimits:    account.DefaultTierLimits(),
		syncTolerance: 12 * time.Hour,
		renewalBuffer: time.Hour,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// WithTrialGrant sets the free credit granted by a device trial claim.
func WithTrialGrant(generate, download int) Option {
	return func(l *Ledger) {
		l.trialGrant = account.Limits{Generate: generate, Download: download}
	}
}

// WithTierLimits overrides the monthly allowance table.
func WithTierLimits(limits map[account.Tier]account.Limits) Option {
	return func(l *Ledger) {
		l.tierLimits = limits
	}
}

// WithAttestationClient sets a ready attestation client.
func WithAttestationClient(c attestation.Client) Option {
	return func(l *Ledger) {
		l.attestFactory = func(context.Context) (attestation.Client, error) { return c, nil }
	}
}

// WithAttestationFactory sets a lazy attestation client constructor. The
// factory runs at most once; concurrent first callers share the in-flight
// construction.
func WithAttestationFactory(fn func(ctx context.Context) (attestation.Client, error)) Option {
	return func(l *Ledger) {
		l.attestFactory = fn
	}
}

// WithBillingProvider sets a ready billing provider client.
func WithBillingProvider(p billing.Provider) Option {
	return func(l *Ledger) {
		l.billingFactory = func(context.Context) (billing.Provider, error) { return p, nil }
	}
}

// WithBillingFactory sets a lazy billing provider constructor, memoized the
// same way as the attestation factory.
func WithBillingFactory(fn func(ctx context.Context) (billing.Provider, error)) Option {
	return func(l *Ledger) {
		l.billingFactory = fn
	}
}

// WithWebhookSecret sets the shared secret webhook deliveries authenticate
// with.
func WithWebhookSecret(secret string) Option {
	return func(l *Ledger) {
		l.webhookSecret = secret
	}
}

// WithSyncTolerance sets the sibling-account period matching window.
func WithSyncTolerance(d time.Duration) Option {
	return func(l *Ledger) {
		l.syncTolerance = d
	}
}

// WithRenewalBuffer sets how far the provider period end must advance past
// the stored one before counters reset.
func WithRenewalBuffer(d time.Duration) Option {
	return func(l *Ledger) {
		l.renewalBuffer = d
	}
}

// Start migrates the store and initializes plugins.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return err
	}

	l.plugins.EmitInit(ctx, l)

	l.logger.Info("ledger started",
		"trial_grant_generate", l.trialGrant.Generate,
		"trial_grant_download", l.trialGrant.Download,
		"sync_tolerance", l.syncTolerance,
	)

	return nil
}

// Stop shuts down the Ledger.
func (l *Ledger) Stop() error {
	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// limitsFor returns the monthly allowance for a tier, zero for free or
// unknown tiers.
func (l *Ledger) limitsFor(tier account.Tier) account.Limits {
	return l.tierLimits[tier]
}
