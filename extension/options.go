package extension

import (
	"time"

	"github.com/inkwise/ledger"
	"github.com/inkwise/ledger/plugin"
	"github.com/inkwise/ledger/store"
)

// Option configures the Ledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes a ledger.Option through to the underlying engine.
func WithLedgerOption(opt ledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, ledger.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithTrialGrant sets the free credits granted by a device trial claim.
func WithTrialGrant(generate, download int) Option {
	return func(e *Extension) {
		e.config.TrialGenerate = generate
		e.config.TrialDownload = download
	}
}

// WithWebhookSecret sets the billing webhook shared secret.
func WithWebhookSecret(secret string) Option {
	return func(e *Extension) { e.config.WebhookSecret = secret }
}

// WithSyncTolerance sets the sibling-account period matching window.
func WithSyncTolerance(d time.Duration) Option {
	return func(e *Extension) { e.config.SyncTolerance = d }
}

// WithRenewalBuffer sets the genuine-renewal detection buffer.
func WithRenewalBuffer(d time.Duration) Option {
	return func(e *Extension) { e.config.RenewalBuffer = d }
}

// WithMongo selects the MongoDB store backend.
func WithMongo(uri, database string) Option {
	return func(e *Extension) {
		e.config.MongoURI = uri
		e.config.MongoDatabase = database
	}
}

// WithPostgres selects the PostgreSQL store backend.
func WithPostgres(dsn string) Option {
	return func(e *Extension) { e.config.PostgresDSN = dsn }
}
