package extension

import "time"

// Config holds the Ledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.ledger" or "ledger" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// TrialGenerate and TrialDownload are the free credits granted by a
	// device trial claim (default: 3 each).
	TrialGenerate int `json:"trial_generate" mapstructure:"trial_generate" yaml:"trial_generate"`
	TrialDownload int `json:"trial_download" mapstructure:"trial_download" yaml:"trial_download"`

	// WebhookSecret is the shared secret billing webhook deliveries
	// authenticate with. Webhook handling is disabled when empty.
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret" yaml:"webhook_secret"`

	// SyncTolerance bounds how far apart two period ends may be while still
	// counting as the same billing period of a shared purchase (default: 12h).
	SyncTolerance time.Duration `json:"sync_tolerance" mapstructure:"sync_tolerance" yaml:"sync_tolerance"`

	// RenewalBuffer is how far past the stored period end the provider's
	// period end must be before usage counters reset (default: 1h).
	RenewalBuffer time.Duration `json:"renewal_buffer" mapstructure:"renewal_buffer" yaml:"renewal_buffer"`

	// MongoURI and MongoDatabase select the MongoDB store when set.
	MongoURI      string `json:"mongo_uri" mapstructure:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase string `json:"mongo_database" mapstructure:"mongo_database" yaml:"mongo_database"`

	// PostgresDSN selects the PostgreSQL store when set. Ignored when a
	// Mongo URI is also configured.
	PostgresDSN string `json:"postgres_dsn" mapstructure:"postgres_dsn" yaml:"postgres_dsn"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TrialGenerate: 3,
		TrialDownload: 3,
		SyncTolerance: 12 * time.Hour,
		RenewalBuffer: time.Hour,
		MongoDatabase: "inkwise",
	}
}
