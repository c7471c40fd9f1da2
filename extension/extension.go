// Package extension provides the Forge extension adapter for Ledger.
//
// It implements the forge.Extension interface to integrate Ledger
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.ledger" or "ledger" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/inkwise/ledger"
	"github.com/inkwise/ledger/store"
	"github.com/inkwise/ledger/store/memory"
	"github.com/inkwise/ledger/store/mongo"
	"github.com/inkwise/ledger/store/postgres"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "ledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Entitlement and usage ledger engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *ledger.Ledger
	store      store.Store
	ledgerOpts []ledger.Option
}

// New creates a new Ledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *ledger.Ledger { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the ledger engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Construct the configured store backend when none was provided
	// programmatically. Memory is the fallback for local development.
	if e.store == nil {
		s, err := e.buildStore()
		if err != nil {
			return err
		}
		e.store = s
	}

	eng := ledger.New(e.store, e.buildLedgerOpts()...)
	e.engine = eng

	return vessel.Provide(fapp.Container(), func() (*ledger.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("ledger: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("ledger: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildStore constructs a store backend from the resolved config.
func (e *Extension) buildStore() (store.Store, error) {
	switch {
	case e.config.MongoURI != "":
		return mongo.Connect(context.Background(), e.config.MongoURI, e.config.MongoDatabase)
	case e.config.PostgresDSN != "":
		return postgres.Connect(context.Background(), e.config.PostgresDSN)
	default:
		return memory.New(), nil
	}
}

// buildLedgerOpts constructs ledger.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() []ledger.Option {
	opts := make([]ledger.Option, 0, len(e.ledgerOpts)+4)

	if e.config.TrialGenerate > 0 || e.config.TrialDownload > 0 {
		opts = append(opts, ledger.WithTrialGrant(e.config.TrialGenerate, e.config.TrialDownload))
	}
	if e.config.WebhookSecret != "" {
		opts = append(opts, ledger.WithWebhookSecret(e.config.WebhookSecret))
	}
	if e.config.SyncTolerance > 0 {
		opts = append(opts, ledger.WithSyncTolerance(e.config.SyncTolerance))
	}
	if e.config.RenewalBuffer > 0 {
		opts = append(opts, ledger.WithRenewalBuffer(e.config.RenewalBuffer))
	}

	// Append any pass-through ledger options.
	opts = append(opts, e.ledgerOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("ledger: configuration is required but not found in config files; " +
				"ensure 'extensions.ledger' or 'ledger' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("ledger: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("trial_generate", e.config.TrialGenerate),
		forge.F("trial_download", e.config.TrialDownload),
		forge.F("sync_tolerance", e.config.SyncTolerance),
		forge.F("renewal_buffer", e.config.RenewalBuffer),
		forge.F("webhook_secret_set", e.config.WebhookSecret != ""),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.ledger" first (namespaced pattern).
	if cm.IsSet("extensions.ledger") {
		if err := cm.Bind("extensions.ledger", &cfg); err == nil {
			e.Logger().Debug("ledger: loaded config from file",
				forge.F("key", "extensions.ledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("ledger: failed to bind extensions.ledger config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "ledger" key.
	if cm.IsSet("ledger") {
		if err := cm.Bind("ledger", &cfg); err == nil {
			e.Logger().Debug("ledger: loaded config from file",
				forge.F("key", "ledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("ledger: failed to bind ledger config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.TrialGenerate == 0 {
		cfg.TrialGenerate = defaults.TrialGenerate
	}
	if cfg.TrialDownload == 0 {
		cfg.TrialDownload = defaults.TrialDownload
	}
	if cfg.SyncTolerance == 0 {
		cfg.SyncTolerance = defaults.SyncTolerance
	}
	if cfg.RenewalBuffer == 0 {
		cfg.RenewalBuffer = defaults.RenewalBuffer
	}
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = defaults.MongoDatabase
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.WebhookSecret == "" && programmaticConfig.WebhookSecret != "" {
		yamlConfig.WebhookSecret = programmaticConfig.WebhookSecret
	}
	if yamlConfig.MongoURI == "" && programmaticConfig.MongoURI != "" {
		yamlConfig.MongoURI = programmaticConfig.MongoURI
	}
	if yamlConfig.MongoDatabase == "" && programmaticConfig.MongoDatabase != "" {
		yamlConfig.MongoDatabase = programmaticConfig.MongoDatabase
	}
	if yamlConfig.PostgresDSN == "" && programmaticConfig.PostgresDSN != "" {
		yamlConfig.PostgresDSN = programmaticConfig.PostgresDSN
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.TrialGenerate == 0 && programmaticConfig.TrialGenerate != 0 {
		yamlConfig.TrialGenerate = programmaticConfig.TrialGenerate
	}
	if yamlConfig.TrialDownload == 0 && programmaticConfig.TrialDownload != 0 {
		yamlConfig.TrialDownload = programmaticConfig.TrialDownload
	}
	if yamlConfig.SyncTolerance == 0 && programmaticConfig.SyncTolerance != 0 {
		yamlConfig.SyncTolerance = programmaticConfig.SyncTolerance
	}
	if yamlConfig.RenewalBuffer == 0 && programmaticConfig.RenewalBuffer != 0 {
		yamlConfig.RenewalBuffer = programmaticConfig.RenewalBuffer
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
