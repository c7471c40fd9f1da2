package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onAccountCreated     []OnAccountCreated
	onUsageDecremented   []OnUsageDecremented
	onQuotaExceeded      []OnQuotaExceeded
	onTrialClaimed       []OnTrialClaimed
	onTrialRejected      []OnTrialRejected
	onTrialUnfinalized   []OnTrialUnfinalized
	onCreditsRestored    []OnCreditsRestored
	onSubscriptionSynced []OnSubscriptionSynced
	onWebhookReceived    []OnWebhookReceived
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnAccountCreated); ok {
		r.onAccountCreated = append(r.onAccountCreated, v)
	}
	if v, ok := p.(OnUsageDecremented); ok {
		r.onUsageDecremented = append(r.onUsageDecremented, v)
	}
	if v, ok := p.(OnQuotaExceeded); ok {
		r.onQuotaExceeded = append(r.onQuotaExceeded, v)
	}
	if v, ok := p.(OnTrialClaimed); ok {
		r.onTrialClaimed = append(r.onTrialClaimed, v)
	}
	if v, ok := p.(OnTrialRejected); ok {
		r.onTrialRejected = append(r.onTrialRejected, v)
	}
	if v, ok := p.(OnTrialUnfinalized); ok {
		r.onTrialUnfinalized = append(r.onTrialUnfinalized, v)
	}
	if v, ok := p.(OnCreditsRestored); ok {
		r.onCreditsRestored = append(r.onCreditsRestored, v)
	}
	if v, ok := p.(OnSubscriptionSynced); ok {
		r.onSubscriptionSynced = append(r.onSubscriptionSynced, v)
	}
	if v, ok := p.(OnWebhookReceived); ok {
		r.onWebhookReceived = append(r.onWebhookReceived, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnAccountCreated)(nil)).Elem(), "OnAccountCreated")
	checkInterface(reflect.TypeOf((*OnUsageDecremented)(nil)).Elem(), "OnUsageDecremented")
	checkInterface(reflect.TypeOf((*OnQuotaExceeded)(nil)).Elem(), "OnQuotaExceeded")
	checkInterface(reflect.TypeOf((*OnTrialClaimed)(nil)).Elem(), "OnTrialClaimed")
	checkInterface(reflect.TypeOf((*OnTrialRejected)(nil)).Elem(), "OnTrialRejected")
	checkInterface(reflect.TypeOf((*OnTrialUnfinalized)(nil)).Elem(), "OnTrialUnfinalized")
	checkInterface(reflect.TypeOf((*OnCreditsRestored)(nil)).Elem(), "OnCreditsRestored")
	checkInterface(reflect.TypeOf((*OnSubscriptionSynced)(nil)).Elem(), "OnSubscriptionSynced")
	checkInterface(reflect.TypeOf((*OnWebhookReceived)(nil)).Elem(), "OnWebhookReceived")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, ledger)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitAccountCreated emits an account created event.
func (r *Registry) EmitAccountCreated(ctx context.Context, uid string) {
	r.mu.RLock()
	plugins := r.onAccountCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnAccountCreated(ctx, uid)
		}); err != nil {
			r.logger.Warn("plugin OnAccountCreated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitUsageDecremented emits a usage decremented event.
func (r *Registry) EmitUsageDecremented(ctx context.Context, uid, usageType string, remaining int) {
	r.mu.RLock()
	plugins := r.onUsageDecremented
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnUsageDecremented(ctx, uid, usageType, remaining)
		}); err != nil {
			r.logger.Warn("plugin OnUsageDecremented failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitQuotaExceeded emits a quota exceeded event.
func (r *Registry) EmitQuotaExceeded(ctx context.Context, uid, usageType string) {
	r.mu.RLock()
	plugins := r.onQuotaExceeded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnQuotaExceeded(ctx, uid, usageType)
		}); err != nil {
			r.logger.Warn("plugin OnQuotaExceeded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTrialClaimed emits a trial claimed event.
func (r *Registry) EmitTrialClaimed(ctx context.Context, uid, provider string, granted int) {
	r.mu.RLock()
	plugins := r.onTrialClaimed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTrialClaimed(ctx, uid, provider, granted)
		}); err != nil {
			r.logger.Warn("plugin OnTrialClaimed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTrialRejected emits a trial rejected event.
func (r *Registry) EmitTrialRejected(ctx context.Context, uid, reason string) {
	r.mu.RLock()
	plugins := r.onTrialRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTrialRejected(ctx, uid, reason)
		}); err != nil {
			r.logger.Warn("plugin OnTrialRejected failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTrialUnfinalized emits a trial unfinalized event.
func (r *Registry) EmitTrialUnfinalized(ctx context.Context, uid string) {
	r.mu.RLock()
	plugins := r.onTrialUnfinalized
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTrialUnfinalized(ctx, uid)
		}); err != nil {
			r.logger.Warn("plugin OnTrialUnfinalized failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditsRestored emits a credits restored event.
func (r *Registry) EmitCreditsRestored(ctx context.Context, fromUID, toUID string, restored int) {
	r.mu.RLock()
	plugins := r.onCreditsRestored
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditsRestored(ctx, fromUID, toUID, restored)
		}); err != nil {
			r.logger.Warn("plugin OnCreditsRestored failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionSynced emits a subscription synced event.
func (r *Registry) EmitSubscriptionSynced(ctx context.Context, uid, tier string) {
	r.mu.RLock()
	plugins := r.onSubscriptionSynced
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionSynced(ctx, uid, tier)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionSynced failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitWebhookReceived emits a webhook received event.
func (r *Registry) EmitWebhookReceived(ctx context.Context, eventType, uid string) {
	r.mu.RLock()
	plugins := r.onWebhookReceived
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnWebhookReceived(ctx, eventType, uid)
		}); err != nil {
			r.logger.Warn("plugin OnWebhookReceived failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the metering pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
