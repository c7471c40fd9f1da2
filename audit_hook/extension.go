// Package audithook bridges Ledger lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import an
// audit backend directly. Callers inject a RecorderFunc adapter that bridges
// to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/inkwise/ledger/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnAccountCreated     = (*Extension)(nil)
	_ plugin.OnQuotaExceeded      = (*Extension)(nil)
	_ plugin.OnTrialClaimed       = (*Extension)(nil)
	_ plugin.OnTrialRejected      = (*Extension)(nil)
	_ plugin.OnTrialUnfinalized   = (*Extension)(nil)
	_ plugin.OnCreditsRestored    = (*Extension)(nil)
	_ plugin.OnSubscriptionSynced = (*Extension)(nil)
	_ plugin.OnWebhookReceived    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// Defined locally so the audit_hook package does not depend on a concrete
// audit module — callers inject the backend at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Ledger lifecycle events to an audit trail backend.
// Events carry account ids and counters only; device tokens and billing
// secrets never reach the recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Account hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (e *Extension) OnAccountCreated(ctx context.Context, uid string) error {
	return e.record(ctx, ActionAccountCreated, SeverityInfo, OutcomeSuccess,
		ResourceAccount, uid, CategoryAccount, nil,
		"uid", uid,
	)
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (e *Extension) OnQuotaExceeded(ctx context.Context, uid, usageType string) error {
	return e.record(ctx, ActionQuotaExceeded, SeverityWarning, OutcomeFailure,
		ResourceUsage, uid, CategoryAccess, nil,
		"uid", uid,
		"usage_type", usageType,
	)
}

// ──────────────────────────────────────────────────
// Trial hooks
// ──────────────────────────────────────────────────

// OnTrialClaimed implements plugin.OnTrialClaimed.
func (e *Extension) OnTrialClaimed(ctx context.Context, uid, provider string, granted int) error {
	return e.record(ctx, ActionTrialClaimed, SeverityInfo, OutcomeSuccess,
		ResourceTrial, uid, CategoryTrial, nil,
		"uid", uid,
		"provider", provider,
		"granted", granted,
	)
}

// OnTrialRejected implements plugin.OnTrialRejected.
func (e *Extension) OnTrialRejected(ctx context.Context, uid, reason string) error {
	return e.record(ctx, ActionTrialRejected, SeverityWarning, OutcomeFailure,
		ResourceTrial, uid, CategoryTrial, nil,
		"uid", uid,
		"reject_reason", reason,
	)
}

// OnTrialUnfinalized implements plugin.OnTrialUnfinalized.
// Partial success: credits granted but the device state write failed, so
// the event is recorded at critical severity for operator followup.
func (e *Extension) OnTrialUnfinalized(ctx context.Context, uid string) error {
	return e.record(ctx, ActionTrialUnfinalized, SeverityCritical, OutcomePartial,
		ResourceTrial, uid, CategoryTrial, nil,
		"uid", uid,
	)
}

// OnCreditsRestored implements plugin.OnCreditsRestored.
func (e *Extension) OnCreditsRestored(ctx context.Context, fromUID, toUID string, restored int) error {
	return e.record(ctx, ActionCreditsRestored, SeverityInfo, OutcomeSuccess,
		ResourceTrial, toUID, CategoryTrial, nil,
		"from_uid", fromUID,
		"to_uid", toUID,
		"restored", restored,
	)
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnSubscriptionSynced implements plugin.OnSubscriptionSynced.
func (e *Extension) OnSubscriptionSynced(ctx context.Context, uid, tier string) error {
	return e.record(ctx, ActionSubscriptionSynced, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, uid, CategoryIntegration, nil,
		"uid", uid,
		"tier", tier,
	)
}

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (e *Extension) OnWebhookReceived(ctx context.Context, eventType, uid string) error {
	return e.record(ctx, ActionWebhookReceived, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, uid, CategoryIntegration, nil,
		"uid", uid,
		"event_type", eventType,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
