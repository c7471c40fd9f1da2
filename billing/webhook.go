package billing

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inkwise/ledger/id"
)

// EventType identifies a provider webhook event.
type EventType string

// Webhook event types the ledger reacts to. Other types parse cleanly and
// are ignored by the caller.
const (
	EventInitialPurchase EventType = "INITIAL_PURCHASE"
	EventRenewal         EventType = "RENEWAL"
	EventProductChange   EventType = "PRODUCT_CHANGE"
	EventCancellation    EventType = "CANCELLATION"
	EventExpiration      EventType = "EXPIRATION"
	EventTest            EventType = "TEST"
)

// Activates reports whether the event type (re)grants access.
func (t EventType) Activates() bool {
	return t == EventInitialPurchase || t == EventRenewal || t == EventProductChange
}

// Deactivates reports whether the event type may tear down access. Note that
// a cancellation commonly means auto-renew-off with access continuing until
// period end; callers must check the stated expiry before revoking.
func (t EventType) Deactivates() bool {
	return t == EventCancellation || t == EventExpiration
}

// WebhookEvent is the subset of a provider webhook the ledger reads.
type WebhookEvent struct {
	ID             id.WebhookEventID
	Type           EventType
	AppUserID      string
	EntitlementIDs []string
	ProductID      string
	ExpirationAt   *time.Time
	EventAt        time.Time
}

// ErrWebhookAuth indicates the webhook authorization header did not match
// the shared secret. The payload must not be processed.
var ErrWebhookAuth = errors.New("billing: webhook authorization failed")

type webhookPayload struct {
	Event struct {
		Type            string   `json:"type"`
		AppUserID       string   `json:"app_user_id"`
		EntitlementIDs  []string `json:"entitlement_ids"`
		ProductID       string   `json:"product_id"`
		EventTimestamp  int64    `json:"event_timestamp_ms"`
		ExpirationAtMs  *int64   `json:"expiration_at_ms"`
	} `json:"event"`
}

// ParseWebhook verifies the shared-secret authorization header and decodes
// the payload. The comparison is constant-time. A "Bearer " prefix on the
// header is accepted.
func ParseWebhook(body []byte, authHeader, secret string) (*WebhookEvent, error) {
	if secret == "" {
		return nil, errors.New("billing: webhook secret not configured")
	}

	supplied := strings.TrimPrefix(authHeader, "Bearer ")
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(secret)) != 1 {
		return nil, ErrWebhookAuth
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("billing: decode webhook: %w", err)
	}
	if payload.Event.Type == "" || payload.Event.AppUserID == "" {
		return nil, errors.New("billing: webhook missing event type or app_user_id")
	}

	ev := &WebhookEvent{
		ID:             id.NewWebhookEventID(),
		Type:           EventType(payload.Event.Type),
		AppUserID:      payload.Event.AppUserID,
		EntitlementIDs: payload.Event.EntitlementIDs,
		ProductID:      payload.Event.ProductID,
		EventAt:        time.UnixMilli(payload.Event.EventTimestamp).UTC(),
	}
	if payload.Event.ExpirationAtMs != nil {
		t := time.UnixMilli(*payload.Event.ExpirationAtMs).UTC()
		ev.ExpirationAt = &t
	}

	return ev, nil
}
