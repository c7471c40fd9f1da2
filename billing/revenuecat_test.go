package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwise/ledger/account"
)

const subscriberBody = `{
	"subscriber": {
		"entitlements": {
			"pro": {
				"product_identifier": "inkwise.pro.monthly",
				"expires_date": "2026-09-20T10:00:00Z",
				"purchase_date": "2026-08-20T10:00:00Z"
			},
			"starter": {
				"product_identifier": "inkwise.starter.monthly",
				"expires_date": "2025-01-01T00:00:00Z",
				"purchase_date": "2024-12-01T00:00:00Z"
			}
		},
		"subscriptions": {
			"inkwise.pro.monthly": {
				"original_purchase_date": "2026-01-15T08:30:00Z"
			}
		}
	}
}`

func newTestRevenueCat(t *testing.T, srv *httptest.Server) *RevenueCat {
	t.Helper()
	rc, err := NewRevenueCat(RevenueCatConfig{
		APIKey:     "sk_test",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return rc
}

func TestNewRevenueCatRequiresKey(t *testing.T) {
	_, err := NewRevenueCat(RevenueCatConfig{})
	require.Error(t, err)
}

func TestGetSubscriber(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(subscriberBody)) //nolint:errcheck
	}))
	defer srv.Close()

	rc := newTestRevenueCat(t, srv)
	sub, err := rc.GetSubscriber(context.Background(), "uid_42")
	require.NoError(t, err)

	assert.Equal(t, "/v1/subscribers/uid_42", gotPath)
	assert.Equal(t, "Bearer sk_test", gotAuth)
	assert.Equal(t, "uid_42", sub.AppUserID)
	require.Len(t, sub.Entitlements, 2)

	var pro, starter *Entitlement
	for i := range sub.Entitlements {
		switch sub.Entitlements[i].Key {
		case "pro":
			pro = &sub.Entitlements[i]
		case "starter":
			starter = &sub.Entitlements[i]
		}
	}
	require.NotNil(t, pro)
	require.NotNil(t, starter)

	// The subscription block supplies the original purchase date.
	assert.Equal(t, time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC), pro.OriginalPurchaseAt)
	// No subscription block: fall back to the purchase date.
	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), starter.OriginalPurchaseAt)
}

func TestGetSubscriberUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rc := newTestRevenueCat(t, srv)
	_, err := rc.GetSubscriber(context.Background(), "uid_42")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSelectTier(t *testing.T) {
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	future := now.Add(30 * 24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name      string
		ents      []Entitlement
		wantTier  account.Tier
		winnerKey string
	}{
		{
			name:     "no entitlements",
			wantTier: account.TierFree,
		},
		{
			name: "expired entitlement ignored",
			ents: []Entitlement{
				{Key: "pro", ExpiresAt: &past},
			},
			wantTier: account.TierFree,
		},
		{
			name: "highest rank wins",
			ents: []Entitlement{
				{Key: "starter", ExpiresAt: &future},
				{Key: "max", ExpiresAt: &future},
				{Key: "pro", ExpiresAt: &future},
			},
			wantTier:  account.TierMax,
			winnerKey: "max",
		},
		{
			name: "non-expiring is active",
			ents: []Entitlement{
				{Key: "pro"},
			},
			wantTier:  account.TierPro,
			winnerKey: "pro",
		},
		{
			name: "unknown key maps to free",
			ents: []Entitlement{
				{Key: "vip", ExpiresAt: &future},
			},
			wantTier: account.TierFree,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, winner := SelectTier(&Subscriber{Entitlements: tt.ents}, now)
			assert.Equal(t, tt.wantTier, tier)
			if tt.winnerKey == "" {
				assert.Nil(t, winner)
			} else {
				require.NotNil(t, winner)
				assert.Equal(t, tt.winnerKey, winner.Key)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	e := &Entitlement{
		ProductID:          "inkwise.pro.monthly",
		OriginalPurchaseAt: time.UnixMilli(1737000000000).UTC(),
	}
	assert.Equal(t, "inkwise.pro.monthly:1737000000000", Fingerprint(e))

	// Renewal moves PurchasedAt but never the fingerprint.
	e2 := *e
	e2.PurchasedAt = time.Now()
	assert.Equal(t, Fingerprint(e), Fingerprint(&e2))
}

func TestTierForEntitlement(t *testing.T) {
	tests := []struct {
		key  string
		want account.Tier
	}{
		{"max", account.TierMax},
		{"pro", account.TierPro},
		{"starter", account.TierStarter},
		{"", account.TierFree},
		{"unknown", account.TierFree},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierForEntitlement(tt.key), "key %q", tt.key)
	}
}
