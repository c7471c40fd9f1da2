package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the RevenueCat REST API host.
const DefaultBaseURL = "https://api.revenuecat.com"

const defaultTimeout = 10 * time.Second

// RevenueCatConfig configures the RevenueCat provider client.
type RevenueCatConfig struct {
	// APIKey is the secret server API key.
	APIKey string
	// BaseURL overrides the API host, mainly for tests.
	BaseURL string
	// Timeout bounds each HTTP call. Defaults to 10s.
	Timeout time.Duration
	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// RevenueCat implements Provider against the RevenueCat subscribers API.
type RevenueCat struct {
	cfg  RevenueCatConfig
	http *http.Client
}

var _ Provider = (*RevenueCat)(nil)

// NewRevenueCat returns a ready provider client.
func NewRevenueCat(cfg RevenueCatConfig) (*RevenueCat, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("billing: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &RevenueCat{cfg: cfg, http: hc}, nil
}

type subscriberResponse struct {
	Subscriber struct {
		Entitlements map[string]struct {
			ProductIdentifier string     `json:"product_identifier"`
			ExpiresDate       *time.Time `json:"expires_date"`
			PurchaseDate      time.Time  `json:"purchase_date"`
		} `json:"entitlements"`
		Subscriptions map[string]struct {
			OriginalPurchaseDate time.Time `json:"original_purchase_date"`
		} `json:"subscriptions"`
	} `json:"subscriber"`
}

// GetSubscriber implements Provider.
func (c *RevenueCat) GetSubscriber(ctx context.Context, appUserID string) (*Subscriber, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := c.cfg.BaseURL + "/v1/subscribers/" + url.PathEscape(appUserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("billing: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if IsTimeout(err) {
			return nil, fmt.Errorf("%w: get subscriber", ErrTimeout)
		}
		return nil, fmt.Errorf("%w: get subscriber: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-side close

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var decoded subscriberResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("billing: decode subscriber: %w", err)
	}

	sub := &Subscriber{AppUserID: appUserID}
	for key, ent := range decoded.Subscriber.Entitlements {
		e := Entitlement{
			Key:         key,
			ProductID:   ent.ProductIdentifier,
			ExpiresAt:   ent.ExpiresDate,
			PurchasedAt: ent.PurchaseDate,
			// Fall back to the purchase date when the subscription block
			// is missing (e.g. promotional entitlements).
			OriginalPurchaseAt: ent.PurchaseDate,
		}
		if s, ok := decoded.Subscriber.Subscriptions[ent.ProductIdentifier]; ok {
			e.OriginalPurchaseAt = s.OriginalPurchaseDate
		}
		sub.Entitlements = append(sub.Entitlements, e)
	}

	return sub, nil
}
