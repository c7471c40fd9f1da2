package attestation

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DeviceCheck endpoints. The development host serves tokens minted by
// sandbox builds.
const (
	ProductionBaseURL  = "https://api.devicecheck.apple.com"
	DevelopmentBaseURL = "https://api.development.devicecheck.apple.com"

	queryPath  = "/v1/query_two_bits"
	updatePath = "/v1/update_two_bits"

	defaultTimeout = 10 * time.Second
)

// DeviceCheckConfig configures the Apple DeviceCheck client.
type DeviceCheckConfig struct {
	// KeyID is the identifier of the .p8 signing key.
	KeyID string
	// TeamID is the developer team identifier (JWT issuer).
	TeamID string
	// PrivateKeyPEM is the PKCS#8 PEM-encoded ES256 signing key.
	PrivateKeyPEM []byte
	// BaseURL overrides the API host. Defaults to ProductionBaseURL.
	BaseURL string
	// Timeout bounds each HTTP call. Defaults to 10s.
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// DeviceCheck implements Client against Apple's DeviceCheck two-bit API.
// Every call carries a freshly signed short-lived ES256 credential.
type DeviceCheck struct {
	cfg  DeviceCheckConfig
	key  *ecdsa.PrivateKey
	http *http.Client
}

var _ Client = (*DeviceCheck)(nil)

// NewDeviceCheck parses the signing key and returns a ready client.
func NewDeviceCheck(cfg DeviceCheckConfig) (*DeviceCheck, error) {
	if cfg.KeyID == "" || cfg.TeamID == "" {
		return nil, errors.New("attestation: key id and team id are required")
	}

	key, err := parseECPrivateKey(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("attestation: parse signing key: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = ProductionBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &DeviceCheck{cfg: cfg, key: key, http: hc}, nil
}

type queryRequest struct {
	DeviceToken   string `json:"device_token"`
	TransactionID string `json:"transaction_id"`
	Timestamp     int64  `json:"timestamp"`
}

type queryResponse struct {
	Bit0           bool   `json:"bit0"`
	Bit1           bool   `json:"bit1"`
	LastUpdateTime string `json:"last_update_time"`
}

type updateRequest struct {
	DeviceToken   string `json:"device_token"`
	TransactionID string `json:"transaction_id"`
	Timestamp     int64  `json:"timestamp"`
	Bit0          bool   `json:"bit0"`
	Bit1          bool   `json:"bit1"`
}

// QueryBits implements Client. A device that has never been written reports
// both bits clear.
func (c *DeviceCheck) QueryBits(ctx context.Context, deviceToken string) (Bits, error) {
	body, err := c.post(ctx, queryPath, queryRequest{
		DeviceToken:   deviceToken,
		TransactionID: uuid.NewString(),
		Timestamp:     time.Now().UnixMilli(),
	})
	if err != nil {
		return Bits{}, err
	}

	// The API answers a bodyless 200 (or a "bit state not found" text) for
	// devices that were never written. Treat both as the zero state.
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || strings.Contains(trimmed, "Failed to find bit state") {
		return Bits{}, nil
	}

	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Bits{}, fmt.Errorf("attestation: decode query response: %w", err)
	}

	return Bits{Consumed: resp.Bit0, Locked: resp.Bit1}, nil
}

// UpdateBits implements Client.
func (c *DeviceCheck) UpdateBits(ctx context.Context, deviceToken string, b Bits) error {
	_, err := c.post(ctx, updatePath, updateRequest{
		DeviceToken:   deviceToken,
		TransactionID: uuid.NewString(),
		Timestamp:     time.Now().UnixMilli(),
		Bit0:          b.Consumed,
		Bit1:          b.Locked,
	})
	return err
}

func (c *DeviceCheck) post(ctx context.Context, path string, payload any) ([]byte, error) {
	cred, err := c.credential()
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("attestation: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("attestation: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if IsTimeout(err) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-side close

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrUnavailable, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(string(body), "Missing or incorrectly formatted device token"):
		return nil, ErrBadToken
	default:
		return nil, fmt.Errorf("%w: %s: status %d", ErrUnavailable, path, resp.StatusCode)
	}
}

// credential signs a short-lived per-call JWT identifying the developer team.
func (c *DeviceCheck) credential() (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": c.cfg.TeamID,
		"iat": time.Now().Unix(),
	})
	tok.Header["kid"] = c.cfg.KeyID

	signed, err := tok.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("attestation: sign credential: %w", err)
	}
	return signed, nil
}

func parseECPrivateKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		ec, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an EC key")
		}
		return ec, nil
	}

	return x509.ParseECPrivateKey(block.Bytes)
}
