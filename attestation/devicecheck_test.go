package attestation

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testSigningKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func newTestDeviceCheck(t *testing.T, srv *httptest.Server) *DeviceCheck {
	t.Helper()
	dc, err := NewDeviceCheck(DeviceCheckConfig{
		KeyID:         "KEY123",
		TeamID:        "TEAM456",
		PrivateKeyPEM: testSigningKeyPEM(t),
		BaseURL:       srv.URL,
		HTTPClient:    srv.Client(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return dc
}

func TestNewDeviceCheckValidation(t *testing.T) {
	pemKey := testSigningKeyPEM(t)

	tests := []struct {
		name string
		cfg  DeviceCheckConfig
	}{
		{"missing key id", DeviceCheckConfig{TeamID: "TEAM", PrivateKeyPEM: pemKey}},
		{"missing team id", DeviceCheckConfig{KeyID: "KEY", PrivateKeyPEM: pemKey}},
		{"bad pem", DeviceCheckConfig{KeyID: "KEY", TeamID: "TEAM", PrivateKeyPEM: []byte("not a key")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDeviceCheck(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestQueryBits(t *testing.T) {
	var gotAuth string
	var gotReq queryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != queryPath {
			t.Errorf("path = %q, want %q", r.URL.Path, queryPath)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(queryResponse{Bit0: true, Bit1: false}) //nolint:errcheck
	}))
	defer srv.Close()

	dc := newTestDeviceCheck(t, srv)
	bits, err := dc.QueryBits(context.Background(), "tok-abc")
	if err != nil {
		t.Fatal(err)
	}
	if !bits.Consumed || bits.Locked {
		t.Errorf("bits = %+v, want consumed only", bits)
	}

	if !strings.HasPrefix(gotAuth, "Bearer ey") {
		t.Errorf("Authorization = %q, want signed bearer credential", gotAuth)
	}
	if gotReq.DeviceToken != "tok-abc" {
		t.Errorf("device_token = %q", gotReq.DeviceToken)
	}
	if gotReq.TransactionID == "" || gotReq.Timestamp == 0 {
		t.Error("transaction_id and timestamp must be set")
	}
}

func TestQueryBitsNeverWritten(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"bit state not found", "Failed to find bit state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body)) //nolint:errcheck
			}))
			defer srv.Close()

			dc := newTestDeviceCheck(t, srv)
			bits, err := dc.QueryBits(context.Background(), "tok")
			if err != nil {
				t.Fatal(err)
			}
			if bits != (Bits{}) {
				t.Errorf("bits = %+v, want zero state", bits)
			}
		})
	}
}

func TestUpdateBits(t *testing.T) {
	var gotReq updateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != updatePath {
			t.Errorf("path = %q, want %q", r.URL.Path, updatePath)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatal(err)
		}
	}))
	defer srv.Close()

	dc := newTestDeviceCheck(t, srv)
	if err := dc.UpdateBits(context.Background(), "tok", Bits{Consumed: true, Locked: true}); err != nil {
		t.Fatal(err)
	}
	if !gotReq.Bit0 || !gotReq.Bit1 {
		t.Errorf("request bits = %v/%v, want both set", gotReq.Bit0, gotReq.Bit1)
	}
}

func TestBadTokenRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Missing or incorrectly formatted device token")) //nolint:errcheck
	}))
	defer srv.Close()

	dc := newTestDeviceCheck(t, srv)
	_, err := dc.QueryBits(context.Background(), "garbage")
	if !errors.Is(err, ErrBadToken) {
		t.Errorf("err = %v, want ErrBadToken", err)
	}
}

func TestServerErrorUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dc := newTestDeviceCheck(t, srv)
	err := dc.UpdateBits(context.Background(), "tok", Bits{Consumed: true})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(ErrTimeout) {
		t.Error("sentinel must report as timeout")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("deadline exceeded must report as timeout")
	}
	if IsTimeout(errors.New("boom")) {
		t.Error("generic error must not report as timeout")
	}
}
