package id_test

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"testing"

	"github.com/inkwise/ledger/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		create func() id.ID
		prefix id.Prefix
	}{
		{"trial claim", id.NewTrialClaimID, id.PrefixTrialClaim},
		{"restore record", id.NewRestoreRecordID, id.PrefixRestoreRecord},
		{"webhook event", id.NewWebhookEventID, id.PrefixWebhookEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.create()
			if got.IsNil() {
				t.Fatal("constructor returned nil ID")
			}
			if got.Prefix() != tt.prefix {
				t.Errorf("prefix = %q, want %q", got.Prefix(), tt.prefix)
			}
			if !strings.HasPrefix(got.String(), string(tt.prefix)+"_") {
				t.Errorf("string %q must start with %q", got.String(), string(tt.prefix)+"_")
			}
		})
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		s := id.NewTrialClaimID().String()
		if seen[s] {
			t.Fatalf("duplicate ID generated: %s", s)
		}
		seen[s] = true
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		create func() id.ID
		parse  func(string) (id.ID, error)
	}{
		{"trial claim", id.NewTrialClaimID, id.ParseTrialClaimID},
		{"restore record", id.NewRestoreRecordID, id.ParseRestoreRecordID},
		{"webhook event", id.NewWebhookEventID, id.ParseWebhookEventID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.create()
			parsed, err := tt.parse(original.String())
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round trip: got %q, want %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	claimID := id.NewTrialClaimID()

	if _, err := id.ParseRestoreRecordID(claimID.String()); err == nil {
		t.Error("restore parser must reject a claim ID")
	}
	if _, err := id.ParseWebhookEventID(claimID.String()); err == nil {
		t.Error("webhook parser must reject a claim ID")
	}

	// The untyped parser accepts any valid TypeID.
	if _, err := id.ParseAny(claimID.String()); err != nil {
		t.Errorf("ParseAny rejected a valid ID: %v", err)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no separator", "clm01h2xcejqtf2nbrexx3vqjhp41"},
		{"bad suffix", "clm_not-base32!"},
		{"prefix only", "clm_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := id.Parse(tt.input); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.input)
			}
		})
	}
}

func TestNilID(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Error("Nil must report IsNil")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil string = %q, want empty", id.Nil.String())
	}
	if id.Nil.Prefix() != "" {
		t.Errorf("Nil prefix = %q, want empty", id.Nil.Prefix())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	original := id.NewWebhookEventID()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}

	var decoded id.ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.String() != original.String() {
		t.Errorf("round trip: got %q, want %q", decoded.String(), original.String())
	}
}

func TestSQLValueScan(t *testing.T) {
	original := id.NewRestoreRecordID()

	val, err := original.Value()
	if err != nil {
		t.Fatal(err)
	}
	s, ok := val.(string)
	if !ok {
		t.Fatalf("Value type = %T, want string", val)
	}

	var scanned id.ID
	if err := scanned.Scan(s); err != nil {
		t.Fatal(err)
	}
	if scanned.String() != original.String() {
		t.Errorf("scan round trip: got %q, want %q", scanned.String(), original.String())
	}

	// Nil stores NULL and scans back from nil.
	nilVal, err := id.Nil.Value()
	if err != nil {
		t.Fatal(err)
	}
	if nilVal != driver.Value(nil) {
		t.Errorf("Nil value = %v, want nil", nilVal)
	}

	var fromNull id.ID
	if err := fromNull.Scan(nil); err != nil {
		t.Fatal(err)
	}
	if !fromNull.IsNil() {
		t.Error("scanning NULL must yield the Nil ID")
	}
}
