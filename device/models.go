// Package device defines per-device records used to make trial grants
// at-most-once per physical device, across reinstalls and account switches.
//
// Devices are never stored by raw identifier: every record is keyed by a
// one-way hash, so the store holds no recoverable device or token material.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/inkwise/ledger/id"
	"github.com/inkwise/ledger/types"
)

// TrialRecord marks a physical device as having consumed its one-time trial.
// Keyed by HashDeviceID of the client device identifier. Created at most once
// per device; TrialUsed is monotonic false→true and never reset by normal
// operation.
type TrialRecord struct {
	types.Entity `bson:",inline"`

	DeviceHash string           `json:"device_hash" bson:"_id"`
	ClaimID    id.TrialClaimID  `json:"claim_id" bson:"claim_id"`
	TrialUsed  bool             `json:"trial_used" bson:"trial_used"`
	FirstUID   string           `json:"first_uid" bson:"first_uid"`
	UsedAt     *time.Time       `json:"used_at,omitempty" bson:"used_at,omitempty"`

	// RestoreID is the hash of the restore token associated with this
	// device, when one was supplied at claim time. It lets a restore
	// recover the token association after local-storage loss.
	RestoreID string `json:"restore_id,omitempty" bson:"restore_id,omitempty"`
}

// RestoreRecord tracks which account a physical device was last associated
// with. Keyed by HashRestoreToken of a persistent client-held token.
// LastUID is updated on every restore attempt.
type RestoreRecord struct {
	types.Entity `bson:",inline"`

	TokenHash      string             `json:"token_hash" bson:"_id"`
	RecordID       id.RestoreRecordID `json:"record_id" bson:"record_id"`
	FirstUID       string             `json:"first_uid" bson:"first_uid"`
	LastUID        string             `json:"last_uid" bson:"last_uid"`
	LastSeenAt     time.Time          `json:"last_seen_at" bson:"last_seen_at"`
	LastRestoredAt *time.Time         `json:"last_restored_at,omitempty" bson:"last_restored_at,omitempty"`
}

// HashDeviceID returns the one-way hash under which a device identifier is
// stored. The raw identifier must never be persisted or logged.
func HashDeviceID(raw string) string {
	return hashHex("device:" + raw)
}

// HashRestoreToken returns the one-way hash under which a restore token is
// stored.
func HashRestoreToken(raw string) string {
	return hashHex("restore:" + raw)
}

// NewRestoreToken mints a fresh restore token for a client to hold.
// Only the hash of the token is ever stored server-side.
func NewRestoreToken() string {
	return uuid.NewString()
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy of the trial record.
func (r *TrialRecord) Clone() *TrialRecord {
	if r == nil {
		return nil
	}
	dup := *r
	if r.UsedAt != nil {
		t := *r.UsedAt
		dup.UsedAt = &t
	}
	return &dup
}

// Clone returns a deep copy of the restore record.
func (r *RestoreRecord) Clone() *RestoreRecord {
	if r == nil {
		return nil
	}
	dup := *r
	if r.LastRestoredAt != nil {
		t := *r.LastRestoredAt
		dup.LastRestoredAt = &t
	}
	return &dup
}
