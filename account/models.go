// Package account defines the account entity: the per-user document holding
// subscription state, the monthly allowance, and promotional free credits.
package account

import (
	"time"

	"github.com/inkwise/ledger/types"
)

// UsageType identifies a metered capability.
type UsageType string

const (
	UsageGenerate UsageType = "generate"
	UsageDownload UsageType = "download"
)

// Valid reports whether t is a known usage type.
func (t UsageType) Valid() bool {
	return t == UsageGenerate || t == UsageDownload
}

// Tier is a subscription tier. Ordering matters: when a billing provider
// reports multiple active entitlements, the highest-ranked tier wins.
type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
	TierMax     Tier = "max"
)

// Rank returns the priority of the tier (higher wins). Unknown tiers rank
// below free so a malformed provider payload can never grant access.
func (t Tier) Rank() int {
	switch t {
	case TierMax:
		return 3
	case TierPro:
		return 2
	case TierStarter:
		return 1
	case TierFree:
		return 0
	default:
		return -1
	}
}

// Paid reports whether the tier grants a monthly allowance.
func (t Tier) Paid() bool {
	return t == TierStarter || t == TierPro || t == TierMax
}

// Limits is the per-type monthly allowance a tier grants.
type Limits struct {
	Generate int `json:"generate"`
	Download int `json:"download"`
}

// DefaultTierLimits maps each paid tier to its monthly allowance.
func DefaultTierLimits() map[Tier]Limits {
	return map[Tier]Limits{
		TierStarter: {Generate: 50, Download: 25},
		TierPro:     {Generate: 200, Download: 100},
		TierMax:     {Generate: 500, Download: 250},
	}
}

// Subscription is the billing-provider-derived portion of an account.
//
// Fingerprint is a stable identifier of the underlying purchase, shared by
// every account that has ever held that same subscription instance. It is
// the key used to detect sibling accounts riding a shared purchase.
type Subscription struct {
	Status           Tier       `json:"status" bson:"status"`
	IsActive         bool       `json:"is_active" bson:"is_active"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty" bson:"current_period_end,omitempty"`
	Provider         string     `json:"provider,omitempty" bson:"provider,omitempty"`
	Fingerprint      string     `json:"fingerprint,omitempty" bson:"fingerprint,omitempty"`
}

// MonthlyAllowance bounds subscription usage for the current billing period.
// Counters reset only on a genuine new billing period.
type MonthlyAllowance struct {
	GenerateLimit   int `json:"generate_limit" bson:"generate_limit"`
	DownloadLimit   int `json:"download_limit" bson:"download_limit"`
	GenerationsUsed int `json:"generations_used" bson:"generations_used"`
	DownloadsUsed   int `json:"downloads_used" bson:"downloads_used"`
}

// Remaining returns the unused monthly allowance for t, never negative.
func (m MonthlyAllowance) Remaining(t UsageType) int {
	switch t {
	case UsageGenerate:
		return max(0, m.GenerateLimit-m.GenerationsUsed)
	case UsageDownload:
		return max(0, m.DownloadLimit-m.DownloadsUsed)
	default:
		return 0
	}
}

// Consume records one unit of usage against the monthly allowance.
func (m *MonthlyAllowance) Consume(t UsageType) {
	switch t {
	case UsageGenerate:
		m.GenerationsUsed++
	case UsageDownload:
		m.DownloadsUsed++
	}
}

// Used returns the consumed counter for t.
func (m MonthlyAllowance) Used(t UsageType) int {
	switch t {
	case UsageGenerate:
		return m.GenerationsUsed
	case UsageDownload:
		return m.DownloadsUsed
	default:
		return 0
	}
}

// FreeCredits is promotional/trial credit, independent of subscription state.
//
// Two field shapes coexist in stored documents. The current shape is the
// {limit, used} pair per type. The legacy shape is a flattened remaining
// counter per type ("generate", "download") with no used/limit split.
// Reads must accept either; writes always emit the current shape and clear
// the legacy fields, so the schema self-migrates per account on first touch.
type FreeCredits struct {
	GenerateLimit   int `json:"generate_limit" bson:"generate_limit"`
	DownloadLimit   int `json:"download_limit" bson:"download_limit"`
	GenerationsUsed int `json:"generations_used" bson:"generations_used"`
	DownloadsUsed   int `json:"downloads_used" bson:"downloads_used"`

	// Legacy flattened remaining counters. Nil once migrated.
	LegacyGenerate *int `json:"generate,omitempty" bson:"generate,omitempty"`
	LegacyDownload *int `json:"download,omitempty" bson:"download,omitempty"`
}

// Normalize folds any legacy flattened counters into the {limit, used} shape
// (limit=value, used=0) and clears the legacy fields. Idempotent.
func (f *FreeCredits) Normalize() {
	if f.LegacyGenerate != nil {
		f.GenerateLimit += max(0, *f.LegacyGenerate)
		f.LegacyGenerate = nil
	}
	if f.LegacyDownload != nil {
		f.DownloadLimit += max(0, *f.LegacyDownload)
		f.LegacyDownload = nil
	}
}

// Remaining returns the net free credit for t, reading either field shape.
func (f FreeCredits) Remaining(t UsageType) int {
	switch t {
	case UsageGenerate:
		n := max(0, f.GenerateLimit-f.GenerationsUsed)
		if f.LegacyGenerate != nil {
			n += max(0, *f.LegacyGenerate)
		}
		return n
	case UsageDownload:
		n := max(0, f.DownloadLimit-f.DownloadsUsed)
		if f.LegacyDownload != nil {
			n += max(0, *f.LegacyDownload)
		}
		return n
	default:
		return 0
	}
}

// Consume records one unit against free credit. Callers must Normalize first
// so exactly one field shape is written back.
func (f *FreeCredits) Consume(t UsageType) {
	switch t {
	case UsageGenerate:
		f.GenerationsUsed++
	case UsageDownload:
		f.DownloadsUsed++
	}
}

// Add grants additional free credit.
func (f *FreeCredits) Add(generate, download int) {
	f.GenerateLimit += generate
	f.DownloadLimit += download
}

// Zero clears all free credit fields, both shapes. Used when migrating
// credit off an abandoned account so the transfer is non-repeatable.
func (f *FreeCredits) Zero() {
	*f = FreeCredits{}
}

// Account is the ledger's unit of truth for one end-user identity, keyed by
// the auth system's uid. Created lazily on first reference with all-zero
// allowances; never deleted by this subsystem.
type Account struct {
	types.Entity `bson:",inline"`

	UID          string           `json:"uid" bson:"_id"`
	Subscription Subscription     `json:"subscription" bson:"subscription"`
	Monthly      MonthlyAllowance `json:"monthly_allowance" bson:"monthly_allowance"`
	Free         FreeCredits      `json:"free_credits" bson:"free_credits"`

	HasClaimedTrial bool       `json:"has_claimed_trial" bson:"has_claimed_trial"`
	TrialProvider   string     `json:"trial_provider,omitempty" bson:"trial_provider,omitempty"`
	LastUsedAt      time.Time  `json:"last_used_at" bson:"last_used_at"`
	TrialClaimedAt  *time.Time `json:"trial_claimed_at,omitempty" bson:"trial_claimed_at,omitempty"`
	TrialRestoredAt *time.Time `json:"trial_restored_at,omitempty" bson:"trial_restored_at,omitempty"`
}

// New returns a fresh account with zeroed allowances and no subscription.
func New(uid string) *Account {
	return &Account{
		Entity: types.NewEntity(),
		UID:    uid,
		Subscription: Subscription{
			Status:   TierFree,
			IsActive: false,
		},
		LastUsedAt: time.Now().UTC(),
	}
}

// Remaining computes the layered remaining allowance for t:
// the active monthly remainder (zero when the subscription is inactive)
// plus net free credit. Never negative.
func (a *Account) Remaining(t UsageType) int {
	var monthly int
	if a.Subscription.IsActive {
		monthly = a.Monthly.Remaining(t)
	}
	return monthly + a.Free.Remaining(t)
}

// Clone returns a deep copy. Stores hand out clones so transaction buffers
// never alias live documents.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dup := *a
	dup.Subscription.CurrentPeriodEnd = clonePtr(a.Subscription.CurrentPeriodEnd)
	dup.Free.LegacyGenerate = clonePtr(a.Free.LegacyGenerate)
	dup.Free.LegacyDownload = clonePtr(a.Free.LegacyDownload)
	dup.TrialClaimedAt = clonePtr(a.TrialClaimedAt)
	dup.TrialRestoredAt = clonePtr(a.TrialRestoredAt)
	return &dup
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
