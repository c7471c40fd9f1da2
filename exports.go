package ledger

import (
	"github.com/inkwise/ledger/account"
	"github.com/inkwise/ledger/types"
)

// Re-export common types for convenience so users don't have to import the
// subpackages for everyday calls.

// Entity is re-exported from the types package.
type Entity = types.Entity

// Re-export Entity constructor
var NewEntity = types.NewEntity

// UsageType and Tier are re-exported from the account package.
type (
	UsageType = account.UsageType
	Tier      = account.Tier
)

// Usage type and tier constants.
const (
	UsageGenerate = account.UsageGenerate
	UsageDownload = account.UsageDownload

	TierFree    = account.TierFree
	TierStarter = account.TierStarter
	TierPro     = account.TierPro
	TierMax     = account.TierMax
)
