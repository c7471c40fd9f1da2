package device

import "context"

// Store is the device-facing slice of the unified storage interface:
// snapshot reads used by operator tooling. Transactional access goes through
// the store package's Tx.
type Store interface {
	GetTrialRecord(ctx context.Context, deviceHash string) (*TrialRecord, error)
}
