package ledger

import (
	"errors"

	"github.com/inkwise/ledger/attestation"
	"github.com/inkwise/ledger/billing"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrInvalidInput = errors.New("ledger: invalid input")
	ErrNotFound     = errors.New("ledger: not found")
	ErrInternal     = errors.New("ledger: internal failure")

	// Account errors
	ErrAccountNotFound = errors.New("ledger: account not found")

	// Usage errors
	ErrInsufficientCredit = errors.New("ledger: insufficient credit")

	// Trial errors. Both are terminal device states: retrying the same
	// device cannot succeed.
	ErrTrialAlreadyClaimed = errors.New("ledger: trial already claimed on this device")
	ErrTrialInProgress     = errors.New("ledger: trial claim in progress on this device")

	// Device errors
	ErrDeviceNotFound = errors.New("ledger: device record not found")

	// Upstream errors (attestation service, billing provider)
	ErrUpstreamTimeout     = errors.New("ledger: upstream timeout")
	ErrUpstreamUnavailable = errors.New("ledger: upstream unavailable")

	// Webhook errors
	ErrWebhookUnauthorized = errors.New("ledger: webhook unauthorized")

	// Store errors
	ErrTransactionFailed = errors.New("ledger: transaction failed")
	ErrStoreClosed       = errors.New("ledger: store is closed")
)

// IsInsufficientCredit reports whether the failure means the account has no
// remaining allowance. Not retryable; the user needs an upgrade or purchase.
func IsInsufficientCredit(err error) bool {
	return errors.Is(err, ErrInsufficientCredit)
}

// IsTerminalTrialState reports whether the failure is a terminal device
// trial state that no retry can change.
func IsTerminalTrialState(err error) bool {
	return errors.Is(err, ErrTrialAlreadyClaimed) || errors.Is(err, ErrTrialInProgress)
}

// IsNotFound reports whether the error is any not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrDeviceNotFound)
}

// IsRetryable reports whether the error is transient and the request can be
// retried by the caller. The ledger itself never retries beyond what the
// store's transaction layer provides.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamTimeout) ||
		errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrTransactionFailed)
}

// upstreamErr translates an attestation or billing transport failure into
// the ledger taxonomy, preserving the cause for errors.Is inspection.
func upstreamErr(err error) error {
	switch {
	case attestation.IsTimeout(err) || billing.IsTimeout(err):
		return errors.Join(ErrUpstreamTimeout, err)
	default:
		return errors.Join(ErrUpstreamUnavailable, err)
	}
}
