package attestation

import (
	"context"
	"errors"
	"net"
)

// Client queries and updates the two-bit state for a device.
//
// The device token is an opaque, short-lived credential produced by the
// client platform; implementations must never log it.
type Client interface {
	QueryBits(ctx context.Context, deviceToken string) (Bits, error)
	UpdateBits(ctx context.Context, deviceToken string, b Bits) error
}

// Sentinel errors for attestation transport failures.
var (
	// ErrTimeout indicates the call did not complete within its deadline.
	// After a timed-out bit write the remote state is unknown; callers
	// must treat the operation as retryable, never as success.
	ErrTimeout = errors.New("attestation: timeout")

	// ErrUnavailable indicates the service rejected or failed the call.
	ErrUnavailable = errors.New("attestation: service unavailable")

	// ErrBadToken indicates the service rejected the device token.
	ErrBadToken = errors.New("attestation: invalid device token")
)

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
