// Package attestation talks to an external per-device attestation service
// holding two independent bits per physical device. The bits survive app
// reinstalls and account deletion, which makes them the only authority for
// "this device already consumed its trial".
//
// bit0 means "trial permanently consumed on this device". bit1 is a soft
// lock, set while a claim is in flight. The service has no transactional
// API, so callers drive an explicit lock/act/unlock sequence with a
// compensating write on failure.
package attestation

// Bits is the raw two-bit state returned by the attestation service.
type Bits struct {
	Consumed bool `json:"bit0"` // trial permanently consumed
	Locked   bool `json:"bit1"` // claim in progress (soft lock)
}

// State is the observable device state derived from the two bits.
type State int

const (
	// StateUnclaimed means neither bit is set: the device may claim.
	StateUnclaimed State = iota

	// StateLocked means a claim is in flight (bit1 set, bit0 clear).
	// A concurrent claim attempt must be rejected, never double-granted.
	StateLocked

	// StateClaimed means the trial was consumed (bit0 set). Terminal.
	// bit0 wins over bit1: a device left with both bits set after a
	// finalize failure is still claimed.
	StateClaimed
)

// StateOf derives the observable state from raw bits.
func StateOf(b Bits) State {
	switch {
	case b.Consumed:
		return StateClaimed
	case b.Locked:
		return StateLocked
	default:
		return StateUnclaimed
	}
}

// Bits returns the canonical bit pattern for the state.
func (s State) Bits() Bits {
	switch s {
	case StateLocked:
		return Bits{Consumed: false, Locked: true}
	case StateClaimed:
		return Bits{Consumed: true, Locked: false}
	default:
		return Bits{}
	}
}

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUnclaimed:
		return "unclaimed"
	case StateLocked:
		return "locked"
	case StateClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}
