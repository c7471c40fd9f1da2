package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/inkwise/ledger/account"
	"github.com/inkwise/ledger/attestation"
	"github.com/inkwise/ledger/device"
	"github.com/inkwise/ledger/id"
	"github.com/inkwise/ledger/store"
)

// TrialGrant reports the outcome of a trial claim.
type TrialGrant struct {
	// Generate and Download are the free credits added to the account.
	// Both are zero when the account had already claimed a trial elsewhere
	// (idempotent no-op).
	Generate int `json:"generate"`
	Download int `json:"download"`

	// Finalized is false only on the attested path, when credits were
	// granted but the device's consumed bit could not be written. The
	// credits stand; the device state is left for operator reconciliation.
	Finalized bool `json:"finalized"`
}

// ClaimDeviceTrial grants the one-time device-bound trial for devices
// without an attestation service (Android-class). The whole claim is a
// single store transaction: either the device is marked used and the
// account credited, or neither happens.
//
// deviceHash must already be the one-way hash of the device identifier
// (device.HashDeviceID); raw identifiers never reach the ledger.
// restoreToken is optional; when present, a restore record is upserted so
// unused credit can follow the device to a future account.
func (l *Ledger) ClaimDeviceTrial(ctx context.Context, uid, deviceHash, restoreToken string) (*TrialGrant, error) {
	if uid == "" || deviceHash == "" {
		return nil, fmt.Errorf("%w: uid and device hash are required", ErrInvalidInput)
	}

	grant := &TrialGrant{Finalized: true}
	err := l.store.RunTransaction(ctx, func(tx store.Tx) error {
		grant.Generate, grant.Download = 0, 0

		rec, err := tx.TrialRecord(deviceHash)
		if err != nil && !errors.Is(err, ErrDeviceNotFound) {
			return err
		}
		if rec != nil && rec.TrialUsed {
			return ErrTrialAlreadyClaimed
		}

		a, err := tx.Account(uid)
		if errors.Is(err, ErrAccountNotFound) {
			a = account.New(uid)
		} else if err != nil {
			return err
		}

		// The device is fresh but the account already holds trial credit
		// from elsewhere: succeed with a zero grant and leave the device
		// unclaimed for its next owner.
		if a.HasClaimedTrial {
			return nil
		}

		now := l.clock()
		if rec == nil {
			rec = &device.TrialRecord{
				DeviceHash: deviceHash,
				ClaimID:    id.NewTrialClaimID(),
			}
			rec.CreatedAt = now
		}
		rec.TrialUsed = true
		rec.FirstUID = uid
		rec.UsedAt = &now
		rec.UpdatedAt = now

		if restoreToken != "" {
			tokenHash := device.HashRestoreToken(restoreToken)
			rec.RestoreID = tokenHash

			rr, err := tx.RestoreRecord(tokenHash)
			if errors.Is(err, ErrDeviceNotFound) {
				rr = &device.RestoreRecord{
					TokenHash: tokenHash,
					RecordID:  id.NewRestoreRecordID(),
					FirstUID:  uid,
				}
				rr.CreatedAt = now
			} else if err != nil {
				return err
			}
			rr.LastUID = uid
			rr.LastSeenAt = now
			rr.UpdatedAt = now
			if err := tx.PutRestoreRecord(rr); err != nil {
				return err
			}
		}

		if err := tx.PutTrialRecord(rec); err != nil {
			return err
		}

		a.Free.Normalize()
		a.Free.Add(l.trialGrant.Generate, l.trialGrant.Download)
		a.HasClaimedTrial = true
		a.TrialProvider = "device"
		a.TrialClaimedAt = &now
		a.Touch()

		grant.Generate = l.trialGrant.Generate
		grant.Download = l.trialGrant.Download
		return tx.PutAccount(a)
	})
	if err != nil {
		if errors.Is(err, ErrTrialAlreadyClaimed) {
			l.plugins.EmitTrialRejected(ctx, uid, "already_claimed")
			l.logger.Info("trial rejected",
				"uid", uid,
				"op", "claim_device_trial",
				"error_kind", "already_claimed",
			)
		}
		return nil, err
	}

	l.plugins.EmitTrialClaimed(ctx, uid, "device", grant.Generate+grant.Download)
	return grant, nil
}

// ClaimAttestedTrial grants the one-time trial for devices backed by the
// external two-bit attestation service (Apple-class). The device token is
// opaque and never logged; the caller must have authenticated uid before
// invoking, since this path grants value.
//
// Sequence: query bits, soft-lock (bit1), grant credits in a store
// transaction, then finalize (bit0=1, bit1=0). The lock precedes the
// irreversible ledger write so a concurrent claim from the same device is
// rejected rather than double-granted; the grant precedes the final unlock
// so a crash between lock and grant is recovered by the compensating
// unlock instead of leaving the device permanently unable to claim.
func (l *Ledger) ClaimAttestedTrial(ctx context.Context, uid, deviceToken string) (*TrialGrant, error) {
	if uid == "" || deviceToken == "" {
		return nil, fmt.Errorf("%w: uid and device token are required", ErrInvalidInput)
	}

	client, err := l.attestation(ctx)
	if err != nil {
		return nil, err
	}

	bits, err := client.QueryBits(ctx, deviceToken)
	if err != nil {
		return nil, upstreamErr(err)
	}

	switch attestation.StateOf(bits) {
	case attestation.StateClaimed:
		l.plugins.EmitTrialRejected(ctx, uid, "already_claimed")
		return nil, ErrTrialAlreadyClaimed
	case attestation.StateLocked:
		l.plugins.EmitTrialRejected(ctx, uid, "in_progress")
		return nil, ErrTrialInProgress
	case attestation.StateUnclaimed:
		// proceed
	}

	// Soft-lock the device. A timeout here leaves the lock state unknown:
	// surface it as retryable, never as success. A retry that finds the
	// lock set is rejected cleanly, which is safe.
	if err := client.UpdateBits(ctx, deviceToken, attestation.StateLocked.Bits()); err != nil {
		return nil, upstreamErr(err)
	}

	grant := &TrialGrant{Finalized: true}
	err = l.store.RunTransaction(ctx, func(tx store.Tx) error {
		grant.Generate, grant.Download = 0, 0

		a, err := tx.Account(uid)
		if errors.Is(err, ErrAccountNotFound) {
			a = account.New(uid)
		} else if err != nil {
			return err
		}

		// Idempotent: an account that already claimed gets a zero grant,
		// but the claim still proceeds to finalize the device.
		if a.HasClaimedTrial {
			return tx.PutAccount(a)
		}

		now := l.clock()
		a.Free.Normalize()
		a.Free.Add(l.trialGrant.Generate, l.trialGrant.Download)
		a.HasClaimedTrial = true
		a.TrialProvider = "devicecheck"
		a.TrialClaimedAt = &now
		a.Touch()

		grant.Generate = l.trialGrant.Generate
		grant.Download = l.trialGrant.Download
		return tx.PutAccount(a)
	})
	if err != nil {
		// Grant failed: compensate by clearing the soft lock, best
		// effort, so the device can claim later.
		if compErr := client.UpdateBits(ctx, deviceToken, attestation.StateUnclaimed.Bits()); compErr != nil {
			l.logger.Error("trial compensation failed, device left soft-locked",
				"uid", uid,
				"op", "claim_attested_trial",
				"error", compErr,
			)
		}
		return nil, err
	}

	// Finalize: mark the trial permanently consumed. Credits already
	// granted are never revoked because this write failed; report partial
	// success instead.
	if err := client.UpdateBits(ctx, deviceToken, attestation.StateClaimed.Bits()); err != nil {
		grant.Finalized = false
		l.plugins.EmitTrialUnfinalized(ctx, uid)
		l.logger.Warn("trial granted but device not finalized",
			"uid", uid,
			"op", "claim_attested_trial",
			"error", err,
		)
		return grant, nil
	}

	l.plugins.EmitTrialClaimed(ctx, uid, "devicecheck", grant.Generate+grant.Download)
	return grant, nil
}

// ReleaseDeviceLock clears a stale soft lock (bit1) left by a crashed claim.
// Operator tooling only: it refuses to touch a device whose trial was
// already consumed.
func (l *Ledger) ReleaseDeviceLock(ctx context.Context, deviceToken string) error {
	if deviceToken == "" {
		return fmt.Errorf("%w: empty device token", ErrInvalidInput)
	}

	client, err := l.attestation(ctx)
	if err != nil {
		return err
	}

	bits, err := client.QueryBits(ctx, deviceToken)
	if err != nil {
		return upstreamErr(err)
	}
	if bits.Consumed {
		return ErrTrialAlreadyClaimed
	}
	if !bits.Locked {
		return nil
	}

	if err := client.UpdateBits(ctx, deviceToken, attestation.StateUnclaimed.Bits()); err != nil {
		return upstreamErr(err)
	}

	l.logger.Info("device soft lock released", "op", "release_device_lock")
	return nil
}
