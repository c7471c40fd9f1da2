package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/inkwise/ledger/account"
	"github.com/inkwise/ledger/device"
	"github.com/inkwise/ledger/store"
)

// RestoreResult reports the outcome of a credit restore.
type RestoreResult struct {
	// Generate and Download are the free credits moved to the current
	// account. Both zero means nothing was transferred; Reason says why.
	Generate int    `json:"generate"`
	Download int    `json:"download"`
	FromUID  string `json:"from_uid,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Restored returns the total credit moved.
func (r *RestoreResult) Restored() int {
	return r.Generate + r.Download
}

// RestoreCredits migrates unclaimed free credit from the account a device
// was previously associated with to the current one, after a reinstall or
// re-auth. The transfer is conservative: total free credit in the system is
// unchanged, only reassigned, and the source is zeroed in the same
// transaction so a second restore with the same token yields zero.
//
// restoreToken is the client-held token; deviceHash is optional and lets
// the ledger recover the token association from the device's trial record
// after local-storage loss.
func (l *Ledger) RestoreCredits(ctx context.Context, uid, restoreToken, deviceHash string) (*RestoreResult, error) {
	if uid == "" {
		return nil, fmt.Errorf("%w: empty uid", ErrInvalidInput)
	}
	if restoreToken == "" && deviceHash == "" {
		return nil, fmt.Errorf("%w: restore token or device hash is required", ErrInvalidInput)
	}

	result := &RestoreResult{}
	err := l.store.RunTransaction(ctx, func(tx store.Tx) error {
		*result = RestoreResult{}

		tokenHash := ""
		if restoreToken != "" {
			tokenHash = device.HashRestoreToken(restoreToken)
		}

		// A trial record carrying a restore id outranks the client-supplied
		// token: it survives local-storage loss on the device.
		if deviceHash != "" {
			rec, err := tx.TrialRecord(deviceHash)
			if err != nil && !errors.Is(err, ErrDeviceNotFound) {
				return err
			}
			if rec != nil && rec.RestoreID != "" {
				tokenHash = rec.RestoreID
			}
		}
		if tokenHash == "" {
			result.Reason = "no restore record"
			return nil
		}

		rr, err := tx.RestoreRecord(tokenHash)
		if errors.Is(err, ErrDeviceNotFound) {
			result.Reason = "no restore record"
			return nil
		}
		if err != nil {
			return err
		}

		now := l.clock()

		fromUID := rr.LastUID
		if fromUID == "" {
			fromUID = rr.FirstUID
		}
		if fromUID == uid {
			result.Reason = "same account"
			rr.LastSeenAt = now
			rr.UpdatedAt = now
			return tx.PutRestoreRecord(rr)
		}

		src, err := tx.Account(fromUID)
		if errors.Is(err, ErrAccountNotFound) {
			result.Reason = "source account gone"
			rr.LastSeenAt = now
			rr.UpdatedAt = now
			return tx.PutRestoreRecord(rr)
		}
		if err != nil {
			return err
		}

		gen := src.Free.Remaining(account.UsageGenerate)
		dl := src.Free.Remaining(account.UsageDownload)
		if gen == 0 && dl == 0 {
			result.Reason = "nothing to restore"
			rr.LastSeenAt = now
			rr.UpdatedAt = now
			return tx.PutRestoreRecord(rr)
		}

		dst, err := tx.Account(uid)
		if errors.Is(err, ErrAccountNotFound) {
			dst = account.New(uid)
		} else if err != nil {
			return err
		}

		// Zero every free-credit field on the source, both shapes, so the
		// transfer cannot be repeated from that side.
		src.Free.Zero()
		src.Touch()
		if err := tx.PutAccount(src); err != nil {
			return err
		}

		// Add on top of whatever the destination independently holds.
		dst.Free.Normalize()
		dst.Free.Add(gen, dl)
		dst.HasClaimedTrial = true
		dst.TrialProvider = "restore"
		dst.TrialRestoredAt = &now
		dst.Touch()
		if err := tx.PutAccount(dst); err != nil {
			return err
		}

		rr.LastUID = uid
		rr.LastSeenAt = now
		rr.LastRestoredAt = &now
		rr.UpdatedAt = now
		if err := tx.PutRestoreRecord(rr); err != nil {
			return err
		}

		result.Generate = gen
		result.Download = dl
		result.FromUID = fromUID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Restored() > 0 {
		l.plugins.EmitCreditsRestored(ctx, result.FromUID, uid, result.Restored())
		l.logger.Info("credits restored",
			"uid", uid,
			"from_uid", result.FromUID,
			"op", "restore_credits",
			"generate", result.Generate,
			"download", result.Download,
		)
	}
	return result, nil
}
