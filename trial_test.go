package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/inkwise/ledger"
	"github.com/inkwise/ledger/account"
	"github.com/inkwise/ledger/attestation"
	"github.com/inkwise/ledger/device"
)

func TestClaimDeviceTrial(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	hash := device.HashDeviceID("raw-device-id")

	grant, err := l.ClaimDeviceTrial(ctx, "uid_1", hash, "")
	if err != nil {
		t.Fatal(err)
	}
	if grant.Generate != 3 || grant.Download != 3 || !grant.Finalized {
		t.Errorf("grant = %+v, want 3/3 finalized", grant)
	}

	a := mustGetAccount(t, s, "uid_1")
	if !a.HasClaimedTrial || a.TrialProvider != "device" {
		t.Errorf("account trial state = %v/%q", a.HasClaimedTrial, a.TrialProvider)
	}
	if a.Remaining(account.UsageGenerate) != 3 || a.Remaining(account.UsageDownload) != 3 {
		t.Error("trial credit not granted")
	}

	rec, err := s.GetTrialRecord(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.TrialUsed || rec.FirstUID != "uid_1" || rec.UsedAt == nil {
		t.Errorf("trial record = %+v", rec)
	}
	if rec.ClaimID.IsNil() {
		t.Error("trial record must carry a claim id")
	}
}

func TestClaimDeviceTrialCustomGrant(t *testing.T) {
	l, _ := newTestLedger(t, ledger.WithTrialGrant(5, 2))
	grant, err := l.ClaimDeviceTrial(context.Background(), "uid_1", device.HashDeviceID("d"), "")
	if err != nil {
		t.Fatal(err)
	}
	if grant.Generate != 5 || grant.Download != 2 {
		t.Errorf("grant = %+v, want 5/2", grant)
	}
}

func TestClaimDeviceTrialDoubleClaimRejected(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	hash := device.HashDeviceID("d")

	if _, err := l.ClaimDeviceTrial(ctx, "uid_1", hash, ""); err != nil {
		t.Fatal(err)
	}

	// Same device, different account: terminal rejection, no mutation.
	_, err := l.ClaimDeviceTrial(ctx, "uid_2", hash, "")
	if !errors.Is(err, ledger.ErrTrialAlreadyClaimed) {
		t.Fatalf("err = %v, want ErrTrialAlreadyClaimed", err)
	}
	if _, err := s.GetAccount(ctx, "uid_2"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Error("rejected claim must not create the account")
	}

	rec, err := s.GetTrialRecord(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if rec.FirstUID != "uid_1" {
		t.Error("trial record must keep its original claimant")
	}
}

func TestClaimDeviceTrialAccountAlreadyClaimed(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	a := account.New("uid_1")
	a.HasClaimedTrial = true
	seedAccount(t, s, a)

	hash := device.HashDeviceID("fresh-device")
	grant, err := l.ClaimDeviceTrial(ctx, "uid_1", hash, "")
	if err != nil {
		t.Fatal(err)
	}
	if grant.Generate != 0 || grant.Download != 0 {
		t.Errorf("grant = %+v, want zero grant", grant)
	}

	// The fresh device stays unclaimed for its next owner.
	if _, err := s.GetTrialRecord(ctx, hash); !errors.Is(err, ledger.ErrDeviceNotFound) {
		t.Errorf("trial record err = %v, want ErrDeviceNotFound", err)
	}
}

func TestClaimDeviceTrialWithRestoreToken(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	hash := device.HashDeviceID("d")
	token := device.NewRestoreToken()

	if _, err := l.ClaimDeviceTrial(ctx, "uid_1", hash, token); err != nil {
		t.Fatal(err)
	}

	rec, err := s.GetTrialRecord(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if rec.RestoreID != device.HashRestoreToken(token) {
		t.Error("trial record must link the restore token hash")
	}
}

func TestClaimAttestedTrial(t *testing.T) {
	fa := &fakeAttestor{}
	l, s := newTestLedger(t, ledger.WithAttestationClient(fa))
	ctx := context.Background()

	grant, err := l.ClaimAttestedTrial(ctx, "uid_1", "device-token")
	if err != nil {
		t.Fatal(err)
	}
	if grant.Generate != 3 || grant.Download != 3 || !grant.Finalized {
		t.Errorf("grant = %+v, want 3/3 finalized", grant)
	}

	a := mustGetAccount(t, s, "uid_1")
	if !a.HasClaimedTrial || a.TrialProvider != "devicecheck" {
		t.Errorf("account trial state = %v/%q", a.HasClaimedTrial, a.TrialProvider)
	}

	// Lock, then finalize.
	want := []attestation.Bits{
		attestation.StateLocked.Bits(),
		attestation.StateClaimed.Bits(),
	}
	got := fa.writes()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("bit writes = %v, want %v", got, want)
	}
}

func TestClaimAttestedTrialTerminalStates(t *testing.T) {
	tests := []struct {
		name string
		bits attestation.Bits
		want error
	}{
		{"already claimed", attestation.Bits{Consumed: true}, ledger.ErrTrialAlreadyClaimed},
		{"claim in flight", attestation.Bits{Locked: true}, ledger.ErrTrialInProgress},
		{"claimed and locked", attestation.Bits{Consumed: true, Locked: true}, ledger.ErrTrialAlreadyClaimed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeAttestor{bits: tt.bits}
			l, _ := newTestLedger(t, ledger.WithAttestationClient(fa))

			_, err := l.ClaimAttestedTrial(context.Background(), "uid_1", "tok")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if len(fa.writes()) != 0 {
				t.Error("terminal state must not write bits")
			}
		})
	}
}

func TestClaimAttestedTrialQueryFailure(t *testing.T) {
	fa := &fakeAttestor{queryErr: attestation.ErrTimeout}
	l, _ := newTestLedger(t, ledger.WithAttestationClient(fa))

	_, err := l.ClaimAttestedTrial(context.Background(), "uid_1", "tok")
	if !errors.Is(err, ledger.ErrUpstreamTimeout) {
		t.Errorf("err = %v, want ErrUpstreamTimeout", err)
	}
	if !ledger.IsRetryable(err) {
		t.Error("upstream timeout must be retryable")
	}
}

func TestClaimAttestedTrialGrantFailureUnlocks(t *testing.T) {
	fa := &fakeAttestor{}
	l, s := newTestLedger(t, ledger.WithAttestationClient(fa))

	// Force the grant transaction to fail after the soft lock is taken.
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	_, err := l.ClaimAttestedTrial(context.Background(), "uid_1", "tok")
	if !errors.Is(err, ledger.ErrStoreClosed) {
		t.Fatalf("err = %v, want store failure", err)
	}

	// Lock, then compensating unlock; the device can claim later.
	got := fa.writes()
	if len(got) != 2 || got[0] != attestation.StateLocked.Bits() || got[1] != (attestation.Bits{}) {
		t.Errorf("bit writes = %v, want lock then unlock", got)
	}
}

func TestClaimAttestedTrialFinalizeFailure(t *testing.T) {
	fa := &fakeAttestor{
		updateErr: map[attestation.Bits]error{
			attestation.StateClaimed.Bits(): attestation.ErrUnavailable,
		},
	}
	l, s := newTestLedger(t, ledger.WithAttestationClient(fa))
	ctx := context.Background()

	// Credits stand even though the consumed bit could not be written.
	grant, err := l.ClaimAttestedTrial(ctx, "uid_1", "tok")
	if err != nil {
		t.Fatal(err)
	}
	if grant.Finalized {
		t.Error("finalize failure must report Finalized=false")
	}
	if grant.Generate != 3 || grant.Download != 3 {
		t.Errorf("grant = %+v, credits must not be revoked", grant)
	}

	a := mustGetAccount(t, s, "uid_1")
	if a.Remaining(account.UsageGenerate) != 3 {
		t.Error("granted credit must survive the finalize failure")
	}
}

func TestClaimAttestedTrialAccountAlreadyClaimed(t *testing.T) {
	fa := &fakeAttestor{}
	l, s := newTestLedger(t, ledger.WithAttestationClient(fa))
	ctx := context.Background()

	a := account.New("uid_1")
	a.HasClaimedTrial = true
	seedAccount(t, s, a)

	grant, err := l.ClaimAttestedTrial(ctx, "uid_1", "tok")
	if err != nil {
		t.Fatal(err)
	}
	if grant.Generate != 0 || grant.Download != 0 {
		t.Errorf("grant = %+v, want zero grant", grant)
	}
	if !grant.Finalized {
		t.Error("zero grant still finalizes the device")
	}

	got := fa.writes()
	if len(got) == 0 || got[len(got)-1] != attestation.StateClaimed.Bits() {
		t.Errorf("bit writes = %v, want final consumed write", got)
	}
}

func TestReleaseDeviceLock(t *testing.T) {
	tests := []struct {
		name        string
		bits        attestation.Bits
		wantErr     error
		wantWritten bool
	}{
		{"locked device is released", attestation.Bits{Locked: true}, nil, true},
		{"unlocked device is a no-op", attestation.Bits{}, nil, false},
		{"consumed device is refused", attestation.Bits{Consumed: true}, ledger.ErrTrialAlreadyClaimed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeAttestor{bits: tt.bits}
			l, _ := newTestLedger(t, ledger.WithAttestationClient(fa))

			err := l.ReleaseDeviceLock(context.Background(), "tok")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}

			got := fa.writes()
			if tt.wantWritten {
				if len(got) != 1 || got[0] != (attestation.Bits{}) {
					t.Errorf("bit writes = %v, want single clear", got)
				}
			} else if len(got) != 0 {
				t.Errorf("bit writes = %v, want none", got)
			}
		})
	}
}

func TestErrorClassifiers(t *testing.T) {
	if !ledger.IsTerminalTrialState(ledger.ErrTrialAlreadyClaimed) ||
		!ledger.IsTerminalTrialState(ledger.ErrTrialInProgress) {
		t.Error("trial sentinels must classify as terminal")
	}
	if ledger.IsTerminalTrialState(ledger.ErrInsufficientCredit) {
		t.Error("insufficient credit is not a trial state")
	}
	if !ledger.IsInsufficientCredit(ledger.ErrInsufficientCredit) {
		t.Error("IsInsufficientCredit must match its sentinel")
	}
	if !ledger.IsNotFound(ledger.ErrAccountNotFound) || !ledger.IsNotFound(ledger.ErrDeviceNotFound) {
		t.Error("not-found sentinels must classify")
	}
}
