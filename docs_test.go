package ledger_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/inkwise/ledger"
	"github.com/inkwise/ledger/device"
	"github.com/inkwise/ledger/store/memory"
)

// TestDocumentationExamples verifies that all examples in the documentation compile
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from README
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		// Initialize Ledger
		l := ledger.New(store,
			ledger.WithLogger(slog.Default()),
			ledger.WithTrialGrant(3, 3),
			ledger.WithSyncTolerance(12*time.Hour),
		)

		// Start the engine
		ctx := context.Background()
		if err := l.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer l.Stop() //nolint:errcheck // demo teardown

		// Accounts are created lazily, keyed by the auth system's uid
		uid := "uid_demo"
		if err := l.EnsureAccount(ctx, uid); err != nil {
			t.Fatal(err)
		}

		// Claim the one-time device trial. The raw device identifier is
		// hashed before it ever reaches the ledger.
		grant, err := l.ClaimDeviceTrial(ctx, uid, device.HashDeviceID("demo-device"), device.NewRestoreToken())
		if err != nil {
			t.Fatal(err)
		}
		if grant.Generate == 0 {
			t.Fatal("expected trial credit")
		}

		// Meter usage: each call consumes exactly one unit
		remaining, err := l.DecrementUsage(ctx, uid, ledger.UsageGenerate)
		if err != nil {
			t.Fatal(err)
		}
		if remaining != 2 {
			t.Fatalf("remaining = %d, want 2", remaining)
		}

		// Deny cleanly once nothing remains
		for remaining > 0 {
			remaining, err = l.DecrementUsage(ctx, uid, ledger.UsageGenerate)
			if err != nil {
				t.Fatal(err)
			}
		}
		if _, err := l.DecrementUsage(ctx, uid, ledger.UsageGenerate); !errors.Is(err, ledger.ErrInsufficientCredit) {
			t.Fatalf("err = %v, want ErrInsufficientCredit", err)
		}

		// Read-only summary for a usage endpoint
		usage, err := l.GetUsage(ctx, uid)
		if err != nil {
			t.Fatal(err)
		}
		if usage.Tier != ledger.TierFree {
			t.Fatalf("tier = %q, want free", usage.Tier)
		}
	})

	// Test the re-exported convenience types
	t.Run("ReExportedTypes", func(t *testing.T) {
		var usageType ledger.UsageType = ledger.UsageDownload
		if !usageType.Valid() {
			t.Fatal("re-exported usage type must validate")
		}

		var tier ledger.Tier = ledger.TierMax
		if tier.Rank() != 3 {
			t.Fatal("re-exported tier must rank")
		}
	})
}
