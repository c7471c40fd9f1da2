// Package ledger provides an entitlement and usage ledger for consumer apps
// with metered features, layered allowances, and store-bought subscriptions.
//
// Ledger is designed as a library, not a service. Import it directly into
// your Go application and put it behind your own transport. It provides:
//
//   - Atomic usage metering: each generate or download consumes exactly one
//     unit under any concurrency, or fails cleanly with no change
//   - Layered allowances: an active subscription's monthly allowance is
//     consumed before promotional free credit
//   - One-time device-bound trials, via a server-side device registry or an
//     external two-bit attestation service (Apple DeviceCheck)
//   - Trial credit migration across account identities after reinstalls
//   - Billing provider reconciliation (RevenueCat built-in) with purchase
//     fingerprint matching to stop shared-subscription credit resets
//
// # Quick Start
//
// Create a ledger instance with your preferred store:
//
//	import (
//	    "github.com/inkwise/ledger"
//	    "github.com/inkwise/ledger/store/postgres"
//	)
//
//	// Initialize store
//	store, err := postgres.Connect(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create ledger
//	l := ledger.New(store,
//	    ledger.WithWebhookSecret(secret),
//	    ledger.WithBillingProvider(billing.NewRevenueCat(billing.RevenueCatConfig{APIKey: key})),
//	)
//
//	// Start the ledger (runs store migrations)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Core Concepts
//
// Accounts are created lazily and keyed by your auth system's uid:
//
//	if err := l.EnsureAccount(ctx, uid); err != nil { ... }
//
// Metering consumes one unit and reports what remains:
//
//	remaining, err := l.DecrementUsage(ctx, uid, ledger.UsageGenerate)
//	if errors.Is(err, ledger.ErrInsufficientCredit) {
//	    // deny the request, account unchanged
//	}
//
// Trials grant free credit at most once per physical device:
//
//	grant, err := l.ClaimDeviceTrial(ctx, uid, device.HashDeviceID(rawID), token)
//
// Subscription state flows in from the billing provider, by pull or webhook:
//
//	tier, err := l.SyncSubscription(ctx, uid)
//	err = l.HandleBillingWebhook(ctx, authHeader, body)
//
// # Consistency
//
// Every multi-step mutation runs inside a store transaction with
// serializable per-document read-modify-write semantics, so concurrent
// decrements, claims, and restores never lose or double-spend a unit. The
// memory store serializes globally; the PostgreSQL store runs SERIALIZABLE
// transactions with retry; the MongoDB store uses multi-document
// transactions with snapshot reads.
//
// # TypeID
//
// Secondary record identifiers use TypeID for globally unique, type-safe
// values:
//
//	clm_01h2xcejqtf2nbrexx3vqjhp41  // Trial claim ID
//	rst_01h455vb4pex5vsknk084sn02q  // Restore record ID
//
// Primary keys are domain-derived (account uid, device hash, token hash);
// TypeIDs tag the records for audit trails and cross-references.
package ledger
