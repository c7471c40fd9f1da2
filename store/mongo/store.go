// Package mongo implements the store on MongoDB. Transactions map to
// MongoDB multi-document transactions, so the deployment must be a replica
// set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	"github.com/inkwise/ledger"
	"github.com/inkwise/ledger/account"
	"github.com/inkwise/ledger/device"
	ledgerstore "github.com/inkwise/ledger/store"
)

// Collection name constants.
const (
	colAccounts       = "ledger_accounts"
	colTrialRecords   = "ledger_device_trials"
	colRestoreRecords = "ledger_device_restores"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New creates a new MongoDB store against the named database.
func New(client *mongo.Client, dbName string) *Store {
	return &Store{
		client: client,
		db:     client.Database(dbName),
	}
}

// Connect dials MongoDB and returns a ready store.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background()) //nolint:errcheck // already failing
		return nil, fmt.Errorf("ledger/mongo: ping: %w", err)
	}
	return New(client, dbName), nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates indexes for all ledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("ledger/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// ==================== Transactions ====================

// tx routes reads and writes through the session context, so every access
// inside the body participates in the same multi-document transaction.
type tx struct {
	ctx context.Context
	db  *mongo.Database
}

var _ ledgerstore.Tx = (*tx)(nil)

func (t *tx) Account(uid string) (*account.Account, error) {
	var a account.Account
	err := t.db.Collection(colAccounts).FindOne(t.ctx, bson.M{"_id": uid}).Decode(&a)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: get account: %w", err)
	}
	return &a, nil
}

func (t *tx) PutAccount(a *account.Account) error {
	_, err := t.db.Collection(colAccounts).ReplaceOne(t.ctx,
		bson.M{"_id": a.UID}, a, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ledger/mongo: put account: %w", err)
	}
	return nil
}

func (t *tx) TrialRecord(deviceHash string) (*device.TrialRecord, error) {
	var r device.TrialRecord
	err := t.db.Collection(colTrialRecords).FindOne(t.ctx, bson.M{"_id": deviceHash}).Decode(&r)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: get trial record: %w", err)
	}
	return &r, nil
}

func (t *tx) PutTrialRecord(r *device.TrialRecord) error {
	_, err := t.db.Collection(colTrialRecords).ReplaceOne(t.ctx,
		bson.M{"_id": r.DeviceHash}, r, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ledger/mongo: put trial record: %w", err)
	}
	return nil
}

func (t *tx) RestoreRecord(tokenHash string) (*device.RestoreRecord, error) {
	var r device.RestoreRecord
	err := t.db.Collection(colRestoreRecords).FindOne(t.ctx, bson.M{"_id": tokenHash}).Decode(&r)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: get restore record: %w", err)
	}
	return &r, nil
}

func (t *tx) PutRestoreRecord(r *device.RestoreRecord) error {
	_, err := t.db.Collection(colRestoreRecords).ReplaceOne(t.ctx,
		bson.M{"_id": r.TokenHash}, r, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ledger/mongo: put restore record: %w", err)
	}
	return nil
}

// RunTransaction runs fn in a MongoDB transaction with snapshot reads and
// majority writes. The driver retries the body on transient transaction
// errors, which covers write-write conflicts between concurrent bodies.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx ledgerstore.Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("ledger/mongo: start session: %w", err)
	}
	defer session.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	_, err = session.WithTransaction(ctx, func(sessCtx context.Context) (any, error) {
		return nil, fn(&tx{ctx: sessCtx, db: s.db})
	}, txnOpts)
	return err
}

// ==================== Snapshot reads ====================

func (s *Store) GetAccount(ctx context.Context, uid string) (*account.Account, error) {
	var a account.Account
	err := s.db.Collection(colAccounts).FindOne(ctx, bson.M{"_id": uid}).Decode(&a)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: get account: %w", err)
	}
	return &a, nil
}

func (s *Store) FindSiblingAccounts(ctx context.Context, fingerprint string, periodEnd time.Time, tolerance time.Duration) ([]*account.Account, error) {
	if fingerprint == "" {
		return nil, nil
	}

	filter := bson.M{
		"subscription.fingerprint": fingerprint,
		"subscription.current_period_end": bson.M{
			"$gte": periodEnd.Add(-tolerance),
			"$lte": periodEnd.Add(tolerance),
		},
	}
	cur, err := s.db.Collection(colAccounts).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: find sibling accounts: %w", err)
	}

	var result []*account.Account
	if err := cur.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("ledger/mongo: decode sibling accounts: %w", err)
	}
	return result, nil
}

func (s *Store) GetTrialRecord(ctx context.Context, deviceHash string) (*device.TrialRecord, error) {
	var r device.TrialRecord
	err := s.db.Collection(colTrialRecords).FindOne(ctx, bson.M{"_id": deviceHash}).Decode(&r)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: get trial record: %w", err)
	}
	return &r, nil
}

// ==================== Helpers ====================

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all ledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {
			// Sibling lookup during subscription sync.
			{Keys: bson.D{
				{Key: "subscription.fingerprint", Value: 1},
				{Key: "subscription.current_period_end", Value: 1},
			}},
			{Keys: bson.D{{Key: "last_used_at", Value: -1}}},
		},
		colTrialRecords: {
			{Keys: bson.D{{Key: "first_uid", Value: 1}}},
			{
				Keys:    bson.D{{Key: "restore_id", Value: 1}},
				Options: options.Index().SetSparse(true),
			},
		},
		colRestoreRecords: {
			{Keys: bson.D{{Key: "last_uid", Value: 1}}},
		},
	}
}
