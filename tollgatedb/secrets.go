package tollgatedb

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightninglabs/tollgate/tollgatedb/sqlc"
	"github.com/lightningnetwork/lnd/clock"
)

type (
	// NewMacaroon is a struct that contains the parameters required to
	// insert a new macaroon root key into the database.
	NewMacaroon = sqlc.InsertMacaroonParams
)

// SecretsDB is an interface that defines the set of operations that can be
// executed against the macaroons database.
type SecretsDB interface {
	// InsertMacaroon inserts a new root key and the macaroon it signs
	// into the database.
	InsertMacaroon(ctx context.Context, arg NewMacaroon) (int32, error)

	// GetRootKeyByTokenID returns the root key that corresponds to the
	// given token ID.
	GetRootKeyByTokenID(ctx context.Context, tokenID []byte) ([]byte,
		error)

	// DeleteMacaroonByTokenID removes the root key that corresponds to
	// the given token ID.
	DeleteMacaroonByTokenID(ctx context.Context, tokenID []byte) (int64,
		error)
}

// SecretsDBTxOptions defines the set of db txn options the SecretsStore
// understands.
type SecretsDBTxOptions struct {
	// readOnly governs if a read only transaction is needed or not.
	readOnly bool
}

// ReadOnly returns true if the transaction should be read only.
//
// NOTE: This implements the TxOptions
func (a *SecretsDBTxOptions) ReadOnly() bool {
	return a.readOnly
}

// NewSecretsDBReadTx creates a new read transaction option set.
func NewSecretsDBReadTx() SecretsDBTxOptions {
	return SecretsDBTxOptions{
		readOnly: true,
	}
}

// BatchedSecretsDB is a version of the SecretsDB that's capable of batched
// database operations.
type BatchedSecretsDB interface {
	SecretsDB

	BatchedTx[SecretsDB]
}

// SecretsStore represents a storage backend.
type SecretsStore struct {
	db    BatchedSecretsDB
	clock clock.Clock
}

// A compile-time constraint to ensure SecretsStore implements
// mint.SecretStore.
var _ mint.SecretStore = (*SecretsStore)(nil)

// NewSecretsStore creates a new SecretsStore instance given a open
// BatchedSecretsDB storage backend.
func NewSecretsStore(db BatchedSecretsDB) *SecretsStore {
	return &SecretsStore{
		db:    db,
		clock: clock.NewDefaultClock(),
	}
}

// PutSecret persists the given root key and the serialized macaroon it signs
// under the given token ID. Storing a secret for a token ID that already
// exists is an error.
func (s *SecretsStore) PutSecret(ctx context.Context, id l402.TokenID,
	secret [l402.SecretSize]byte, mac []byte) error {

	macaroon := sql.NullString{}
	if len(mac) > 0 {
		macaroon.String = base64.StdEncoding.EncodeToString(mac)
		macaroon.Valid = true
	}

	var writeTxOpts SecretsDBTxOptions
	err := s.db.ExecTx(ctx, &writeTxOpts, func(tx SecretsDB) error {
		_, err := tx.InsertMacaroon(ctx, NewMacaroon{
			TokenID:   id[:],
			RootKey:   secret[:],
			Macaroon:  macaroon,
			CreatedAt: s.clock.Now().UTC(),
		})
		if err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("unable to insert new root key for token "+
			"id(%x): %w", id, err)
	}

	return nil
}

// GetSecret returns the root key that corresponds to the given token ID. If
// there is no such secret, then ErrSecretNotFound is returned.
func (s *SecretsStore) GetSecret(ctx context.Context,
	id l402.TokenID) ([l402.SecretSize]byte, error) {

	var secret [l402.SecretSize]byte
	readOpts := NewSecretsDBReadTx()
	err := s.db.ExecTx(ctx, &readOpts, func(db SecretsDB) error {
		rootKey, err := db.GetRootKeyByTokenID(ctx, id[:])
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return mint.ErrSecretNotFound

		case err != nil:
			return err
		}

		copy(secret[:], rootKey)

		return nil
	})

	if err != nil {
		return [l402.SecretSize]byte{}, fmt.Errorf("unable to get "+
			"root key for token id(%x): %w", id, err)
	}

	return secret, nil
}

// RevokeSecret removes the root key that corresponds to the given token ID.
// This acts as a NOP if the secret does not exist.
func (s *SecretsStore) RevokeSecret(ctx context.Context,
	id l402.TokenID) error {

	var writeTxOpts SecretsDBTxOptions
	err := s.db.ExecTx(ctx, &writeTxOpts, func(tx SecretsDB) error {
		nRows, err := tx.DeleteMacaroonByTokenID(ctx, id[:])
		if err != nil {
			return err
		}

		if nRows != 1 {
			log.Infof("Deleting root key for token id(%x) "+
				"affected %v rows", id, nRows)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("unable to revoke root key for token "+
			"id(%x): %w", id, err)
	}

	return nil
}
