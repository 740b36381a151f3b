package tollgatedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lightninglabs/tollgate/credentials"
	"github.com/lightninglabs/tollgate/tollgatedb/sqlc"
	"github.com/lightningnetwork/lnd/clock"
)

type (
	// NewCredential is a struct that contains the parameters required to
	// insert a new credential into the database.
	NewCredential = sqlc.InsertCredentialParams
)

// CredentialsDB is an interface that defines the set of operations that can
// be executed against the credentials database.
type CredentialsDB interface {
	// InsertCredential inserts a new credential into the database.
	InsertCredential(ctx context.Context, arg NewCredential) (int32,
		error)

	// GetLatestCredentialByLocation returns the most recently created
	// credential for the given location.
	GetLatestCredentialByLocation(ctx context.Context,
		location string) (sqlc.Credential, error)

	// ListCredentials returns all stored credentials, most recent first.
	ListCredentials(ctx context.Context) ([]sqlc.Credential, error)
}

// CredentialsDBTxOptions defines the set of db txn options the
// CredentialsStore understands.
type CredentialsDBTxOptions struct {
	// readOnly governs if a read only transaction is needed or not.
	readOnly bool
}

// ReadOnly returns true if the transaction should be read only.
//
// NOTE: This implements the TxOptions
func (a *CredentialsDBTxOptions) ReadOnly() bool {
	return a.readOnly
}

// NewCredentialsDBReadTx creates a new read transaction option set.
func NewCredentialsDBReadTx() CredentialsDBTxOptions {
	return CredentialsDBTxOptions{
		readOnly: true,
	}
}

// BatchedCredentialsDB is a version of the CredentialsDB that's capable of
// batched database operations.
type BatchedCredentialsDB interface {
	CredentialsDB

	BatchedTx[CredentialsDB]
}

// CredentialsStore represents a storage backend for L402 credentials owned
// by a client.
type CredentialsStore struct {
	db    BatchedCredentialsDB
	clock clock.Clock
}

// A compile-time constraint to ensure CredentialsStore implements
// credentials.Store.
var _ credentials.Store = (*CredentialsStore)(nil)

// NewCredentialsStore creates a new CredentialsStore instance given a open
// BatchedCredentialsDB storage backend.
func NewCredentialsStore(db BatchedCredentialsDB) *CredentialsStore {
	return &CredentialsStore{
		db:    db,
		clock: clock.NewDefaultClock(),
	}
}

// Store adds a credential to the store. Credentials are append only, a new
// credential for a known location does not replace the previous one.
func (c *CredentialsStore) Store(ctx context.Context,
	credential *credentials.Credential) error {

	preimage := sql.NullString{}
	if credential.Preimage != "" {
		preimage.String = credential.Preimage
		preimage.Valid = true
	}

	createdAt := credential.CreatedAt
	if createdAt.IsZero() {
		createdAt = c.clock.Now()
	}

	var writeTxOpts CredentialsDBTxOptions
	err := c.db.ExecTx(ctx, &writeTxOpts, func(tx CredentialsDB) error {
		_, err := tx.InsertCredential(ctx, NewCredential{
			Location:  credential.Location,
			Macaroon:  credential.Macaroon,
			Preimage:  preimage,
			Invoice:   credential.Invoice,
			CreatedAt: createdAt.UTC(),
		})
		return err
	})

	if err != nil {
		return fmt.Errorf("unable to insert credential for "+
			"location(%v): %w", credential.Location, err)
	}

	return nil
}

// Get returns the most recently created credential for the given location.
// If no credential exists for the location, ErrNoCredential is returned.
func (c *CredentialsStore) Get(ctx context.Context,
	location string) (*credentials.Credential, error) {

	var credential *credentials.Credential
	readOpts := NewCredentialsDBReadTx()
	err := c.db.ExecTx(ctx, &readOpts, func(tx CredentialsDB) error {
		row, err := tx.GetLatestCredentialByLocation(ctx, location)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return credentials.ErrNoCredential

		case err != nil:
			return err
		}

		credential = unmarshalCredential(row)

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("unable to get credential for "+
			"location(%v): %w", location, err)
	}

	return credential, nil
}

// List returns all stored credentials, most recent first.
func (c *CredentialsStore) List(
	ctx context.Context) ([]*credentials.Credential, error) {

	var creds []*credentials.Credential
	readOpts := NewCredentialsDBReadTx()
	err := c.db.ExecTx(ctx, &readOpts, func(tx CredentialsDB) error {
		rows, err := tx.ListCredentials(ctx)
		if err != nil {
			return err
		}

		creds = make([]*credentials.Credential, 0, len(rows))
		for _, row := range rows {
			creds = append(creds, unmarshalCredential(row))
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("unable to list credentials: %w", err)
	}

	return creds, nil
}

// unmarshalCredential maps a credential row to its application level
// representation.
func unmarshalCredential(row sqlc.Credential) *credentials.Credential {
	credential := &credentials.Credential{
		Location:  row.Location,
		Macaroon:  row.Macaroon,
		Invoice:   row.Invoice,
		CreatedAt: row.CreatedAt,
	}

	if row.Preimage.Valid {
		credential.Preimage = row.Preimage.String
	}

	return credential
}
