package tollgatedb

import (
	"context"
	"crypto/rand"
	"database/sql"
	"testing"
	"time"

	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/stretchr/testify/require"
)

var (
	defaultTestTimeout = 5 * time.Second
)

func newSecretsStoreWithDB(db *BaseDB) *SecretsStore {
	dbTxer := NewTransactionExecutor(db,
		func(tx *sql.Tx) SecretsDB {
			return db.WithTx(tx)
		},
	)

	return NewSecretsStore(dbTxer)
}

func TestSecretsDB(t *testing.T) {
	ctxt, cancel := context.WithTimeout(
		context.Background(), defaultTestTimeout,
	)
	defer cancel()

	// First, create a new test database.
	db := NewTestDB(t)
	store := newSecretsStoreWithDB(db.BaseDB)

	// Create a random token ID and root key.
	var tokenID l402.TokenID
	_, err := rand.Read(tokenID[:])
	require.NoError(t, err)

	var secret [l402.SecretSize]byte
	_, err = rand.Read(secret[:])
	require.NoError(t, err)

	// Trying to get a secret that doesn't exist should fail.
	_, err = store.GetSecret(ctxt, tokenID)
	require.ErrorIs(t, err, mint.ErrSecretNotFound)

	// Store the root key together with the macaroon it signs.
	mac := []byte("signed macaroon bytes")
	err = store.PutSecret(ctxt, tokenID, secret, mac)
	require.NoError(t, err)

	// Get the secret from the db.
	dbSecret, err := store.GetSecret(ctxt, tokenID)
	require.NoError(t, err)
	require.Equal(t, secret, dbSecret)

	// Storing a second root key under the same token ID must fail.
	err = store.PutSecret(ctxt, tokenID, secret, mac)
	require.Error(t, err)
	require.True(t, IsUniqueConstraintError(err))

	// Revoke the secret.
	err = store.RevokeSecret(ctxt, tokenID)
	require.NoError(t, err)

	// The secret should no longer exist.
	_, err = store.GetSecret(ctxt, tokenID)
	require.ErrorIs(t, err, mint.ErrSecretNotFound)

	// Revoking a secret that doesn't exist is a NOP.
	err = store.RevokeSecret(ctxt, tokenID)
	require.NoError(t, err)
}
