package secrets

import (
	"bytes"
	"context"
	"testing"

	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/stretchr/testify/require"
)

// TestSecretStore ensures the different operations of the SecretStore behave
// as expected.
func TestSecretStore(t *testing.T) {
	etcdClient, serverCleanup := EtcdSetup(t)
	defer etcdClient.Close()
	defer serverCleanup()

	ctx := context.Background()
	store := NewStore(etcdClient)

	// Create a test token ID and ensure a secret doesn't exist for it yet
	// as we haven't created one.
	var id l402.TokenID
	copy(id[:], bytes.Repeat([]byte("A"), 32))

	_, err := store.GetSecret(ctx, id)
	require.ErrorIs(t, err, mint.ErrSecretNotFound)

	// Store a root key and the macaroon it signs, then ensure we can
	// retrieve both at a later point.
	var secret [l402.SecretSize]byte
	copy(secret[:], bytes.Repeat([]byte("B"), l402.SecretSize))
	mac := []byte("signed macaroon bytes")

	err = store.PutSecret(ctx, id, secret, mac)
	require.NoError(t, err)

	dbSecret, err := store.GetSecret(ctx, id)
	require.NoError(t, err)
	require.Equal(t, secret, dbSecret)

	dbMac, err := store.GetMacaroon(ctx, id)
	require.NoError(t, err)
	require.Equal(t, mac, dbMac)

	// Storing a second root key under the same token ID must fail.
	err = store.PutSecret(ctx, id, secret, mac)
	require.Error(t, err)

	// Once revoked, neither the root key nor the macaroon should exist
	// any longer.
	require.NoError(t, store.RevokeSecret(ctx, id))

	_, err = store.GetSecret(ctx, id)
	require.ErrorIs(t, err, mint.ErrSecretNotFound)

	_, err = store.GetMacaroon(ctx, id)
	require.ErrorIs(t, err, mint.ErrSecretNotFound)

	// Revoking a token ID that was never stored is a NOP.
	var missing l402.TokenID
	copy(missing[:], bytes.Repeat([]byte("C"), 32))
	require.NoError(t, store.RevokeSecret(ctx, missing))
}
