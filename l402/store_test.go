package l402

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

// TestFileStore tests that tokens are written to and read from the backing
// directory and that a paid token can never be replaced.
func TestFileStore(t *testing.T) {
	t.Parallel()

	tempDirName := t.TempDir()

	var (
		paidPreimage = lntypes.Preimage{1, 2, 3, 4, 5}
		paidToken    = &Token{
			Preimage: paidPreimage,
			baseMac:  newTestMacaroon(),
		}
		pendingToken = &Token{
			Preimage: zeroPreimage,
			baseMac:  newTestMacaroon(),
		}
	)

	store, err := NewFileStore(tempDirName)
	require.NoError(t, err)

	// A fresh store holds no tokens.
	_, err = store.CurrentToken()
	require.ErrorIs(t, err, ErrNoToken)

	tokens, err := store.AllTokens()
	require.NoError(t, err)
	require.Empty(t, tokens)

	// Store a pending token and make sure we can read it again.
	require.NoError(t, store.StoreToken(pendingToken))
	require.True(t, fileExists(
		filepath.Join(tempDirName, storeFileNamePending),
	))

	token, err := store.CurrentToken()
	require.NoError(t, err)
	require.True(t, token.baseMac.Equal(pendingToken.baseMac))

	tokens, err = store.AllTokens()
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	for key := range tokens {
		require.True(t, tokens[key].baseMac.Equal(pendingToken.baseMac))
	}

	// Replace the pending token with a paid one. The pending token file
	// must be removed in the process.
	require.NoError(t, store.StoreToken(paidToken))
	require.True(t, fileExists(
		filepath.Join(tempDirName, storeFileName),
	))
	require.False(t, fileExists(
		filepath.Join(tempDirName, storeFileNamePending),
	))

	token, err = store.CurrentToken()
	require.NoError(t, err)
	require.True(t, token.baseMac.Equal(paidToken.baseMac))

	tokens, err = store.AllTokens()
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	for key := range tokens {
		require.True(t, tokens[key].baseMac.Equal(paidToken.baseMac))
	}

	// A paid token can neither be replaced by a pending nor by another
	// paid token.
	require.ErrorIs(t, store.StoreToken(pendingToken), errNoReplace)
	require.ErrorIs(t, store.StoreToken(paidToken), errNoReplace)
}

// TestFileStorePendingMigration tests that a legacy lsat.token.pending file
// is picked up under its new l402 name.
func TestFileStorePendingMigration(t *testing.T) {
	t.Parallel()

	tempDirName := t.TempDir()

	pendingToken := &Token{
		Preimage: zeroPreimage,
		baseMac:  newTestMacaroon(),
	}

	store, err := NewFileStore(tempDirName)
	require.NoError(t, err)
	require.NoError(t, store.StoreToken(pendingToken))

	// Rename the file on disk to emulate a pre-migration state.
	newPath := filepath.Join(tempDirName, storeFileNamePending)
	oldPath := filepath.Join(tempDirName, "lsat.token.pending")
	require.NoError(t, os.Rename(newPath, oldPath))

	// Opening the directory again must migrate the file and return the
	// same token.
	store1, err := NewFileStore(tempDirName)
	require.NoError(t, err)

	token, err := store1.CurrentToken()
	require.NoError(t, err)
	require.Equal(t, pendingToken.baseMac, token.baseMac)
}

// TestFileStoreMigration tests that a legacy lsat.token file is picked up
// under its new l402 name.
func TestFileStoreMigration(t *testing.T) {
	t.Parallel()

	tempDirName := t.TempDir()

	paidPreimage := lntypes.Preimage{1, 2, 3, 4, 5}
	paidToken := &Token{
		Preimage: paidPreimage,
		baseMac:  newTestMacaroon(),
	}

	store, err := NewFileStore(tempDirName)
	require.NoError(t, err)
	require.NoError(t, store.StoreToken(paidToken))

	// Rename the file on disk to emulate a pre-migration state.
	newPath := filepath.Join(tempDirName, storeFileName)
	oldPath := filepath.Join(tempDirName, "lsat.token")
	require.NoError(t, os.Rename(newPath, oldPath))

	// Opening the directory again must migrate the file and return the
	// same token.
	store1, err := NewFileStore(tempDirName)
	require.NoError(t, err)

	token, err := store1.CurrentToken()
	require.NoError(t, err)
	require.Equal(t, paidToken.baseMac, token.baseMac)
}
