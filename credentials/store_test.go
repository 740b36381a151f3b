package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestMemoryStore tests that the in-memory store returns the most recently
// created credential for a location.
func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	// An empty store knows no locations.
	_, err := store.Get(ctx, testLocation)
	require.ErrorIs(t, err, ErrNoCredential)

	// Store two credentials for the same location. The younger one must
	// win the lookup.
	older := &Credential{
		Location:  testLocation,
		Macaroon:  "older",
		Invoice:   testInvoice,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	younger := &Credential{
		Location:  testLocation,
		Macaroon:  "younger",
		Invoice:   testInvoice,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.Store(ctx, older))
	require.NoError(t, store.Store(ctx, younger))

	got, err := store.Get(ctx, testLocation)
	require.NoError(t, err)
	require.Equal(t, "younger", got.Macaroon)

	// Credentials of other locations don't interfere.
	other := &Credential{
		Location:  "https://other.example.com",
		Macaroon:  "other",
		Invoice:   testInvoice,
		CreatedAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, store.Store(ctx, other))

	got, err = store.Get(ctx, testLocation)
	require.NoError(t, err)
	require.Equal(t, "younger", got.Macaroon)

	// The store hands out copies, mutating a result must not change the
	// stored credential.
	got.Macaroon = "mutated"
	again, err := store.Get(ctx, testLocation)
	require.NoError(t, err)
	require.Equal(t, "younger", again.Macaroon)
}
