package freebie

import (
	"net"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMemIPMaskStore makes sure the in-memory store grants the configured
// number of free requests per masked address range and then denies further
// requests.
func TestMemIPMaskStore(t *testing.T) {
	t.Parallel()

	store := NewMemIPMaskStore(2)
	req := &http.Request{}
	ip := net.ParseIP("192.168.1.10")

	for i := 0; i < 2; i++ {
		canPass, err := store.CanPass(req, ip)
		require.NoError(t, err)
		require.True(t, canPass)

		tallied, err := store.TallyFreebie(req, ip)
		require.NoError(t, err)
		require.True(t, tallied)
	}

	canPass, err := store.CanPass(req, ip)
	require.NoError(t, err)
	require.False(t, canPass)
}

// TestMemIPMaskStoreMasking makes sure addresses within the same /24 range
// share a budget while addresses in other ranges are counted independently.
func TestMemIPMaskStoreMasking(t *testing.T) {
	t.Parallel()

	store := NewMemIPMaskStore(1)
	req := &http.Request{}

	// Use up the budget of the 192.168.1.0/24 range.
	tallied, err := store.TallyFreebie(req, net.ParseIP("192.168.1.10"))
	require.NoError(t, err)
	require.True(t, tallied)

	// A different address in the same range shares the exhausted budget.
	canPass, err := store.CanPass(req, net.ParseIP("192.168.1.250"))
	require.NoError(t, err)
	require.False(t, canPass)

	// An address in another range still has its own budget.
	canPass, err = store.CanPass(req, net.ParseIP("192.168.2.10"))
	require.NoError(t, err)
	require.True(t, canPass)
}

// TestMemIPMaskStoreConcurrent tallies freebies from multiple goroutines to
// make sure concurrent requests from the same range don't trip the race
// detector and are all accounted for.
func TestMemIPMaskStoreConcurrent(t *testing.T) {
	t.Parallel()

	const numRequests = 50

	store := NewMemIPMaskStore(numRequests)
	req := &http.Request{}
	ip := net.ParseIP("10.0.0.1")

	var wg sync.WaitGroup
	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := store.TallyFreebie(req, ip)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	// All free requests were used up now.
	canPass, err := store.CanPass(req, ip)
	require.NoError(t, err)
	require.False(t, canPass)
}
