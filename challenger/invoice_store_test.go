package challenger

import (
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

// TestInvoiceStateStore tests the basic state tracking of the store.
func TestInvoiceStateStore(t *testing.T) {
	t.Parallel()

	quit := make(chan struct{})
	defer close(quit)

	store := NewInvoiceStateStore(quit)
	hash := lntypes.Hash{1, 2, 3}

	// An unknown invoice has no state.
	_, ok := store.GetState(hash)
	require.False(t, ok)

	store.SetState(hash, lnrpc.Invoice_OPEN)
	state, ok := store.GetState(hash)
	require.True(t, ok)
	require.Equal(t, lnrpc.Invoice_OPEN, state)

	store.SetState(hash, lnrpc.Invoice_SETTLED)
	state, ok = store.GetState(hash)
	require.True(t, ok)
	require.Equal(t, lnrpc.Invoice_SETTLED, state)

	store.DeleteState(hash)
	_, ok = store.GetState(hash)
	require.False(t, ok)
}

// TestInvoiceStateStoreWaitForState tests that waiters are woken up when an
// invoice reaches the desired state and time out otherwise.
func TestInvoiceStateStoreWaitForState(t *testing.T) {
	t.Parallel()

	quit := make(chan struct{})
	defer close(quit)

	store := NewInvoiceStateStore(quit)
	hash := lntypes.Hash{4, 5, 6}

	// Before the initial load is complete, a waiter should time out
	// waiting for that load, not for the invoice itself.
	err := store.WaitForState(
		hash, lnrpc.Invoice_SETTLED, 10*time.Millisecond,
		defaultTimeout,
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "initial invoice load")

	store.MarkInitialLoadComplete()
	require.True(t, store.IsInitialLoadComplete())
	require.NoError(t, store.WaitForInitialLoad(defaultTimeout))

	// An invoice already in the desired state returns immediately.
	store.SetState(hash, lnrpc.Invoice_SETTLED)
	require.NoError(t, store.WaitForState(
		hash, lnrpc.Invoice_SETTLED, defaultTimeout, defaultTimeout,
	))

	// A waiter for an open invoice is woken up as soon as the settle
	// update arrives.
	hash2 := lntypes.Hash{7, 8, 9}
	store.SetState(hash2, lnrpc.Invoice_OPEN)

	var (
		wg      sync.WaitGroup
		waitErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()

		waitErr = store.WaitForState(
			hash2, lnrpc.Invoice_SETTLED, defaultTimeout,
			10*defaultTimeout,
		)
	}()

	// Give the waiter some time to arrive in the wait loop, then settle.
	time.Sleep(10 * time.Millisecond)
	store.SetState(hash2, lnrpc.Invoice_SETTLED)

	wg.Wait()
	require.NoError(t, waitErr)

	// A waiter for a state that is never reached times out with a
	// descriptive error.
	err = store.WaitForState(
		hash2, lnrpc.Invoice_CANCELED, defaultTimeout,
		50*time.Millisecond,
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "before timeout")

	// Waiting on an invoice we know nothing about mentions that no invoice
	// was found.
	err = store.WaitForState(
		lntypes.Hash{99}, lnrpc.Invoice_SETTLED, defaultTimeout,
		50*time.Millisecond,
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no active or settled invoice")
}

// TestInvoiceStateStoreShutdown tests that blocked waiters are released when
// the quit channel is closed.
func TestInvoiceStateStoreShutdown(t *testing.T) {
	defer leaktest.Check(t)()

	quit := make(chan struct{})
	store := NewInvoiceStateStore(quit)
	store.MarkInitialLoadComplete()

	hash := lntypes.Hash{1, 1, 2}
	store.SetState(hash, lnrpc.Invoice_OPEN)

	var (
		wg      sync.WaitGroup
		waitErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()

		waitErr = store.WaitForState(
			hash, lnrpc.Invoice_SETTLED, defaultTimeout,
			10*time.Second,
		)
	}()

	// Give the waiter some time to arrive in the wait loop, then shut the
	// store down.
	time.Sleep(10 * time.Millisecond)
	close(quit)
	store.Shutdown()

	wg.Wait()
	require.Error(t, waitErr)
	require.Contains(t, waitErr.Error(), "shutting down")
}
