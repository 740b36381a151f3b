package challenger

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/queue"
)

const (
	// invoiceQueueSize is the buffer size of the queue that invoice
	// updates from the subscription stream are pushed through before
	// they're applied to the state store.
	invoiceQueueSize = 100

	// initialLoadTimeout is the maximum time a verification request waits
	// for the initial invoice history load to complete before giving up.
	initialLoadTimeout = 30 * time.Second
)

// LndChallenger is a challenger that uses an lnd backend to create new L402
// payment challenges.
type LndChallenger struct {
	client        InvoiceClient
	clientCtx     func() context.Context
	genInvoiceReq InvoiceRequestGenerator
	batchSize     int

	// invoiceStates tracks the state of all invoices that are relevant to
	// token validation.
	invoiceStates *InvoiceStateStore

	// updates decouples the subscription stream from the state store so a
	// burst of updates never blocks the stream reader.
	updates *queue.ConcurrentQueue

	invoicesCancel func()

	// strictVerify indicates whether the payment hashes of macaroons are
	// checked against the state of the matching invoices. If false, no
	// invoices are tracked at all.
	strictVerify bool

	errChan chan<- error

	quit chan struct{}
	wg   sync.WaitGroup
}

// A compile time flag to ensure the LndChallenger satisfies the Challenger
// interface.
var _ Challenger = (*LndChallenger)(nil)

// NewLndChallenger creates a new challenger that uses the given connection to
// an lnd backend to create payment challenges. Start must be called before
// invoice states can be verified.
func NewLndChallenger(client InvoiceClient, batchSize int,
	genInvoiceReq InvoiceRequestGenerator, ctxFunc func() context.Context,
	errChan chan<- error, strictVerify bool) (*LndChallenger, error) {

	// Make sure we have a valid invoice generator function.
	if genInvoiceReq == nil {
		return nil, fmt.Errorf("genInvoiceReq cannot be nil")
	}

	// Having a default context function makes unit tests easier.
	if ctxFunc == nil {
		ctxFunc = context.Background
	}

	quit := make(chan struct{})
	return &LndChallenger{
		client:        client,
		clientCtx:     ctxFunc,
		genInvoiceReq: genInvoiceReq,
		batchSize:     batchSize,
		invoiceStates: NewInvoiceStateStore(quit),
		updates:       queue.NewConcurrentQueue(invoiceQueueSize),
		strictVerify:  strictVerify,
		errChan:       errChan,
		quit:          quit,
	}, nil
}

// Start subscribes to invoice updates of the backing lnd node and kicks off
// the background load of the invoice history. The call itself returns
// quickly, verification requests block until the history load has completed.
func (l *LndChallenger) Start() error {
	// In case we don't want to verify the invoices for their settled
	// status, we don't need to track any of them.
	if !l.strictVerify {
		return nil
	}

	// We need to be able to cancel the subscription and the history load
	// when the challenger is shut down.
	ctxc, cancel := context.WithCancel(l.clientCtx())
	l.invoicesCancel = cancel

	l.updates.Start()

	l.wg.Add(1)
	go l.processUpdates()

	// Load the history and subscribe in the background so a node with a
	// large number of invoices doesn't delay the startup of the proxy.
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		stream, err := l.loadInvoiceHistory(ctxc)
		if err != nil {
			// The load was interrupted by the challenger shutting
			// down, no need to report anything.
			if strings.Contains(
				err.Error(), context.Canceled.Error(),
			) {

				return
			}

			log.Errorf("Unable to load invoice history: %v", err)
			l.reportError(err)
			return
		}

		l.invoiceStates.MarkInitialLoadComplete()

		l.readInvoiceStream(stream)
	}()

	return nil
}

// loadInvoiceHistory pages through all invoices of the lnd node and records
// their states, then subscribes to updates for everything that comes after
// the last known add and settle indices. Invoices that were added or settled
// while we were still paging are replayed by the subscription, so no update
// can be missed.
func (l *LndChallenger) loadInvoiceHistory(
	ctx context.Context) (lnrpc.Lightning_SubscribeInvoicesClient, error) {

	// These are the default indices for the subscription which instruct
	// lnd to send us all updates. If there are existing invoices, the
	// indices are advanced to the latest known invoice so we only receive
	// updates for new or newly settled invoices.
	addIndex := uint64(0)
	settleIndex := uint64(0)
	startIndex := uint64(0)

	// We need to keep track of all invoices, even quite old ones, to make
	// sure tokens are valid. But to save space we only keep track of an
	// invoice's state.
	for {
		resp, err := l.client.ListInvoices(
			ctx, &lnrpc.ListInvoiceRequest{
				IndexOffset:    startIndex,
				NumMaxInvoices: uint64(l.batchSize),
			},
		)
		if err != nil {
			return nil, fmt.Errorf("unable to list invoices: %w",
				err)
		}

		for _, invoice := range resp.Invoices {
			if invoice.AddIndex > addIndex {
				addIndex = invoice.AddIndex
			}
			if invoice.SettleIndex > settleIndex {
				settleIndex = invoice.SettleIndex
			}

			// Some invoices like AMP invoices don't have their
			// payment hash populated.
			if invoice.RHash == nil {
				continue
			}

			hash, err := lntypes.MakeHash(invoice.RHash)
			if err != nil {
				return nil, fmt.Errorf("error parsing "+
					"invoice hash: %w", err)
			}

			// Don't track the state of canceled or expired
			// invoices.
			if invoiceIrrelevant(invoice) {
				continue
			}

			l.invoiceStates.SetState(hash, invoice.State)
		}

		// A partial page means we've reached the end of the node's
		// invoice database.
		if len(resp.Invoices) < l.batchSize {
			break
		}

		startIndex = resp.LastIndexOffset
	}

	stream, err := l.client.SubscribeInvoices(
		ctx, &lnrpc.InvoiceSubscription{
			AddIndex:    addIndex,
			SettleIndex: settleIndex,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to subscribe to invoices: %w",
			err)
	}

	return stream, nil
}

// readInvoiceStream reads the invoice update messages sent on the stream until
// the stream is aborted or the challenger is shutting down.
func (l *LndChallenger) readInvoiceStream(
	stream lnrpc.Lightning_SubscribeInvoicesClient) {

	for {
		// In case we receive the shutdown signal right after receiving
		// an update, we can exit early.
		select {
		case <-l.quit:
			return
		default:
		}

		// Wait for an update to arrive. This will block until either a
		// message is received, an error occurs or the underlying
		// context is canceled (which will also result in an error).
		invoice, err := stream.Recv()
		switch {
		case err == io.EOF:
			// The connection is shutting down, we can't continue
			// to function properly. Signal the error to the main
			// goroutine to force a shutdown/restart.
			l.reportError(err)
			return

		case err != nil && strings.Contains(
			err.Error(), context.Canceled.Error(),
		):

			// The context has been canceled, we are shutting down.
			// So no need to forward the error to the main
			// goroutine.
			return

		case err != nil:
			log.Errorf("Received error from invoice subscription: "+
				"%v", err)

			// The connection is faulty, we can't continue to
			// function properly. Signal the error to the main
			// goroutine to force a shutdown/restart.
			l.reportError(err)
			return

		default:
		}

		// Hand the update over to the queue so the processing
		// goroutine can pick it up, making sure we never block the
		// stream reader.
		select {
		case l.updates.ChanIn() <- invoice:
		case <-l.quit:
			return
		}
	}
}

// processUpdates applies the invoice updates read from the queue to the state
// store until the challenger is shutting down.
func (l *LndChallenger) processUpdates() {
	defer l.wg.Done()

	for {
		select {
		case msg := <-l.updates.ChanOut():
			invoice, ok := msg.(*lnrpc.Invoice)
			if !ok {
				log.Errorf("Unexpected message type in "+
					"invoice queue: %T", msg)
				continue
			}

			l.processInvoice(invoice)

		case <-l.quit:
			return
		}
	}
}

// processInvoice updates the state store with the state of the given invoice.
func (l *LndChallenger) processInvoice(invoice *lnrpc.Invoice) {
	if invoice == nil {
		return
	}

	hash, err := lntypes.MakeHash(invoice.RHash)
	if err != nil {
		log.Errorf("Error parsing invoice hash: %v", err)
		return
	}

	// An invoice that was canceled or has expired without being paid can
	// never become valid again, so we can forget about it.
	if invoiceIrrelevant(invoice) {
		l.invoiceStates.DeleteState(hash)
		return
	}

	l.invoiceStates.SetState(hash, invoice.State)
}

// reportError sends an error to the main error channel unless the challenger
// is shutting down or nobody is listening.
func (l *LndChallenger) reportError(err error) {
	select {
	case l.errChan <- err:
	case <-l.quit:
	default:
	}
}

// Stop shuts down the challenger.
func (l *LndChallenger) Stop() {
	// The subscription is only active if we verify invoice states.
	if l.invoicesCancel != nil {
		l.invoicesCancel()
	}

	close(l.quit)

	l.updates.Stop()

	// Wake up any goroutines still waiting on an invoice state so they
	// can observe the shutdown.
	l.invoiceStates.Shutdown()

	l.wg.Wait()
}

// NewChallenge creates a new L402 payment challenge, returning a payment
// request (invoice) and the corresponding payment hash.
//
// NOTE: This is part of the mint.Challenger interface.
func (l *LndChallenger) NewChallenge(price int64) (string, lntypes.Hash,
	error) {

	// Obtain a new invoice from lnd first. We need to know the payment
	// hash so we can add it as a caveat to the macaroon.
	invoice, err := l.genInvoiceReq(price)
	if err != nil {
		log.Errorf("Error generating invoice: %v", err)
		return "", lntypes.ZeroHash, err
	}

	ctx := l.clientCtx()
	response, err := l.client.AddInvoice(ctx, invoice)
	if err != nil {
		log.Errorf("Error adding invoice: %v", err)
		return "", lntypes.ZeroHash, err
	}

	paymentHash, err := lntypes.MakeHash(response.RHash)
	if err != nil {
		log.Errorf("Error parsing payment hash: %v", err)
		return "", lntypes.ZeroHash, err
	}

	return response.PaymentRequest, paymentHash, nil
}

// VerifyInvoiceStatus checks that an invoice with the given payment hash has
// the desired status. To make sure we don't fail while the invoice update is
// still on its way, we wait until either the desired status is set or the
// given timeout is reached.
//
// NOTE: This is part of the auth.InvoiceChecker interface.
func (l *LndChallenger) VerifyInvoiceStatus(hash lntypes.Hash,
	state lnrpc.Invoice_InvoiceState, timeout time.Duration) error {

	// Skip the check if we're not tracking invoices at all.
	if !l.strictVerify {
		return nil
	}

	// Prevent the challenger to be shut down while we're still waiting for
	// status updates.
	l.wg.Add(1)
	defer l.wg.Done()

	return l.invoiceStates.WaitForState(
		hash, state, initialLoadTimeout, timeout,
	)
}

// invoiceIrrelevant returns true if an invoice is nil, canceled or non-settled
// and expired.
func invoiceIrrelevant(invoice *lnrpc.Invoice) bool {
	if invoice == nil || invoice.State == lnrpc.Invoice_CANCELED {
		return true
	}

	creation := time.Unix(invoice.CreationDate, 0)
	expiration := creation.Add(time.Duration(invoice.Expiry) * time.Second)
	expired := time.Now().After(expiration)

	notSettled := invoice.State == lnrpc.Invoice_OPEN ||
		invoice.State == lnrpc.Invoice_ACCEPTED

	return expired && notSettled
}
