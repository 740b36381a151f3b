package challenger

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"google.golang.org/grpc"
)

type invoiceStreamMock struct {
	lnrpc.Lightning_SubscribeInvoicesClient

	updateChan chan *lnrpc.Invoice
	errChan    chan error
	quit       chan struct{}
}

func (i *invoiceStreamMock) Recv() (*lnrpc.Invoice, error) {
	select {
	case msg := <-i.updateChan:
		return msg, nil

	case err := <-i.errChan:
		return nil, err

	case <-i.quit:
		return nil, context.Canceled
	}
}

// MockInvoiceClient implements the InvoiceClient interface backed by an in
// memory list of invoices.
type MockInvoiceClient struct {
	mtx        sync.Mutex
	invoices   []*lnrpc.Invoice
	updateChan chan *lnrpc.Invoice
	errChan    chan error
	quit       chan struct{}

	lastAddIndex uint64
}

// ListInvoices returns a paginated list of all invoices known to the mock.
func (m *MockInvoiceClient) ListInvoices(_ context.Context,
	r *lnrpc.ListInvoiceRequest,
	_ ...grpc.CallOption) (*lnrpc.ListInvoiceResponse, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if r.IndexOffset >= uint64(len(m.invoices)) {
		return &lnrpc.ListInvoiceResponse{}, nil
	}

	endIndex := r.IndexOffset + r.NumMaxInvoices
	if endIndex > uint64(len(m.invoices)) {
		endIndex = uint64(len(m.invoices))
	}

	return &lnrpc.ListInvoiceResponse{
		Invoices:        m.invoices[r.IndexOffset:endIndex],
		LastIndexOffset: endIndex,
	}, nil
}

// SubscribeInvoices subscribes to updates on invoices.
func (m *MockInvoiceClient) SubscribeInvoices(_ context.Context,
	in *lnrpc.InvoiceSubscription, _ ...grpc.CallOption) (
	lnrpc.Lightning_SubscribeInvoicesClient, error) {

	m.mtx.Lock()
	m.lastAddIndex = in.AddIndex
	m.mtx.Unlock()

	return &invoiceStreamMock{
		updateChan: m.updateChan,
		errChan:    m.errChan,
		quit:       m.quit,
	}, nil
}

// AddInvoice adds a new invoice to the mock's set of known invoices.
func (m *MockInvoiceClient) AddInvoice(_ context.Context, in *lnrpc.Invoice,
	_ ...grpc.CallOption) (*lnrpc.AddInvoiceResponse, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.invoices = append(m.invoices, in)

	return &lnrpc.AddInvoiceResponse{
		RHash:          in.RHash,
		PaymentRequest: in.PaymentRequest,
		AddIndex:       uint64(len(m.invoices) - 1),
	}, nil
}

// LastAddIndex returns the add index the last invoice subscription was
// started from.
func (m *MockInvoiceClient) LastAddIndex() uint64 {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.lastAddIndex
}

// NumInvoices returns the number of invoices the mock knows about.
func (m *MockInvoiceClient) NumInvoices() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return len(m.invoices)
}

func (m *MockInvoiceClient) stop() {
	close(m.quit)
}

// NewChallenger creates a challenger that is backed by a mocked lnd instance,
// returning the challenger together with the mock and the challenger's main
// error channel. The challenger is not yet started.
func NewChallenger() (*LndChallenger, *MockInvoiceClient, chan error) {
	mockClient := &MockInvoiceClient{
		updateChan: make(chan *lnrpc.Invoice),
		errChan:    make(chan error, 1),
		quit:       make(chan struct{}),
	}
	genInvoiceReq := func(price int64) (*lnrpc.Invoice, error) {
		return newInvoice(lntypes.ZeroHash, 99, lnrpc.Invoice_OPEN), nil
	}
	mainErrChan := make(chan error)

	// The generator function is never nil here, so the constructor cannot
	// fail.
	challenger, _ := NewLndChallenger(
		mockClient, 1, genInvoiceReq, nil, mainErrChan, true,
	)

	return challenger, mockClient, mainErrChan
}

func newInvoice(hash lntypes.Hash, addIndex uint64,
	state lnrpc.Invoice_InvoiceState) *lnrpc.Invoice {

	return &lnrpc.Invoice{
		PaymentRequest: "foo",
		RHash:          hash[:],
		AddIndex:       addIndex,
		State:          state,
		CreationDate:   time.Now().Unix(),
		Expiry:         10,
	}
}
