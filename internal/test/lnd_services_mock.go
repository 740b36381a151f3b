package test

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lntypes"
)

var (
	testNodePubkey = "0367bd53d2c6a83fd5a545b1e9a1eee790b20e1e6b65a0d3a9" +
		"7b2b0a9de4b06a9a"

	testSignature    = []byte{55, 22, 77, 88, 99}
	testSignatureMsg = "test"
)

// NewMockLnd returns mocked lnd services for unit tests. Payments requested
// through the mock surface on SendPaymentChannel and TrackPaymentChannel, the
// test decides their outcome.
func NewMockLnd() *LndMockServices {
	lightningClient := &mockLightningClient{}
	signer := &mockSigner{}
	router := &mockRouter{}

	lnd := LndMockServices{
		LndServices: lndclient.LndServices{
			Client:      lightningClient,
			Signer:      signer,
			Router:      router,
			ChainParams: &chaincfg.TestNet3Params,
		},
		SendPaymentChannel:  make(chan PaymentChannelMessage),
		TrackPaymentChannel: make(chan TrackPaymentMessage),

		Invoices: make(map[lntypes.Hash]*lndclient.Invoice),

		NodePubkey:   testNodePubkey,
		Signature:    testSignature,
		SignatureMsg: testSignatureMsg,
	}

	lightningClient.lnd = &lnd
	signer.lnd = &lnd
	router.lnd = &lnd

	lnd.WaitForFinished = func() {
		lightningClient.WaitForFinished()
	}

	return &lnd
}

// PaymentChannelMessage is the data that passes through SendPaymentChannel.
type PaymentChannelMessage struct {
	PaymentRequest string
	Done           chan lndclient.PaymentResult
}

// TrackPaymentMessage is the data that passes through TrackPaymentChannel.
type TrackPaymentMessage struct {
	Hash lntypes.Hash

	Updates chan lndclient.PaymentStatus
	Errors  chan error
}

// LndMockServices provides a set of mocked lnd services.
type LndMockServices struct {
	lndclient.LndServices

	SendPaymentChannel  chan PaymentChannelMessage
	TrackPaymentChannel chan TrackPaymentMessage

	// Invoices holds the invoices the mock lightning client handed out,
	// keyed by their payment hash. Settle invoices here to make
	// LookupInvoice return a settled state.
	Invoices map[lntypes.Hash]*lndclient.Invoice

	NodePubkey   string
	Signature    []byte
	SignatureMsg string

	WaitForFinished func()

	lock sync.Mutex
}
