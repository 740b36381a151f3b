package payer

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// defaultMaxFee is the routing fee limit that is used if the
	// configuration doesn't specify one.
	defaultMaxFee = btcutil.Amount(100)

	// defaultPaymentTimeout is the maximum time lnd's router tries to
	// complete a payment before giving up, unless configured otherwise.
	defaultPaymentTimeout = time.Minute
)

// LndConfig holds the configuration options for a payer that is backed by an
// lnd node.
type LndConfig struct {
	// LndHost is the hostname and port of the lnd node's RPC interface.
	LndHost string

	// TLSPath is the path to the TLS certificate of the lnd node.
	TLSPath string

	// MacDir is the directory where the lnd macaroons can be found.
	MacDir string

	// Network is the bitcoin network the lnd node runs on.
	Network string

	// MaxFee is the routing fee limit for a single payment in satoshis.
	MaxFee btcutil.Amount

	// PaymentTimeout is the maximum time lnd's router tries to complete a
	// payment before giving up.
	PaymentTimeout time.Duration
}

// LndPayer pays invoices through the router subsystem of an lnd node.
type LndPayer struct {
	router  lndclient.RouterClient
	maxFee  btcutil.Amount
	timeout time.Duration

	// closeFn tears down the node connection, set only if the payer
	// opened it itself.
	closeFn func()
}

// A compile time flag to ensure the LndPayer satisfies the Payer interface.
var _ Payer = (*LndPayer)(nil)

// NewLndPayer creates a payer that pays invoices through the given lnd
// router. Zero values for the fee limit and the timeout are replaced with
// sane defaults.
func NewLndPayer(router lndclient.RouterClient, maxFee btcutil.Amount,
	timeout time.Duration) *LndPayer {

	if maxFee == 0 {
		maxFee = defaultMaxFee
	}
	if timeout == 0 {
		timeout = defaultPaymentTimeout
	}

	return &LndPayer{
		router:  router,
		maxFee:  maxFee,
		timeout: timeout,
	}
}

// DialLndPayer connects to the lnd node described by the given configuration
// and returns a payer that pays through that node's router subsystem.
func DialLndPayer(cfg *LndConfig) (*LndPayer, error) {
	services, err := lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:  cfg.LndHost,
		Network:     lndclient.Network(cfg.Network),
		MacaroonDir: cfg.MacDir,
		TLSPath:     cfg.TLSPath,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to connect to lnd: %w", err)
	}

	payer := NewLndPayer(services.Router, cfg.MaxFee, cfg.PaymentTimeout)
	payer.closeFn = services.Close

	return payer, nil
}

// PayInvoice attempts to pay the given invoice through the lnd node, blocking
// until the payment either settles or fails terminally.
//
// NOTE: This is part of the Payer interface.
func (p *LndPayer) PayInvoice(ctx context.Context, invoice string) (
	lntypes.Preimage, error) {

	// Canceling the context also aborts the payment stream in lnd, so we
	// scope it to this call.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	statusChan, payErrChan, err := p.router.SendPayment(
		ctx, lndclient.SendPaymentRequest{
			Invoice: invoice,
			MaxFee:  p.maxFee,
			Timeout: p.timeout,
		},
	)
	if err != nil {
		return lntypes.Preimage{}, fmt.Errorf("%w: %v",
			ErrPaymentFailed, err)
	}

	for {
		select {
		case status := <-statusChan:
			switch status.State {
			case lnrpc.Payment_SUCCEEDED:
				if status.Preimage == (lntypes.Preimage{}) {
					return lntypes.Preimage{}, fmt.Errorf(
						"%w: payment settled without "+
							"a preimage",
						ErrProviderProtocol,
					)
				}

				log.Debugf("Payment settled, fee paid: %v",
					status.Fee)

				return status.Preimage, nil

			case lnrpc.Payment_FAILED:
				return lntypes.Preimage{}, fmt.Errorf("%w: %v",
					ErrPaymentFailed, status.FailureReason)
			}

			// The payment is still in flight, wait for the next
			// update.

		case err := <-payErrChan:
			return lntypes.Preimage{}, fmt.Errorf("%w: %v",
				ErrPaymentFailed, err)

		case <-ctx.Done():
			return lntypes.Preimage{}, ctx.Err()
		}
	}
}

// Stop shuts down the payer and closes the node connection if the payer
// opened it.
//
// NOTE: This is part of the Payer interface.
func (p *LndPayer) Stop() {
	if p.closeFn != nil {
		p.closeFn()
	}
}
