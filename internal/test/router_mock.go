package test

import (
	"context"

	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

type mockRouter struct {
	lndclient.RouterClient
	lnd *LndMockServices
}

func (r *mockRouter) SendPayment(ctx context.Context,
	request lndclient.SendPaymentRequest) (chan lndclient.PaymentStatus,
	chan error, error) {

	statusChan := make(chan lndclient.PaymentStatus)
	errorChan := make(chan error)
	done := make(chan lndclient.PaymentResult, 1)

	r.lnd.SendPaymentChannel <- PaymentChannelMessage{
		PaymentRequest: request.Invoice,
		Done:           done,
	}

	go func() {
		select {
		case result := <-done:
			if result.Err != nil {
				errorChan <- result.Err
				return
			}
			statusChan <- lndclient.PaymentStatus{
				State:    lnrpc.Payment_SUCCEEDED,
				Preimage: result.Preimage,
				Fee: lnwire.NewMSatFromSatoshis(
					result.PaidFee,
				),
				Value: lnwire.NewMSatFromSatoshis(
					result.PaidAmt,
				),
			}

		case <-ctx.Done():
		}
	}()

	return statusChan, errorChan, nil
}

func (r *mockRouter) TrackPayment(ctx context.Context,
	hash lntypes.Hash) (chan lndclient.PaymentStatus, chan error, error) {

	statusChan := make(chan lndclient.PaymentStatus)
	errorChan := make(chan error)
	r.lnd.TrackPaymentChannel <- TrackPaymentMessage{
		Hash:    hash,
		Updates: statusChan,
		Errors:  errorChan,
	}

	return statusChan, errorChan, nil
}
