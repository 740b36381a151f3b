package l402

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/macaroons"
	"github.com/lightningnetwork/lnd/zpay32"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	// GRPCErrCode is the error code we send from the gRPC server to the
	// client to indicate that a payment is required to access the service.
	GRPCErrCode = codes.Internal

	// GRPCErrMessage is the error message we send from the gRPC server to
	// the client to indicate that a payment is required to access the
	// service.
	GRPCErrMessage = "payment required"

	// DefaultMaxCostSats is the default maximum amount in satoshis that we
	// are going to pay for a token automatically. Does not include routing
	// fees.
	DefaultMaxCostSats = 1000

	// DefaultMaxRoutingFeeSats is the default maximum routing fee in
	// satoshis that we are going to pay to acquire a token.
	DefaultMaxRoutingFeeSats = 10

	// PaymentTimeout is the maximum time we allow a payment to take before
	// we stop waiting for it.
	PaymentTimeout = 60 * time.Second

	// manualRetryHint is the error text we return to tell the user how a
	// token payment can be retried if the payment fails.
	manualRetryHint = "consider removing pending token file if error " +
		"persists"
)

// errPaymentFailed is the internal signal that a tracked payment reached a
// terminal failure state and will never settle.
var errPaymentFailed = errors.New("payment failed terminally")

// ClientInterceptor is a gRPC client interceptor that can handle L402
// authentication challenges with embedded payment requests. It uses a
// connection to lnd to automatically pay for an authentication token.
type ClientInterceptor struct {
	lnd           *lndclient.LndServices
	store         Store
	callTimeout   time.Duration
	maxCost       btcutil.Amount
	maxFee        btcutil.Amount
	allowInsecure bool
	lock          sync.Mutex
}

// NewInterceptor creates a new gRPC client interceptor that uses the provided
// lnd connection to automatically acquire and pay for L402 tokens, unless the
// indicated store already contains a usable token.
func NewInterceptor(lnd *lndclient.LndServices, store Store,
	rpcCallTimeout time.Duration, maxCost,
	maxFee btcutil.Amount, allowInsecure bool) *ClientInterceptor {

	return &ClientInterceptor{
		lnd:           lnd,
		store:         store,
		callTimeout:   rpcCallTimeout,
		maxCost:       maxCost,
		maxFee:        maxFee,
		allowInsecure: allowInsecure,
	}
}

// interceptContext is a struct that contains all information about a call
// we're intercepting. It's used to pass over the same information to all parts
// of the interception.
type interceptContext struct {
	mainCtx  context.Context
	opts     []grpc.CallOption
	metadata *metadata.MD
	token    *Token
}

// UnaryInterceptor is an interceptor method that can be used directly by gRPC
// for unary calls. If the store contains a token, it is attached as a
// credential to every call before patching it through. The response error is
// also intercepted for a payment challenge which then is paid to obtain a new
// token.
func (i *ClientInterceptor) UnaryInterceptor(ctx context.Context, method string,
	req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption) error {

	// To avoid paying for a token twice if two parallel requests are
	// both served a challenge, we require an exclusive lock here.
	i.lock.Lock()
	defer i.lock.Unlock()

	// Create the context that we'll use to initiate the real request. This
	// contains the means to extract response headers and possibly a token,
	// if we already have paid for one.
	iCtx, err := i.newInterceptContext(ctx, opts)
	if err != nil {
		return err
	}

	// Try executing the call now. If anything goes wrong, we only handle
	// the gRPC error that indicates a payment challenge.
	rpcCtx, cancel := context.WithTimeout(ctx, i.callTimeout)
	defer cancel()
	err = invoker(rpcCtx, method, req, reply, cc, iCtx.opts...)
	if !isPaymentRequired(err) {
		return err
	}

	// Find out if we need to pay for a new token or perhaps resume a
	// previously aborted payment.
	if err := i.handlePayment(iCtx); err != nil {
		return err
	}

	// Execute the same request again, now with the paid token attached as
	// an RPC credential.
	rpcCtx2, cancel2 := context.WithTimeout(ctx, i.callTimeout)
	defer cancel2()
	return invoker(rpcCtx2, method, req, reply, cc, iCtx.opts...)
}

// StreamInterceptor is an interceptor method that can be used directly by gRPC
// for streaming calls. If the store contains a token, it is attached as a
// credential to every stream establishment call before patching it through.
// The response error is also intercepted for a payment challenge which then is
// paid to obtain a new token.
func (i *ClientInterceptor) StreamInterceptor(ctx context.Context,
	desc *grpc.StreamDesc, cc *grpc.ClientConn, method string,
	streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream,
	error) {

	// To avoid paying for a token twice if two parallel requests are
	// both served a challenge, we require an exclusive lock here.
	i.lock.Lock()
	defer i.lock.Unlock()

	// Create the context that we'll use to initiate the real request. This
	// contains the means to extract response headers and possibly a token,
	// if we already have paid for one.
	iCtx, err := i.newInterceptContext(ctx, opts)
	if err != nil {
		return nil, err
	}

	// Try establishing the stream now. If anything goes wrong, we only
	// handle the gRPC error that indicates a payment challenge. Streams
	// are usually long lived so we don't use the RPC call timeout here.
	stream, err := streamer(ctx, desc, cc, method, iCtx.opts...)
	if !isPaymentRequired(err) {
		return stream, err
	}

	// Find out if we need to pay for a new token or perhaps resume a
	// previously aborted payment.
	if err := i.handlePayment(iCtx); err != nil {
		return nil, err
	}

	// Try establishing the stream again, now with the paid token attached
	// as an RPC credential.
	return streamer(ctx, desc, cc, method, iCtx.opts...)
}

// newInterceptContext creates the initial intercept context that can capture
// metadata from the server and sends a paid token to the server if one exists
// in the store.
func (i *ClientInterceptor) newInterceptContext(ctx context.Context,
	opts []grpc.CallOption) (*interceptContext, error) {

	iCtx := &interceptContext{
		mainCtx:  ctx,
		opts:     opts,
		metadata: &metadata.MD{},
	}

	// Let gRPC capture the response trailers for us, that's where a
	// payment challenge would be announced.
	iCtx.opts = append(iCtx.opts, grpc.Trailer(iCtx.metadata))

	// Check if we have a token and need to send it along.
	var err error
	iCtx.token, err = i.store.CurrentToken()
	switch {
	// If there is no token yet, nothing to do for now.
	case err == ErrNoToken:

	case err != nil:
		return nil, fmt.Errorf("unable to determine current token: %w",
			err)

	// A pending token cannot authenticate a call. We'll resume its payment
	// once the server serves us a challenge.
	case iCtx.token.isPending():

	// We have a paid token, let's use it.
	default:
		iCtx.opts, err = i.addL402Credentials(iCtx.token, iCtx.opts)
		if err != nil {
			return nil, err
		}
	}

	return iCtx, nil
}

// handlePayment tries to obtain a valid token by either tracking the payment
// status of a pending token or paying for a new one.
func (i *ClientInterceptor) handlePayment(iCtx *interceptContext) error {
	switch {
	// Resume a pending payment if there is one. Should the payment turn
	// out to have failed terminally, the pending token is useless and we
	// pay for a fresh one with the current challenge.
	case iCtx.token != nil && iCtx.token.isPending():
		log.Infof("Payment of L402 token is required, resuming/" +
			"tracking previous payment from pending token")
		err := i.trackPayment(iCtx.mainCtx, iCtx.token)
		switch {
		case err == errPaymentFailed:
			log.Infof("Pending token payment failed terminally, " +
				"removing pending token and paying again")
			if err := i.store.RemovePendingToken(); err != nil {
				return fmt.Errorf("unable to remove pending "+
					"token: %w", err)
			}

			iCtx.token, err = i.payL402(
				iCtx.mainCtx, iCtx.metadata,
			)
			if err != nil {
				return err
			}

		case err != nil:
			return err
		}

	// We don't have a token yet, try to get a new one.
	case iCtx.token == nil:
		log.Infof("Payment of L402 token is required, paying invoice")
		var err error
		iCtx.token, err = i.payL402(iCtx.mainCtx, iCtx.metadata)
		if err != nil {
			return err
		}

	// We have a paid token and the server still isn't happy. Trying again
	// with the same token won't help and we don't pay for another one.
	default:
		return fmt.Errorf("payment required even though paid token " +
			"was presented, won't pay for a new one")
	}

	// Add the paid token to the call options to authenticate the retry.
	var err error
	iCtx.opts, err = i.addL402Credentials(iCtx.token, iCtx.opts)
	return err
}

// payL402 reads the payment challenge from the response metadata and tries to
// pay the invoice encoded in it, returning a paid token if successful.
func (i *ClientInterceptor) payL402(ctx context.Context, md *metadata.MD) (
	*Token, error) {

	// First parse the challenge that was delivered in the response
	// trailers. Both the current and the legacy scheme are accepted.
	var (
		challenge *Challenge
		parseErr  error = ErrMissingChallenge
	)
	for _, value := range md.Get(AuthHeader) {
		challenge, parseErr = ParseChallenge(value)
		if parseErr == nil {
			break
		}
	}
	if parseErr != nil {
		return nil, parseErr
	}

	// Decode the invoice to know what the token costs and what payment
	// hash to track.
	invoice, err := zpay32.Decode(challenge.Invoice, i.lnd.ChainParams)
	if err != nil {
		return nil, fmt.Errorf("unable to decode invoice: %w", err)
	}
	if invoice.PaymentHash == nil {
		return nil, fmt.Errorf("invoice has no payment hash")
	}

	// Check that the charged amount does not exceed our maximum cost.
	maxCostMsat := lnwire.NewMSatFromSatoshis(i.maxCost)
	paymentMSat := lnwire.MilliSatoshi(0)
	if invoice.MilliSat != nil {
		paymentMSat = *invoice.MilliSat
	}
	if paymentMSat > maxCostMsat {
		return nil, fmt.Errorf("cannot pay for L402 automatically, "+
			"cost of %d msat exceeds configured max cost of %d "+
			"msat", paymentMSat, maxCostMsat)
	}

	// Create and store the pending token so the payment can be resumed
	// should it be interrupted somehow.
	token := tokenFromChallenge(
		challenge.Macaroon, lntypes.Hash(*invoice.PaymentHash),
	)
	if err := i.store.StoreToken(token); err != nil {
		return nil, fmt.Errorf("unable to store pending token: %w", err)
	}

	// Pay the invoice now and wait for the result to arrive or the main
	// context to be canceled.
	payCtx, cancel := context.WithTimeout(ctx, PaymentTimeout)
	defer cancel()
	respChan := i.lnd.Client.PayInvoice(
		payCtx, challenge.Invoice, i.maxFee, nil,
	)
	select {
	case result := <-respChan:
		if result.Err != nil {
			return nil, fmt.Errorf("unable to pay invoice: %w, %s",
				result.Err, manualRetryHint)
		}
		token.Preimage = result.Preimage
		token.AmountPaid = lnwire.NewMSatFromSatoshis(result.PaidAmt)
		token.RoutingFeePaid = lnwire.NewMSatFromSatoshis(
			result.PaidFee,
		)

		return token, i.store.StoreToken(token)

	case <-payCtx.Done():
		return nil, fmt.Errorf("payment timed out, %s", manualRetryHint)
	}
}

// trackPayment tries to resume a pending payment by tracking its state and
// waiting for a conclusive result. On success the given token is completed
// with the settlement details and written back to the store.
func (i *ClientInterceptor) trackPayment(ctx context.Context,
	token *Token) error {

	// Lookup state of the payment.
	paymentStateCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	payStatusChan, payErrChan, err := i.lnd.Router.TrackPayment(
		paymentStateCtx, token.PaymentHash,
	)
	if err != nil {
		return fmt.Errorf("track payment call to lnd failed: %w", err)
	}

	// We can't wait forever, so we give the payment tracking the same
	// timeout as the original payment.
	payCtx, payCancel := context.WithTimeout(ctx, PaymentTimeout)
	defer payCancel()

	// We'll consume status updates until we reach a conclusive state or
	// the timeout.
	for {
		select {
		case result := <-payStatusChan:
			switch result.State {
			// If the payment was successful, we have all the
			// information we need and can return the fully paid
			// token.
			case lnrpc.Payment_SUCCEEDED:
				token.Preimage = result.Preimage
				token.AmountPaid = result.Value
				token.RoutingFeePaid = result.Fee

				return i.store.StoreToken(token)

			// The payment is still in flight, we'll give it more
			// time to complete.
			case lnrpc.Payment_IN_FLIGHT:

			// The payment will never settle.
			default:
				log.Errorf("Payment state was %v, pending "+
					"token is useless", result.State)
				return errPaymentFailed
			}

		// Abort the payment execution for any error.
		case err := <-payErrChan:
			return fmt.Errorf("payment tracking failed: %w", err)

		case <-payCtx.Done():
			return fmt.Errorf("payment tracking timed out, %s",
				manualRetryHint)
		}
	}
}

// addL402Credentials adds the macaroon of a paid token to the given list of
// call options.
func (i *ClientInterceptor) addL402Credentials(token *Token,
	opts []grpc.CallOption) ([]grpc.CallOption, error) {

	if token == nil {
		return nil, fmt.Errorf("cannot add nil token to call options")
	}

	mac, err := token.PaidMacaroon()
	if err != nil {
		return nil, err
	}
	cred, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return nil, fmt.Errorf("unable to create macaroon credential: "+
			"%w", err)
	}

	var rpcCred credentials.PerRPCCredentials = cred
	if i.allowInsecure {
		rpcCred = insecureMacaroonCredential{cred}
	}

	return append(opts, grpc.PerRPCCredentials(rpcCred)), nil
}

// insecureMacaroonCredential wraps the default macaroon credential but does
// not require transport security. This must only be used if the transport is
// secured on another layer, for example a proxy terminating TLS in front of a
// plaintext listener.
type insecureMacaroonCredential struct {
	macaroons.MacaroonCredential
}

// RequireTransportSecurity implements the PerRPCCredentials interface.
func (i insecureMacaroonCredential) RequireTransportSecurity() bool {
	return false
}

// isPaymentRequired inspects an error to find out if it's the specific gRPC
// error sent by the server to indicate a payment is needed to access the
// service.
func isPaymentRequired(err error) bool {
	statusErr, ok := status.FromError(err)
	return ok &&
		statusErr.Message() == GRPCErrMessage &&
		statusErr.Code() == GRPCErrCode
}
