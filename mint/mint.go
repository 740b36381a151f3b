package mint

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightningnetwork/lnd/lntypes"
	"gopkg.in/macaroon.v2"
)

var (
	// ErrSecretNotFound is an error returned when we attempt to retrieve a
	// secret by its token ID but it is not found.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrInvalidPreimage is returned during verification when the given
	// preimage does not hash to the payment hash committed to by the
	// macaroon identifier.
	ErrInvalidPreimage = errors.New("invalid preimage")

	// ErrIncompatibleHmacFuncUsed is an error when we try to generate a
	// pseudo-random secret but the output of the hash function is too
	// short.
	ErrIncompatibleHmacFuncUsed = errors.New("HMAC function returned " +
		"less than l402.SecretSize bytes")
)

// Challenger is an interface used to present requesters of L402s with a
// challenge that must be satisfied before an L402 can be validated. This
// challenge takes the form of a Lightning payment request.
type Challenger interface {
	// NewChallenge returns a new challenge in the form of a Lightning
	// payment request. The payment hash is also returned as a convenience
	// to avoid having to decode the payment request in order to retrieve
	// its payment hash.
	NewChallenge(price int64) (string, lntypes.Hash, error)

	// Stop shuts down the challenger and frees up any resources it holds.
	Stop()
}

// SecretStore is the store responsible for storing L402 root keys. These are
// required for proper verification of each minted L402.
type SecretStore interface {
	// PutSecret persists the given root key and the serialized macaroon it
	// signs under the given token ID. Storing a secret for a token ID that
	// already exists is an error.
	PutSecret(ctx context.Context, id l402.TokenID,
		secret [l402.SecretSize]byte, mac []byte) error

	// GetSecret returns the root key that corresponds to the given token
	// ID. If there is no such secret, ErrSecretNotFound is returned.
	GetSecret(ctx context.Context,
		id l402.TokenID) ([l402.SecretSize]byte, error)

	// RevokeSecret removes the root key that corresponds to the given
	// token ID. This acts as a NOP if the secret does not exist.
	RevokeSecret(ctx context.Context, id l402.TokenID) error
}

// ServiceLimiter abstracts the source of caveats that should be applied to an
// L402 for a particular service.
type ServiceLimiter interface {
	// ServiceCapabilities returns the capabilities caveats for each
	// service. This determines which capabilities of each service can be
	// accessed.
	ServiceCapabilities(context.Context,
		...l402.Service) ([]l402.Caveat, error)

	// ServiceConstraints returns the constraints for each service. This
	// enforces additional constraints on a particular service/service
	// capability.
	ServiceConstraints(context.Context,
		...l402.Service) ([]l402.Caveat, error)

	// ServiceTimeouts returns the timeout caveat for each service. This
	// will determine if and when the access to a service expires.
	ServiceTimeouts(context.Context, ...l402.Service) ([]l402.Caveat, error)
}

// Config packages all of the required dependencies to instantiate a new L402
// mint.
type Config struct {
	// Secrets is our source for L402 root keys which will be used for
	// verification purposes.
	Secrets SecretStore

	// Challenger is our source of new challenges to present requesters of
	// an L402 with.
	Challenger Challenger

	// ServiceLimiter provides us with how we should limit a new L402 based
	// on its target services.
	ServiceLimiter ServiceLimiter

	// Now returns the current time, used when verifying service timeout
	// caveats. Tests inject a mock clock through this.
	Now func() time.Time

	// KeyForPseudoRandomness, if set, switches the mint to deterministic
	// root keys derived from this key via HMAC-SHA256 over the token ID.
	// No secret store writes happen in that mode.
	KeyForPseudoRandomness []byte
}

// Mint is an entity that is able to mint and verify L402s for a set of
// services.
type Mint struct {
	cfg Config
}

// New creates a new L402 mint backed by its given dependencies.
func New(cfg *Config) *Mint {
	mint := &Mint{cfg: *cfg}
	if mint.cfg.Now == nil {
		mint.cfg.Now = time.Now
	}
	return mint
}

// MintL402 mints a new L402 for the target services.
func (m *Mint) MintL402(ctx context.Context,
	services ...l402.Service) (*macaroon.Macaroon, string, error) {

	// Let the L402 value be the price of the most expensive of the
	// services.
	price := maximumPrice(services)

	// We'll start by retrieving a new challenge in the form of a Lightning
	// payment request to present the requester of the L402 with.
	paymentRequest, paymentHash, err := m.cfg.Challenger.NewChallenge(
		price,
	)
	if err != nil {
		return nil, "", fmt.Errorf("unable to create invoice: %w", err)
	}

	// We can then proceed to mint the L402 with a unique identifier that
	// is mapped to a unique root key.
	id, idBytes, err := createUniqueIdentifier(paymentHash)
	if err != nil {
		return nil, "", err
	}

	secret, err := m.newSecret(id)
	if err != nil {
		return nil, "", err
	}

	mac, err := macaroon.New(
		secret[:], idBytes, "l402", macaroon.LatestVersion,
	)
	if err != nil {
		return nil, "", err
	}

	// Include any restrictions that should be immediately applied to the
	// L402.
	var caveats []l402.Caveat
	if len(services) > 0 {
		caveats, err = m.caveatsForServices(ctx, services...)
		if err != nil {
			return nil, "", err
		}
	}
	if err := l402.AddFirstPartyCaveats(mac, caveats...); err != nil {
		return nil, "", err
	}

	// Persist the root key, keyed by the token ID, along with the minted
	// macaroon before handing out the challenge. A minted L402 that was
	// never stored could otherwise not be verified after payment.
	if m.cfg.KeyForPseudoRandomness == nil {
		macBytes, err := mac.MarshalBinary()
		if err != nil {
			return nil, "", err
		}
		err = m.cfg.Secrets.PutSecret(
			ctx, id.TokenID, secret, macBytes,
		)
		if err != nil {
			return nil, "", fmt.Errorf("unable to store "+
				"secret: %w", err)
		}
	}

	return mac, paymentRequest, nil
}

// maximumPrice determines the necessary price to use for a collection
// of services.
func maximumPrice(services []l402.Service) int64 {
	var max int64

	for _, service := range services {
		if service.Price > max {
			max = service.Price
		}
	}

	return max
}

// createUniqueIdentifier creates a new L402 identifier bound to a payment hash
// and a randomly generated token ID, returning it both decoded and in its
// serialized form.
func createUniqueIdentifier(paymentHash lntypes.Hash) (*l402.Identifier,
	[]byte, error) {

	tokenID, err := generateTokenID()
	if err != nil {
		return nil, nil, err
	}

	id := &l402.Identifier{
		Version:     l402.LatestVersion,
		PaymentHash: paymentHash,
		TokenID:     tokenID,
	}

	var buf bytes.Buffer
	if err := l402.EncodeIdentifier(&buf, id); err != nil {
		return nil, nil, err
	}
	return id, buf.Bytes(), nil
}

// generateTokenID generates a new random L402 token ID.
func generateTokenID() (l402.TokenID, error) {
	var tokenID l402.TokenID
	_, err := rand.Read(tokenID[:])
	return tokenID, err
}

// caveatsForServices returns all of the caveats that should be applied to an
// L402 for the target services.
func (m *Mint) caveatsForServices(ctx context.Context,
	services ...l402.Service) ([]l402.Caveat, error) {

	servicesCaveat, err := l402.NewServicesCaveat(services...)
	if err != nil {
		return nil, err
	}
	capabilities, err := m.cfg.ServiceLimiter.ServiceCapabilities(
		ctx, services...,
	)
	if err != nil {
		return nil, err
	}
	constraints, err := m.cfg.ServiceLimiter.ServiceConstraints(
		ctx, services...,
	)
	if err != nil {
		return nil, err
	}
	timeouts, err := m.cfg.ServiceLimiter.ServiceTimeouts(ctx, services...)
	if err != nil {
		return nil, err
	}

	caveats := []l402.Caveat{servicesCaveat}
	caveats = append(caveats, capabilities...)
	caveats = append(caveats, constraints...)
	caveats = append(caveats, timeouts...)
	return caveats, nil
}

// VerificationParams holds all of the requirements to properly verify an L402.
type VerificationParams struct {
	// Macaroon is the macaroon as part of the L402 we'll attempt to verify.
	Macaroon *macaroon.Macaroon

	// Preimage is the preimage that should correspond to the L402's
	// payment hash.
	Preimage lntypes.Preimage

	// TargetService is the target service a user of an L402 is attempting
	// to access.
	TargetService string
}

// getDeterministicSecret derives the pseudo-random root key for an identifier.
func (m *Mint) getDeterministicSecret(id *l402.Identifier) (
	[l402.SecretSize]byte, error) {

	var ret [l402.SecretSize]byte

	if m.cfg.KeyForPseudoRandomness == nil {
		return ret, ErrSecretNotFound
	}

	mac := hmac.New(sha256.New, m.cfg.KeyForPseudoRandomness)
	if _, err := mac.Write(id.TokenID[:]); err != nil {
		return ret, err
	}

	result := mac.Sum(nil)
	if len(result) < l402.SecretSize {
		return ret, ErrIncompatibleHmacFuncUsed
	}

	copy(ret[:], result[:l402.SecretSize])

	return ret, nil
}

// newSecret creates the root key for a fresh identifier, either derived
// deterministically or drawn from crypto/rand.
func (m *Mint) newSecret(id *l402.Identifier) ([l402.SecretSize]byte, error) {
	if m.cfg.KeyForPseudoRandomness != nil {
		return m.getDeterministicSecret(id)
	}

	var secret [l402.SecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// fetchSecret looks up the root key for an already minted identifier.
func (m *Mint) fetchSecret(ctx context.Context,
	id *l402.Identifier) ([l402.SecretSize]byte, error) {

	if m.cfg.KeyForPseudoRandomness != nil {
		return m.getDeterministicSecret(id)
	}

	return m.cfg.Secrets.GetSecret(ctx, id.TokenID)
}

// VerifyL402 attempts to verify an L402 with the given parameters.
func (m *Mint) VerifyL402(ctx context.Context,
	params *VerificationParams) error {

	// We'll first perform a quick check to determine if a valid preimage
	// was provided.
	id, err := l402.DecodeIdentifier(
		bytes.NewReader(params.Macaroon.Id()),
	)
	if err != nil {
		return err
	}
	if params.Preimage.Hash() != id.PaymentHash {
		return fmt.Errorf("%w: preimage %v does not match hash %v",
			ErrInvalidPreimage, params.Preimage, id.PaymentHash)
	}

	// If there was, then we'll ensure the L402 was minted by us.
	secret, err := m.fetchSecret(ctx, id)
	if err != nil {
		return err
	}

	rawCaveats, err := params.Macaroon.VerifySignature(secret[:], nil)
	if err != nil {
		return err
	}

	// With the L402 verified, we'll now inspect its caveats to ensure the
	// target service is authorized.
	caveats := make([]l402.Caveat, 0, len(rawCaveats))
	for _, rawCaveat := range rawCaveats {
		// L402s can contain third-party caveats that we're not aware
		// of, so just skip those.
		caveat, err := l402.DecodeCaveat(rawCaveat)
		if err != nil {
			continue
		}
		caveats = append(caveats, caveat)
	}
	return l402.VerifyCaveats(
		caveats,
		l402.NewServicesSatisfier(params.TargetService),
		l402.NewTimeoutSatisfier(params.TargetService, m.cfg.Now),
	)
}
