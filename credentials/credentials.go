package credentials

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightningnetwork/lnd/lntypes"
	"gopkg.in/macaroon.v2"
)

var (
	// ErrNotPaid is the error returned when a credential that has no
	// preimage yet is used where a fully paid token is required.
	ErrNotPaid = errors.New("credential has no preimage")

	// ErrPreimageMismatch is the error returned when a preimage does not
	// hash to the payment hash the credential's macaroon commits to.
	ErrPreimageMismatch = errors.New(
		"preimage does not match payment hash",
	)
)

// Credential is an L402 token owned by a client. It is created from a payment
// challenge, completed by setting the preimage obtained by paying the
// challenge's invoice and immutable from then on.
type Credential struct {
	// Location identifies the service the credential was obtained from.
	// This is the URL the payment required response came from.
	Location string

	// Macaroon is the base64 encoded macaroon of the challenge.
	Macaroon string

	// Preimage is the hex encoded payment preimage. It is empty until the
	// invoice was paid.
	Preimage string

	// Invoice is the BOLT 11 invoice that was presented with the
	// challenge.
	Invoice string

	// CreatedAt is the time the challenge was received.
	CreatedAt time.Time
}

// FromChallenge creates a new, unpaid credential from a payment challenge
// received for the given location.
func FromChallenge(location string,
	challenge *l402.Challenge) (*Credential, error) {

	macBytes, err := challenge.Macaroon.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("unable to marshal challenge "+
			"macaroon: %w", err)
	}

	return &Credential{
		Location:  location,
		Macaroon:  base64.StdEncoding.EncodeToString(macBytes),
		Invoice:   challenge.Invoice,
		CreatedAt: time.Now(),
	}, nil
}

// Paid returns true if the credential's invoice was paid and the preimage is
// known.
func (c *Credential) Paid() bool {
	return c.Preimage != ""
}

// PaymentHash returns the payment hash the credential's macaroon identifier
// commits to.
func (c *Credential) PaymentHash() (lntypes.Hash, error) {
	mac, err := c.decodeMacaroon()
	if err != nil {
		return lntypes.Hash{}, err
	}

	identifier, err := l402.DecodeIdentifier(bytes.NewReader(mac.Id()))
	if err != nil {
		return lntypes.Hash{}, fmt.Errorf("unable to decode macaroon "+
			"identifier: %w", err)
	}

	return identifier.PaymentHash, nil
}

// SetPreimage records the preimage obtained by paying the credential's
// invoice. The preimage must hash to the payment hash the macaroon commits
// to, otherwise the token would never validate.
func (c *Credential) SetPreimage(preimage lntypes.Preimage) error {
	paymentHash, err := c.PaymentHash()
	if err != nil {
		return err
	}

	if preimage.Hash() != paymentHash {
		return fmt.Errorf("%w: hash of %v is not %v",
			ErrPreimageMismatch, preimage, paymentHash)
	}

	c.Preimage = preimage.String()
	return nil
}

// Token returns the credential's macaroon and preimage in their typed form,
// ready to be attached to a request header.
func (c *Credential) Token() (*macaroon.Macaroon, lntypes.Preimage, error) {
	if !c.Paid() {
		return nil, lntypes.Preimage{}, ErrNotPaid
	}

	mac, err := c.decodeMacaroon()
	if err != nil {
		return nil, lntypes.Preimage{}, err
	}

	preimage, err := lntypes.MakePreimageFromStr(c.Preimage)
	if err != nil {
		return nil, lntypes.Preimage{}, fmt.Errorf("invalid "+
			"preimage: %w", err)
	}

	return mac, preimage, nil
}

func (c *Credential) decodeMacaroon() (*macaroon.Macaroon, error) {
	macBytes, err := base64.StdEncoding.DecodeString(c.Macaroon)
	if err != nil {
		return nil, fmt.Errorf("unable to decode macaroon: %w", err)
	}

	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return nil, fmt.Errorf("unable to unmarshal macaroon: %w", err)
	}

	return mac, nil
}
