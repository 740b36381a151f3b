package l402

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"gopkg.in/macaroon.v2"
)

// PreimageKey is the key of the caveat that stores the proof of payment, the
// preimage of the invoice that was paid for the token.
const PreimageKey = "preimage"

// zeroPreimage is an all-zero preimage. A token carrying it is pending, its
// payment has not completed yet.
var zeroPreimage lntypes.Preimage

// Token is the main type to store an L402 token in.
type Token struct {
	// PaymentHash is the hash of the invoice that needs to be paid to
	// obtain the token.
	PaymentHash lntypes.Hash

	// Preimage is the preimage belonging to PaymentHash.
	Preimage lntypes.Preimage

	// AmountPaid is the total amount in millisatoshis that was paid to
	// obtain the token.
	AmountPaid lnwire.MilliSatoshi

	// RoutingFeePaid is the total amount in millisatoshis that was paid in
	// routing fees for the payment.
	RoutingFeePaid lnwire.MilliSatoshi

	// TimeCreated is the moment when this token was created.
	TimeCreated time.Time

	// baseMac is the base macaroon in its original form as baked by the
	// authentication server. No client side caveats have been added to it
	// yet.
	baseMac *macaroon.Macaroon
}

// tokenFromChallenge creates a new, pending token from the macaroon and the
// invoice payment hash handed out in a payment challenge.
func tokenFromChallenge(mac *macaroon.Macaroon,
	paymentHash lntypes.Hash) *Token {

	return &Token{
		PaymentHash: paymentHash,
		TimeCreated: time.Now(),
		baseMac:     mac,
	}
}

// BaseMacaroon returns the base macaroon as handed out by the authentication
// server, without any client side caveats.
func (t *Token) BaseMacaroon() *macaroon.Macaroon {
	return t.baseMac.Clone()
}

// PaidMacaroon returns the base macaroon with the proof of payment, the
// preimage, added as a first party caveat.
func (t *Token) PaidMacaroon() (*macaroon.Macaroon, error) {
	if t.isPending() {
		return nil, fmt.Errorf("token is not yet paid")
	}

	mac := t.BaseMacaroon()
	err := AddFirstPartyCaveats(mac, NewCaveat(
		PreimageKey, t.Preimage.String(),
	))
	if err != nil {
		return nil, fmt.Errorf("unable to add preimage caveat: %w",
			err)
	}

	return mac, nil
}

// isPending returns true if the payment for the token was initiated but the
// preimage is not yet known.
func (t *Token) isPending() bool {
	return t.Preimage == zeroPreimage
}

// serializeToken returns the on-disk representation of a token.
func serializeToken(t *Token) ([]byte, error) {
	macBytes, err := t.baseMac.MarshalBinary()
	if err != nil {
		return nil, err
	}

	content := fmt.Sprintf("macaroon:%s\npaymentHash:%s\npreimage:%s\n"+
		"amountPaid:%d\nroutingFeePaid:%d\ntimeCreated:%d\n",
		hex.EncodeToString(macBytes), t.PaymentHash.String(),
		t.Preimage.String(), uint64(t.AmountPaid),
		uint64(t.RoutingFeePaid), t.TimeCreated.Unix())

	return []byte(content), nil
}

// deserializeToken parses the on-disk representation of a token.
func deserializeToken(content []byte) (*Token, error) {
	token := &Token{}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	for _, line := range lines {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid token line: %s", line)
		}

		switch parts[0] {
		case "macaroon":
			macBytes, err := hex.DecodeString(parts[1])
			if err != nil {
				return nil, fmt.Errorf("unable to decode "+
					"macaroon: %w", err)
			}
			mac := &macaroon.Macaroon{}
			if err := mac.UnmarshalBinary(macBytes); err != nil {
				return nil, fmt.Errorf("unable to unmarshal "+
					"macaroon: %w", err)
			}
			token.baseMac = mac

		case "paymentHash":
			hash, err := lntypes.MakeHashFromStr(parts[1])
			if err != nil {
				return nil, fmt.Errorf("unable to parse "+
					"payment hash: %w", err)
			}
			token.PaymentHash = hash

		case "preimage":
			preimage, err := lntypes.MakePreimageFromStr(parts[1])
			if err != nil {
				return nil, fmt.Errorf("unable to parse "+
					"preimage: %w", err)
			}
			token.Preimage = preimage

		case "amountPaid":
			amt, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unable to parse "+
					"amount paid: %w", err)
			}
			token.AmountPaid = lnwire.MilliSatoshi(amt)

		case "routingFeePaid":
			fee, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unable to parse "+
					"routing fee paid: %w", err)
			}
			token.RoutingFeePaid = lnwire.MilliSatoshi(fee)

		case "timeCreated":
			unix, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unable to parse "+
					"creation time: %w", err)
			}
			token.TimeCreated = time.Unix(unix, 0)

		default:
			return nil, fmt.Errorf("unknown token field: %s",
				parts[0])
		}
	}

	if token.baseMac == nil {
		return nil, fmt.Errorf("token is missing its macaroon")
	}

	return token, nil
}
