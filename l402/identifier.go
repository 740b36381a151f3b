package l402

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// LatestVersion is the latest version used for minting new L402s.
	LatestVersion = 0

	// SecretSize is the size in bytes of an L402's secret, also known as
	// the root key of the macaroon.
	SecretSize = 32

	// TokenIDSize is the size in bytes of an L402's ID encoded in its
	// macaroon identifier.
	TokenIDSize = 32
)

var (
	// byteOrder is the byte order used to encode/decode an L402's macaroon
	// identifier.
	byteOrder = binary.BigEndian

	// ErrUnknownVersion is an error returned when attempting to decode an
	// L402 identifier with an unknown version.
	ErrUnknownVersion = errors.New("unknown L402 version")
)

// TokenID is the type that stores the token identifier of an L402 token.
type TokenID [TokenIDSize]byte

// String returns the hex encoded representation of the token ID as a string.
func (t TokenID) String() string {
	return hex.EncodeToString(t[:])
}

// MakeIDFromString parses the hex encoded string and parses it into a token
// ID.
func MakeIDFromString(newID string) (TokenID, error) {
	if len(newID) != hex.EncodedLen(TokenIDSize) {
		return TokenID{}, fmt.Errorf("invalid id string length of %v, "+
			"want %v", len(newID), hex.EncodedLen(TokenIDSize))
	}

	idBytes, err := hex.DecodeString(newID)
	if err != nil {
		return TokenID{}, err
	}
	var id TokenID
	copy(id[:], idBytes)

	return id, nil
}

// Identifier contains the static identifying details of an L402. This is
// intended to be used as the identifier of the macaroon within an L402.
type Identifier struct {
	// Version is the version of an L402. Having a version allows us to
	// introduce new fields to L402s without breaking compatibility with
	// tokens that were minted earlier.
	Version uint16

	// PaymentHash is the payment hash linked to an L402. Verification of
	// an L402 depends on a valid payment, which is enforced by requiring a
	// preimage matching this hash.
	PaymentHash lntypes.Hash

	// TokenID is the unique identifier of an L402.
	TokenID TokenID
}

// EncodeIdentifier encodes an L402's identifier according to its version.
func EncodeIdentifier(w io.Writer, id *Identifier) error {
	if err := binary.Write(w, byteOrder, id.Version); err != nil {
		return err
	}

	switch id.Version {
	// A version 0 identifier consists of its linked payment hash, followed
	// by the token ID.
	case LatestVersion:
		if _, err := w.Write(id.PaymentHash[:]); err != nil {
			return err
		}
		_, err := w.Write(id.TokenID[:])
		return err

	default:
		return fmt.Errorf("%w: %v", ErrUnknownVersion, id.Version)
	}
}

// DecodeIdentifier decodes an L402's identifier according to its version.
func DecodeIdentifier(r io.Reader) (*Identifier, error) {
	var version uint16
	if err := binary.Read(r, byteOrder, &version); err != nil {
		return nil, err
	}

	switch version {
	// A version 0 identifier consists of its linked payment hash, followed
	// by the token ID.
	case LatestVersion:
		var paymentHash lntypes.Hash
		if _, err := io.ReadFull(r, paymentHash[:]); err != nil {
			return nil, err
		}

		var tokenID TokenID
		if _, err := io.ReadFull(r, tokenID[:]); err != nil {
			return nil, err
		}

		// A version 0 identifier is exactly the bytes read above, any
		// trailing data means the input is not a valid identifier.
		var trailing [1]byte
		if _, err := io.ReadFull(r, trailing[:]); err != io.EOF {
			return nil, errors.New("unexpected bytes after " +
				"identifier")
		}

		return &Identifier{
			Version:     version,
			PaymentHash: paymentHash,
			TokenID:     tokenID,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownVersion, version)
	}
}
