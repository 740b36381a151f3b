package l402

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"gopkg.in/macaroon.v2"
)

const (
	// AuthHeader is the HTTP response header field name under which a
	// server announces its payment challenge.
	AuthHeader = "WWW-Authenticate"

	// challengeFormat is the format of a challenge header value. The
	// macaroon is base64 encoded, the invoice is in its BOLT 11 encoding.
	challengeFormat = `L402 macaroon="%s", invoice="%s"`
)

var (
	// challengeRegex matches challenge header values of both the current
	// and the legacy authentication scheme.
	challengeRegex = regexp.MustCompile(
		`(LSAT|L402) macaroon="(.*?)", invoice="(.*?)"`,
	)

	// ErrMissingChallenge is the error returned when a payment required
	// response does not carry a challenge header.
	ErrMissingChallenge = errors.New("no L402 challenge header found")

	// ErrMalformedChallenge is the error returned when a challenge header
	// was found but its content could not be parsed.
	ErrMalformedChallenge = errors.New("malformed L402 challenge header")
)

// Challenge is a payment challenge as announced by a server in a payment
// required response. Paying the invoice yields the preimage that turns the
// macaroon into a valid authentication token.
type Challenge struct {
	// Macaroon is the base macaroon of the challenge. It commits to the
	// payment hash of the invoice.
	Macaroon *macaroon.Macaroon

	// Invoice is the BOLT 11 invoice that needs to be paid.
	Invoice string
}

// SetChallengeHeader adds the challenge header for the given macaroon and
// invoice to a response header.
func SetChallengeHeader(header *http.Header, mac *macaroon.Macaroon,
	invoice string) error {

	macBytes, err := mac.MarshalBinary()
	if err != nil {
		return err
	}
	macBase64 := base64.StdEncoding.EncodeToString(macBytes)

	header.Set(AuthHeader, fmt.Sprintf(
		challengeFormat, macBase64, invoice,
	))

	return nil
}

// ChallengeFromHeader tries to extract a payment challenge from the headers of
// a payment required response. ErrMissingChallenge is returned if the response
// carries no challenge header at all, ErrMalformedChallenge if a header is
// present but none of its values parses as a challenge.
func ChallengeFromHeader(header *http.Header) (*Challenge, error) {
	values := header.Values(AuthHeader)
	if len(values) == 0 {
		return nil, ErrMissingChallenge
	}

	lastErr := fmt.Errorf("%w: no value matches the challenge format",
		ErrMalformedChallenge)
	for _, value := range values {
		challenge, err := ParseChallenge(value)
		if err == nil {
			return challenge, nil
		}

		// A value that did look like a challenge but failed to parse
		// gives a more precise error than the generic one above.
		if !errors.Is(err, ErrMissingChallenge) {
			lastErr = err
		}
	}

	return nil, lastErr
}

// ParseChallenge parses a single challenge header value.
func ParseChallenge(challenge string) (*Challenge, error) {
	matches := challengeRegex.FindStringSubmatch(challenge)
	if len(matches) != 4 {
		return nil, ErrMissingChallenge
	}

	macBase64, invoice := matches[2], matches[3]
	if macBase64 == "" || invoice == "" {
		return nil, fmt.Errorf("%w: macaroon or invoice missing",
			ErrMalformedChallenge)
	}

	macBytes, err := base64.StdEncoding.DecodeString(macBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode of macaroon "+
			"failed: %v", ErrMalformedChallenge, err)
	}
	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return nil, fmt.Errorf("%w: unable to unmarshal macaroon: %v",
			ErrMalformedChallenge, err)
	}

	return &Challenge{
		Macaroon: mac,
		Invoice:  invoice,
	}, nil
}
