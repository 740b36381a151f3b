package credentials

import (
	"bytes"
	"testing"

	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
	"gopkg.in/macaroon.v2"
)

var (
	testPreimage = lntypes.Preimage{1, 2, 3, 4}

	testInvoice = "lnbc1500n1pw5kjhmpp5dc4d"

	testLocation = "https://api.example.com/paid"
)

// newTestChallenge builds a challenge whose macaroon commits to the payment
// hash of the given preimage.
func newTestChallenge(t *testing.T,
	preimage lntypes.Preimage) *l402.Challenge {

	t.Helper()

	var identifier bytes.Buffer
	err := l402.EncodeIdentifier(&identifier, &l402.Identifier{
		Version:     l402.LatestVersion,
		PaymentHash: preimage.Hash(),
		TokenID:     l402.TokenID{7, 7, 7},
	})
	require.NoError(t, err)

	rootKey := [l402.SecretSize]byte{1, 2, 3}
	mac, err := macaroon.New(
		rootKey[:], identifier.Bytes(), testLocation,
		macaroon.LatestVersion,
	)
	require.NoError(t, err)

	return &l402.Challenge{
		Macaroon: mac,
		Invoice:  testInvoice,
	}
}

// TestCredentialLifecycle tests the way of a credential from a parsed
// challenge to a fully paid token.
func TestCredentialLifecycle(t *testing.T) {
	t.Parallel()

	challenge := newTestChallenge(t, testPreimage)
	credential, err := FromChallenge(testLocation, challenge)
	require.NoError(t, err)

	require.Equal(t, testLocation, credential.Location)
	require.Equal(t, testInvoice, credential.Invoice)
	require.False(t, credential.CreatedAt.IsZero())
	require.False(t, credential.Paid())

	// An unpaid credential can't be turned into an authentication token.
	_, _, err = credential.Token()
	require.ErrorIs(t, err, ErrNotPaid)

	// The payment hash must survive the round trip through the encoded
	// macaroon.
	paymentHash, err := credential.PaymentHash()
	require.NoError(t, err)
	require.Equal(t, testPreimage.Hash(), paymentHash)

	// A preimage of a different payment must be rejected.
	wrongPreimage := lntypes.Preimage{9, 9, 9}
	err = credential.SetPreimage(wrongPreimage)
	require.ErrorIs(t, err, ErrPreimageMismatch)
	require.False(t, credential.Paid())

	// The correct preimage completes the credential.
	require.NoError(t, credential.SetPreimage(testPreimage))
	require.True(t, credential.Paid())
	require.Equal(t, testPreimage.String(), credential.Preimage)

	// The typed token must carry the exact macaroon and preimage.
	mac, preimage, err := credential.Token()
	require.NoError(t, err)
	require.Equal(t, testPreimage, preimage)
	require.Equal(t, challenge.Macaroon.Id(), mac.Id())
	require.Equal(t, challenge.Macaroon.Signature(), mac.Signature())
}
