package test

import (
	"bytes"
	"context"

	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/keychain"
)

// mockSigner answers message signing requests with the static signature of
// the mock services. All other signer operations are left unimplemented and
// panic when called.
type mockSigner struct {
	lndclient.SignerClient

	lnd *LndMockServices
}

func (s *mockSigner) SignMessage(_ context.Context, _ []byte,
	_ keychain.KeyLocator, _ ...lndclient.SignMessageOption) ([]byte,
	error) {

	return s.lnd.Signature, nil
}

func (s *mockSigner) VerifyMessage(_ context.Context, msg, sig []byte,
	_ [33]byte, _ ...lndclient.VerifyMessageOption) (bool, error) {

	// Accept exactly the message and signature the mock parameters
	// describe.
	ok := bytes.Equal(msg, []byte(s.lnd.SignatureMsg)) &&
		bytes.Equal(sig, s.lnd.Signature)

	return ok, nil
}
