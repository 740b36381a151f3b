package auth_test

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"

	"github.com/lightninglabs/tollgate/auth"
	"github.com/lightninglabs/tollgate/l402"
	"github.com/stretchr/testify/require"
)

// TestL402Authenticator tests that the authenticator properly handles auth
// headers and the tokens contained in them.
func TestL402Authenticator(t *testing.T) {
	var (
		testPreimage = "49349dfea4abed3cd14f6d356afa83de" +
			"9787b609f088c8df09bacc7b4bd21b39"
		testMacHex      = auth.CreateDummyMacHex(testPreimage)
		testMacBytes, _ = hex.DecodeString(testMacHex)
		testMacBase64   = base64.StdEncoding.EncodeToString(
			testMacBytes,
		)
		headerTests = []struct {
			id     string
			header *http.Header
			result bool
		}{
			{
				id:     "empty header",
				header: &http.Header{},
				result: false,
			},
			{
				id: "no auth header",
				header: &http.Header{
					"Test": []string{"foo"},
				},
				result: false,
			},
			{
				id: "empty auth header",
				header: &http.Header{
					l402.HeaderAuthorization: []string{},
				},
				result: false,
			},
			{
				id: "zero length auth header",
				header: &http.Header{
					l402.HeaderAuthorization: []string{""},
				},
				result: false,
			},
			{
				id: "invalid auth header",
				header: &http.Header{
					l402.HeaderAuthorization: []string{
						"foo",
					},
				},
				result: false,
			},
			{
				id: "invalid macaroon metadata header",
				header: &http.Header{
					l402.HeaderMacaroonMD: []string{"foo"},
				},
				result: false,
			},
			{
				id: "invalid macaroon header",
				header: &http.Header{
					l402.HeaderMacaroon: []string{"foo"},
				},
				result: false,
			},
			{
				id: "valid auth header",
				header: &http.Header{
					l402.HeaderAuthorization: []string{
						"L402 " + testMacBase64 + ":" +
							testPreimage,
					},
				},
				result: true,
			},
			{
				id: "valid legacy auth header",
				header: &http.Header{
					l402.HeaderAuthorization: []string{
						"LSAT " + testMacBase64 + ":" +
							testPreimage,
					},
				},
				result: true,
			},
			{
				id: "valid macaroon metadata header",
				header: &http.Header{
					l402.HeaderMacaroonMD: []string{
						testMacHex,
					},
				},
				result: true,
			},
			{
				id: "valid macaroon header",
				header: &http.Header{
					l402.HeaderMacaroon: []string{
						testMacHex,
					},
				},
				result: true,
			},
		}
	)

	a := auth.NewL402Authenticator(&auth.MockMint{}, &auth.MockChecker{})
	for _, testCase := range headerTests {
		result := a.Accept(testCase.header, "test")
		require.Equal(
			t, testCase.result, result, "test case %s failed",
			testCase.id,
		)
	}
}

// TestInvoiceStatusCheck makes sure that a token is only accepted if the
// invoice it was minted for is settled at the backend.
func TestInvoiceStatusCheck(t *testing.T) {
	testPreimage := "49349dfea4abed3cd14f6d356afa83de" +
		"9787b609f088c8df09bacc7b4bd21b39"
	testMacHex := auth.CreateDummyMacHex(testPreimage)
	header := &http.Header{
		l402.HeaderMacaroon: []string{testMacHex},
	}

	checker := &auth.MockChecker{}
	a := auth.NewL402Authenticator(&auth.MockMint{}, checker)
	require.True(t, a.Accept(header, "test"))

	// The same token must be denied once the backend no longer reports the
	// invoice as settled.
	checker.Err = errors.New("invoice is open")
	require.False(t, a.Accept(header, "test"))
}
