package auth

import "net/http"

// MockAuthenticator is a mock implementation of the authenticator.
type MockAuthenticator struct{}

// A compile time flag to ensure the MockAuthenticator satisfies the
// Authenticator interface.
var _ Authenticator = (*MockAuthenticator)(nil)

// NewMockAuthenticator returns a new MockAuthenticator instance.
func NewMockAuthenticator() *MockAuthenticator {
	return &MockAuthenticator{}
}

// Accept returns whether or not the header successfully authenticates the user
// to a given backend service.
func (a MockAuthenticator) Accept(header *http.Header, _ string) bool {
	if header.Get("Authorization") != "" {
		return true
	}
	if header.Get("Grpc-Metadata-macaroon") != "" {
		return true
	}
	if header.Get("Macaroon") != "" {
		return true
	}
	return false
}

// FreshChallengeHeader returns a header containing a challenge for the user to
// complete.
func (a MockAuthenticator) FreshChallengeHeader(_ *http.Request, _ string,
	_ int64) (http.Header, error) {

	header := make(http.Header)
	header.Set(
		"WWW-Authenticate", `L402 macaroon="AGIAJEemVQUTEyNCR0exk7ek9`+
			`0Cg==", invoice="lnbc1500n1pw5kjhmpp5fu6xhthlt2vucmzk`+
			`x6c7wtlh2r625r30cyjsfqhu8rsx4xpz5lwqdpa2fjkzep6yptks`+
			`ct5yp5hxgrrv96hx6twvusycn3qv9jx7ur5d9hkugr5dusx6cqzp`+
			`gxqr23s79ruapxc4j5uskt4htly2salw4drq979d7rcela9wz02e`+
			`lhypmdzmzlnxuknpgfyfm86pntt8vvkvffma5qc9n50h4mvqhnga`+
			`dqy3ngqjcym5a"`,
	)
	return header, nil
}
