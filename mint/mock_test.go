package mint

import (
	"context"

	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightningnetwork/lnd/lntypes"
)

var (
	testPreimage = lntypes.Preimage{
		0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17,
		18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31,
	}
	testHash   = testPreimage.Hash()
	testPayReq = "lnsb1..."
)

type mockChallenger struct{}

var _ Challenger = (*mockChallenger)(nil)

func newMockChallenger() *mockChallenger {
	return &mockChallenger{}
}

func (d *mockChallenger) Start() error {
	return nil
}

func (d *mockChallenger) Stop() {
	// Nothing to do here.
}

func (d *mockChallenger) NewChallenge(price int64) (string, lntypes.Hash,
	error) {

	return testPayReq, testHash, nil
}

// newMockSecretStore returns the in-memory root key store, which doubles as
// the test store.
func newMockSecretStore() *MemorySecretStore {
	return NewMemorySecretStore()
}

type mockServiceLimiter struct {
	capabilities map[l402.Service]l402.Caveat
	constraints  map[l402.Service][]l402.Caveat
	timeouts     map[l402.Service]l402.Caveat
}

var _ ServiceLimiter = (*mockServiceLimiter)(nil)

func newMockServiceLimiter() *mockServiceLimiter {
	return &mockServiceLimiter{
		capabilities: make(map[l402.Service]l402.Caveat),
		constraints:  make(map[l402.Service][]l402.Caveat),
		timeouts:     make(map[l402.Service]l402.Caveat),
	}
}

func (l *mockServiceLimiter) ServiceCapabilities(ctx context.Context,
	services ...l402.Service) ([]l402.Caveat, error) {

	res := make([]l402.Caveat, 0, len(services))
	for _, service := range services {
		capabilities, ok := l.capabilities[service]
		if !ok {
			continue
		}
		res = append(res, capabilities)
	}
	return res, nil
}

func (l *mockServiceLimiter) ServiceConstraints(ctx context.Context,
	services ...l402.Service) ([]l402.Caveat, error) {

	res := make([]l402.Caveat, 0, len(services))
	for _, service := range services {
		constraints, ok := l.constraints[service]
		if !ok {
			continue
		}
		res = append(res, constraints...)
	}
	return res, nil
}

func (l *mockServiceLimiter) ServiceTimeouts(ctx context.Context,
	services ...l402.Service) ([]l402.Caveat, error) {

	res := make([]l402.Caveat, 0, len(services))
	for _, service := range services {
		timeouts, ok := l.timeouts[service]
		if !ok {
			continue
		}
		res = append(res, timeouts)
	}
	return res, nil
}
