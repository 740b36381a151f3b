package macaroons

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/lightningnetwork/lnd/macaroons"
	"gopkg.in/macaroon-bakery.v2/bakery"
	"gopkg.in/macaroon-bakery.v2/bakery/checkers"
	"gopkg.in/macaroon.v2"
)

const (
	// CondRHash is the caveat condition that commits a macaroon to the
	// payment hash of the invoice that needs to be paid to use it.
	CondRHash = "r-hash"

	// rootKeySize is the size of the bakery root key in bytes.
	rootKeySize = 32
)

var rootKeyID = []byte("0")

// rootKeyStore is an in-memory bakery root key store. A fresh random key is
// drawn when the service is created, so macaroons do not survive a restart.
type rootKeyStore struct {
	key []byte
}

func newRootKeyStore() (*rootKeyStore, error) {
	key := make([]byte, rootKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &rootKeyStore{key: key}, nil
}

func (r *rootKeyStore) Get(_ context.Context, id []byte) ([]byte, error) {
	return r.key, nil
}

func (r *rootKeyStore) RootKey(_ context.Context) (rootKey, id []byte,
	err error) {

	return r.key, rootKeyID, nil
}

// RHashChecker is a caveat checker for the r-hash condition. It only checks
// the shape of the caveat value, the binding of the hash to the presented
// preimage is verified by the authenticator.
func RHashChecker() (string, checkers.Func) {
	return CondRHash, func(_ context.Context, _, arg string) error {
		hashBytes, err := hex.DecodeString(arg)
		if err != nil {
			return fmt.Errorf("invalid r-hash caveat: %w", err)
		}
		if len(hashBytes) != 32 {
			return fmt.Errorf("invalid r-hash length %d",
				len(hashBytes))
		}
		return nil
	}
}

// Service is a thin wrapper around a macaroon bakery that can issue and
// validate macaroons for a fixed set of operations.
type Service struct {
	bakery.Bakery
}

// NewMacaroon issues a new macaroon for the given operations with the given
// raw first party caveats attached and returns it in its binary serialization.
func (s *Service) NewMacaroon(operations []bakery.Op, caveats []string) (
	[]byte, error) {

	ctx := context.Background()
	mac, err := s.Oven.NewMacaroon(
		ctx, bakery.LatestVersion, nil, operations...,
	)
	if err != nil {
		return nil, err
	}

	// Add all first party caveats before serializing the macaroon.
	for _, caveat := range caveats {
		err := mac.M().AddFirstPartyCaveat([]byte(caveat))
		if err != nil {
			return nil, err
		}
	}
	macBytes, err := mac.M().MarshalBinary()
	if err != nil {
		return nil, err
	}
	return macBytes, nil
}

// ValidateMacaroon checks a serialized macaroon against the bakery and the
// set of required permissions.
func (s *Service) ValidateMacaroon(macBytes []byte,
	requiredPermissions []bakery.Op) error {

	mac := &macaroon.Macaroon{}
	err := mac.UnmarshalBinary(macBytes)
	if err != nil {
		return err
	}

	// Check the operations the macaroon was minted for against the
	// required permissions and let the bakery evaluate all caveats.
	authChecker := s.Checker.Auth(macaroon.Slice{mac})
	_, err = authChecker.Allow(context.Background(), requiredPermissions...)
	return err
}

// NewService creates a new bakery service with a fresh random root key. All
// passed caveat checkers are registered with the bakery.
func NewService(checks ...macaroons.Checker) (*Service, error) {
	keyStore, err := newRootKeyStore()
	if err != nil {
		return nil, err
	}
	macaroonParams := bakery.BakeryParams{
		Location:     "tollgate",
		RootKeyStore: keyStore,
		Locator:      nil,
		Key:          nil,
	}

	svc := bakery.New(macaroonParams)

	// Register all custom caveat checkers with the bakery's checker.
	checker := svc.Checker.FirstPartyCaveatChecker.(*checkers.Checker)
	for _, check := range checks {
		cond, fun := check()
		if !isRegistered(checker, cond) {
			checker.Register(cond, "std", fun)
		}
	}

	return &Service{*svc}, nil
}

// isRegistered checks to see if the required checker has already been
// registered in order to avoid a panic caused by double registration.
func isRegistered(c *checkers.Checker, name string) bool {
	if c == nil {
		return false
	}

	for _, info := range c.Info() {
		if info.Name == name &&
			info.Prefix == "" &&
			info.Namespace == "std" {
			return true
		}
	}

	return false
}
