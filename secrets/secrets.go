package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightninglabs/tollgate/mint"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// TopLevelKey is the top level key for an etcd cluster where we'll
	// store all L402 proxy related data.
	TopLevelKey = "tollgate/proxy"

	// EtcdKeyDelimeter is the delimeter we'll use for all etcd keys to
	// represent a path-like structure.
	EtcdKeyDelimeter = "/"
)

var (
	// secretsPrefix is the key we'll use to prefix all L402 token IDs
	// with when storing root keys in an etcd cluster.
	secretsPrefix = "secrets"

	// macaroonsPrefix is the key we'll use to prefix all L402 token IDs
	// with when storing the signed macaroons in an etcd cluster.
	macaroonsPrefix = "macaroons"
)

// idKey returns the full key to store in the database for an L402 token ID.
// The token ID is hex-encoded in order to prevent conflicts with the etcd key
// delimeter.
//
// The resulting path of the token ID bff4ee83 within etcd would look like:
// tollgate/proxy/secrets/bff4ee83
func idKey(id l402.TokenID) string {
	return strings.Join(
		[]string{TopLevelKey, secretsPrefix, id.String()},
		EtcdKeyDelimeter,
	)
}

// macKey returns the full key under which the serialized macaroon for an L402
// token ID is stored.
func macKey(id l402.TokenID) string {
	return strings.Join(
		[]string{TopLevelKey, macaroonsPrefix, id.String()},
		EtcdKeyDelimeter,
	)
}

// SecretStore is a store of L402 secrets backed by an etcd cluster.
type SecretStore struct {
	*clientv3.Client
}

// A compile-time constraint to ensure SecretStore implements mint.SecretStore.
var _ mint.SecretStore = (*SecretStore)(nil)

// NewStore instantiates a new L402 secrets store backed by an etcd cluster.
func NewStore(client *clientv3.Client) *SecretStore {
	return &SecretStore{Client: client}
}

// PutSecret persists the given root key and the serialized macaroon it signs
// under the given token ID. Storing a secret for a token ID that already
// exists is an error.
func (s *SecretStore) PutSecret(ctx context.Context, id l402.TokenID,
	secret [l402.SecretSize]byte, mac []byte) error {

	// Both keys are written in a single transaction that only commits if
	// the token ID wasn't used before.
	resp, err := s.Txn(ctx).If(
		clientv3.Compare(clientv3.CreateRevision(idKey(id)), "=", 0),
	).Then(
		clientv3.OpPut(idKey(id), string(secret[:])),
		clientv3.OpPut(macKey(id), string(mac)),
	).Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return fmt.Errorf("secret for token ID %v already exists", id)
	}

	return nil
}

// GetSecret returns the root key that corresponds to the given token ID. If
// there is no such secret, then mint.ErrSecretNotFound is returned.
func (s *SecretStore) GetSecret(ctx context.Context,
	id l402.TokenID) ([l402.SecretSize]byte, error) {

	resp, err := s.Get(ctx, idKey(id))
	if err != nil {
		return [l402.SecretSize]byte{}, err
	}
	if len(resp.Kvs) == 0 {
		return [l402.SecretSize]byte{}, mint.ErrSecretNotFound
	}
	if len(resp.Kvs[0].Value) != l402.SecretSize {
		return [l402.SecretSize]byte{}, fmt.Errorf("invalid secret "+
			"size %v", len(resp.Kvs[0].Value))
	}

	var secret [l402.SecretSize]byte
	copy(secret[:], resp.Kvs[0].Value)
	return secret, nil
}

// GetMacaroon returns the serialized macaroon that was minted for the given
// token ID, if it is known.
func (s *SecretStore) GetMacaroon(ctx context.Context,
	id l402.TokenID) ([]byte, error) {

	resp, err := s.Get(ctx, macKey(id))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, mint.ErrSecretNotFound
	}

	return resp.Kvs[0].Value, nil
}

// RevokeSecret removes the root key that corresponds to the given token ID.
// This acts as a NOP if the secret does not exist.
func (s *SecretStore) RevokeSecret(ctx context.Context,
	id l402.TokenID) error {

	_, err := s.Txn(ctx).Then(
		clientv3.OpDelete(idKey(id)),
		clientv3.OpDelete(macKey(id)),
	).Commit()
	return err
}
