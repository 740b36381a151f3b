package mint

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightninglabs/tollgate/l402"
)

// MemorySecretStore is an in-memory implementation of SecretStore. It is used
// by standalone servers that do not need their root keys to survive a restart
// and by tests.
type MemorySecretStore struct {
	mu        sync.Mutex
	secrets   map[l402.TokenID][l402.SecretSize]byte
	macaroons map[l402.TokenID][]byte
}

// A compile-time constraint to ensure MemorySecretStore implements
// SecretStore.
var _ SecretStore = (*MemorySecretStore)(nil)

// NewMemorySecretStore creates a new in-memory root key store.
func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{
		secrets:   make(map[l402.TokenID][l402.SecretSize]byte),
		macaroons: make(map[l402.TokenID][]byte),
	}
}

// PutSecret stores the root key and macaroon under the given token ID.
func (s *MemorySecretStore) PutSecret(_ context.Context, id l402.TokenID,
	secret [l402.SecretSize]byte, mac []byte) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[id]; ok {
		return fmt.Errorf("duplicate secret for token ID %v", id)
	}

	s.secrets[id] = secret
	s.macaroons[id] = append([]byte(nil), mac...)
	return nil
}

// GetSecret returns the root key stored under the given token ID.
func (s *MemorySecretStore) GetSecret(_ context.Context,
	id l402.TokenID) ([l402.SecretSize]byte, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok {
		return secret, ErrSecretNotFound
	}
	return secret, nil
}

// RevokeSecret removes the root key stored under the given token ID.
func (s *MemorySecretStore) RevokeSecret(_ context.Context,
	id l402.TokenID) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.secrets, id)
	delete(s.macaroons, id)
	return nil
}
