package credentials

import (
	"context"
	"errors"
	"sync"
)

// ErrNoCredential is the error returned when a store holds no credential for
// the requested location.
var ErrNoCredential = errors.New("no credential found for location")

// Store is a persistence layer for L402 credentials. Implementations must be
// safe for concurrent use.
type Store interface {
	// Store adds a credential to the store. Credentials are append only,
	// a new credential for a known location does not replace the previous
	// one.
	Store(ctx context.Context, credential *Credential) error

	// Get returns the most recently created credential for the given
	// location. If no credential exists for the location,
	// ErrNoCredential is returned.
	Get(ctx context.Context, location string) (*Credential, error)
}

// MemoryStore is an in-memory credential store. It is the default store of
// the client and is also used by tests.
type MemoryStore struct {
	mu          sync.Mutex
	credentials []*Credential
}

// A compile-time constraint to ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Store adds a credential to the store.
func (s *MemoryStore) Store(_ context.Context,
	credential *Credential) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	credCopy := *credential
	s.credentials = append(s.credentials, &credCopy)
	return nil
}

// Get returns the most recently created credential for the given location.
func (s *MemoryStore) Get(_ context.Context,
	location string) (*Credential, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	// Later entries win ties on the creation time, matching the insertion
	// order of credentials created in the same instant.
	var latest *Credential
	for _, credential := range s.credentials {
		if credential.Location != location {
			continue
		}
		if latest == nil ||
			!credential.CreatedAt.Before(latest.CreatedAt) {

			latest = credential
		}
	}

	if latest == nil {
		return nil, ErrNoCredential
	}

	credCopy := *latest
	return &credCopy, nil
}
