package lnc

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when the store holds no session for the
// given passphrase entropy.
var ErrSessionNotFound = errors.New("session not found")

// Store persists LNC sessions across restarts. Sessions are keyed by their
// passphrase entropy.
type Store interface {
	// AddSession persists a new session.
	AddSession(ctx context.Context, session *Session) error

	// GetSession returns the session matching the passphrase entropy, or
	// ErrSessionNotFound if there is none.
	GetSession(ctx context.Context,
		passphraseEntropy []byte) (*Session, error)

	// SetRemotePubKey records the static public key of the remote peer
	// once the first handshake completed.
	SetRemotePubKey(ctx context.Context, passphraseEntropy,
		remotePubKey []byte) error

	// SetExpiry records the expiry time of the session.
	SetExpiry(ctx context.Context, passphraseEntropy []byte,
		expiry time.Time) error
}
