package lnc

import (
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/lightning-node-connect/mailbox"
)

// Session holds the keys and mailbox parameters of a single LNC connection
// to a remote lnd node.
type Session struct {
	// PassphraseWords is the pairing phrase the session was created from.
	PassphraseWords string

	// PassphraseEntropy is the entropy derived from the pairing phrase.
	// It uniquely identifies the session.
	PassphraseEntropy []byte

	// RemoteStaticPubKey is the static public key of the remote peer. It
	// is only known after the first successful handshake.
	RemoteStaticPubKey *btcec.PublicKey

	// LocalStaticPrivKey is the static private key of the local peer.
	LocalStaticPrivKey *btcec.PrivateKey

	// MailboxAddr is the address of the mailbox server that relays the
	// connection.
	MailboxAddr string

	// CreatedAt is the time the session was first persisted.
	CreatedAt time.Time

	// Expiry is the time the session stops being usable, if set.
	Expiry *time.Time

	// DevServer skips the TLS certificate verification of the mailbox
	// server. Only useful for development setups.
	DevServer bool
}

// NewSession derives the session entropy from the given pairing phrase and
// returns a session that is ready for its first handshake.
func NewSession(passphrase, mailboxAddr string, devServer bool) (*Session,
	error) {

	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	if mailboxAddr == "" {
		return nil, fmt.Errorf("mailbox address cannot be empty")
	}

	words := strings.Split(passphrase, " ")
	if len(words) != mailbox.NumPassphraseWords {
		return nil, fmt.Errorf("invalid passphrase, expected %d "+
			"words, got %d", mailbox.NumPassphraseWords,
			len(words))
	}

	var mnemonicWords [mailbox.NumPassphraseWords]string
	copy(mnemonicWords[:], words)
	entropy := mailbox.PassphraseMnemonicToEntropy(mnemonicWords)

	return &Session{
		PassphraseWords:   passphrase,
		PassphraseEntropy: entropy[:],
		MailboxAddr:       mailboxAddr,
		DevServer:         devServer,
	}, nil
}
