package tollgate

import (
	"os"
	"path/filepath"

	"github.com/lightningnetwork/lnd/tor"
)

// onionKeyFilename is the file the onion service's private key is stored
// under within the configured key directory.
const onionKeyFilename = "onion-v3.key"

// onionStoreFile is a file-based implementation of tor.OnionStore. It is used
// if the operator prefers keeping the onion key on disk over storing it in
// the database backend.
type onionStoreFile struct {
	rootDir string
}

// A compile-time constraint to ensure onionStoreFile implements
// tor.OnionStore.
var _ tor.OnionStore = (*onionStoreFile)(nil)

// newOnionStoreFile creates a file-based implementation of tor.OnionStore
// rooted at the given directory.
func newOnionStoreFile(rootDir string) *onionStoreFile {
	return &onionStoreFile{rootDir: rootDir}
}

// onionFilePath returns the absolute filesystem path to the onion service's
// private key.
func (s *onionStoreFile) onionFilePath() string {
	return filepath.Join(s.rootDir, onionKeyFilename)
}

// StorePrivateKey stores the given private key.
func (s *onionStoreFile) StorePrivateKey(privateKey []byte) error {
	if err := os.MkdirAll(s.rootDir, 0700); err != nil {
		return err
	}
	return os.WriteFile(s.onionFilePath(), privateKey, 0400)
}

// PrivateKey retrieves a stored private key. If it is not found, then
// tor.ErrNoPrivateKey is returned.
func (s *onionStoreFile) PrivateKey() ([]byte, error) {
	data, err := os.ReadFile(s.onionFilePath())
	if err != nil && os.IsNotExist(err) {
		return nil, tor.ErrNoPrivateKey
	}

	return data, err
}

// DeletePrivateKey securely removes the private key from the store.
func (s *onionStoreFile) DeletePrivateKey() error {
	err := os.Remove(s.onionFilePath())
	if err != nil && os.IsNotExist(err) {
		return tor.ErrNoPrivateKey
	}

	return err
}
