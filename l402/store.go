package l402

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// storeFileName is the name of the file where we store the final,
	// valid, token to.
	storeFileName = "l402.token"

	// storeFileNamePending is the name of the file where we store a
	// pending token until it was successfully paid for.
	storeFileNamePending = "l402.token.pending"

	// storeFileNameLegacy is the old file name of the final token, kept
	// around so existing stores can be migrated.
	storeFileNameLegacy = "lsat.token"

	// storeFileNamePendingLegacy is the old file name of the pending
	// token, kept around so existing stores can be migrated.
	storeFileNamePendingLegacy = "lsat.token.pending"
)

var (
	// ErrNoToken is the error returned when the store doesn't contain a
	// token yet.
	ErrNoToken = errors.New("no token in store")

	// errNoReplace is the error that is returned if a new token is
	// being written to a store that already contains a paid token.
	errNoReplace = errors.New("won't replace existing paid token with " +
		"new token. " + manualRetryHint)
)

// Store is an interface that allows users to store and recall L402 tokens.
type Store interface {
	// CurrentToken returns the token that is currently contained in the
	// store or an error if there is none.
	CurrentToken() (*Token, error)

	// AllTokens returns all tokens that the store has knowledge of, even
	// if they might be expired. The tokens are mapped by their identifying
	// attribute like file name or storage key.
	AllTokens() (map[string]*Token, error)

	// StoreToken saves a token to the store, overwriting any pending token
	// but never a fully paid one.
	StoreToken(*Token) error

	// RemovePendingToken removes a pending token from the store or returns
	// ErrNoToken if there is no pending token.
	RemovePendingToken() error
}

// FileStore is an implementation of the Store interface that uses a single
// file to save the serialized token. There is always just one current token
// that is either pending or fully paid.
type FileStore struct {
	fileName        string
	fileNamePending string
}

// A compile time flag to ensure the FileStore implements the Store interface.
var _ Store = (*FileStore)(nil)

// NewFileStore creates a new file based token store, creating its file in the
// provided directory. If the directory does not exist, it will be created.
func NewFileStore(storeDir string) (*FileStore, error) {
	// If the target path of the token store doesn't exist, then we'll
	// create it now before we proceed.
	if !fileExists(storeDir) {
		if err := os.MkdirAll(storeDir, 0700); err != nil {
			return nil, err
		}
	}

	store := &FileStore{
		fileName: filepath.Join(storeDir, storeFileName),
		fileNamePending: filepath.Join(
			storeDir, storeFileNamePending,
		),
	}

	// Move token files written under their old names to the current ones.
	if err := migrateTokenFile(
		filepath.Join(storeDir, storeFileNameLegacy), store.fileName,
	); err != nil {
		return nil, err
	}
	if err := migrateTokenFile(
		filepath.Join(storeDir, storeFileNamePendingLegacy),
		store.fileNamePending,
	); err != nil {
		return nil, err
	}

	return store, nil
}

// CurrentToken returns the token that is currently contained in the store or
// an error if there is none.
func (f *FileStore) CurrentToken() (*Token, error) {
	// As this is only a wrapper for external users to make sure the store
	// is locked, the actual implementation is in the currentToken method.
	return f.currentToken()
}

// currentToken returns the current token without locking the store.
func (f *FileStore) currentToken() (*Token, error) {
	switch {
	case fileExists(f.fileName):
		return readTokenFile(f.fileName)

	case fileExists(f.fileNamePending):
		return readTokenFile(f.fileNamePending)

	default:
		return nil, ErrNoToken
	}
}

// AllTokens returns all tokens that the store has knowledge of, even if they
// might be expired. The tokens are mapped by their identifying attribute like
// file name or storage key.
func (f *FileStore) AllTokens() (map[string]*Token, error) {
	tokens := make(map[string]*Token)

	// All tokens start with the same file name, only the pending one has
	// a different suffix.
	switch {
	case fileExists(f.fileName):
		token, err := readTokenFile(f.fileName)
		if err != nil {
			return nil, err
		}
		tokens[f.fileName] = token

	case fileExists(f.fileNamePending):
		token, err := readTokenFile(f.fileNamePending)
		if err != nil {
			return nil, err
		}
		tokens[f.fileNamePending] = token
	}

	return tokens, nil
}

// StoreToken writes a token to the store. A pending token is replaced by the
// paid token of the same payment but a paid token is never overwritten.
func (f *FileStore) StoreToken(newToken *Token) error {
	// Serialize the token first, before we overwrite anything.
	bytes, err := serializeToken(newToken)
	if err != nil {
		return err
	}

	// Check for an existing token to make sure we don't overwrite a paid
	// one.
	currentToken, err := f.currentToken()
	switch {
	// The store is still empty, we can write any token.
	case err == ErrNoToken:

	case err != nil:
		return err

	// A fully paid token is never replaced.
	case !currentToken.isPending():
		return errNoReplace
	}

	// A new pending token goes to the pending file.
	if newToken.isPending() {
		return os.WriteFile(f.fileNamePending, bytes, 0600)
	}

	// The new token is paid, write it to the final file and clean up the
	// pending file of its payment.
	if err := os.WriteFile(f.fileName, bytes, 0600); err != nil {
		return err
	}
	if fileExists(f.fileNamePending) {
		return os.Remove(f.fileNamePending)
	}

	return nil
}

// RemovePendingToken removes a pending token from the store or returns
// ErrNoToken if there is no pending token.
func (f *FileStore) RemovePendingToken() error {
	if !fileExists(f.fileNamePending) {
		return ErrNoToken
	}

	return os.Remove(f.fileNamePending)
}

// readTokenFile reads a single token from the given file.
func readTokenFile(tokenFileName string) (*Token, error) {
	content, err := os.ReadFile(tokenFileName)
	if err != nil {
		return nil, err
	}

	return deserializeToken(content)
}

// migrateTokenFile renames a token file written under an old name to its
// current name. Nothing happens if a file with the current name already
// exists.
func migrateTokenFile(oldName, newName string) error {
	if !fileExists(oldName) || fileExists(newName) {
		return nil
	}

	log.Infof("Migrating token file %s to %s", oldName, newName)
	if err := os.Rename(oldName, newName); err != nil {
		return fmt.Errorf("unable to migrate token file: %w", err)
	}

	return nil
}

// fileExists returns true if the file exists, and false otherwise.
func fileExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}
