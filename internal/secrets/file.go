package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInsecurePermissions is returned when the key file is readable by others.
var ErrInsecurePermissions = errors.New("key file has insecure permissions")

// fileStore keeps secrets in per-key encrypted files for machines without a
// keyring service. Values are sealed with XChaCha20-Poly1305 under a random
// key held next to the store with 0600 permissions.
type fileStore struct {
	dir string
	key []byte
}

func newFileStore(dir string) (*fileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating secret dir: %w", err)
	}

	key, err := loadOrCreateKey(filepath.Join(dir, "store.key"))
	if err != nil {
		return nil, err
	}

	return &fileStore{dir: dir, key: key}, nil
}

// loadOrCreateKey reads the store key, generating one under an exclusive
// file lock on first use. The lock serializes concurrent first runs; after
// acquiring it the key is re-checked so a racing process's key wins.
func loadOrCreateKey(path string) ([]byte, error) {
	if key, err := readKeyFile(path); err == nil {
		return key, nil
	} else if errors.Is(err, ErrInsecurePermissions) {
		return nil, err
	}

	lf, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating key lock file: %w", err)
	}
	defer lf.Close()
	defer os.Remove(path + ".lock")

	unlock, err := lockFile(lf)
	if err != nil {
		return nil, fmt.Errorf("acquiring key lock: %w", err)
	}
	defer unlock()

	if key, err := readKeyFile(path); err == nil {
		return key, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating store key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("writing store key: %w", err)
	}
	return key, nil
}

func readKeyFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return nil, fmt.Errorf("%w: %s has permissions %04o (expected 0600); fix with chmod 600",
			ErrInsecurePermissions, path, perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid store key encoding: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("invalid store key length: expected %d bytes, got %d",
			chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// path maps (namespace, key) to a file. Both parts are escaped so arbitrary
// usernames cannot traverse out of the store directory.
func (s *fileStore) path(namespace, key string) string {
	return filepath.Join(s.dir, url.PathEscape(namespace), url.PathEscape(key)+".enc")
}

func (s *fileStore) Get(namespace, key string) (string, error) {
	sealed, err := os.ReadFile(s.path(namespace, key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("reading secret file: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("secret file for %s/%s is truncated", namespace, key)
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting secret %s/%s: %w (the store key may have changed)", namespace, key, err)
	}
	return string(plaintext), nil
}

func (s *fileStore) Set(namespace, key, value string) error {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return fmt.Errorf("creating cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(value), nil)

	path := s.path(namespace, key)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating namespace dir: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0600); err != nil {
		return fmt.Errorf("writing secret file: %w", err)
	}
	return nil
}

func (s *fileStore) Delete(namespace, key string) error {
	err := os.Remove(s.path(namespace, key))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting secret file: %w", err)
	}
	return nil
}

func (s *fileStore) Name() string { return "encrypted files (" + s.dir + ")" }
