// Package secrets stores profile records in an OS-level secret store.
//
// The store addresses values by (namespace, key). Profiles live under the
// "github" namespace: one "usernames" index key holding a comma-joined list,
// plus one JSON record per username.
//
// Backends:
//   - keyring: system keychain via zalando/go-keyring (macOS Keychain,
//     libsecret/kwallet on Linux, Windows Credential Manager)
//   - file: encrypted files under ~/.ghswitch/secrets for headless machines
//   - aws: AWS Secrets Manager, for sharing profiles across machines
//
// "auto" selection probes the keyring and silently falls back to the file
// backend when no keyring service is reachable (CI, containers, servers).
package secrets

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/zalando/go-keyring"

	"github.com/easygit/ghswitch/internal/config"
	"github.com/easygit/ghswitch/internal/log"
)

// ErrNotFound is returned when no secret exists for the given key.
var ErrNotFound = errors.New("secret not found")

// BackendError wraps backend failures with actionable context.
type BackendError struct {
	Backend string
	Reason  string
	Fix     string
	Err     error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Backend, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Fix != "" {
		msg += "\n\n  " + e.Fix
	}
	return msg
}

func (e *BackendError) Unwrap() error { return e.Err }

// Store is the secret storage contract the profile layer depends on.
type Store interface {
	// Get returns the secret for key, or ErrNotFound.
	Get(namespace, key string) (string, error)
	// Set writes the secret for key, creating or replacing it.
	Set(namespace, key, value string) error
	// Delete removes the secret for key. Deleting a missing key returns
	// ErrNotFound.
	Delete(namespace, key string) error
	// Name identifies the backend for diagnostics.
	Name() string
}

// Open returns the store selected by cfg.Store.Backend.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "", "auto":
		kr := &keyringStore{}
		if err := probe(kr); err == nil {
			return kr, nil
		}
		fs, err := newFileStore(filepath.Join(config.Dir(), "secrets"))
		if err != nil {
			return nil, err
		}
		log.Info("system keyring unavailable, using encrypted file storage", "dir", fs.dir)
		return fs, nil
	case "keyring":
		return &keyringStore{}, nil
	case "file":
		return newFileStore(filepath.Join(config.Dir(), "secrets"))
	case "aws":
		return newAWSStore(cfg.Store.AWS)
	default:
		return nil, fmt.Errorf("unknown store backend %q (expected auto, keyring, file or aws)", cfg.Store.Backend)
	}
}

// probe round-trips a throwaway key to verify the backend works.
func probe(s Store) error {
	const ns, key = "ghswitch-probe", "probe"
	if err := s.Set(ns, key, "ok"); err != nil {
		return err
	}
	if _, err := s.Get(ns, key); err != nil {
		return err
	}
	return s.Delete(ns, key)
}

// keyringStore stores secrets in the system keychain.
type keyringStore struct{}

func (k *keyringStore) Get(namespace, key string) (string, error) {
	value, err := keyring.Get(namespace, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", &BackendError{Backend: "system keyring", Reason: "get failed", Err: err}
	}
	return value, nil
}

func (k *keyringStore) Set(namespace, key, value string) error {
	if err := keyring.Set(namespace, key, value); err != nil {
		return &BackendError{
			Backend: "system keyring",
			Reason:  "set failed",
			Fix:     "On Linux, install libsecret (GNOME) or kwallet (KDE), or set store.backend: file in ~/.ghswitch/config.yaml",
			Err:     err,
		}
	}
	return nil
}

func (k *keyringStore) Delete(namespace, key string) error {
	if err := keyring.Delete(namespace, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return &BackendError{Backend: "system keyring", Reason: "delete failed", Err: err}
	}
	return nil
}

func (k *keyringStore) Name() string { return "system keyring" }
