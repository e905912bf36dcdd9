// Package credential keeps the IMAP password in the operating system's
// keyring.
package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "spam-report"

// ErrNotFound is returned when no password is stored for an account.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes account passwords in a keyring.
type Store struct {
	ring keyring.Keyring
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Open returns a Store on the system keyring.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/spam-report/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("spam-report-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

// Key names the keyring entry of an IMAP account.
func Key(user, host string) string {
	return "imap:" + strings.ToLower(strings.TrimSpace(user)) + "@" + strings.ToLower(strings.TrimSpace(host))
}

// Get retrieves the password stored under key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a password under key.
func (s *Store) Set(key, value string) error {
	if value == "" {
		return fmt.Errorf("refusing to store an empty password for %q", key)
	}
	err := s.ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(value),
		Label:       "spam-report " + key,
		Description: "IMAP password",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes the password stored under key.
func (s *Store) Delete(key string) error {
	err := s.ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}
