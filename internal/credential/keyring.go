package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// DefaultService is the keyring service tokens are stored under.
const DefaultService = "jira-transitions"

// ErrNotStored is returned when the keyring holds no token for a key.
var ErrNotStored = errors.New("no token stored")

// SystemStore keeps API tokens in the OS keyring (Keychain, Secret
// Service, Windows Credential Manager or pass). The zero value uses
// DefaultService.
type SystemStore struct {
	Service string
}

var _ Store = SystemStore{}

func (s SystemStore) service() string {
	if s.Service == "" {
		return DefaultService
	}
	return s.Service
}

func (s SystemStore) open() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: s.service(),
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get returns the token stored under key.
func (s SystemStore) Get(key string) (string, error) {
	ring, err := s.open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w for %s", ErrNotStored, key)
	}
	if err != nil {
		return "", fmt.Errorf("reading token for %s: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores token under key, replacing any previous value.
func (s SystemStore) Set(key, token string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(token),
		Label:       s.service() + " API token",
		Description: "Jira API token for " + key,
	})
	if err != nil {
		return fmt.Errorf("storing token for %s: %w", key, err)
	}
	return nil
}

// Delete removes the token stored under key.
func (s SystemStore) Delete(key string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("%w for %s", ErrNotStored, key)
	}
	if err != nil {
		return fmt.Errorf("removing token for %s: %w", key, err)
	}
	return nil
}
