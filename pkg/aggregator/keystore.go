package aggregator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// KeyStore maps pre-shared API keys to user display names. It is loaded once
// at startup and read-only afterwards.
type KeyStore struct {
	users map[string]string
}

// NewKeyStore builds a keystore from an already-inverted key→user map.
func NewKeyStore(users map[string]string) *KeyStore {
	return &KeyStore{users: users}
}

// LoadKeyStore reads a YAML file mapping user names to API keys. The mapping
// is inverted at load time so runtime lookups go key→user.
func LoadKeyStore(path string) (*KeyStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keystore: %w", err)
	}

	var byUser map[string]string
	if err := yaml.Unmarshal(data, &byUser); err != nil {
		return nil, fmt.Errorf("parsing keystore: %w", err)
	}

	users := make(map[string]string, len(byUser))
	for user, key := range byUser {
		users[key] = user
	}

	return NewKeyStore(users), nil
}

// User returns the display name associated with the given key.
func (k *KeyStore) User(key string) (string, bool) {
	name, ok := k.users[key]
	return name, ok
}
