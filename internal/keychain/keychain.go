// Package keychain provides the credential and settings store.
//
// On macOS values are stored in the login Keychain as generic passwords with:
//   - Service: "com.streamctl" (all streamctl values share this service)
//   - Account: the key (e.g. "youtube_credentials")
//   - Label: "streamctl: <key>" (for Keychain Access.app visibility)
//
// Elsewhere values are kept in a JSON file under ~/.streamctl. Either way the
// store is a flat last-writer-wins key space; structured values are encoded
// as JSON by the caller (see GetJSON and SetJSON).
package keychain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("key not found")

// Store is the interface for key-value storage operations.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, error)
	List() ([]string, error)
	Delete(key string) error
	GetMultiple(keys []string) (map[string]string, error)
}

// GetJSON decodes the value stored under key into v. It returns false with a
// nil error when the key does not exist, so callers can fall back to a default.
func GetJSON(s Store, key string, v any) (bool, error) {
	raw, err := s.Get(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decoding %q: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v as JSON and stores it under key, replacing any previous value.
func SetJSON(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	return s.Set(key, string(data))
}
