package transport

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Key files hold the base64-encoded pre-shared key on a single line. The key
// is generated once out-of-band (cmd/genkey) and reused across restarts.

// GenerateKey returns a fresh random pre-shared key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// LoadKey reads and decodes a pre-shared key file.
func LoadKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("malformed key file %s: %w", path, err)
	}
	if len(key) != KeySize {
		return nil, ErrBadKeySize
	}
	return key, nil
}

// WriteKeyFile encodes and writes a key, readable by owner only.
func WriteKeyFile(path string, key []byte) error {
	if len(key) != KeySize {
		return ErrBadKeySize
	}
	encoded := base64.StdEncoding.EncodeToString(key) + "\n"
	return os.WriteFile(path, []byte(encoded), 0o600)
}
