// Package auth manages the bearer token that guards the MCP endpoint.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const tokenFileName = "mcp_token"

// LoadOrCreateToken reads the token from dir/mcp_token, or generates and
// persists a new 256-bit hex-encoded token if the file is missing or empty.
func LoadOrCreateToken(dir string) (string, error) {
	path := filepath.Join(dir, tokenFileName)

	data, err := os.ReadFile(path) //nolint:gosec // dir comes from trusted config
	if err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	}

	return RotateToken(dir)
}

// RotateToken generates a new token, replacing the existing one.
// Connected MCP clients must be reconfigured afterwards.
func RotateToken(dir string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}

	if err := writeToken(dir, filepath.Join(dir, tokenFileName), token); err != nil {
		return "", err
	}

	return token, nil
}

// TokenMatches reports whether got equals want in constant time.
func TokenMatches(want, got string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func writeToken(dir, path, token string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token), 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}
