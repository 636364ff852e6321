// Package auth supplies the bearer token used by the scan API client.
// Token issuance and refresh belong to the app's session layer; this package
// only locates the current token and rejects one that has already expired.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	tokenEnvVar = "TASTEBUDDY_TOKEN"
	tokenDir    = ".tastebuddy"
	tokenFile   = "token"
)

// ErrNoToken is returned when no token source has a value.
var ErrNoToken = errors.New("no session token found")

// TokenSource yields the current session token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token, mainly for tests and flags.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// DefaultSource reads the token from the environment first, then from
// ~/.tastebuddy/token.
type DefaultSource struct{}

// Token retrieves the session token from available sources.
// Priority order:
//  1. TASTEBUDDY_TOKEN environment variable
//  2. ~/.tastebuddy/token (must be owner-only)
func (DefaultSource) Token(context.Context) (string, error) {
	if tok := os.Getenv(tokenEnvVar); tok != "" {
		log.Debug().Msg("Using session token from environment variable")
		return tok, nil
	}

	tok, err := readTokenFile()
	if err != nil {
		return "", err
	}
	log.Debug().Msg("Using session token from token file")
	return tok, nil
}

func readTokenFile() (string, error) {
	path, err := tokenPath()
	if err != nil {
		return "", err
	}

	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: set %s or write %s", ErrNoToken, tokenEnvVar, path)
	}
	if err != nil {
		return "", fmt.Errorf("stat token file: %w", err)
	}
	if mode := fi.Mode().Perm(); mode&0077 != 0 {
		log.Warn().
			Str("token_file", path).
			Str("permissions", fmt.Sprintf("%04o", mode)).
			Msg("Token file has insecure permissions (should be 0600); skipping")
		return "", fmt.Errorf("%w: %s is readable by other users", ErrNoToken, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrNoToken, path)
	}
	return tok, nil
}

// tokenPath returns the full path to the token file.
func tokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, tokenDir, tokenFile), nil
}
