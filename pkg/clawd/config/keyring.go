// Package config – keyring.go stores the gateway auth token in the
// operating system's native keyring (Linux: Secret Service, macOS:
// Keychain, Windows: Credential Manager).
//
// Priority for resolving the token:
//  1. OS keyring (encrypted by the OS)
//  2. Environment variable CLAWD_GATEWAY_TOKEN (or .env via godotenv)
//  3. config.yaml value (least secure — plaintext on disk)
package config

import (
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "clawd"

	// keyringGatewayToken is the key name for the gateway auth token.
	keyringGatewayToken = "gateway_token"

	// envGatewayToken is the environment variable fallback.
	envGatewayToken = "CLAWD_GATEWAY_TOKEN"
)

// StoreGatewayToken saves the gateway token to the OS keyring.
func StoreGatewayToken(value string) error {
	return keyring.Set(keyringService, keyringGatewayToken, value)
}

// GetGatewayToken retrieves the gateway token from the OS keyring.
// Returns empty string if not found.
func GetGatewayToken() string {
	val, err := keyring.Get(keyringService, keyringGatewayToken)
	if err != nil {
		return ""
	}
	return val
}

// DeleteGatewayToken removes the gateway token from the OS keyring.
func DeleteGatewayToken() error {
	return keyring.Delete(keyringService, keyringGatewayToken)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__clawd_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveGatewayToken fills cfg.Gateway.AuthToken from the priority chain:
// keyring → env var → existing config value.
func ResolveGatewayToken(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	if val := GetGatewayToken(); val != "" {
		cfg.Gateway.AuthToken = val
		logger.Debug("gateway token loaded from OS keyring")
		return
	}

	if val := os.Getenv(envGatewayToken); val != "" {
		cfg.Gateway.AuthToken = val
		logger.Debug("gateway token loaded from environment")
		return
	}

	if cfg.Gateway.AuthToken != "" && !IsEnvReference(cfg.Gateway.AuthToken) {
		logger.Debug("gateway token loaded from config")
		return
	}

	cfg.Gateway.AuthToken = ""
}
