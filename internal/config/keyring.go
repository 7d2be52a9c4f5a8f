package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "Hydra"

	// KeyringOpenAIItem is the keychain item for the OpenAI API key
	KeyringOpenAIItem = "openai-api-key"

	// KeyringGeminiItem is the keychain item for the Gemini API key
	KeyringGeminiItem = "gemini-api-key"

	// KeyringWebhookItem is the keychain item for the GitHub webhook secret
	KeyringWebhookItem = "github-webhook-secret"
)

// KeyringManager handles secure credential storage in the OS keychain:
// Keychain Access on macOS, Credential Manager on Windows, Secret Service
// on Linux (requires libsecret).
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

// Save stores a secret under the named item
func (km *KeyringManager) Save(item, secret string) error {
	if secret == "" {
		return fmt.Errorf("secret cannot be empty")
	}

	if err := keyring.Set(KeyringService, item, secret); err != nil {
		km.logger.Error("failed to save secret to keychain", "item", item, "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.Info("secret saved to keychain", "service", KeyringService, "item", item)
	return nil
}

// Get retrieves a secret. A missing item returns "" without error.
func (km *KeyringManager) Get(item string) (string, error) {
	secret, err := keyring.Get(KeyringService, item)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}
	return secret, nil
}

// Delete removes a secret. Deleting a missing item is not an error.
func (km *KeyringManager) Delete(item string) error {
	err := keyring.Delete(KeyringService, item)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}
	return nil
}

// IsAvailable probes whether the OS keychain backend works on this host
func (km *KeyringManager) IsAvailable() bool {
	const probe = "hydra-keyring-probe"
	if err := keyring.Set(KeyringService, probe, "ok"); err != nil {
		return false
	}
	keyring.Delete(KeyringService, probe)
	return true
}
