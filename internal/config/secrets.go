package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// Common placeholder values that should never be used
var commonPlaceholders = []string{
	"changeme",
	"changeme_in_production",
	"your_api_key",
	"your_secret",
	"password",
	"secret",
	"example",
	"sample",
	"demo",
	"default",
}

// ValidateSecretValue rejects empty and obvious placeholder secrets. API keys
// distributed to EA installations are operator-generated; the check exists to
// catch config templates shipped to production unedited.
func ValidateSecretValue(secret, name string, minLength int) error {
	if secret == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	lower := strings.ToLower(secret)
	for _, placeholder := range commonPlaceholders {
		if lower == placeholder || strings.Contains(lower, placeholder) {
			return fmt.Errorf("%s appears to be a placeholder value (%s)", name, placeholder)
		}
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters (got %d)", name, minLength, len(secret))
	}

	return nil
}

// ValidateProductionSecrets checks all configured secrets before the server
// accepts EA traffic. Only enforced for the production environment.
func ValidateProductionSecrets(cfg *Config) ValidationErrors {
	var errors ValidationErrors

	const minProductionLength = 12

	if cfg.Database.Password != "" {
		if err := ValidateSecretValue(cfg.Database.Password, "Database password", minProductionLength); err != nil {
			errors = append(errors, ValidationError{Field: "database.password", Message: err.Error()})
		}
	}

	if cfg.Redis.Password != "" {
		if err := ValidateSecretValue(cfg.Redis.Password, "Redis password", minProductionLength); err != nil {
			errors = append(errors, ValidationError{Field: "redis.password", Message: err.Error()})
		}
	}

	if len(cfg.Auth.APIKeys) == 0 {
		errors = append(errors, ValidationError{
			Field:   "auth.api_keys",
			Message: "at least one EA API key must be configured",
		})
	}
	for i, key := range cfg.Auth.APIKeys {
		if err := ValidateSecretValue(key, fmt.Sprintf("EA API key #%d", i+1), 16); err != nil {
			errors = append(errors, ValidationError{Field: "auth.api_keys", Message: err.Error()})
		}
	}

	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		if err := ValidateSecretValue(cfg.Telegram.BotToken, "Telegram bot token", 16); err != nil {
			errors = append(errors, ValidationError{Field: "telegram.bot_token", Message: err.Error()})
		}
	}

	return errors
}

// ================================================
// HashiCorp Vault Integration
// ================================================

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled    bool   // Enable Vault integration
	Address    string // Vault server address (e.g., "https://vault.example.com:8200")
	Token      string // Vault authentication token (from VAULT_TOKEN env var)
	MountPath  string // Secrets mount path (default: "secret/")
	SecretPath string // Base path for TradeBridge secrets (e.g., "tradebridge/production")
	Namespace  string // Vault namespace (for Vault Enterprise)
}

// VaultClient wraps HashiCorp Vault client for secrets management
type VaultClient struct {
	client *vault.Client
	config VaultConfig
}

// NewVaultClient creates a new Vault client from configuration
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if cfg.Token == "" {
		cfg.Token = os.Getenv("VAULT_TOKEN")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
	}
	client.SetToken(cfg.Token)

	log.Info().
		Str("address", cfg.Address).
		Str("mount_path", cfg.MountPath).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &VaultClient{
		client: client,
		config: cfg,
	}, nil
}

// GetSecret retrieves a secret from Vault.
// path is relative to the configured SecretPath.
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", vc.config.MountPath, vc.config.SecretPath, path)

	log.Debug().Str("path", fullPath).Msg("Reading secret from Vault")

	secret, err := vc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}

	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}

	// For KV v2, secrets are nested under "data" key
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}

	// For KV v1, return data directly
	return secret.Data, nil
}

// LoadSecretsFromVault loads all secrets from Vault into configuration
func LoadSecretsFromVault(ctx context.Context, cfg *Config, vaultCfg VaultConfig) error {
	if !vaultCfg.Enabled {
		log.Info().Msg("Vault integration disabled - using environment variables for secrets")
		return nil
	}

	log.Info().Msg("Loading secrets from HashiCorp Vault...")

	vaultClient, err := NewVaultClient(vaultCfg)
	if err != nil {
		return fmt.Errorf("failed to create Vault client: %w", err)
	}

	if err := loadDatabaseSecrets(ctx, vaultClient, cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to load database secrets from Vault")
		// Continue - may be using env vars
	}

	if err := loadRedisSecrets(ctx, vaultClient, cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to load Redis secrets from Vault")
	}

	if err := loadAuthSecrets(ctx, vaultClient, cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to load EA auth secrets from Vault")
	}

	if err := loadTelegramSecrets(ctx, vaultClient, cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to load Telegram secrets from Vault")
	}

	log.Info().Msg("Secrets loaded from Vault")
	return nil
}

// loadDatabaseSecrets loads database credentials from Vault
func loadDatabaseSecrets(ctx context.Context, vc *VaultClient, cfg *Config) error {
	secrets, err := vc.GetSecret(ctx, "database")
	if err != nil {
		return err
	}

	if password, ok := secrets["password"].(string); ok && password != "" {
		cfg.Database.Password = password
		log.Info().Msg("Loaded database password from Vault")
	}

	if user, ok := secrets["user"].(string); ok && user != "" {
		cfg.Database.User = user
	}

	return nil
}

// loadRedisSecrets loads Redis credentials from Vault
func loadRedisSecrets(ctx context.Context, vc *VaultClient, cfg *Config) error {
	secrets, err := vc.GetSecret(ctx, "redis")
	if err != nil {
		return err
	}

	if password, ok := secrets["password"].(string); ok && password != "" {
		cfg.Redis.Password = password
		log.Info().Msg("Loaded Redis password from Vault")
	}

	return nil
}

// loadAuthSecrets loads the EA API key set from Vault. Keys are stored as a
// comma-separated list so operators can rotate one installation at a time.
func loadAuthSecrets(ctx context.Context, vc *VaultClient, cfg *Config) error {
	secrets, err := vc.GetSecret(ctx, "auth")
	if err != nil {
		return err
	}

	if raw, ok := secrets["ea_api_keys"].(string); ok && raw != "" {
		var keys []string
		for _, key := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(key); trimmed != "" {
				keys = append(keys, trimmed)
			}
		}
		if len(keys) > 0 {
			cfg.Auth.APIKeys = keys
			log.Info().Int("key_count", len(keys)).Msg("Loaded EA API keys from Vault")
		}
	}

	return nil
}

// loadTelegramSecrets loads the Telegram bot token from Vault
func loadTelegramSecrets(ctx context.Context, vc *VaultClient, cfg *Config) error {
	secrets, err := vc.GetSecret(ctx, "telegram")
	if err != nil {
		return err
	}

	if token, ok := secrets["bot_token"].(string); ok && token != "" {
		cfg.Telegram.BotToken = token
		log.Info().Msg("Loaded Telegram bot token from Vault")
	}

	return nil
}

// GetVaultConfigFromEnv creates VaultConfig from environment variables
func GetVaultConfigFromEnv() VaultConfig {
	enabled := os.Getenv("VAULT_ENABLED") == "true"
	if !enabled {
		return VaultConfig{Enabled: false}
	}

	return VaultConfig{
		Enabled:    true,
		Address:    getEnvOrDefault("VAULT_ADDR", "http://localhost:8200"),
		Token:      os.Getenv("VAULT_TOKEN"),
		MountPath:  getEnvOrDefault("VAULT_MOUNT_PATH", "secret"),
		SecretPath: getEnvOrDefault("VAULT_SECRET_PATH", "tradebridge/production"),
		Namespace:  os.Getenv("VAULT_NAMESPACE"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
