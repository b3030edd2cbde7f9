// Package config holds process-wide configuration for ghswitch.
//
// Configuration is loaded once at startup from ~/.ghswitch/config.yaml with
// GHSWITCH_* environment overrides, and passed into components at
// construction. It is immutable after load.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/oauth2/endpoints"
	"gopkg.in/yaml.v3"
)

// Config holds ghswitch settings from ~/.ghswitch/config.yaml.
type Config struct {
	Auth  AuthConfig  `yaml:"auth"`
	Git   GitConfig   `yaml:"git"`
	Store StoreConfig `yaml:"store"`
	Debug DebugConfig `yaml:"debug"`
}

// AuthConfig holds GitHub OAuth device-flow settings.
type AuthConfig struct {
	// ClientID is the OAuth app client id used for the device flow.
	ClientID string `yaml:"client_id"`
	// Scopes requested on the device code.
	Scopes []string `yaml:"scopes"`
	// DeviceCodeURL and TokenURL override the GitHub endpoints (mainly
	// for tests; multi-host support is out of scope).
	DeviceCodeURL string `yaml:"device_code_url"`
	TokenURL      string `yaml:"token_url"`
	// APIBaseURL overrides the REST API base for user lookups.
	APIBaseURL string `yaml:"api_base_url"`
}

// GitConfig holds settings for the git credential subsystem.
type GitConfig struct {
	// CredentialHelper is written to credential.helper on activation.
	CredentialHelper string `yaml:"credential_helper"`
}

// StoreConfig selects where profile records are persisted.
type StoreConfig struct {
	// Backend is one of "auto", "keyring", "file", "aws".
	// "auto" uses the system keyring and falls back to the encrypted
	// file store when no keyring service is reachable.
	Backend string `yaml:"backend"`
	// AWS configures the Secrets Manager backend.
	AWS AWSStoreConfig `yaml:"aws"`
}

// AWSStoreConfig holds AWS Secrets Manager backend settings.
type AWSStoreConfig struct {
	Region string `yaml:"region"`
	// Prefix namespaces secret names, e.g. "ghswitch/" -> "ghswitch/github/alice".
	Prefix string `yaml:"prefix"`
}

// DebugConfig holds debug logging settings.
type DebugConfig struct {
	// RetentionDays is how long to keep debug log files (0 = no cleanup).
	RetentionDays int `yaml:"retention_days"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Auth: AuthConfig{
			Scopes:        []string{"repo", "user"},
			DeviceCodeURL: endpoints.GitHub.DeviceAuthURL,
			TokenURL:      endpoints.GitHub.TokenURL,
		},
		Git: GitConfig{
			CredentialHelper: "manager-core",
		},
		Store: StoreConfig{
			Backend: "auto",
		},
		Debug: DebugConfig{
			RetentionDays: 7,
		},
	}
}

// Load reads ~/.ghswitch/config.yaml and applies environment overrides.
// A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	cfg := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".ghswitch", "config.yaml")
		if data, err := os.ReadFile(configPath); err == nil {
			_ = yaml.Unmarshal(data, cfg) // Ignore unmarshal errors, use defaults
		}
	}

	if id := os.Getenv("GHSWITCH_CLIENT_ID"); id != "" {
		cfg.Auth.ClientID = id
	}
	if scopes := os.Getenv("GHSWITCH_SCOPES"); scopes != "" {
		cfg.Auth.Scopes = strings.Fields(scopes)
	}
	if backend := os.Getenv("GHSWITCH_STORE_BACKEND"); backend != "" {
		cfg.Store.Backend = backend
	}
	if days := os.Getenv("GHSWITCH_DEBUG_RETENTION_DAYS"); days != "" {
		if n, err := strconv.Atoi(days); err == nil {
			cfg.Debug.RetentionDays = n
		}
	}

	return cfg, nil
}

// Dir returns the path to ~/.ghswitch.
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".ghswitch")
	}
	return filepath.Join(homeDir, ".ghswitch")
}
