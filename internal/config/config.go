// Package config handles configuration loading and validation.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete configuration.
type Config struct {
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	Index     IndexConfig     `mapstructure:"index" yaml:"index"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Tenant    TenantConfig    `mapstructure:"tenant" yaml:"tenant"`
	Policy    PolicyConfig    `mapstructure:"policy" yaml:"policy"`
	Search    SearchConfig    `mapstructure:"search" yaml:"search"`
	Limits    LimitsConfig    `mapstructure:"limits" yaml:"limits"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider" yaml:"provider"`       // ollama, openai, plugin
	Model      string `mapstructure:"model" yaml:"model"`             // model name
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint"`       // API endpoint
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`         // API key
	BatchSize  int    `mapstructure:"batch_size" yaml:"batch_size"`   // texts per batch
	Dimensions int    `mapstructure:"dimensions" yaml:"dimensions"`   // 0 = provider default
	PluginPath string `mapstructure:"plugin_path" yaml:"plugin_path"` // plugin binary path
}

// IndexConfig contains vector index configuration.
type IndexConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // sqlitevec, chromem
}

// StorageConfig contains metadata store configuration.
type StorageConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // sqlite
}

// TenantConfig contains the fallback identity for tool calls that omit
// user_id or app_id.
type TenantConfig struct {
	DefaultUserID string `mapstructure:"default_user_id" yaml:"default_user_id"`
	DefaultAppID  string `mapstructure:"default_app_id" yaml:"default_app_id"`
}

// PolicyConfig contains access policy settings.
type PolicyConfig struct {
	// ShareAcrossApps lets a user's apps read each other's memories.
	ShareAcrossApps bool `mapstructure:"share_across_apps" yaml:"share_across_apps"`
}

// SearchConfig contains search configuration.
type SearchConfig struct {
	DefaultLimit int `mapstructure:"default_limit" yaml:"default_limit"` // limit when unspecified
	MaxLimit     int `mapstructure:"max_limit" yaml:"max_limit"`         // cap on requested limits
	Overfetch    int `mapstructure:"overfetch" yaml:"overfetch"`         // index k multiplier
}

// LimitsConfig contains resource limits.
type LimitsConfig struct {
	MaxTextLen   int           `mapstructure:"max_text_len" yaml:"max_text_len"`   // max memory length in runes
	EmbedTimeout time.Duration `mapstructure:"embed_timeout" yaml:"embed_timeout"` // per embedding call
	IndexTimeout time.Duration `mapstructure:"index_timeout" yaml:"index_timeout"` // per index call
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			Endpoint:  "http://localhost:11434",
			BatchSize: 32,
		},
		Index: IndexConfig{
			Provider: "sqlitevec",
		},
		Storage: StorageConfig{
			Provider: "sqlite",
		},
		Tenant: TenantConfig{
			DefaultUserID: "default_user",
			DefaultAppID:  "default_app",
		},
		Policy: PolicyConfig{
			ShareAcrossApps: false,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxLimit:     100,
			Overfetch:    3,
		},
		Limits: LimitsConfig{
			MaxTextLen:   8192,
			EmbedTimeout: 30 * time.Second,
			IndexTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigDir returns the path to the .mcp-memvault directory.
func ConfigDir(dataRoot string) string {
	return filepath.Join(dataRoot, ".mcp-memvault")
}

// ConfigPath returns the path to config.yaml.
func ConfigPath(dataRoot string) string {
	return filepath.Join(ConfigDir(dataRoot), "config.yaml")
}

// MetaDBPath returns the path to the metadata database.
func MetaDBPath(dataRoot string) string {
	return filepath.Join(ConfigDir(dataRoot), "memories.db")
}

// VectorDBPath returns the path to the vector index.
func VectorDBPath(dataRoot string) string {
	return filepath.Join(ConfigDir(dataRoot), "vectors.db")
}

// Load loads configuration from file, falling back to defaults.
func Load(dataRoot string) (*Config, []string, error) {
	cfg := DefaultConfig()
	warnings := []string{}

	configPath := ConfigPath(dataRoot)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		warnings = append(warnings, "No config file found, using defaults")
		return cfg, warnings, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults for missing values
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
		warnings = append(warnings, "Using default embedding provider: ollama")
	}
	if cfg.Embedding.Model == "" && cfg.Embedding.Provider == "ollama" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Endpoint == "" && cfg.Embedding.Provider == "ollama" {
		cfg.Embedding.Endpoint = "http://localhost:11434"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}

	if cfg.Index.Provider == "" {
		cfg.Index.Provider = "sqlitevec"
	}
	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = "sqlite"
	}

	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.Overfetch == 0 {
		cfg.Search.Overfetch = 3
	}

	if cfg.Limits.MaxTextLen == 0 {
		cfg.Limits.MaxTextLen = 8192
	}
	if cfg.Limits.EmbedTimeout == 0 {
		cfg.Limits.EmbedTimeout = 30 * time.Second
	}
	if cfg.Limits.IndexTimeout == 0 {
		cfg.Limits.IndexTimeout = 10 * time.Second
	}

	return cfg, warnings, nil
}

// Save saves configuration to file.
func Save(dataRoot string, cfg *Config) error {
	configDir := ConfigDir(dataRoot)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(ConfigPath(dataRoot))
	v.SetConfigType("yaml")

	v.Set("embedding", cfg.Embedding)
	v.Set("index", cfg.Index)
	v.Set("storage", cfg.Storage)
	v.Set("tenant", cfg.Tenant)
	v.Set("policy", cfg.Policy)
	v.Set("search", cfg.Search)
	v.Set("limits", cfg.Limits)
	v.Set("logging", cfg.Logging)

	return v.WriteConfig()
}

// Validate validates the configuration.
func Validate(cfg *Config) []error {
	var errs []error

	validEmbeddingProviders := map[string]bool{
		"ollama": true, "openai": true, "plugin": true,
	}
	if !validEmbeddingProviders[cfg.Embedding.Provider] {
		errs = append(errs, fmt.Errorf("invalid embedding provider: %s", cfg.Embedding.Provider))
	}
	if cfg.Embedding.Provider == "plugin" && cfg.Embedding.PluginPath == "" {
		errs = append(errs, fmt.Errorf("embedding provider %q requires plugin_path", cfg.Embedding.Provider))
	}

	validIndexProviders := map[string]bool{
		"sqlitevec": true, "chromem": true,
	}
	if !validIndexProviders[cfg.Index.Provider] {
		errs = append(errs, fmt.Errorf("invalid vector index provider: %s", cfg.Index.Provider))
	}

	if cfg.Storage.Provider != "sqlite" {
		errs = append(errs, fmt.Errorf("invalid metadata store provider: %s", cfg.Storage.Provider))
	}

	if cfg.Tenant.DefaultUserID == "" || cfg.Tenant.DefaultAppID == "" {
		errs = append(errs, fmt.Errorf("tenant defaults must not be empty: calls without identifiers would always be denied"))
	}

	if cfg.Search.DefaultLimit < 0 || cfg.Search.MaxLimit < 0 {
		errs = append(errs, fmt.Errorf("search limits must not be negative"))
	}
	if cfg.Search.DefaultLimit > cfg.Search.MaxLimit && cfg.Search.MaxLimit > 0 {
		errs = append(errs, fmt.Errorf("search default_limit %d exceeds max_limit %d", cfg.Search.DefaultLimit, cfg.Search.MaxLimit))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %s", cfg.Logging.Level))
	}
	validLogFormats := map[string]bool{
		"text": true, "json": true, "": true,
	}
	if !validLogFormats[cfg.Logging.Format] {
		errs = append(errs, fmt.Errorf("invalid log format: %s", cfg.Logging.Format))
	}

	return errs
}

// Hash returns a hash of configuration that affects the stored vectors.
// Used to detect when existing embeddings no longer match the provider.
func (c *Config) Hash() string {
	data := fmt.Sprintf("%s:%s:%d:%s",
		c.Embedding.Provider,
		c.Embedding.Model,
		c.Embedding.Dimensions,
		c.Index.Provider,
	)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// HashPath returns the path of the stored embedding-config hash.
func HashPath(dataRoot string) string {
	return filepath.Join(ConfigDir(dataRoot), "embedding.hash")
}

// VerifyHash compares the stored embedding-config hash with cfg. The
// stored vectors were produced by the configuration recorded at index
// time; a provider or model swap leaves them silently incomparable with
// new query embeddings, so a mismatch refuses to open the index. A
// missing hash file (fresh install, or pre-hash index) passes.
func VerifyHash(dataRoot string, cfg *Config) error {
	data, err := os.ReadFile(HashPath(dataRoot))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read embedding hash: %w", err)
	}
	if strings.TrimSpace(string(data)) != cfg.Hash() {
		return fmt.Errorf("embedding configuration changed since the index was built; delete %s and %s to rebuild",
			VectorDBPath(dataRoot), HashPath(dataRoot))
	}
	return nil
}

// WriteHash records cfg's embedding hash beside the index.
func WriteHash(dataRoot string, cfg *Config) error {
	if err := os.MkdirAll(ConfigDir(dataRoot), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return os.WriteFile(HashPath(dataRoot), []byte(cfg.Hash()+"\n"), 0644)
}
