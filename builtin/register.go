// Package builtin registers all built-in providers with the default registry.
package builtin

import (
	ollamaEmbed "github.com/memvault/mcp-memvault/builtin/embedding/ollama"
	openaiEmbed "github.com/memvault/mcp-memvault/builtin/embedding/openai"
	chromemIndex "github.com/memvault/mcp-memvault/builtin/vectorindex/chromem"
	"github.com/memvault/mcp-memvault/builtin/vectorindex/sqlitevec"
	"github.com/memvault/mcp-memvault/internal/storage"
	"github.com/memvault/mcp-memvault/pkg/plugin/host"
	"github.com/memvault/mcp-memvault/pkg/provider"
)

func init() {
	// Register embedding providers
	provider.RegisterEmbedding("ollama", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return ollamaEmbed.New(ollamaEmbed.Config{
			Endpoint:  cfg.Endpoint,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		}), nil
	})

	provider.RegisterEmbedding("openai", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return openaiEmbed.New(openaiEmbed.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.Endpoint,
			BatchSize: cfg.BatchSize,
		}), nil
	})

	provider.RegisterEmbedding("plugin", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return host.NewHost().LoadEmbedding(cfg.PluginPath)
	})

	// Register vector indexes
	provider.RegisterVectorIndex("sqlitevec", func() (provider.VectorIndex, error) {
		return sqlitevec.New(), nil
	})

	provider.RegisterVectorIndex("chromem", func() (provider.VectorIndex, error) {
		return chromemIndex.New(), nil
	})

	// Register metadata stores
	provider.RegisterMetadataStore("sqlite", func() (provider.MetadataStore, error) {
		return storage.New(), nil
	})
}
