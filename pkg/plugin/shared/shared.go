// Package shared defines the contract between the host and external
// embedding plugins. Plugins are standalone binaries speaking net/rpc;
// the types here must stay in sync on both sides of the process
// boundary, which is why the interface is self-contained rather than
// reusing pkg/provider.
package shared

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// Handshake is shared by plugin and host. It prevents binaries built
// against an incompatible protocol from being dispensed.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "MEMVAULT_PLUGIN",
	MagicCookieValue: "mcp-memvault-v1",
}

// EmbeddingPluginName is the key plugins register under.
const EmbeddingPluginName = "embedding"

// PluginMap is the map of plugins the host can dispense.
var PluginMap = map[string]plugin.Plugin{
	EmbeddingPluginName: &EmbeddingPlugin{},
}

// EmbeddingProvider is the interface an embedding plugin implements.
// Context does not cross the RPC boundary; the host enforces deadlines
// on its side.
type EmbeddingProvider interface {
	Name() string
	Embed(texts []string) ([][]float32, error)
	Dimensions() int
	MaxBatchSize() int
	Warmup() error
	Close() error
}

// EmbeddingPlugin is the plugin.Plugin implementation for embedding
// providers.
type EmbeddingPlugin struct {
	Impl EmbeddingProvider
}

func (p *EmbeddingPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &embeddingRPCServer{impl: p.Impl}, nil
}

func (p *EmbeddingPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &embeddingRPCClient{client: c}, nil
}

// PluginError carries an error message across the RPC boundary.
type PluginError struct {
	Message string
}

func (e *PluginError) Error() string {
	return e.Message
}
