// Package host loads external embedding plugins and adapts them to the
// in-process provider interface.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/memvault/mcp-memvault/pkg/plugin/shared"
	"github.com/memvault/mcp-memvault/pkg/provider"
)

// Host manages plugin subprocesses keyed by binary path.
type Host struct {
	mu      sync.Mutex
	clients map[string]*plugin.Client
	logger  hclog.Logger
}

// NewHost creates a plugin host.
func NewHost() *Host {
	return &Host{
		clients: make(map[string]*plugin.Client),
		logger: hclog.New(&hclog.LoggerOptions{
			Name:   "plugins",
			Level:  hclog.Warn,
			Output: os.Stderr,
		}),
	}
}

// LoadEmbedding starts the plugin binary at path (if not already
// running) and returns it as a provider.EmbeddingProvider.
func (h *Host) LoadEmbedding(path string) (provider.EmbeddingProvider, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("plugin binary not found: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	client, running := h.clients[path]
	if !running {
		slog.Info("loading embedding plugin", "path", path)
		client = plugin.NewClient(&plugin.ClientConfig{
			HandshakeConfig: shared.Handshake,
			Plugins:         shared.PluginMap,
			Cmd:             exec.Command(path),
			Logger:          h.logger,
			AllowedProtocols: []plugin.Protocol{
				plugin.ProtocolNetRPC,
			},
		})
		h.clients[path] = client
	}

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		delete(h.clients, path)
		return nil, fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense(shared.EmbeddingPluginName)
	if err != nil {
		client.Kill()
		delete(h.clients, path)
		return nil, fmt.Errorf("failed to dispense plugin: %w", err)
	}

	impl, ok := raw.(shared.EmbeddingProvider)
	if !ok {
		client.Kill()
		delete(h.clients, path)
		return nil, fmt.Errorf("plugin does not implement the embedding interface")
	}

	return &embeddingAdapter{plugin: impl, host: h, path: path}, nil
}

// Shutdown kills all plugin subprocesses.
func (h *Host) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for path, client := range h.clients {
		client.Kill()
		slog.Debug("plugin stopped", "path", path)
	}
	h.clients = make(map[string]*plugin.Client)
}

func (h *Host) release(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.clients[path]; ok {
		client.Kill()
		delete(h.clients, path)
	}
}

// embeddingAdapter bridges the context-free plugin interface to
// provider.EmbeddingProvider. Deadlines are checked host-side before
// each RPC; a call already in flight cannot be cancelled.
type embeddingAdapter struct {
	plugin shared.EmbeddingProvider
	host   *Host
	path   string
}

var _ provider.EmbeddingProvider = (*embeddingAdapter)(nil)

func (a *embeddingAdapter) Name() string {
	return a.plugin.Name()
}

func (a *embeddingAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return a.plugin.Embed(texts)
}

func (a *embeddingAdapter) Dimensions() int {
	return a.plugin.Dimensions()
}

func (a *embeddingAdapter) MaxBatchSize() int {
	return a.plugin.MaxBatchSize()
}

func (a *embeddingAdapter) Warmup(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return a.plugin.Warmup()
}

func (a *embeddingAdapter) Close() error {
	err := a.plugin.Close()
	a.host.release(a.path)
	return err
}
