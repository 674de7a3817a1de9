// Package mcp implements the MCP server exposing the memory tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/memvault/mcp-memvault/internal/config"
	"github.com/memvault/mcp-memvault/internal/memory"
	"github.com/memvault/mcp-memvault/pkg/types"
)

// Server implements the MCP server.
type Server struct {
	mcpServer *server.MCPServer
	config    *config.Config
	store     *memory.Store
}

// Config contains server configuration.
type Config struct {
	Config *config.Config
	Store  *memory.Store
}

// New creates a new MCP server.
func New(cfg Config) (*Server, error) {
	s := &Server{
		config: cfg.Config,
		store:  cfg.Store,
	}

	mcpServer := server.NewMCPServer(
		"mcp-memvault",
		"0.1.0",
		server.WithLogging(),
	)

	s.registerTools(mcpServer)

	s.mcpServer = mcpServer
	return s, nil
}

// registerTools registers all MCP tools.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	// add_memories - Store a new memory
	mcpServer.AddTool(mcp.NewTool("add_memories",
		mcp.WithDescription("Store a new memory. Call this whenever the user shares a preference or fact worth remembering."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The memory text to store")),
		mcp.WithString("user_id", mcp.Description("User the memory belongs to (defaults to the configured user)")),
		mcp.WithString("app_id", mcp.Description("Client app storing the memory (defaults to the configured app)")),
	), s.handleAddMemories)

	// search_memory - Semantic search over stored memories
	mcpServer.AddTool(mcp.NewTool("search_memory",
		mcp.WithDescription("Search memories by meaning. Call this before answering anything that might depend on stored preferences or facts."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithString("user_id", mcp.Description("User whose memories to search")),
		mcp.WithString("app_id", mcp.Description("Calling app")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
	), s.handleSearchMemory)

	// list_memories - List all stored memories
	mcpServer.AddTool(mcp.NewTool("list_memories",
		mcp.WithDescription("List all of the user's stored memories, oldest first"),
		mcp.WithString("user_id", mcp.Description("User whose memories to list")),
		mcp.WithString("app_id", mcp.Description("Calling app")),
	), s.handleListMemories)

	// delete_all_memories - Soft-delete everything for this user+app
	mcpServer.AddTool(mcp.NewTool("delete_all_memories",
		mcp.WithDescription("Delete all of the user's memories stored by this app"),
		mcp.WithString("user_id", mcp.Description("User whose memories to delete")),
		mcp.WithString("app_id", mcp.Description("Calling app")),
	), s.handleDeleteAllMemories)
}

// identity resolves user/app from the request, falling back to the
// configured defaults. Resolution to a blank identity is left to the
// store, which denies it.
func (s *Server) identity(req mcp.CallToolRequest) (string, string) {
	userID := strings.TrimSpace(req.GetString("user_id", ""))
	if userID == "" {
		userID = s.config.Tenant.DefaultUserID
	}
	appID := strings.TrimSpace(req.GetString("app_id", ""))
	if appID == "" {
		appID = s.config.Tenant.DefaultAppID
	}
	return userID, appID
}

func (s *Server) handleAddMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("text", "")
	userID, appID := s.identity(req)

	id, err := s.store.Add(ctx, text, userID, appID)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"id":      id,
		"user_id": userID,
		"app_id":  appID,
		"message": "memory stored",
	})
}

func (s *Server) handleSearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	userID, appID := s.identity(req)

	// Distinguish an explicit non-positive limit (invalid) from an
	// absent one (use the configured default).
	limit := req.GetInt("limit", -1)
	if limit == -1 {
		limit = 0
	} else if limit <= 0 {
		return errorResult(types.ValidationError("limit must be positive, got %d", limit)), nil
	}

	results, err := s.store.Search(ctx, query, userID, appID, limit)
	if err != nil {
		return errorResult(err), nil
	}

	items := make([]map[string]any, 0, len(results))
	for _, r := range results {
		items = append(items, map[string]any{
			"id":         r.Memory.ID,
			"text":       r.Memory.Text,
			"tags":       r.Memory.Tags,
			"app_id":     r.Memory.AppID,
			"score":      r.Score,
			"created_at": r.Memory.CreatedAt,
		})
	}

	return jsonResult(map[string]any{
		"query":   query,
		"count":   len(items),
		"results": items,
	})
}

func (s *Server) handleListMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, appID := s.identity(req)

	memories, err := s.store.List(ctx, userID, appID)
	if err != nil {
		return errorResult(err), nil
	}

	items := make([]map[string]any, 0, len(memories))
	for _, m := range memories {
		items = append(items, map[string]any{
			"id":         m.ID,
			"text":       m.Text,
			"tags":       m.Tags,
			"app_id":     m.AppID,
			"created_at": m.CreatedAt,
		})
	}

	return jsonResult(map[string]any{
		"user_id":  userID,
		"count":    len(items),
		"memories": items,
	})
}

func (s *Server) handleDeleteAllMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, appID := s.identity(req)

	count, err := s.store.DeleteAll(ctx, userID, appID)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"user_id": userID,
		"app_id":  appID,
		"deleted": count,
	})
}

// jsonResult marshals a payload into a text tool result.
func jsonResult(payload map[string]any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult maps a domain error to a structured payload so clients
// can branch on the stable error kind.
func errorResult(err error) *mcp.CallToolResult {
	payload := map[string]any{
		"error": map[string]any{
			"kind":      string(kindFor(err)),
			"message":   err.Error(),
			"retryable": types.IsRetryable(err),
		},
	}
	data, mErr := json.Marshal(payload)
	if mErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}

func kindFor(err error) types.ErrorKind {
	if errors.Is(err, types.ErrNotFound) {
		return types.KindValidation
	}
	if k := types.KindOf(err); k != "" {
		return k
	}
	return types.KindStorage
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
