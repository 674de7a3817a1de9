package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	chromemIndex "github.com/memvault/mcp-memvault/builtin/vectorindex/chromem"
	"github.com/memvault/mcp-memvault/internal/access"
	"github.com/memvault/mcp-memvault/internal/config"
	"github.com/memvault/mcp-memvault/internal/memory"
	"github.com/memvault/mcp-memvault/internal/storage"
)

const testDims = 3

type cannedEmbedder struct {
	vecs map[string][]float32
}

func (c *cannedEmbedder) Name() string { return "canned" }

func (c *cannedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := c.vecs[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func (c *cannedEmbedder) Dimensions() int                  { return testDims }
func (c *cannedEmbedder) MaxBatchSize() int                { return 16 }
func (c *cannedEmbedder) Warmup(ctx context.Context) error { return nil }
func (c *cannedEmbedder) Close() error                     { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir, err := os.MkdirTemp("", "mcp-server-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	meta := storage.New()
	if err := meta.Init(filepath.Join(dir, "meta.db")); err != nil {
		t.Fatalf("metadata Init failed: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	index := chromemIndex.New()
	if err := index.Init("", testDims); err != nil {
		t.Fatalf("index Init failed: %v", err)
	}

	embedder := &cannedEmbedder{vecs: map[string][]float32{
		"I prefer dark mode": {1, 0, 0},
		"display preference": {0.9, 0.1, 0},
	}}

	cfg := config.DefaultConfig()
	store := memory.NewStore(meta, index, embedder, access.Policy{}, memory.Options{})

	srv, err := New(Config{Config: cfg, Store: store})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return srv
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return tc.Text
}

func decodeResult(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(resultText(t, res)), &payload); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	return payload
}

func errorKind(t *testing.T, res *mcp.CallToolResult) (string, bool) {
	t.Helper()
	if !res.IsError {
		t.Fatal("expected an error result")
	}
	payload := decodeResult(t, res)
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("error payload missing error object: %v", payload)
	}
	kind, _ := errObj["kind"].(string)
	retryable, _ := errObj["retryable"].(bool)
	return kind, retryable
}

func TestAddMemoriesRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	res, err := srv.handleAddMemories(ctx, callRequest("add_memories", map[string]interface{}{
		"text":    "I prefer dark mode",
		"user_id": "alice",
		"app_id":  "cli",
	}))
	if err != nil {
		t.Fatalf("handleAddMemories failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}

	payload := decodeResult(t, res)
	if payload["id"] == "" || payload["id"] == nil {
		t.Error("expected a memory id in the response")
	}
	if payload["user_id"] != "alice" {
		t.Errorf("user_id = %v, want alice", payload["user_id"])
	}

	res, err = srv.handleListMemories(ctx, callRequest("list_memories", map[string]interface{}{
		"user_id": "alice",
		"app_id":  "cli",
	}))
	if err != nil {
		t.Fatalf("handleListMemories failed: %v", err)
	}
	listed := decodeResult(t, res)
	if listed["count"] != float64(1) {
		t.Errorf("count = %v, want 1", listed["count"])
	}
}

func TestAddMemoriesRejectsEmptyText(t *testing.T) {
	srv := newTestServer(t)

	res, err := srv.handleAddMemories(context.Background(), callRequest("add_memories", map[string]interface{}{
		"text": "   ",
	}))
	if err != nil {
		t.Fatalf("handleAddMemories failed: %v", err)
	}
	kind, retryable := errorKind(t, res)
	if kind != "validation" {
		t.Errorf("kind = %q, want validation", kind)
	}
	if retryable {
		t.Error("validation errors must not be retryable")
	}
}

func TestIdentityDefaultsFromConfig(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	res, err := srv.handleAddMemories(ctx, callRequest("add_memories", map[string]interface{}{
		"text": "I prefer dark mode",
	}))
	if err != nil {
		t.Fatalf("handleAddMemories failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	payload := decodeResult(t, res)
	if payload["user_id"] != "default_user" {
		t.Errorf("user_id = %v, want default_user", payload["user_id"])
	}
	if payload["app_id"] != "default_app" {
		t.Errorf("app_id = %v, want default_app", payload["app_id"])
	}
}

func TestSearchMemoryRanksBySimilarity(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	for _, text := range []string{"I prefer dark mode", "unrelated note"} {
		res, err := srv.handleAddMemories(ctx, callRequest("add_memories", map[string]interface{}{
			"text":    text,
			"user_id": "alice",
			"app_id":  "cli",
		}))
		if err != nil || res.IsError {
			t.Fatalf("add %q failed: %v %v", text, err, res)
		}
	}

	res, err := srv.handleSearchMemory(ctx, callRequest("search_memory", map[string]interface{}{
		"query":   "display preference",
		"user_id": "alice",
		"app_id":  "cli",
		"limit":   1,
	}))
	if err != nil {
		t.Fatalf("handleSearchMemory failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}

	payload := decodeResult(t, res)
	results, ok := payload["results"].([]any)
	if !ok || len(results) != 1 {
		t.Fatalf("results = %v, want exactly one", payload["results"])
	}
	top := results[0].(map[string]any)
	if top["text"] != "I prefer dark mode" {
		t.Errorf("top result = %v, want the dark mode memory", top["text"])
	}
}

func TestSearchMemoryRejectsNonPositiveLimit(t *testing.T) {
	srv := newTestServer(t)

	for _, limit := range []int{0, -3} {
		res, err := srv.handleSearchMemory(context.Background(), callRequest("search_memory", map[string]interface{}{
			"query": "anything",
			"limit": limit,
		}))
		if err != nil {
			t.Fatalf("handleSearchMemory failed: %v", err)
		}
		kind, _ := errorKind(t, res)
		if kind != "validation" {
			t.Errorf("limit %d: kind = %q, want validation", limit, kind)
		}
	}
}

func TestSearchMemoryIsolatesUsers(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	res, err := srv.handleAddMemories(ctx, callRequest("add_memories", map[string]interface{}{
		"text":    "I prefer dark mode",
		"user_id": "alice",
		"app_id":  "cli",
	}))
	if err != nil || res.IsError {
		t.Fatalf("add failed: %v %v", err, res)
	}

	res, err = srv.handleSearchMemory(ctx, callRequest("search_memory", map[string]interface{}{
		"query":   "display preference",
		"user_id": "bob",
		"app_id":  "cli",
	}))
	if err != nil {
		t.Fatalf("handleSearchMemory failed: %v", err)
	}
	payload := decodeResult(t, res)
	if payload["count"] != float64(0) {
		t.Errorf("bob sees %v results of alice's memories, want 0", payload["count"])
	}
}

func TestDeleteAllMemoriesIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	for _, text := range []string{"first", "second"} {
		res, err := srv.handleAddMemories(ctx, callRequest("add_memories", map[string]interface{}{
			"text":    text,
			"user_id": "alice",
			"app_id":  "cli",
		}))
		if err != nil || res.IsError {
			t.Fatalf("add %q failed: %v %v", text, err, res)
		}
	}

	args := map[string]interface{}{"user_id": "alice", "app_id": "cli"}

	res, err := srv.handleDeleteAllMemories(ctx, callRequest("delete_all_memories", args))
	if err != nil {
		t.Fatalf("handleDeleteAllMemories failed: %v", err)
	}
	if got := decodeResult(t, res)["deleted"]; got != float64(2) {
		t.Errorf("first delete = %v, want 2", got)
	}

	res, err = srv.handleDeleteAllMemories(ctx, callRequest("delete_all_memories", args))
	if err != nil {
		t.Fatalf("second handleDeleteAllMemories failed: %v", err)
	}
	if got := decodeResult(t, res)["deleted"]; got != float64(0) {
		t.Errorf("second delete = %v, want 0", got)
	}
}

func TestBlankIdentityIsDenied(t *testing.T) {
	srv := newTestServer(t)
	srv.config.Tenant.DefaultUserID = ""
	srv.config.Tenant.DefaultAppID = ""

	res, err := srv.handleAddMemories(context.Background(), callRequest("add_memories", map[string]interface{}{
		"text": "I prefer dark mode",
	}))
	if err != nil {
		t.Fatalf("handleAddMemories failed: %v", err)
	}
	kind, retryable := errorKind(t, res)
	if kind != "access_denied" {
		t.Errorf("kind = %q, want access_denied", kind)
	}
	if retryable {
		t.Error("access denials must not be retryable")
	}

	if !strings.Contains(resultText(t, res), "access_denied") {
		t.Error("error payload should carry the stable kind string")
	}
}
