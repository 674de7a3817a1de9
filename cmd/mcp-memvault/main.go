// mcp-memvault is an MCP server for multi-tenant semantic memory.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/memvault/mcp-memvault/builtin"
	"github.com/memvault/mcp-memvault/internal/access"
	"github.com/memvault/mcp-memvault/internal/config"
	"github.com/memvault/mcp-memvault/internal/mcp"
	"github.com/memvault/mcp-memvault/internal/memory"
	"github.com/memvault/mcp-memvault/pkg/provider"
)

var (
	version   = "0.1.0"
	logLevel  string
	logFormat string
	userFlag  string
	appFlag   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mcp-memvault",
	Short: "MCP server for multi-tenant semantic memory",
	Long: `mcp-memvault is an MCP server that stores memories per user and app,
searches them by meaning using vector embeddings, and keeps an
append-only audit trail of every write.

It supports:
- Multiple embedding providers (Ollama, OpenAI, external plugins)
- Pluggable vector indexes (sqlite-vec, chromem)
- Strict tenant isolation with opt-in sharing between a user's apps`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mcp-memvault %s\n", version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server",
	Run: func(cmd *cobra.Command, args []string) {
		stdio, _ := cmd.Flags().GetBool("stdio")
		runServe(stdio)
	},
}

var addCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Store a memory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runAdd(args[0])
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories by meaning",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		runSearch(args[0], limit)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored memories, oldest first",
	Run: func(cmd *cobra.Command, args []string) {
		runList()
	},
}

var deleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete all memories for the user and app",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		runDeleteAll(force)
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Permanently remove soft-deleted memories",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		runPurge(force)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit trail, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		accessLog, _ := cmd.Flags().GetBool("access")
		runAudit(limit, accessLog)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics for the user",
	Run: func(cmd *cobra.Command, args []string) {
		runStats()
	},
}

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "App registry management",
}

var appListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the user's registered apps",
	Run: func(cmd *cobra.Command, args []string) {
		runAppList()
	},
}

var appPauseCmd = &cobra.Command{
	Use:   "pause <app>",
	Short: "Pause an app so it can no longer write",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runAppSetActive(args[0], false)
	},
}

var appResumeCmd = &cobra.Command{
	Use:   "resume <app>",
	Short: "Resume a paused app",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runAppSetActive(args[0], true)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration",
	Run: func(cmd *cobra.Command, args []string) {
		runConfigInit()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Run: func(cmd *cobra.Command, args []string) {
		runConfigValidate()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "user id (default: configured default user)")
	rootCmd.PersistentFlags().StringVarP(&appFlag, "app", "a", "", "app id (default: configured default app)")

	serveCmd.Flags().Bool("stdio", false, "use stdio transport (for MCP)")

	searchCmd.Flags().IntP("limit", "l", 10, "maximum results")

	deleteAllCmd.Flags().BoolP("force", "f", false, "delete without confirmation")
	purgeCmd.Flags().BoolP("force", "f", false, "purge without confirmation")

	auditCmd.Flags().IntP("limit", "l", 50, "maximum entries to show")
	auditCmd.Flags().Bool("access", false, "show the read access log instead")

	appCmd.AddCommand(appListCmd)
	appCmd.AddCommand(appPauseCmd)
	appCmd.AddCommand(appResumeCmd)

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteAllCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(appCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// createProviders creates all providers based on config.
func createProviders(cfg *config.Config) (provider.MetadataStore, provider.VectorIndex, provider.EmbeddingProvider, error) {
	meta, err := provider.DefaultRegistry.CreateMetadataStore(cfg.Storage.Provider)
	if err != nil {
		return nil, nil, nil, err
	}

	index, err := provider.DefaultRegistry.CreateVectorIndex(cfg.Index.Provider)
	if err != nil {
		return nil, nil, nil, err
	}

	embedding, err := provider.DefaultRegistry.CreateEmbedding(cfg.Embedding.Provider, provider.EmbeddingConfig{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		Endpoint:   cfg.Embedding.Endpoint,
		APIKey:     cfg.Embedding.APIKey,
		BatchSize:  cfg.Embedding.BatchSize,
		PluginPath: cfg.Embedding.PluginPath,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return meta, index, embedding, nil
}

// openStore loads config from the working directory, wires the
// providers together and bootstraps the default tenant. The returned
// closer shuts everything down in reverse order.
func openStore(ctx context.Context) (*memory.Store, *config.Config, func(), error) {
	cwd, _ := os.Getwd()

	cfg, warnings, err := config.Load(cwd)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, w := range warnings {
		slog.Warn(w)
	}

	// Stored vectors only compare against embeddings from the same
	// provider/model; refuse to open an index built under another one.
	if err := config.VerifyHash(cwd, cfg); err != nil {
		return nil, nil, nil, err
	}

	meta, index, embedding, err := createProviders(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := os.MkdirAll(config.ConfigDir(cwd), 0o755); err != nil {
		return nil, nil, nil, err
	}

	if err := meta.Init(config.MetaDBPath(cwd)); err != nil {
		return nil, nil, nil, fmt.Errorf("init metadata store: %w", err)
	}

	if err := embedding.Warmup(ctx); err != nil {
		slog.Warn("embedding warmup failed", "error", err)
	}

	// Providers that probe their model report dimensions only after
	// warmup, so the index is initialized last.
	dims := cfg.Embedding.Dimensions
	if dims <= 0 {
		dims = embedding.Dimensions()
	}
	if err := index.Init(config.VectorDBPath(cwd), dims); err != nil {
		meta.Close()
		return nil, nil, nil, fmt.Errorf("init vector index: %w", err)
	}
	if err := config.WriteHash(cwd, cfg); err != nil {
		slog.Warn("failed to record embedding hash", "error", err)
	}

	store := memory.NewStore(meta, index, embedding, access.Policy{
		ShareAcrossApps: cfg.Policy.ShareAcrossApps,
	}, memory.Options{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
		Overfetch:    cfg.Search.Overfetch,
		MaxTextLen:   cfg.Limits.MaxTextLen,
		EmbedTimeout: cfg.Limits.EmbedTimeout,
		IndexTimeout: cfg.Limits.IndexTimeout,
	})

	if err := store.Bootstrap(ctx, cfg.Tenant.DefaultUserID, cfg.Tenant.DefaultAppID); err != nil {
		slog.Warn("bootstrap failed", "error", err)
	}

	closer := func() {
		if err := index.Close(); err != nil {
			slog.Warn("failed to close index", "error", err)
		}
		if err := embedding.Close(); err != nil {
			slog.Warn("failed to close embedding", "error", err)
		}
		if err := meta.Close(); err != nil {
			slog.Warn("failed to close metadata store", "error", err)
		}
	}

	return store, cfg, closer, nil
}

// identity resolves the user/app flags against the configured defaults.
func identity(cfg *config.Config) (string, string) {
	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		userID = cfg.Tenant.DefaultUserID
	}
	appID := strings.TrimSpace(appFlag)
	if appID == "" {
		appID = cfg.Tenant.DefaultAppID
	}
	return userID, appID
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func runServe(stdio bool) {
	slog.Info("starting MCP server", "stdio", stdio)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, cfg, closer, err := openStore(ctx)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		closer()
		slog.Info("shutdown complete")
		os.Exit(0)
	}()

	defer func() {
		signal.Stop(sigChan)
		closer()
	}()

	server, err := mcp.New(mcp.Config{
		Config: cfg,
		Store:  store,
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if stdio {
		slog.Info("MCP server running (press Ctrl+C to stop)")
		if err := server.ServeStdio(); err != nil {
			if ctx.Err() != nil {
				slog.Info("server stopped")
			} else {
				slog.Error("server error", "error", err)
				os.Exit(1)
			}
		}
	} else {
		fmt.Println("Only stdio transport is supported. Use --stdio.")
		os.Exit(1)
	}
}

func runAdd(text string) {
	ctx := context.Background()

	store, cfg, closer, err := openStore(ctx)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closer()

	userID, appID := identity(cfg)

	id, err := store.Add(ctx, text, userID, appID)
	if err != nil {
		slog.Error("add failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Stored memory %s for %s/%s\n", id, userID, appID)
}

func runSearch(query string, limit int) {
	ctx := context.Background()

	store, cfg, closer, err := openStore(ctx)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closer()

	userID, appID := identity(cfg)

	results, err := store.Search(ctx, query, userID, appID, limit)
	if err != nil {
		slog.Error("search failed", "error", err)
		os.Exit(1)
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}

	for i, r := range results {
		fmt.Printf("%d. [%.3f] %s\n", i+1, r.Score, r.Memory.Text)
		if len(r.Memory.Tags) > 0 {
			fmt.Printf("   tags: %s\n", strings.Join(r.Memory.Tags, ", "))
		}
		fmt.Printf("   id: %s  app: %s  created: %s\n",
			r.Memory.ID, r.Memory.AppID, r.Memory.CreatedAt.Format(time.RFC3339))
	}
}

func runList() {
	ctx := context.Background()

	store, cfg, closer, err := openStore(ctx)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closer()

	userID, appID := identity(cfg)

	memories, err := store.List(ctx, userID, appID)
	if err != nil {
		slog.Error("list failed", "error", err)
		os.Exit(1)
	}

	if len(memories) == 0 {
		fmt.Println("No memories stored.")
		return
	}

	for _, m := range memories {
		fmt.Printf("%s  %s  %s\n", m.ID, m.CreatedAt.Format(time.RFC3339), m.Text)
	}
	fmt.Printf("\n%d memories\n", len(memories))
}

func runDeleteAll(force bool) {
	ctx := context.Background()

	store, cfg, closer, err := openStore(ctx)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closer()

	userID, appID := identity(cfg)

	if !force && !confirm(fmt.Sprintf("Delete all memories for %s/%s?", userID, appID)) {
		fmt.Println("Aborted.")
		return
	}

	count, err := store.DeleteAll(ctx, userID, appID)
	if err != nil {
		slog.Error("delete-all failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Deleted %d memories\n", count)
}

func runPurge(force bool) {
	ctx := context.Background()

	store, cfg, closer, err := openStore(ctx)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closer()

	userID, appID := identity(cfg)

	if !force && !confirm(fmt.Sprintf("Permanently remove deleted memories for %s?", userID)) {
		fmt.Println("Aborted.")
		return
	}

	count, err := store.Purge(ctx, userID, appID)
	if err != nil {
		slog.Error("purge failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Purged %d memories\n", count)
}

func runAudit(limit int, accessLog bool) {
	ctx := context.Background()

	store, cfg, closer, err := openStore(ctx)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closer()

	userID, appID := identity(cfg)

	if accessLog {
		entries, err := store.AccessLog(ctx, userID, appID, limit)
		if err != nil {
			slog.Error("access log failed", "error", err)
			os.Exit(1)
		}
		for _, e := range entries {
			fmt.Printf("%s  %-6s  %s  by %s\n",
				e.At.Format(time.RFC3339), e.Op, e.MemoryID, e.AppID)
		}
		fmt.Printf("\n%d entries\n", len(entries))
		return
	}

	entries, err := store.Audit(ctx, userID, appID, limit)
	if err != nil {
		slog.Error("audit failed", "error", err)
		os.Exit(1)
	}

	for _, e := range entries {
		fmt.Printf("%s  %-11s  %s  by %s\n",
			e.At.Format(time.RFC3339), e.Op, e.MemoryID, e.AppID)
	}
	fmt.Printf("\n%d entries\n", len(entries))
}

func runStats() {
	ctx := context.Background()

	store, cfg, closer, err := openStore(ctx)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closer()

	userID, _ := identity(cfg)

	stats, err := store.Stats(ctx, userID)
	if err != nil {
		slog.Error("stats failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("User:             %s\n", stats.UserID)
	fmt.Printf("Active memories:  %d\n", stats.ActiveCount)
	fmt.Printf("Deleted memories: %d\n", stats.DeletedCount)
	fmt.Printf("Audit entries:    %d\n", stats.AuditCount)
	fmt.Printf("Indexed vectors:  %d (%s)\n", stats.VectorCount, stats.IndexProvider)
}

func runAppList() {
	ctx := context.Background()

	store, cfg, closer, err := openStore(ctx)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closer()

	userID, _ := identity(cfg)

	apps, err := store.Apps(ctx, userID)
	if err != nil {
		slog.Error("app list failed", "error", err)
		os.Exit(1)
	}

	if len(apps) == 0 {
		fmt.Println("No apps registered.")
		return
	}

	for _, a := range apps {
		state := "active"
		if !a.Active {
			state = "paused"
		}
		fmt.Printf("%-20s  %-7s  since %s\n", a.Name, state, a.CreatedAt.Format(time.RFC3339))
	}
}

func runAppSetActive(appName string, active bool) {
	ctx := context.Background()

	store, cfg, closer, err := openStore(ctx)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closer()

	userID, _ := identity(cfg)

	if err := store.SetAppActive(ctx, userID, appName, active); err != nil {
		slog.Error("app update failed", "error", err)
		os.Exit(1)
	}

	if active {
		fmt.Printf("App %s resumed\n", appName)
	} else {
		fmt.Printf("App %s paused; its writes will be rejected\n", appName)
	}
}

func runConfigInit() {
	cwd, _ := os.Getwd()
	cfg := config.DefaultConfig()

	if err := config.Save(cwd, cfg); err != nil {
		slog.Error("failed to save config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Created config at %s\n", config.ConfigPath(cwd))
}

func runConfigValidate() {
	cwd, _ := os.Getwd()

	cfg, warnings, err := config.Load(cwd)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	for _, w := range warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	errs := config.Validate(cfg)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Printf("Error: %v\n", e)
		}
		os.Exit(1)
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  embedding: %s/%s\n", cfg.Embedding.Provider, cfg.Embedding.Model)
	fmt.Printf("  index:     %s\n", cfg.Index.Provider)
	fmt.Printf("  storage:   %s\n", cfg.Storage.Provider)
	fmt.Printf("  tenant:    %s/%s\n", cfg.Tenant.DefaultUserID, cfg.Tenant.DefaultAppID)
}
