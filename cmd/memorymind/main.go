// Memorymind is a resilient memory service speaking MCP-style JSON-RPC
// over HTTP.
//
// It ships both halves: a server that persists subject-predicate-object
// records in SQLite and serves them as tools and resources, and a
// fault-tolerant client CLI whose record operations degrade to safe
// fallbacks instead of failing while the server is down. Configuration
// is loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]); every client command runs on built-in
// defaults when no file exists.
//
// Usage:
//
//	memorymind serve                      Start the memory server
//	memorymind init [dir]                 Initialize a working directory
//	memorymind remember <s> <p> <o>       Store one record
//	memorymind recall                     List the owner's records
//	memorymind context                    Print the owner's memory context
//	memorymind ingest <file.md>           Import a markdown document
//	memorymind version                    Print version and build information
//	memorymind -o json version            Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sincerelyyyash/memory-mind/internal/buildinfo"
	"github.com/sincerelyyyash/memory-mind/internal/config"
	"github.com/sincerelyyyash/memory-mind/internal/export"
	"github.com/sincerelyyyash/memory-mind/internal/ingest"
	"github.com/sincerelyyyash/memory-mind/internal/memory"
	"github.com/sincerelyyyash/memory-mind/internal/server"
	"github.com/sincerelyyyash/memory-mind/internal/store"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the memorymind command. OS-level
// dependencies (context, output streams, arguments) are injected so tests
// can call it directly and in parallel.
//
// run returns nil on clean completion and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call run()
	// concurrently from tests. Our argument surface is small enough that
	// manual parsing is clearer than bringing in a CLI framework.
	var configPath string
	var owner string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-owner" && i+1 < len(args):
			owner = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-owner="):
			owner = strings.TrimPrefix(args[i], "-owner=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	// Default to human-readable text output.
	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "remember":
		if len(cmdArgs) != 3 {
			return fmt.Errorf("usage: memorymind remember <subject> <predicate> <object>")
		}
		return runRemember(ctx, stdout, stderr, configPath, owner, cmdArgs)
	case "recall":
		return runRecall(ctx, stdout, stderr, configPath, owner, outputFmt)
	case "update":
		if len(cmdArgs) != 4 {
			return fmt.Errorf("usage: memorymind update <id> <subject> <predicate> <object>")
		}
		return runUpdate(ctx, stdout, stderr, configPath, owner, cmdArgs)
	case "forget":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: memorymind forget <id>")
		}
		return runForget(ctx, stdout, stderr, configPath, owner, cmdArgs[0])
	case "context":
		return runContext(ctx, stdout, stderr, configPath, owner)
	case "summary":
		return runSummary(ctx, stdout, stderr, configPath, owner)
	case "ingest":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: memorymind ingest <file.md>")
		}
		return runIngest(ctx, stdout, stderr, configPath, owner, cmdArgs[0])
	case "export":
		outPath := ""
		if len(cmdArgs) > 0 {
			outPath = cmdArgs[0]
		}
		return runExport(ctx, stdout, stderr, configPath, owner, outPath)
	case "tools":
		return runTools(ctx, stdout, stderr, configPath, owner, outputFmt)
	case "status":
		return runStatus(ctx, stdout, stderr, configPath, owner, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// memorymind is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "MemoryMind - Resilient memory server and client")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: memorymind [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                              Start the memory server")
	fmt.Fprintln(w, "  init [dir]                         Initialize a working directory (default: .)")
	fmt.Fprintln(w, "  remember <subject> <pred> <obj>    Store one record")
	fmt.Fprintln(w, "  recall                             List the owner's records")
	fmt.Fprintln(w, "  update <id> <subject> <pred> <obj> Rewrite a record")
	fmt.Fprintln(w, "  forget <id>                        Delete a record")
	fmt.Fprintln(w, "  context                            Print the owner's memory context")
	fmt.Fprintln(w, "  summary                            Print the per-subject summary")
	fmt.Fprintln(w, "  ingest <file.md>                   Import a markdown document")
	fmt.Fprintln(w, "  export [file.html]                 Render the owner's records to HTML")
	fmt.Fprintln(w, "  tools                              List the server's tools")
	fmt.Fprintln(w, "  status                             Check server health and breaker state")
	fmt.Fprintln(w, "  version                            Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -owner <id>       Owner identity (default: from config)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./memorymind.yaml, ~/.config/memorymind/config.yaml, /etc/memorymind/config.yaml")
	return nil
}

// runServe handles the "memorymind serve" subcommand. It is the primary
// operating mode: loads config, opens the record store, starts the HTTP
// server, and blocks until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The HTTP server drains in-flight requests
//  3. The record store is closed via defer
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting memorymind", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger covers only the startup
	// banner. ParseLogLevel failures fall back to Info.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = newLogger(stdout, level, cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"streaming", cfg.Listen.Streaming,
		"data_dir", cfg.DataDir,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	dbPath := filepath.Join(cfg.DataDir, "memory.db")
	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open record store %s: %w", dbPath, err)
	}
	defer st.Close()
	logger.Info("record store opened", "path", dbPath)

	srv := server.NewServer(cfg.Listen, st, logger)

	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by the server.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	// Start the server. This blocks until it is shut down (via context
	// cancellation or fatal error).
	if err := srv.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("memorymind stopped")
	return nil
}

// withClient loads config, builds the resilient client, runs fn, and
// releases the client. Disconnect runs on every exit path so the
// transport never leaks idle connections.
func withClient(ctx context.Context, stderr io.Writer, configPath, owner string, fn func(ctx context.Context, client *memory.Client, ownerID string, logger *slog.Logger) error) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Client commands log to stderr at warn level unless the config says
	// otherwise, keeping stdout clean for pipeable command output.
	level := slog.LevelWarn
	if cfg.LogLevel != "" {
		if parsed, perr := config.ParseLogLevel(cfg.LogLevel); perr == nil {
			level = parsed
		}
	}
	logger := newLogger(stderr, level, "text")
	if cfgPath != "" {
		logger.Debug("config loaded", "path", cfgPath)
	}

	ownerID := cfg.OwnerID
	if owner != "" {
		ownerID = owner
	}

	client := newMemoryClient(cfg, logger)
	defer func() {
		if err := client.Disconnect(); err != nil {
			logger.Debug("disconnect failed", "error", err)
		}
	}()

	return fn(ctx, client, ownerID, logger)
}

// runRemember handles "memorymind remember <subject> <predicate> <object>".
func runRemember(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, owner string, args []string) error {
	return withClient(ctx, stderr, configPath, owner, func(ctx context.Context, client *memory.Client, ownerID string, logger *slog.Logger) error {
		rec := memory.Record{
			Subject:   args[0],
			Predicate: args[1],
			Object:    args[2],
			OwnerID:   ownerID,
		}

		created, ok := client.Create(ctx, rec)
		if !ok {
			return fmt.Errorf("record not stored (server unavailable or input invalid)")
		}

		fmt.Fprintf(stdout, "Stored %s: %s %s %s\n", created.ID, created.Subject, created.Predicate, created.Object)
		return nil
	})
}

// runRecall handles "memorymind recall". Degraded retrieval prints an
// empty result; the underlying failure is logged to stderr.
func runRecall(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, owner, outputFmt string) error {
	return withClient(ctx, stderr, configPath, owner, func(ctx context.Context, client *memory.Client, ownerID string, logger *slog.Logger) error {
		records := client.Records(ctx, ownerID)

		if outputFmt == "json" {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		if len(records) == 0 {
			fmt.Fprintf(stdout, "No records for %s\n", ownerID)
			return nil
		}
		for _, rec := range records {
			fmt.Fprintf(stdout, "%-36s  %s %s %s\n", rec.ID, rec.Subject, rec.Predicate, rec.Object)
		}
		return nil
	})
}

// runUpdate handles "memorymind update <id> <subject> <predicate> <object>".
func runUpdate(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, owner string, args []string) error {
	return withClient(ctx, stderr, configPath, owner, func(ctx context.Context, client *memory.Client, ownerID string, logger *slog.Logger) error {
		rec := memory.Record{
			ID:        args[0],
			Subject:   args[1],
			Predicate: args[2],
			Object:    args[3],
			OwnerID:   ownerID,
		}

		if !client.Update(ctx, rec) {
			return fmt.Errorf("record %s not updated (server unavailable, unknown id, or input invalid)", rec.ID)
		}

		fmt.Fprintf(stdout, "Updated %s\n", rec.ID)
		return nil
	})
}

// runForget handles "memorymind forget <id>".
func runForget(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, owner, id string) error {
	return withClient(ctx, stderr, configPath, owner, func(ctx context.Context, client *memory.Client, ownerID string, logger *slog.Logger) error {
		if !client.Delete(ctx, id, ownerID) {
			return fmt.Errorf("record %s not deleted (server unavailable or unknown id)", id)
		}

		fmt.Fprintf(stdout, "Forgot %s\n", id)
		return nil
	})
}

// runContext handles "memorymind context".
func runContext(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, owner string) error {
	return withClient(ctx, stderr, configPath, owner, func(ctx context.Context, client *memory.Client, ownerID string, logger *slog.Logger) error {
		text := client.Context(ctx, ownerID)
		if text == "" {
			fmt.Fprintln(stdout, "No memory context available.")
			return nil
		}
		fmt.Fprintln(stdout, text)
		return nil
	})
}

// runSummary handles "memorymind summary".
func runSummary(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, owner string) error {
	return withClient(ctx, stderr, configPath, owner, func(ctx context.Context, client *memory.Client, ownerID string, logger *slog.Logger) error {
		text := client.Summary(ctx, ownerID)
		if text == "" {
			fmt.Fprintln(stdout, "No memory summary available.")
			return nil
		}
		fmt.Fprintln(stdout, text)
		return nil
	})
}

// runIngest handles "memorymind ingest <file.md>". It parses a markdown
// document into heading-scoped sections and stores each as a record for
// the owner.
func runIngest(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, owner, filePath string) error {
	return withClient(ctx, stderr, configPath, owner, func(ctx context.Context, client *memory.Client, ownerID string, logger *slog.Logger) error {
		ingester := ingest.NewMarkdownIngester(client, ownerID, logger)

		count, err := ingester.IngestFile(ctx, filePath)
		if err != nil {
			return fmt.Errorf("ingestion failed: %w", err)
		}

		fmt.Fprintf(stdout, "Ingested %d sections from %s\n", count, filePath)
		return nil
	})
}

// runExport handles "memorymind export [file.html]". With no output path
// the document is written to stdout.
func runExport(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, owner, outPath string) error {
	return withClient(ctx, stderr, configPath, owner, func(ctx context.Context, client *memory.Client, ownerID string, logger *slog.Logger) error {
		records := client.Records(ctx, ownerID)

		html, err := export.HTML(ownerID, records)
		if err != nil {
			return fmt.Errorf("render export: %w", err)
		}

		if outPath == "" {
			_, err := stdout.Write(html)
			return err
		}
		if err := os.WriteFile(outPath, html, 0644); err != nil {
			return fmt.Errorf("write export %s: %w", outPath, err)
		}
		fmt.Fprintf(stdout, "Exported %d records to %s\n", len(records), outPath)
		return nil
	})
}

// runTools handles "memorymind tools".
func runTools(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, owner, outputFmt string) error {
	return withClient(ctx, stderr, configPath, owner, func(ctx context.Context, client *memory.Client, ownerID string, logger *slog.Logger) error {
		tools, err := client.ListTools(ctx)
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}

		if outputFmt == "json" {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(tools)
		}

		for _, t := range tools {
			fmt.Fprintf(stdout, "%-16s %s\n", t.Name, t.Description)
		}
		return nil
	})
}

// runStatus handles "memorymind status". It reports reachability from a
// single direct ping, then completes the handshake for server identity
// when the server answers.
func runStatus(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, owner, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(stderr, slog.LevelWarn, "text")
	client := newMemoryClient(cfg, logger)
	defer client.Disconnect()

	pingErr := client.Ping(ctx)

	var name, version string
	toolCount := -1
	if pingErr == nil {
		if tools, err := client.ListTools(ctx); err == nil {
			toolCount = len(tools)
		}
		name, version = client.ServerInfo()
	}

	if outputFmt == "json" {
		status := map[string]any{
			"url":       cfg.Memory.URL,
			"reachable": pingErr == nil,
			"breaker":   client.BreakerState().String(),
		}
		if pingErr != nil {
			status["error"] = pingErr.Error()
		} else {
			status["server_name"] = name
			status["server_version"] = version
			if toolCount >= 0 {
				status["tools"] = toolCount
			}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintf(stdout, "Memory server: %s\n", cfg.Memory.URL)
	if pingErr != nil {
		fmt.Fprintf(stdout, "Reachable:     no (%s)\n", pingErr)
	} else {
		fmt.Fprintf(stdout, "Reachable:     yes\n")
		fmt.Fprintf(stdout, "Server:        %s %s\n", name, version)
		if toolCount >= 0 {
			fmt.Fprintf(stdout, "Tools:         %d\n", toolCount)
		}
	}
	fmt.Fprintf(stdout, "Breaker:       %s\n", client.BreakerState())
	return nil
}

// newLogger creates a structured logger that writes to w at the given level
// and format. Format must be "text" or "json"; any other value defaults to
// text. All log output in memorymind goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations, falling back to
// built-in defaults when nothing is found, since the defaults are
// complete enough to reach a local server. Returns the parsed config,
// the path that was loaded (empty for defaults), and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// newMemoryClient builds the resilient client from configuration.
func newMemoryClient(cfg *config.Config, logger *slog.Logger) *memory.Client {
	return memory.New(memory.Config{
		URL:                     cfg.Memory.URL,
		RequestTimeout:          time.Duration(cfg.Memory.RequestTimeoutSec) * time.Second,
		RetryAttempts:           cfg.Memory.RetryAttempts,
		RetryBaseDelay:          time.Duration(cfg.Memory.RetryBaseDelayMS) * time.Millisecond,
		BreakerFailureThreshold: cfg.Memory.BreakerFailureThreshold,
		BreakerRecoveryTimeout:  time.Duration(cfg.Memory.BreakerRecoverySec) * time.Second,
		Logger:                  logger,
	})
}
