// Montage is a conversational video editing agent.
//
// It drives Remotion-style project workspaces with a Gemini-backed
// agent loop, exposes an HTTP API (plus WebDAV, SSE, and WebSocket
// event streams) for front-ends, and offers a CLI for one-shot runs
// and workspace setup. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	montage serve                     Start the API server
//	montage init [dir]                Initialize a working directory with defaults
//	montage ask <project> <message>   Run one agent turn against a project
//	montage skills list <ref>         List skill packs in a hub repository
//	montage skills install <ref>      Install a skill pack from a hub repository
//	montage version                   Print version and build information
//	montage -o json version           Output version information as JSON
package main

import (
	"context"
	"database/sql"
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

	qrcode "github.com/skip2/go-qrcode"

	"github.com/reelworks/montage/internal/agent"
	"github.com/reelworks/montage/internal/api"
	"github.com/reelworks/montage/internal/buildinfo"
	"github.com/reelworks/montage/internal/checkpoint"
	"github.com/reelworks/montage/internal/config"
	"github.com/reelworks/montage/internal/events"
	"github.com/reelworks/montage/internal/fetch"
	"github.com/reelworks/montage/internal/httpkit"
	"github.com/reelworks/montage/internal/llm"
	"github.com/reelworks/montage/internal/mqtt"
	"github.com/reelworks/montage/internal/notify"
	"github.com/reelworks/montage/internal/opstate"
	"github.com/reelworks/montage/internal/paths"
	"github.com/reelworks/montage/internal/project"
	"github.com/reelworks/montage/internal/review"
	"github.com/reelworks/montage/internal/skills"
	"github.com/reelworks/montage/internal/summarizer"
	"github.com/reelworks/montage/internal/tools"
	"github.com/reelworks/montage/internal/usage"

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

// run is the real entry point for the montage command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server and background goroutines.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:]. We parse these manually rather than using
//     the flag package to avoid global state that interferes with
//     parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
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
	case "ask":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: montage ask <project> <message>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs[0], strings.Join(cmdArgs[1:], " "))
	case "skills":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: montage skills <list|install> <owner/repo[/path]>")
		}
		return runSkills(ctx, stdout, configPath, cmdArgs[0], cmdArgs[1])
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
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// montage is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Montage - Conversational Video Editing Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: montage [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                    Start the API server")
	fmt.Fprintln(w, "  init [dir]               Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask <project> <message>  Run one agent turn against a project")
	fmt.Fprintln(w, "  skills list <ref>        List skill packs in a hub repository")
	fmt.Fprintln(w, "  skills install <ref>     Install a skill pack (ref: owner/repo[/path])")
	fmt.Fprintln(w, "  version                  Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/Montage/config.yaml, ~/.config/montage/config.yaml,")
	fmt.Fprintln(w, "  /etc/montage/config.yaml")
	return nil
}

// core bundles the services shared by serve and ask so both
// subcommands wire the agent identically.
type core struct {
	cfg         *config.Config
	projects    *project.Store
	checkpoints *checkpoint.Store
	checkpointD *sql.DB
	usage       *usage.Store
	opstate     *opstate.Store
	library     *skills.Library
	bus         *events.Bus
	loop        *agent.Loop
}

// close releases the core's database handles.
func (c *core) close() {
	if c.usage != nil {
		c.usage.Close()
	}
	if c.opstate != nil {
		c.opstate.Close()
	}
	if c.checkpointD != nil {
		c.checkpointD.Close()
	}
}

// buildCore opens the stores and constructs the agent loop. The caller
// owns the returned core and must close it.
func buildCore(cfg *config.Config, logger *slog.Logger) (*core, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	if err := os.MkdirAll(cfg.ProjectsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create projects root %s: %w", cfg.ProjectsRoot, err)
	}

	c := &core{cfg: cfg}

	projects, err := project.NewStore(cfg.ProjectsRoot)
	if err != nil {
		return nil, fmt.Errorf("open projects root %s: %w", cfg.ProjectsRoot, err)
	}
	c.projects = projects

	// Checkpoints double as the durable conversation store, so the CLI
	// and the server share every project's history.
	checkpointDB, err := sql.Open("sqlite3", filepath.Join(cfg.DataDir, "checkpoints.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}
	c.checkpointD = checkpointDB
	checkpoints, err := checkpoint.NewStore(checkpointDB)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("create checkpoint store: %w", err)
	}
	c.checkpoints = checkpoints

	usageStore, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		c.close()
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	usageStore.SetPricing(pricingTable(cfg))
	c.usage = usageStore

	opStore, err := opstate.NewStore(filepath.Join(cfg.DataDir, "opstate.db"))
	if err != nil {
		c.close()
		return nil, fmt.Errorf("open opstate database: %w", err)
	}
	c.opstate = opStore

	c.library = skills.NewLibrary(cfg.SkillsDirs, logger)
	c.bus = events.New()

	gemini := llm.NewGeminiClient(cfg.Models.APIKey, logger)
	client := llm.NewRetryClient(gemini, logger)

	registry := tools.NewRegistry(tools.Config{
		LLM:     client,
		Model:   cfg.Models.Default,
		Bus:     c.bus,
		Library: c.library,
		Shell: tools.ShellConfig{
			Enabled:        cfg.Shell.Enabled,
			DeniedPatterns: mergedDeniedPatterns(cfg.Shell.DeniedPatterns),
			DefaultTimeout: time.Duration(cfg.Shell.DefaultTimeoutSec) * time.Second,
		},
		Fetcher: fetch.New(),
		Logger:  logger,
	})

	summ := summarizer.New(client, cfg.Models.Default, logger)
	summ.RecordUsage(usageStore)

	c.loop = agent.New(agent.Config{
		Client:      client,
		Model:       cfg.Models.Default,
		Registry:    registry,
		Checkpoints: checkpoints,
		Summarizer:  summ,
		Library:     c.library,
		Bus:         c.bus,
		Usage:       usageStore,
		MaxSteps:    cfg.Models.MaxSteps,
		Logger:      logger,
	})

	return c, nil
}

// pricingTable converts the config pricing section into the usage
// store's pricing map.
func pricingTable(cfg *config.Config) map[string]usage.Pricing {
	table := make(map[string]usage.Pricing, len(cfg.Models.Pricing))
	for model, p := range cfg.Models.Pricing {
		table[model] = usage.Pricing{
			InputPerMillion:  p.InputPerMillion,
			OutputPerMillion: p.OutputPerMillion,
		}
	}
	return table
}

// mergedDeniedPatterns appends user-configured patterns to the built-in
// denied list.
func mergedDeniedPatterns(extra []string) []string {
	merged := tools.DefaultDeniedPatterns()
	return append(merged, extra...)
}

// runAsk handles the "montage ask <project> <message>" subcommand. It
// boots the full agent against the shared data directory, runs a single
// turn, and prints the response. The conversation persists in the
// project's checkpoint, so a later ask or a server run continues it.
func runAsk(ctx context.Context, stdout io.Writer, configPath, projectName, message string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	c, err := buildCore(cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	var pp *project.Paths
	if c.projects.Exists(projectName) {
		pp, err = c.projects.Get(projectName)
	} else {
		pp, err = c.projects.Create(projectName)
	}
	if err != nil {
		return fmt.Errorf("open project %s: %w", projectName, err)
	}

	env := runEnv(pp, c.library)
	reply, err := c.loop.Run(ctx, env, agent.Request{Text: message})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, reply)
	return nil
}

// runEnv builds the tool environment for one project.
func runEnv(pp *project.Paths, library *skills.Library) *tools.Env {
	prefixes := map[string]string{
		"assets": pp.AssetsDir,
		"out":    pp.OutDir,
	}
	if library != nil {
		if dirs := library.Dirs(); len(dirs) > 0 {
			prefixes["skills"] = dirs[0]
		}
	}
	return &tools.Env{
		Project:  pp,
		Resolver: paths.New(prefixes),
	}
}

// runSkills handles the "montage skills" subcommand group: listing and
// installing skill packs from a GitHub hub repository. An optional
// GITHUB_TOKEN environment variable raises the API rate limit and
// grants access to private hubs.
func runSkills(ctx context.Context, stdout io.Writer, configPath, action, ref string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if len(cfg.SkillsDirs) == 0 {
		return fmt.Errorf("no skills_dirs configured")
	}
	destDir := cfg.SkillsDirs[0]
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create skills directory %s: %w", destDir, err)
	}

	hub := skills.NewHub(httpkit.NewClient(), os.Getenv("GITHUB_TOKEN"), destDir, logger)

	switch action {
	case "list":
		names, err := hub.ListAvailable(ctx, ref)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Fprintf(stdout, "No skill packs found in %s\n", ref)
			return nil
		}
		for _, name := range names {
			fmt.Fprintln(stdout, name)
		}
		return nil
	case "install":
		dest, err := hub.Install(ctx, ref)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Installed %s to %s\n", ref, dest)
		return nil
	default:
		return fmt.Errorf("unknown skills action: %s (expected list or install)", action)
	}
}

// runServe handles the "montage serve" subcommand. It is the primary
// operating mode: loads config, opens the databases, builds the agent
// loop with its tool registry, starts the HTTP server, and blocks
// until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The MQTT publisher announces itself offline
//  3. The HTTP server drains in-flight requests
//  4. Database connections are closed via defers
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Montage", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure logger now that we know the desired level and format.
	// The initial Info-level text logger is used only for the startup
	// banner and config load message; everything after this point uses
	// the configured level and format.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// ParseLogLevel is already validated by config.Validate(), so
			// this error path should be unreachable in practice.
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"projects_root", cfg.ProjectsRoot,
	)

	c, err := buildCore(cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	notifier := notify.New(cfg.Notify, logger)
	if notifier.Enabled() {
		logger.Info("run notifications enabled", "host", cfg.Notify.Host, "from", cfg.Notify.From)
	} else {
		logger.Info("run notifications disabled")
	}

	server := api.NewServer(api.Config{
		Address:      cfg.Listen.Address,
		Port:         cfg.Listen.Port,
		Loop:         c.loop,
		Projects:     c.projects,
		Library:      c.library,
		Checkpoints:  c.checkpoints,
		Usage:        c.usage,
		OpState:      c.opstate,
		Bus:          c.bus,
		Notifier:     notifier,
		PasswordHash: cfg.API.PasswordHash,
		Logger:       logger,
	})

	// --- MQTT studio status publisher ---
	// Optional: publishes Home Assistant MQTT discovery messages and
	// periodic sensor state so the studio dashboard can show what the
	// agent is doing.
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Enabled {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		logger.Info("mqtt instance ID loaded", "instance_id", instanceID)

		stats := mqtt.NewStudioStats(time.Local)
		go stats.Watch(ctx, c.bus)

		mqttPub = mqtt.New(cfg.MQTT, instanceID, stats, cfg.Models.Default, logger)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.BrokerURL, "topic_prefix", cfg.MQTT.TopicPrefix)
	} else {
		logger.Info("mqtt publishing disabled")
	}

	// --- Review inbox poller ---
	// Optional: watches an IMAP mailbox for client feedback mail and
	// surfaces new notes on the event bus.
	var reviewClient *review.Client
	if cfg.Review.Enabled {
		reviewClient = review.NewClient(cfg.Review, logger)
		poller := review.NewPoller(reviewClient, c.opstate, c.bus, cfg.Review, logger)
		go poller.Run(ctx)
		logger.Info("review inbox polling enabled",
			"host", cfg.Review.Host,
			"mailbox", cfg.Review.Mailbox,
			"interval_sec", cfg.Review.PollIntervalSec,
		)
	} else {
		logger.Info("review inbox polling disabled")
	}

	// Print the public URL with a scannable QR code so a phone on set
	// can reach the UI without typing.
	if cfg.API.PublicURL != "" {
		qr, err := qrcode.New(cfg.API.PublicURL, qrcode.Medium)
		if err != nil {
			logger.Warn("QR code generation failed", "url", cfg.API.PublicURL, "error", err)
		} else {
			fmt.Fprintf(stdout, "\n%s\n%s\n", cfg.API.PublicURL, qr.ToSmallString(false))
		}
	}

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		// Publish MQTT offline status before disconnecting.
		if mqttPub != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := mqttPub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		if reviewClient != nil {
			if err := reviewClient.Close(); err != nil {
				logger.Debug("review client close failed", "error", err)
			}
		}

		_ = server.Shutdown(context.Background())
	}()

	// Start the API server. This blocks until the server is shut down
	// (via context cancellation or fatal error).
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Montage stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output in Montage goes through slog; this
// helper standardizes the handler configuration across subcommands.
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
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
