// Package main provides the entry point for ralphd.
//
// ralphd is a standalone service providing:
// - REST API for submitting and supervising autonomous coding tasks
// - Web UI and REST API for the optional codebase index collaborator
// - MCP server for Claude Code integration
//
// Usage:
//
//	ralphd                    Start the service (default)
//	ralphd serve              Start the service
//	ralphd version            Show version
//	ralphd status             Show service status
//	ralphd stop               Stop the running service
//	ralphd mcp                Start MCP server (stdio mode)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/ralph/internal/api"
	"github.com/ternarybob/ralph/internal/config"
	"github.com/ternarybob/ralph/internal/logger"
	"github.com/ternarybob/ralph/internal/project"
	"github.com/ternarybob/ralph/internal/service"
	"github.com/ternarybob/ralph/pkg/index"
	"github.com/ternarybob/ralph/pkg/monitor"
	"github.com/ternarybob/ralph/pkg/ralph"
)

// version is set via -ldflags at build time
var version = "dev"

// Command-line flags
var (
	configPath string
)

func main() {
	api.SetVersion(version)

	args := os.Args[1:]
	command := ""
	cmdArgs := []string{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "--config=") {
			configPath = strings.TrimPrefix(arg, "--config=")
		} else if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			i++
		} else if strings.HasPrefix(arg, "-") {
			// Skip unknown flags for now
		} else if command == "" {
			command = arg
		} else {
			cmdArgs = append(cmdArgs, arg)
		}
	}

	if command == "" {
		command = "serve"
	}

	var err error
	switch command {
	case "serve", "start":
		err = cmdServe(cmdArgs)
	case "version", "-v", "--version":
		cmdVersion()
	case "status":
		err = cmdStatus()
	case "stop":
		err = cmdStop()
	case "mcp", "mcp-server":
		err = cmdMCP(cmdArgs)
	case "init-config":
		err = cmdInitConfig()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`ralphd - autonomous task loop service

Usage:
  ralphd [flags] [command] [args]

Commands:
  serve         Start the service (default)
  version       Show version information
  status        Show service status
  stop          Stop the running service
  mcp           Start MCP server (stdio mode for Claude integration)
  init-config   Create example configuration file
  help          Show this help

Flags:
  --config PATH   Path to configuration file (default: ~/.ralphd/config.toml)

Environment:
  ANTHROPIC_API_KEY   API key for the anthropic provider
  GEMINI_API_KEY      API key for the gemini provider
  RALPH_CONFIG        Path to configuration file (alternative to --config)
  RALPH_DATA_DIR      Override data directory

Configuration:
  Config file: ~/.ralphd/config.toml (TOML format)

Examples:
  ralphd                                Start the service with defaults
  ralphd --config /path/to.toml         Start with custom config
  curl localhost:8420/health            Check service health
  curl -d '{"prompt":"..."}' localhost:8420/tasks   Submit a task`)
}

func cmdVersion() {
	fmt.Printf("ralphd version %s\n", version)
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("RALPH_CONFIG"); envPath != "" {
		return envPath
	}
	return config.DefaultConfigPath()
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Parse(args)

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if envDataDir := os.Getenv("RALPH_DATA_DIR"); envDataDir != "" {
		cfg.Service.DataDir = envDataDir
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if running, pid := service.IsRunning(cfg); running {
		return fmt.Errorf("service already running (PID %d)", pid)
	}

	log := logger.SetupLogger(cfg)
	defer logger.Stop()

	registry := project.NewRegistry(cfg)
	if err := registry.Load(); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	manager := project.NewManager(cfg, registry)
	if err := manager.Initialize(); err != nil {
		return fmt.Errorf("initialize manager: %w", err)
	}
	defer manager.Shutdown()

	newModel := func(provider string) (ralph.Model, error) {
		apiKey := cfg.LLM.APIKey
		if provider == "gemini" && apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		return ralph.NewModelForProvider(provider, apiKey)
	}
	runner := ralph.NewTaskRunner(cfg.Ralph.MaxConcurrentTasks, newModel, log)

	events := monitor.NewHTTPMonitor("")
	runner.SetMonitor(events)

	apiServer := api.NewServer(cfg, registry, manager, runner)
	apiServer.SetMonitor(events)

	daemon := service.NewDaemon(cfg)
	if err := daemon.Start(apiServer.Handler()); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Printf("ralphd v%s started on %s\n", version, cfg.Address())
	fmt.Printf("Web UI: http://%s/\n", cfg.Address())
	fmt.Printf("Tasks:  http://%s/tasks\n", cfg.Address())

	daemon.Wait()

	return nil
}

func cmdStatus() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if envDataDir := os.Getenv("RALPH_DATA_DIR"); envDataDir != "" {
		cfg.Service.DataDir = envDataDir
	}

	running, pid := service.IsRunning(cfg)
	if running {
		fmt.Printf("ralphd: running (PID %d)\n", pid)
		fmt.Printf("Address: %s\n", cfg.Address())
		fmt.Printf("Config: %s\n", getConfigPath())
		fmt.Printf("Data: %s\n", cfg.Service.DataDir)
	} else {
		fmt.Println("ralphd: stopped")
	}

	return nil
}

func cmdStop() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if envDataDir := os.Getenv("RALPH_DATA_DIR"); envDataDir != "" {
		cfg.Service.DataDir = envDataDir
	}

	running, pid := service.IsRunning(cfg)
	if !running {
		fmt.Println("ralphd is not running")
		return nil
	}

	fmt.Printf("Stopping ralphd (PID %d)...\n", pid)
	if err := service.StopRunning(cfg); err != nil {
		return err
	}

	fmt.Println("ralphd stopped")
	return nil
}

func cmdMCP(args []string) error {
	projectPath := "."
	if len(args) > 0 {
		projectPath = args[0]
	}

	absPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	if projectPath != "." {
		absPath = projectPath
	}

	if os.Getenv("GEMINI_API_KEY") == "" {
		fmt.Fprintf(os.Stderr, "[ralphd] Warning: GEMINI_API_KEY not set.\n")
		fmt.Fprintf(os.Stderr, "[ralphd] LLM features (commit summaries) disabled.\n")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		cfg = config.DefaultConfig()
	}

	indexCfg := index.Config{
		ProjectID:    config.ProjectHash(absPath),
		ProjectPath:  absPath,
		RepoRoot:     absPath,
		IndexPath:    cfg.ProjectIndexDir(absPath),
		ExcludeGlobs: cfg.Index.ExcludeGlobs,
		DebounceMs:   cfg.Index.DebounceMs,
	}

	if err := os.MkdirAll(indexCfg.IndexPath, 0755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	idx, err := index.NewIndexer(indexCfg)
	if err != nil {
		return fmt.Errorf("create indexer: %w", err)
	}

	if cfg.MCP.AutoBuildIndex && idx.Stats().DocumentCount == 0 {
		fmt.Fprintf(os.Stderr, "[ralphd] Building index for %s...\n", absPath)
		if err := idx.IndexAll(); err != nil {
			return fmt.Errorf("build index: %w", err)
		}
		stats := idx.Stats()
		fmt.Fprintf(os.Stderr, "[ralphd] Indexed %d symbols from %d files\n",
			stats.DocumentCount, stats.FileCount)
	}

	if cfg.Index.WatchEnabled {
		watcher, err := index.NewWatcher(idx)
		if err == nil {
			if err := watcher.Start(); err == nil {
				defer watcher.Stop()
			}
		}
	}

	mcpServer := index.NewMCPServer(idx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-ctx.Done()
	}()

	return mcpServer.ServeStdio()
}

func cmdInitConfig() error {
	path := getConfigPath()

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if err := config.WriteExampleConfig(path); err != nil {
		return err
	}

	fmt.Printf("Created example configuration: %s\n", path)
	return nil
}
