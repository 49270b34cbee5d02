// Package main provides ralph, a one-shot CLI front end for the autonomous
// task loop: submit a prompt against a working directory and stream
// iteration progress to stdout until the task reaches a terminal state.
//
// Usage:
//
//	ralph run "fix the failing test in pkg/foo" --dir . --provider anthropic
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
	"github.com/ternarybob/ralph/pkg/ralph"
)

var version = "dev"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	command, rest := args[0], args[1:]
	var err error
	switch command {
	case "run":
		err = cmdRun(rest)
	case "mcp":
		err = cmdMCP(rest)
	case "version", "-v", "--version":
		fmt.Printf("ralph version %s\n", version)
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
	fmt.Println(`ralph - run one autonomous task against a working directory

Usage:
  ralph run "<prompt>" [flags]
  ralph mcp [--dir PATH]

Flags:
  --dir PATH           Working directory the agent is confined to (default ".")
  --provider NAME       Model provider: anthropic or gemini (default "anthropic")
  --model NAME          Model name (default matches provider)
  --max-iterations N    Iteration budget (default 50)
  --no-tests            Disable the test backpressure check
  --no-lint             Disable the lint backpressure check

The "mcp" subcommand serves the read-only tool subset (read_file, list_files,
search_files, git_status, git_diff) over the Model Context Protocol on
stdio, confined to --dir, for editors and other MCP clients that want to
inspect a task's working directory independent of the loop itself.

Environment:
  ANTHROPIC_API_KEY   API key for the anthropic provider
  GEMINI_API_KEY      API key for the gemini provider`)
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dir := fs.String("dir", ".", "working directory")
	provider := fs.String("provider", "anthropic", "model provider")
	model := fs.String("model", "", "model name")
	maxIterations := fs.Int("max-iterations", 0, "iteration budget")
	noTests := fs.Bool("no-tests", false, "disable test backpressure")
	noLint := fs.Bool("no-lint", false, "disable lint backpressure")
	if err := fs.Parse(args); err != nil {
		return err
	}

	positional := fs.Args()
	if len(positional) == 0 {
		return fmt.Errorf("a task prompt is required: ralph run \"<prompt>\"")
	}
	prompt := positional[0]

	cfg := ralph.DefaultTaskConfig()
	cfg.WorkingDirectory = *dir
	cfg.Provider = *provider
	if *model != "" {
		cfg.Model = *model
	} else if cfg.Provider == "gemini" {
		cfg.Model = "" // GeminiModel falls back to its own default model
	}
	if *maxIterations > 0 {
		cfg.MaxIterations = *maxIterations
	}
	if *noTests {
		cfg.RunTests = false
	}
	if *noLint {
		cfg.RunLint = false
	}

	log := arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
		Type:       models.LogWriterTypeConsole,
		TimeFormat: "15:04:05.000",
		OutputType: models.OutputFormatLogfmt,
	})

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if cfg.Provider == "gemini" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	toolModel, err := ralph.NewModelForProvider(cfg.Provider, apiKey)
	if err != nil {
		return fmt.Errorf("model init: %w", err)
	}

	toolkit, err := ralph.NewToolkit(cfg.WorkingDirectory, true, 0)
	if err != nil {
		return fmt.Errorf("toolkit init: %w", err)
	}

	task := ralph.NewTask(prompt, "", cfg)
	agent := ralph.NewLoopAgent(toolModel, toolkit, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cancelled := func() bool {
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}

	onIteration := func(it ralph.Iteration) {
		fmt.Printf("[iteration %d] %s (%d tool calls, %d file changes)\n",
			it.IterationNumber, it.Status, len(it.ToolCalls), len(it.FileChanges))
		if it.Reasoning != "" {
			fmt.Printf("  reasoning: %s\n", it.Reasoning)
		}
		for _, bp := range it.BackpressureResults {
			status := "pass"
			if !bp.Passed {
				status = "fail"
			}
			fmt.Printf("  %s: %s\n", bp.CheckType, status)
		}
	}

	if err := agent.Run(ctx, task, cancelled, onIteration); err != nil {
		return err
	}

	fmt.Printf("\ntask %s: %s\n", task.ID, task.Status)
	if task.FinalOutput != "" {
		fmt.Println(task.FinalOutput)
	}
	if task.Error != "" {
		fmt.Fprintf(os.Stderr, "error: %s\n", task.Error)
		os.Exit(1)
	}
	return nil
}

// cmdMCP serves the toolkit's read-only tool subset over MCP on stdio,
// confined to --dir. No model or task lifecycle is involved: this is a
// direct window onto the working directory for MCP clients.
func cmdMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	dir := fs.String("dir", ".", "working directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	toolkit, err := ralph.NewToolkit(*dir, true, 0)
	if err != nil {
		return fmt.Errorf("toolkit init: %w", err)
	}

	return ralph.NewMCPServer(toolkit).ServeStdio()
}
