package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/serverdensity/sd-agent/internal/config"
	"github.com/serverdensity/sd-agent/internal/daemon"
	"github.com/serverdensity/sd-agent/internal/version"

	_ "github.com/serverdensity/sd-agent/internal/checks/agentmetrics"
	_ "github.com/serverdensity/sd-agent/internal/checks/httpcheck"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"/etc/sd-agent/agent.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct{} `cmd:"" help:"Run the agent in the foreground"`

	Check struct {
		Name string `arg:"" help:"Check to run"`
	} `cmd:"" help:"Run a single check once and print its results"`

	Configcheck struct{} `cmd:"" help:"Validate the agent and conf.d configuration"`

	Status struct{} `cmd:"" help:"Show the status of a running agent"`

	Version struct{} `cmd:"" help:"Print the agent version"`
}

func main() {
	ctx := kong.Parse(&CLI)

	switch ctx.Command() {
	case "version":
		fmt.Printf("sd-agent %s\n", version.AgentVersion)
		return
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load configuration: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	var runErr error
	switch ctx.Command() {
	case "run":
		runErr = runDaemon(cfg)
	case "check <name>":
		runErr = runSingleCheck(cfg, CLI.Check.Name)
	case "configcheck":
		runErr = runConfigCheck(cfg)
	case "status":
		runErr = runStatus(cfg)
	}
	if runErr != nil {
		slog.Error("command failed", "error", runErr)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if CLI.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runDaemon(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return d.Run(ctx)
}
