// foundry-agent is the build worker: it polls the controller for queued
// jobs, runs them in containers and streams logs back.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foundry-sh/foundry/internal/agent"
	"github.com/foundry-sh/foundry/internal/config"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "foundry-agent",
		Short: "CI/CD build agent",
	}
	root.AddCommand(runCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll for jobs and build them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("foundry-agent " + version)
		},
	}
}

func run() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.LogLevel()})))

	cfg, err := agent.ConfigFromEnv()
	if err != nil {
		return err
	}
	slog.Info("agent starting", "version", version, "config", cfg.String())

	runner, err := agent.NewRunner(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("agent stopped")
	return nil
}
