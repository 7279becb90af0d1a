package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/volleyhq/rally/internal/wire"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the GitHub App webhook server",
	Long: `Run the GitHub App webhook server.

Serve mode listens for "/rally" comments on pull requests, runs each rally on
a worker pool, posts the outcome back to the PR and records the transcript in
Postgres. It needs the GitHub App credentials and DATABASE_URL to be set.`,
	RunE: runServe,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	application, cleanup, err := wire.InitializeApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	go func() {
		if err := application.Start(); err != nil {
			cancel()
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	if err := application.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}
	return nil
}
