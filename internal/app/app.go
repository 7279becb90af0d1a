// Package app initializes and orchestrates the main components of webhook
// mode. It ties together the configuration, server, dispatcher and database.
package app

import (
	"context"
	"log/slog"

	"github.com/volleyhq/rally/internal/config"
	"github.com/volleyhq/rally/internal/db"
	"github.com/volleyhq/rally/internal/jobs"
	"github.com/volleyhq/rally/internal/server"
)

// App holds the main application components.
type App struct {
	ctx        context.Context
	cfg        *config.Config
	server     *server.Server
	logger     *slog.Logger
	dispatcher *jobs.Dispatcher
	dbConn     *db.DB
}

// NewApp assembles the application from its already-built components.
func NewApp(ctx context.Context, cfg *config.Config, srv *server.Server, dispatcher *jobs.Dispatcher, dbConn *db.DB, logger *slog.Logger) *App {
	return &App{
		ctx:        ctx,
		cfg:        cfg,
		server:     srv,
		logger:     logger,
		dispatcher: dispatcher,
		dbConn:     dbConn,
	}
}

// Start runs the HTTP server and blocks until it stops.
func (a *App) Start() error {
	a.logger.Info("starting rally server",
		"server_port", a.cfg.ServerPort,
		"max_workers", a.cfg.MaxWorkers,
		"reviewer", a.cfg.Reviewer,
		"reviewee", a.cfg.Reviewee,
	)

	err := a.server.Start()
	if err != nil {
		a.logger.Error("failed to start HTTP server", "error", err)
		return err
	}

	return nil
}

// Stop shuts down the application cleanly.
func (a *App) Stop() error {
	a.logger.Info("shutting down rally server")

	// Stop the HTTP server first to prevent new incoming requests.
	serverErr := a.server.Stop()
	if serverErr != nil {
		a.logger.Error("error during HTTP server shutdown", "error", serverErr)
		// Continue to stop other components even if the server failed.
	}

	// Stop the job dispatcher, allowing in-flight rallies to finish.
	a.dispatcher.Stop()

	a.logger.Info("closing database connection")
	if err := a.dbConn.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}

	if serverErr != nil {
		a.logger.Error("rally server stopped with errors", "error", serverErr)
		return serverErr
	}

	a.logger.Info("rally server stopped successfully")
	return nil
}
