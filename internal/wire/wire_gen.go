// Code generated manually. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package wire

import (
	"context"
	"fmt"

	"github.com/volleyhq/rally/internal/app"
	"github.com/volleyhq/rally/internal/db"
	"github.com/volleyhq/rally/internal/gitutil"
	"github.com/volleyhq/rally/internal/jobs"
	"github.com/volleyhq/rally/internal/prompt"
	"github.com/volleyhq/rally/internal/server"
	"github.com/volleyhq/rally/internal/storage"
)

// InitializeApp creates and wires all application dependencies.
func InitializeApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := provideServeConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	loggerConfig := provideLoggerConfig(cfg)
	logWriter := provideLogWriter()
	slogLogger := provideSlogLogger(loggerConfig, logWriter)

	dbConfig := provideDBConfig(cfg)
	dbConn, dbCleanup, err := db.NewDatabase(dbConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := storage.NewStore(provideSqlxDB(dbConn))
	gitClient := gitutil.NewClient(slogLogger)

	promptMgr, err := prompt.NewManager()
	if err != nil {
		dbCleanup()
		return nil, nil, fmt.Errorf("failed to create prompt manager: %w", err)
	}

	rallyJob := jobs.NewRallyJob(cfg, store, gitClient, promptMgr, slogLogger)
	dispatcher := jobs.NewDispatcher(rallyJob, provideMaxWorkers(cfg), slogLogger)
	srv := server.NewServer(ctx, cfg, dispatcher, slogLogger)

	application := app.NewApp(ctx, cfg, srv, dispatcher, dbConn, slogLogger)

	cleanup := func() {
		dbCleanup()
	}
	return application, cleanup, nil
}
