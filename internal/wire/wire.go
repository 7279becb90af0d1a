//go:build wireinject
// +build wireinject

package wire

import (
	"context"

	"github.com/google/wire"

	"github.com/volleyhq/rally/internal/app"
	"github.com/volleyhq/rally/internal/core"
	"github.com/volleyhq/rally/internal/db"
	"github.com/volleyhq/rally/internal/gitutil"
	"github.com/volleyhq/rally/internal/jobs"
	"github.com/volleyhq/rally/internal/prompt"
	"github.com/volleyhq/rally/internal/server"
	"github.com/volleyhq/rally/internal/storage"
)

func InitializeApp(ctx context.Context) (*app.App, func(), error) {
	wire.Build(
		app.NewApp,
		server.NewServer,
		provideServeConfig,
		db.NewDatabase,
		storage.NewStore,
		gitutil.NewClient,
		jobs.NewDispatcher,
		jobs.NewRallyJob,
		prompt.NewManager,
		wire.Bind(new(core.Job), new(*jobs.RallyJob)),
		wire.Bind(new(core.JobDispatcher), new(*jobs.Dispatcher)),
		provideDBConfig,
		provideMaxWorkers,
		provideLoggerConfig,
		provideLogWriter,
		provideSlogLogger,
		provideSqlxDB,
	)
	return &app.App{}, nil, nil
}
