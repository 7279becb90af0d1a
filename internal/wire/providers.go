// Package wire builds the serve-mode object graph.
package wire

import (
	"io"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/volleyhq/rally/internal/config"
	"github.com/volleyhq/rally/internal/db"
	"github.com/volleyhq/rally/internal/logger"
)

// provideServeConfig loads the configuration and enforces the extra fields
// webhook mode cannot run without.
func provideServeConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateServe(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideDBConfig(cfg *config.Config) *config.DatabaseConfig {
	return &cfg.Database
}

func provideSqlxDB(conn *db.DB) *sqlx.DB {
	return conn.DB
}

func provideMaxWorkers(cfg *config.Config) int {
	return cfg.MaxWorkers
}

func provideLoggerConfig(cfg *config.Config) logger.Config {
	return logger.Config{
		Level:  cfg.LogLevel.String(),
		Format: "text",
		Output: "stdout",
	}
}

func provideLogWriter() io.Writer {
	return os.Stdout
}

func provideSlogLogger(loggerConfig logger.Config, writer io.Writer) *slog.Logger {
	return logger.NewLogger(loggerConfig, writer)
}
