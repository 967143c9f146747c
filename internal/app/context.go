package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"agentgraph/internal/config"
	"agentgraph/internal/db"
	"agentgraph/internal/engine"
	"agentgraph/internal/logging"
	"agentgraph/internal/migrate"
	"agentgraph/internal/snapshot"
)

const envFile = ".env"

type Options struct {
	Workspace string
	// LogLevel and LogFormat override the config file when set.
	LogLevel  string
	LogFormat string
	LogOutput io.Writer
}

// App bundles an opened workspace: database, config, logger and a loaded
// engine.
type App struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Logger    *slog.Logger
	Engine    engine.Engine
}

// Open prepares the workspace, applies migrations and loads all state into
// the engine. A missing agentgraph.yml means defaults.
func Open(ctx context.Context, opts Options) (*App, error) {
	workspace := opts.Workspace
	if workspace == "" {
		workspace = "."
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	level, format := cfg.Log.Level, cfg.Log.Format
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		format = opts.LogFormat
	}
	logger := logging.New(opts.LogOutput, level, format)

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("workspace opened", "workspace", workspace, "schema_version", version)

	e := engine.New(conn, cfg, logger)
	if cfg.Snapshot.AutoExport {
		store := snapshot.NewStore(afero.NewOsFs(), cfg.SnapshotPath(workspace))
		e.Snapshots = &store
	}
	if err := e.Load(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}
	return &App{Workspace: workspace, DB: conn, Config: cfg, Logger: logger, Engine: e}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// SnapshotStore returns the configured snapshot file on the OS filesystem.
func (a *App) SnapshotStore() snapshot.Store {
	return snapshot.NewStore(afero.NewOsFs(), a.Config.SnapshotPath(a.Workspace))
}

// LoadEnv loads workspace/.env into the process environment without
// overriding variables that are already set.
func LoadEnv(workspace string) error {
	path := EnvPath(workspace)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func EnvPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, envFile)
}

// SetEnvValue writes key=value into workspace/.env, keeping other entries.
func SetEnvValue(workspace, key, value string) error {
	path := EnvPath(workspace)
	values := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		existing, err := godotenv.Read(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		values = existing
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	values[key] = value
	return godotenv.Write(values, path)
}
