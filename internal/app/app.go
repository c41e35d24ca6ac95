// Package app is the composition root shared by the CLI commands: it
// opens the workspace database, loads the lot config, and hands back an
// engine with active sessions restored into the in-memory lot.
package app

import (
	"context"
	"fmt"

	"parkline/internal/config"
	"parkline/internal/db"
	"parkline/internal/engine"
	"parkline/internal/migrate"
)

// Open builds a ready engine for the workspace. The returned cleanup
// closes the database.
func Open(ctx context.Context, workspace string) (engine.Engine, func(), error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	cleanup := func() { conn.Close() }
	if err := migrate.Migrate(conn); err != nil {
		cleanup()
		return engine.Engine{}, nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		cleanup()
		return engine.Engine{}, nil, err
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		cleanup()
		return engine.Engine{}, nil, err
	}
	if _, err := e.Restore(ctx); err != nil {
		cleanup()
		return engine.Engine{}, nil, fmt.Errorf("restore active sessions: %w", err)
	}
	return e, cleanup, nil
}
