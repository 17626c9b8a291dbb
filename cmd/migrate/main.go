package main

// Apply or inspect database migrations:
//   go run ./cmd/migrate            # up
//   go run ./cmd/migrate -command status

import (
	"context"
	"flag"
	"fmt"
	"os"

	"docgen-backend/internal/shared/config"
	"docgen-backend/internal/shared/storage/db"
	"docgen-backend/internal/shared/telemetry"
)

func main() {
	command := flag.String("command", db.MigrateUp, "migration command: up, down or status")
	flag.Parse()

	if err := run(context.Background(), *command); err != nil {
		telemetry.Error("migrate.failed", map[string]any{"command": *command, "error": err})
		os.Exit(1)
	}
}

func run(ctx context.Context, command string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return db.ErrNoDatabaseURL
	}

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.OptionsFor(db.RoleMigrate).WithEnv())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.Migrate(ctx, sqlDB, command); err != nil {
		return err
	}
	version, err := db.Version(ctx, sqlDB)
	if err != nil {
		return err
	}
	telemetry.Info("migrate.complete", map[string]any{"command": command, "version": version, "env": cfg.Env})
	return nil
}
