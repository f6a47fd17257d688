// Package main provides a CLI tool for managing the match store schema.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/docmatch-service/internal/config"
	"github.com/helixir/docmatch-service/internal/database"
	"github.com/helixir/docmatch-service/internal/observability"
)

// connectTimeout bounds the initial database connection.
const connectTimeout = 30 * time.Second

// action is one schema operation selected on the command line.
type action struct {
	name string
	run  func(m *database.Migrator, logger zerolog.Logger) error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	up := flag.Bool("up", false, "Apply all pending migrations")
	down := flag.Bool("down", false, "Roll back all migrations")
	steps := flag.Int("steps", 0, "Apply N migration steps (positive=up, negative=down)")
	version := flag.Bool("version", false, "Print the current schema version")
	force := flag.Int("force", -1, "Force the schema version after a failed migration")
	drop := flag.Bool("drop", false, "Drop the docmatch tables and migration history")
	confirm := flag.Bool("yes", false, "Confirm a destructive -drop")
	migrationsPath := flag.String("path", "", "Override the migrations directory")
	flag.Parse()

	var selected []action
	if *up {
		selected = append(selected, action{"up", func(m *database.Migrator, logger zerolog.Logger) error {
			logger.Info().Msg("applying pending migrations")
			return m.Up()
		}})
	}
	if *down {
		selected = append(selected, action{"down", func(m *database.Migrator, logger zerolog.Logger) error {
			logger.Warn().Msg("rolling back all migrations")
			return m.Down()
		}})
	}
	if *steps != 0 {
		n := *steps
		selected = append(selected, action{"steps", func(m *database.Migrator, logger zerolog.Logger) error {
			logger.Info().Int("steps", n).Msg("applying migration steps")
			return m.Steps(n)
		}})
	}
	if *version {
		selected = append(selected, action{"version", func(*database.Migrator, zerolog.Logger) error {
			return nil
		}})
	}
	if *force >= 0 {
		v := *force
		selected = append(selected, action{"force", func(m *database.Migrator, logger zerolog.Logger) error {
			logger.Warn().Int("version", v).Msg("forcing schema version")
			return m.Force(v)
		}})
	}
	if *drop {
		if !*confirm {
			return fmt.Errorf("-drop deletes every stored match; rerun with -yes to confirm")
		}
		selected = append(selected, action{"drop", func(m *database.Migrator, _ zerolog.Logger) error {
			return m.DropAll()
		}})
	}

	switch len(selected) {
	case 0:
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nPlease specify one of: -up, -down, -steps N, -version, -force V, -drop -yes")
		return fmt.Errorf("no action specified")
	case 1:
	default:
		names := make([]string, len(selected))
		for i, a := range selected {
			names[i] = "-" + a.name
		}
		return fmt.Errorf("specify only one action at a time, got %s", strings.Join(names, " "))
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := observability.DefaultLoggingConfig()
	logCfg.Format = "console"
	logger := observability.NewLogger(logCfg)
	logger = logger.With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if *migrationsPath != "" {
		migrationDir = *migrationsPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	a := selected[0]
	if err := a.run(migrator, logger); err != nil {
		return fmt.Errorf("migrate %s: %w", a.name, err)
	}
	if a.name != "drop" {
		printVersion(migrator, logger)
	}
	return nil
}

// printVersion logs the current schema version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine schema version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current schema version")
	if err := migrator.Current(); err != nil {
		logger.Warn().Err(err).Uint("want", database.SchemaVersion).Msg("schema is not at the expected version")
	}
}
