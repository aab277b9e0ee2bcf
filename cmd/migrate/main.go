// Command migrate applies the event store schema under sql/ with goose.
package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/config"
	"github.com/argenta/argenta-backend/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dir string
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the Postgres event store schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", "sql", "directory with migration files")

	run := func(use, short string, fn func(db *sql.DB, dir string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(func(db *sql.DB, logger *zap.SugaredLogger) error {
					logger.Infow("Running migration", "command", use, "dir", dir)
					return fn(db, dir)
				})
			},
		}
	}

	root.AddCommand(
		run("up", "Apply all pending migrations", func(db *sql.DB, dir string) error { return goose.Up(db, dir) }),
		run("down", "Roll back the latest migration", func(db *sql.DB, dir string) error { return goose.Down(db, dir) }),
		run("status", "Print the state of every migration", func(db *sql.DB, dir string) error { return goose.Status(db, dir) }),
		run("version", "Print the current schema version", func(db *sql.DB, dir string) error { return goose.Version(db, dir) }),
	)
	return root
}

func withDB(fn func(db *sql.DB, logger *zap.SugaredLogger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("ARG_POSTGRES_DSN is not set")
	}
	logger, err := log.NewSugar(log.Options{Env: cfg.Env, Service: "argenta-migrate", Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return fn(db, logger)
}
