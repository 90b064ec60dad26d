package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "STOREFRONT_POSTGRES_DSN"
)

var errMissingDSN = errors.New(envPostgresDSN + " (or --dsn) is required")

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fail("%v", err)
	}
}

// newApp описывает CLI миграций схемы снимков корзины.
func newApp() *cli.App {
	return &cli.App{
		Name:  "migrate",
		Usage: "apply or roll back storefront postgres migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "PostgreSQL DSN",
				EnvVars: []string{envPostgresDSN},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "overall timeout for the command",
				Value: defaultTimeout,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply pending migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Usage: "number of migrations to apply (0 = all)"},
				},
				Action: func(c *cli.Context) error {
					return withStore(c, func(ctx context.Context, store *postgres.Store) error {
						if err := store.MigrateUp(ctx, c.Int("steps")); err != nil {
							return fmt.Errorf("migrate up failed: %w", err)
						}
						return printStatus(ctx, c, store, "migrate up ok")
					})
				},
			},
			{
				Name:  "down",
				Usage: "roll back applied migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Usage: "number of migrations to roll back", Value: 1},
				},
				Action: func(c *cli.Context) error {
					steps := c.Int("steps")
					if steps <= 0 {
						steps = 1
					}
					return withStore(c, func(ctx context.Context, store *postgres.Store) error {
						if err := store.MigrateDown(ctx, steps); err != nil {
							return fmt.Errorf("migrate down failed: %w", err)
						}
						return printStatus(ctx, c, store, "migrate down ok")
					})
				},
			},
			{
				Name:  "status",
				Usage: "print applied version and pending migrations",
				Action: func(c *cli.Context) error {
					return withStore(c, func(ctx context.Context, store *postgres.Store) error {
						return printStatus(ctx, c, store, "migration status")
					})
				},
			},
		},
	}
}

// withStore открывает postgres по --dsn и выполняет fn в пределах --timeout.
func withStore(c *cli.Context, fn func(ctx context.Context, store *postgres.Store) error) error {
	dsn := strings.TrimSpace(c.String("dsn"))
	if dsn == "" {
		return errMissingDSN
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	return fn(ctx, store)
}

func printStatus(ctx context.Context, c *cli.Context, store *postgres.Store, prefix string) error {
	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	pending, err := store.PendingMigrations(ctx)
	if err != nil {
		return fmt.Errorf("pending migrations failed: %w", err)
	}

	_, _ = fmt.Fprintf(c.App.Writer, "%s: version=%d applied=%d\n", prefix, version, count)
	for _, name := range pending {
		_, _ = fmt.Fprintf(c.App.Writer, "pending: %s\n", name)
	}
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
