package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"debugarena/internal/config"
	"debugarena/internal/server"
	"debugarena/internal/store/postgres/migrations"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var c server.Config
			if err := config.Load(*configPath, &c); err != nil {
				return err
			}
			return runMigrations(cmd.Context(), c)
		},
	}
}

func runMigrations(ctx context.Context, c server.Config) error {
	if c.Postgres.Addr == "" {
		return fmt.Errorf("cli: postgres not configured")
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		c.Postgres.User, c.Postgres.Pass, c.Postgres.Addr, c.Postgres.Name)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, migrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}

	if group.IsZero() {
		slog.Info("cli: database already up to date")
		return nil
	}
	slog.Info("cli: migrations applied", "group", group.String())
	return nil
}
