package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_core_tables.sql
var createCoreTablesSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createCoreTablesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
DROP TABLE IF EXISTS cheat_events;
DROP TABLE IF EXISTS submissions;
DROP TABLE IF EXISTS question_order;
DROP TABLE IF EXISTS assignments;
DROP TABLE IF EXISTS questions;
DROP TABLE IF EXISTS quizzes;`)
			return err
		},
	)
}
