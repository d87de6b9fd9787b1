package db

import (
	"embed"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var gooseUpFn = goose.Up

// Migrate applies the embedded schema migrations to the database at url.
func Migrate(url string, log *slog.Logger) (err error) {
	conn, err := goose.OpenDBWithDriver("pgx", url)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := gooseUpFn(conn, "migrations"); err != nil {
		return err
	}

	log.Info("migrations_applied")
	return nil
}
