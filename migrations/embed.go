// Package migrations embeds the schema migrations applied by golang-migrate.
package migrations

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// FS holds the numbered up/down migration files.
//
//go:embed *.sql
var FS embed.FS

// New returns a migrator reading the embedded files and targeting dsn.
//
// Precondition: dsn must be a postgres:// connection string.
// Postcondition: the caller owns the returned migrator and must Close it.
func New(dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(FS, ".")
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}
