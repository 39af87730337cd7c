package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresExecer runs SQL against PostgreSQL. *postgres.Pool satisfies it.
type PostgresExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresMigrations returns the embedded PostgreSQL migrations in order.
func PostgresMigrations() ([]Migration, error) {
	return load(PostgresFS, "postgres")
}

// ApplyPostgres applies all embedded PostgreSQL migrations in lexical order.
// Migrations are idempotent; each file runs as a single multi-statement Exec.
func ApplyPostgres(ctx context.Context, db PostgresExecer) ([]string, error) {
	migrations, err := PostgresMigrations()
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(migrations))
	for _, m := range migrations {
		if _, err := db.Exec(ctx, m.SQL); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		applied = append(applied, m.Name)
	}
	return applied, nil
}
