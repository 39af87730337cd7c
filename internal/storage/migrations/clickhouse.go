package migrations

import (
	"context"
	"fmt"
	"strings"
)

// ClickhouseExecer runs one SQL statement against ClickHouse.
// *clickhouse.Conn satisfies it.
type ClickhouseExecer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// ClickhouseMigrations returns the embedded ClickHouse migrations in order.
func ClickhouseMigrations() ([]Migration, error) {
	return load(ClickhouseFS, "clickhouse")
}

// ApplyClickhouse applies all embedded ClickHouse migrations in lexical order.
// The driver does not accept multi-statement Exec, so each file is split
// into statements first.
func ApplyClickhouse(ctx context.Context, db ClickhouseExecer) ([]string, error) {
	migrations, err := ClickhouseMigrations()
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(migrations))
	for _, m := range migrations {
		if err := validateNoSemicolonInStrings(m.SQL); err != nil {
			return applied, fmt.Errorf("validate migration %s: %w", m.Name, err)
		}
		for _, stmt := range splitStatements(m.SQL) {
			if err := db.Exec(ctx, stmt); err != nil {
				return applied, fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
		applied = append(applied, m.Name)
	}
	return applied, nil
}

// splitStatements drops -- comment lines and splits on semicolons.
// It does not understand string literals or block comments, so migrations
// must keep semicolons out of both (enforced by validateNoSemicolonInStrings).
func splitStatements(input string) []string {
	var filtered []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		filtered = append(filtered, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(filtered, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings rejects SQL with a semicolon inside a
// single-quoted literal.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch ch := sql[i]; {
		case ch == '\'':
			if inString && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		case ch == ';' && inString:
			return fmt.Errorf("semicolon inside string literal at offset %d", i)
		}
	}
	return nil
}
