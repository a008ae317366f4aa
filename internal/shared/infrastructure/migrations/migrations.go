package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/database"
)

//go:embed sqlite/*.sql
var sqliteFS embed.FS

//go:embed postgres/*.sql
var postgresFS embed.FS

// Run executes every .up.sql migration for the connection's driver in name order.
// Migrations use IF NOT EXISTS and may be run on every startup.
func Run(ctx context.Context, conn database.Connection) error {
	var (
		fsys fs.FS
		dir  string
	)
	switch conn.Driver() {
	case database.DriverSQLite:
		fsys, dir = sqliteFS, "sqlite"
	case database.DriverPostgres:
		fsys, dir = postgresFS, "postgres"
	default:
		return fmt.Errorf("no migrations for driver %s", conn.Driver())
	}

	files, err := upFiles(fsys, dir)
	if err != nil {
		return err
	}

	for _, file := range files {
		migration, err := fs.ReadFile(fsys, dir+"/"+file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}
		for _, stmt := range statements(string(migration)) {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", file, err)
			}
		}
	}

	return nil
}

func upFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// statements splits a migration file on semicolons, dropping comment-only chunks.
// Migration files must not contain semicolons inside literals.
func statements(script string) []string {
	var out []string
	for _, chunk := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(chunk, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(lines, "\n")))
		}
	}
	return out
}
