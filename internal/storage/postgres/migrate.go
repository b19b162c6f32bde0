package postgres

import (
	"context"
	"embed"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies the embedded SQL migrations in filename order.
// Statements are written to be re-runnable (CREATE TABLE IF NOT EXISTS),
// so no version bookkeeping table is kept.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	ents, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		files = append(files, "migrations/"+e.Name())
	}
	sort.Strings(files)

	for _, f := range files {
		b, err := migrationFS.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("apply %s: %w", f, err)
		}
	}
	return nil
}
