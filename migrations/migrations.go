// Package migrations embeds the SQL schema and applies it with the same
// schema_migrations bookkeeping golang-migrate uses, so the two tools are
// interchangeable.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.up.sql
var files embed.FS

// Applied describes one migration file and whether it ran.
type Applied struct {
	File    string
	Version int64
	Skipped bool
}

// Apply runs every pending *.up.sql migration in version order.
func Apply(ctx context.Context, db *pgxpool.Pool) ([]Applied, error) {
	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version bigint NOT NULL,
			dirty   boolean NOT NULL,
			PRIMARY KEY (version)
		)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	names, err := fs.Glob(files, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	var out []Applied
	for _, f := range names {
		ver, err := VersionFromFile(f)
		if err != nil {
			return out, fmt.Errorf("parse version from %s: %w", f, err)
		}

		var exists bool
		if err := db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1 AND dirty = false)`,
			ver,
		).Scan(&exists); err != nil {
			return out, fmt.Errorf("check %s: %w", f, err)
		}
		if exists {
			out = append(out, Applied{File: f, Version: ver, Skipped: true})
			continue
		}

		sql, err := files.ReadFile(f)
		if err != nil {
			return out, fmt.Errorf("read %s: %w", f, err)
		}

		// Mark dirty before applying so a crash is visible.
		if _, err := db.Exec(ctx,
			`INSERT INTO schema_migrations (version, dirty) VALUES ($1, true)
			 ON CONFLICT (version) DO UPDATE SET dirty = true`, ver,
		); err != nil {
			return out, fmt.Errorf("mark dirty %s: %w", f, err)
		}
		if _, err := db.Exec(ctx, string(sql)); err != nil {
			return out, fmt.Errorf("apply %s: %w", f, err)
		}
		if _, err := db.Exec(ctx,
			`UPDATE schema_migrations SET dirty = false WHERE version = $1`, ver,
		); err != nil {
			return out, fmt.Errorf("mark clean %s: %w", f, err)
		}
		out = append(out, Applied{File: f, Version: ver})
	}
	return out, nil
}

// VersionFromFile extracts the leading integer from a migration filename.
// "001_handoff.up.sql" → 1
func VersionFromFile(filename string) (int64, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok {
		return 0, fmt.Errorf("unexpected filename format")
	}
	return strconv.ParseInt(prefix, 10, 64)
}
