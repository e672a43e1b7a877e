package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Migration is one numbered schema change.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string // empty when the migration cannot be reverted
}

// LoadMigrations reads NNN_name.sql and NNN_name.down.sql files from fsys,
// ordered by version.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	byVersion := map[int]*Migration{}
	for _, e := range entries {
		file := e.Name()
		if e.IsDir() || path.Ext(file) != ".sql" {
			continue
		}
		base := strings.TrimSuffix(file, ".sql")
		down := strings.HasSuffix(base, ".down")
		base = strings.TrimSuffix(base, ".down")

		num, name, ok := strings.Cut(base, "_")
		version, err := strconv.Atoi(num)
		if !ok || err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: name must be NNN_name.sql", file)
		}
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, err
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration %d: conflicting names %q and %q", version, m.Name, name)
		}
		if down {
			m.Down = string(data)
		} else {
			m.Up = string(data)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %d_%s: missing up file", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// AppliedVersions returns the versions recorded in schema_migrations.
func (db *DB) AppliedVersions(ctx context.Context) (map[int]bool, error) {
	if _, err := db.Pool.Exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	rows, err := db.Pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return nil, err
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[int(v)] = true
	}
	return applied, nil
}

// MigrateUp applies every migration not yet recorded, each in its own
// transaction. It returns the number applied.
func (db *DB) MigrateUp(ctx context.Context, ms []Migration) (int, error) {
	applied, err := db.AppliedVersions(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range ms {
		if applied[m.Version] {
			continue
		}
		err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
			return err
		})
		if err != nil {
			return n, fmt.Errorf("apply %03d_%s: %w", m.Version, m.Name, err)
		}
		slog.Info("migration applied", "version", m.Version, "name", m.Name)
		n++
	}
	return n, nil
}

// MigrateDown reverts up to steps applied migrations, newest first. steps <= 0
// reverts all of them.
func (db *DB) MigrateDown(ctx context.Context, ms []Migration, steps int) (int, error) {
	applied, err := db.AppliedVersions(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := len(ms) - 1; i >= 0; i-- {
		if steps > 0 && n == steps {
			break
		}
		m := ms[i]
		if !applied[m.Version] {
			continue
		}
		if m.Down == "" {
			return n, fmt.Errorf("revert %03d_%s: no down migration", m.Version, m.Name)
		}
		err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.Down); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
			return err
		})
		if err != nil {
			return n, fmt.Errorf("revert %03d_%s: %w", m.Version, m.Name, err)
		}
		slog.Info("migration reverted", "version", m.Version, "name", m.Name)
		n++
	}
	return n, nil
}
