package migrations

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	migrationTable = "querypilot_schema_migrations"
	// advisoryLockKey serialises concurrent runners against one catalog.
	advisoryLockKey int64 = 0x71707069
)

var migrationNamePattern = regexp.MustCompile(`^([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

func NewRunnerFS(fsys fs.FS) *Runner {
	return &Runner{fsys: fsys}
}

type Status struct {
	Applied []int64
	Pending []int64
	Drifted []int64
}

type migration struct {
	Version  int64
	Name     string
	UpSQL    string
	DownSQL  string
	Checksum string
}

type session struct {
	conn    *sql.Conn
	source  []migration
	applied map[int64]string
}

func (s *session) drifted() []int64 {
	var out []int64
	for _, item := range s.source {
		if sum, ok := s.applied[item.Version]; ok && sum != "" && sum != item.Checksum {
			out = append(out, item.Version)
		}
	}
	return out
}

func (s *session) appliedVersions() []int64 {
	versions := make([]int64, 0, len(s.applied))
	for version := range s.applied {
		versions = append(versions, version)
	}
	slices.Sort(versions)
	return versions
}

func (r *Runner) withSession(ctx context.Context, db *sql.DB, fn func(*session) error) error {
	source, err := loadMigrations(r.fsys)
	if err != nil {
		return err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration conn: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, advisoryLockKey)
	}()

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return err
	}
	applied, err := loadApplied(ctx, conn)
	if err != nil {
		return err
	}
	return fn(&session{conn: conn, source: source, applied: applied})
}

func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	count := 0
	err := r.withSession(ctx, db, func(s *session) error {
		if drifted := s.drifted(); len(drifted) > 0 {
			return fmt.Errorf("applied migrations changed since they ran: %v", drifted)
		}
		for _, item := range s.source {
			if _, ok := s.applied[item.Version]; ok {
				continue
			}
			if steps > 0 && count >= steps {
				break
			}
			if err := applyMigration(ctx, s.conn, item); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	steps = max(steps, 1)
	count := 0
	err := r.withSession(ctx, db, func(s *session) error {
		lookup := make(map[int64]migration, len(s.source))
		for _, item := range s.source {
			lookup[item.Version] = item
		}
		applied := s.appliedVersions()
		slices.Reverse(applied)
		for _, version := range applied {
			if count >= steps {
				break
			}
			item, ok := lookup[version]
			if !ok {
				return fmt.Errorf("applied migration %d is missing from source", version)
			}
			if err := rollbackMigration(ctx, s.conn, item); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) (Status, error) {
	var status Status
	err := r.withSession(ctx, db, func(s *session) error {
		status.Applied = s.appliedVersions()
		status.Pending = []int64{}
		for _, item := range s.source {
			if _, ok := s.applied[item.Version]; !ok {
				status.Pending = append(status.Pending, item.Version)
			}
		}
		status.Drifted = s.drifted()
		return nil
	})
	return status, err
}

func ensureMigrationTable(ctx context.Context, conn *sql.Conn) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	checksum TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

func loadApplied(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM `+migrationTable)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := map[int64]string{}
	for rows.Next() {
		var (
			version  int64
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

func applyMigration(ctx context.Context, conn *sql.Conn, item migration) error {
	return inTx(ctx, conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, item.UpSQL); err != nil {
			return fmt.Errorf("apply migration %d_%s: %w", item.Version, item.Name, err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO `+migrationTable+` (version, name, checksum) VALUES ($1, $2, $3)`,
			item.Version, item.Name, item.Checksum)
		if err != nil {
			return fmt.Errorf("record migration %d: %w", item.Version, err)
		}
		return nil
	})
}

func rollbackMigration(ctx context.Context, conn *sql.Conn, item migration) error {
	return inTx(ctx, conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, item.DownSQL); err != nil {
			return fmt.Errorf("roll back migration %d_%s: %w", item.Version, item.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+migrationTable+` WHERE version = $1`, item.Version); err != nil {
			return fmt.Errorf("forget migration %d: %w", item.Version, err)
		}
		return nil
	})
}

func inTx(ctx context.Context, conn *sql.Conn, fn func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		parts := migrationNamePattern.FindStringSubmatch(entry.Name())
		if parts == nil {
			continue
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", entry.Name(), err)
		}
		script, err := fs.ReadFile(fsys, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &migration{Version: version, Name: parts[2]}
			byVersion[version] = item
		} else if item.Name != parts[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, item.Name, parts[2])
		}
		if parts[3] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		sum := sha256.Sum256([]byte(item.UpSQL))
		item.Checksum = hex.EncodeToString(sum[:])
		out = append(out, *item)
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}
