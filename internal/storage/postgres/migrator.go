package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	scriptsGlob   = "sql/migrations/*.sql"
	schemaLockKey = int64(74011206)

	ensureVersionsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

//go:embed sql/migrations/*.sql
var scriptsFS embed.FS

var scriptNameRE = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// script — пара up/down SQL одной версии схемы.
type script struct {
	version int64
	name    string
	up      string
	down    string
}

func (sc script) label() string {
	return fmt.Sprintf("%d_%s", sc.version, sc.name)
}

// MigrateUp применяет недостающие up-миграции по порядку версий.
// steps=0 — применить все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, "up", steps)
}

// MigrateDown откатывает последние применённые миграции.
// steps<=0 трактуется как один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, "down", steps)
}

// MigrationStatus возвращает максимальную применённую версию и число
// применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, ensureVersionsTable); err != nil {
		return 0, 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(queryCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`,
	).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("read schema_migrations: %w", err)
	}

	return version, count, nil
}

func (s *Store) migrate(ctx context.Context, direction string, steps int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	scripts, err := loadScripts(scriptsFS)
	if err != nil {
		return err
	}

	// Advisory lock держится на выделенном соединении: конкурентные
	// экземпляры мигратора выполняются строго по одному.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", schemaLockKey)
	}()

	if _, err := conn.ExecContext(ctx, ensureVersionsTable); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	r := schemaRunner{conn: conn}
	if direction == "up" {
		return r.applyPending(ctx, scripts, steps)
	}
	return r.rollback(ctx, scripts, steps)
}

// schemaRunner выполняет миграции на соединении, удерживающем advisory lock.
type schemaRunner struct {
	conn *sql.Conn
}

func (r schemaRunner) applyPending(ctx context.Context, scripts []script, steps int) error {
	applied, err := r.appliedVersions(ctx)
	if err != nil {
		return err
	}

	done := 0
	for _, sc := range scripts {
		if applied[sc.version] {
			continue
		}
		err := r.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, sc.up); err != nil {
				return fmt.Errorf("apply migration %s: %w", sc.label(), err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				sc.version, sc.name)
			if err != nil {
				return fmt.Errorf("record migration %s: %w", sc.label(), err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		done++
		if steps > 0 && done >= steps {
			break
		}
	}

	return nil
}

func (r schemaRunner) rollback(ctx context.Context, scripts []script, steps int) error {
	byVersion := make(map[int64]script, len(scripts))
	for _, sc := range scripts {
		byVersion[sc.version] = sc
	}

	versions, err := r.latestVersions(ctx, steps)
	if err != nil {
		return err
	}

	for _, version := range versions {
		sc, ok := byVersion[version]
		if !ok {
			return fmt.Errorf("applied version %d has no migration files", version)
		}
		err := r.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, sc.down); err != nil {
				return fmt.Errorf("rollback migration %s: %w", sc.label(), err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM schema_migrations WHERE version = $1`, sc.version); err != nil {
				return fmt.Errorf("unrecord migration %s: %w", sc.label(), err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (r schemaRunner) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

func (r schemaRunner) appliedVersions(ctx context.Context) (map[int64]bool, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied versions: %w", err)
	}

	return applied, nil
}

func (r schemaRunner) latestVersions(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("read latest versions: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0, limit)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan latest version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest versions: %w", err)
	}

	return versions, nil
}

// loadScripts читает встроенные миграции. Каждая версия обязана иметь оба
// файла: <version>_<name>.up.sql и <version>_<name>.down.sql.
func loadScripts(fsys fs.FS) ([]script, error) {
	files, err := fs.Glob(fsys, scriptsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migration files: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*script)
	for _, file := range files {
		base := path.Base(file)
		m := scriptNameRE.FindStringSubmatch(base)
		if m == nil {
			return nil, fmt.Errorf("unexpected migration file name: %s", base)
		}

		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version of %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s has no statements", base)
		}

		sc := byVersion[version]
		if sc == nil {
			sc = &script{version: version, name: m[2]}
			byVersion[version] = sc
		} else if sc.name != m[2] {
			return nil, fmt.Errorf("version %d maps to two names: %s and %s", version, sc.name, m[2])
		}

		switch m[3] {
		case "up":
			if sc.up != "" {
				return nil, fmt.Errorf("version %d has a duplicate up file", version)
			}
			sc.up = body
		case "down":
			if sc.down != "" {
				return nil, fmt.Errorf("version %d has a duplicate down file", version)
			}
			sc.down = body
		}
	}

	scripts := make([]script, 0, len(byVersion))
	for _, sc := range byVersion {
		if sc.up == "" || sc.down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down files", sc.label())
		}
		scripts = append(scripts, *sc)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })

	return scripts, nil
}
