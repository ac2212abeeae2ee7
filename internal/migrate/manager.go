// Package migrate applies the accounts schema to PostgreSQL. The SQL ships
// inside the binary; a directory on disk can replace it for local work.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"booky.app/internal/obs"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	migrationsDir = "migrations"
	seedsDir      = "seeds"
)

//go:embed sql/migrations/*.sql sql/seeds/*.sql
var embedded embed.FS

// Embedded returns the schema compiled into the binary, rooted so that it
// holds migrations/ and seeds/.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// ErrNothingApplied is returned by Down when no migration has run.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Manager executes SQL migrations and seed files.
type Manager struct {
	db              *sql.DB
	files           fs.FS
	migrationsTable string
	seedsTable      string
	now             func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithFS reads SQL from files instead of the embedded schema. files must
// contain migrations/ and may contain seeds/.
func WithFS(files fs.FS) Option {
	return func(m *Manager) {
		if files != nil {
			m.files = files
		}
	}
}

// NewManager constructs a Manager over the embedded schema.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		files:           Embedded(),
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations and returns the names it ran.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	return m.apply(ctx, m.migrationsTable, migrationsDir, ".up.sql")
}

// Seed applies seed files not yet recorded.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	return m.apply(ctx, m.seedsTable, seedsDir, ".sql")
}

func (m *Manager) apply(ctx context.Context, table, dir, suffix string) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx, table)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.files, dir, suffix)
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, name := range files {
		if executed[name] {
			continue
		}
		if err := m.exec(ctx, path.Join(dir, name), table, name); err != nil {
			return applied, fmt.Errorf("migrate: apply %s: %w", name, err)
		}
		obs.Logger().InfoContext(ctx, "migration applied", "table", table, "name", name)
		applied = append(applied, name)
	}
	return applied, nil
}

// Down rolls back the most recent applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	executed, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(executed) == 0 {
		return "", ErrNothingApplied
	}
	last := executed[len(executed)-1]
	down := path.Join(migrationsDir, strings.TrimSuffix(last, ".up.sql")+".down.sql")
	if _, err := fs.Stat(m.files, down); err != nil {
		return "", fmt.Errorf("migrate: missing down migration for %s", last)
	}
	if err := m.run(ctx, down, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last)
		return err
	}); err != nil {
		return "", fmt.Errorf("migrate: rollback %s: %w", last, err)
	}
	obs.Logger().InfoContext(ctx, "migration rolled back", "name", last)
	return last, nil
}

// Status returns applied migrations in order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx, m.migrationsTable)
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: ensure %s: %w", table, err)
		}
	}
	return nil
}

// exec runs one file and records it in table within a single transaction.
func (m *Manager) exec(ctx context.Context, file, table, name string) error {
	return m.run(ctx, file, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
			name, m.now().UTC())
		return err
	})
}

func (m *Manager) run(ctx context.Context, file string, record func(*sql.Tx) error) error {
	raw, err := fs.ReadFile(m.files, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) listExecuted(ctx context.Context, table string) (map[string]bool, error) {
	names, err := m.history(ctx, table)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(names))
	for _, name := range names {
		result[name] = true
	}
	return result, nil
}

func (m *Manager) history(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, fmt.Errorf("migrate: read %s: %w", table, err)
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func collectSQL(files fs.FS, dir, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits SQL on semicolons outside single-quoted strings and
// drops -- line comments.
func splitStatements(src string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		if !inString && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			current.WriteRune(r)
			switch r {
			case '\'':
				inString = !inString
			case ';':
				if !inString {
					stmts = append(stmts, current.String())
					current.Reset()
				}
			}
		}
		if i < len(lines)-1 {
			current.WriteRune('\n')
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
