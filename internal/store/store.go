// Package store persists the analysis graph in SQLite: one database per
// workspace, nodes deduplicated by qualified name, edges by (source, target,
// type). All writes go through batched upserts inside a single transaction so
// a re-run converges instead of accumulating.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Node labels. A type classified as an actor keeps the Type label and is
// dual-tagged through the actor property set, not a second node.
const (
	LabelCrate       = "Crate"
	LabelModule      = "Module"
	LabelType        = "Type"
	LabelFunction    = "Function"
	LabelMessageType = "MessageType"
)

// Edge kinds.
const (
	EdgeCalls            = "CALLS"
	EdgeImplements       = "IMPLEMENTS"
	EdgeSpawns           = "SPAWNS"
	EdgeHandles          = "HANDLES"
	EdgeSends            = "SENDS"
	EdgeSendsDistributed = "SENDS_DISTRIBUTED"
	EdgeDependsOn        = "DEPENDS_ON"
)

// Querier abstracts *sql.DB and *sql.Tx so store methods work in both
// contexts.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store wraps one workspace's SQLite connection.
type Store struct {
	db     *sql.DB
	q      Querier // active querier: db or tx
	dbPath string
}

// Node is one graph node.
type Node struct {
	ID            int64
	Workspace     string
	Label         string
	Name          string
	QualifiedName string
	FilePath      string
	StartLine     int
	EndLine       int
	Properties    map[string]any
}

// Edge is one graph edge.
type Edge struct {
	ID         int64
	Workspace  string
	SourceID   int64
	TargetID   int64
	Type       string
	Properties map[string]any
}

func cacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	dir := filepath.Join(home, ".cache", "crate-graph-mcp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir cache: %w", err)
	}
	return dir, nil
}

// Open opens or creates the database for the given workspace in the default
// cache directory.
func Open(workspace string) (*Store, error) {
	dir, err := cacheDir()
	if err != nil {
		return nil, err
	}
	return OpenInDir(dir, workspace)
}

// OpenInDir opens the workspace database inside dir.
func OpenInDir(dir, workspace string) (*Store, error) {
	return OpenPath(filepath.Join(dir, workspace+".db"))
}

// OpenPath opens a database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &Store{db: db, dbPath: dbPath}
	s.q = s.db
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// OpenMemory opens an in-memory database, for tests.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	s := &Store{db: db, dbPath: ":memory:"}
	s.q = s.db
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// WithTransaction runs fn inside one SQLite transaction. The callback
// receives a transaction-scoped Store; the receiver's q field is never
// mutated, so concurrent read-only callers keep using the plain connection.
func (s *Store) WithTransaction(fn func(txStore *Store) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &Store{db: s.db, q: tx, dbPath: s.dbPath}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for ad-hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workspaces (
		name TEXT PRIMARY KEY,
		indexed_at TEXT NOT NULL,
		root_path TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS file_hashes (
		workspace TEXT NOT NULL REFERENCES workspaces(name) ON DELETE CASCADE,
		rel_path TEXT NOT NULL,
		hash TEXT NOT NULL,
		PRIMARY KEY (workspace, rel_path)
	);

	CREATE TABLE IF NOT EXISTS nodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace TEXT NOT NULL REFERENCES workspaces(name) ON DELETE CASCADE,
		label TEXT NOT NULL,
		name TEXT NOT NULL,
		qualified_name TEXT NOT NULL,
		file_path TEXT DEFAULT '',
		start_line INTEGER DEFAULT 0,
		end_line INTEGER DEFAULT 0,
		properties TEXT DEFAULT '{}',
		UNIQUE(workspace, qualified_name)
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_label ON nodes(workspace, label);
	CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(workspace, name);
	CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(workspace, file_path);

	CREATE TABLE IF NOT EXISTS edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace TEXT NOT NULL REFERENCES workspaces(name) ON DELETE CASCADE,
		source_id INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		target_id INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		properties TEXT DEFAULT '{}',
		UNIQUE(source_id, target_id, type)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id, type);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id, type);
	CREATE INDEX IF NOT EXISTS idx_edges_type ON edges(workspace, type);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Generated columns over edge properties let the synthetic and
	// cross-crate filters use an index instead of json_extract per row.
	// Requires SQLite 3.31+, which the bundled driver provides; checked for
	// idempotence since ALTER TABLE has no IF NOT EXISTS.
	var colCount int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_xinfo('edges') WHERE name='synthetic_gen'`).Scan(&colCount)
	if colCount == 0 {
		if _, err := s.db.Exec(`ALTER TABLE edges ADD COLUMN synthetic_gen INTEGER GENERATED ALWAYS AS (json_extract(properties, '$.is_synthetic'))`); err != nil {
			return fmt.Errorf("add synthetic_gen: %w", err)
		}
		if _, err := s.db.Exec(`ALTER TABLE edges ADD COLUMN cross_gen INTEGER GENERATED ALWAYS AS (json_extract(properties, '$.cross_unit'))`); err != nil {
			return fmt.Errorf("add cross_gen: %w", err)
		}
	}
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_edges_synthetic ON edges(workspace, synthetic_gen)`)
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_edges_cross ON edges(workspace, cross_gen)`)
	return nil
}

func marshalProps(props map[string]any) string {
	if props == nil {
		return "{}"
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalProps(data string) map[string]any {
	if data == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return map[string]any{}
	}
	return m
}

// Now returns the current UTC time in RFC 3339 form, the format used for
// workspace index timestamps.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
