package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// WorkspaceInfo is metadata about one workspace database on disk.
type WorkspaceInfo struct {
	Name     string
	DBPath   string
	RootPath string
}

// Router manages per-workspace SQLite databases: one .db file per analyzed
// workspace, opened lazily and shared across tool handlers.
type Router struct {
	dir    string
	stores map[string]*Store
	mu     sync.Mutex
}

// NewRouter creates a Router over the default cache directory.
func NewRouter() (*Router, error) {
	dir, err := cacheDir()
	if err != nil {
		return nil, err
	}
	return &Router{dir: dir, stores: make(map[string]*Store)}, nil
}

// NewRouterWithDir creates a Router over a custom directory, for tests.
func NewRouterWithDir(dir string) (*Router, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &Router{dir: dir, stores: make(map[string]*Store)}, nil
}

// ForWorkspace returns the Store for a workspace, opening it lazily.
func (r *Router) ForWorkspace(name string) (*Store, error) {
	if name == "*" || name == "all" {
		return nil, fmt.Errorf("invalid workspace name: %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[name]; ok {
		return s, nil
	}
	s, err := OpenInDir(r.dir, name)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", name, err)
	}
	r.stores[name] = s
	return s, nil
}

// ListWorkspaces scans the cache directory and reports each database's
// metadata.
func (r *Router) ListWorkspaces() ([]*WorkspaceInfo, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("readdir: %w", err)
	}

	result := make([]*WorkspaceInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".db")
		info := &WorkspaceInfo{
			Name:   name,
			DBPath: filepath.Join(r.dir, e.Name()),
		}
		s, err := r.ForWorkspace(name)
		if err == nil {
			workspaces, listErr := s.ListWorkspaces()
			if listErr == nil && len(workspaces) > 0 {
				info.RootPath = workspaces[0].RootPath
			}
		}
		result = append(result, info)
	}
	return result, nil
}

// DeleteWorkspace closes the connection and removes the database files.
func (r *Router) DeleteWorkspace(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[name]; ok {
		s.Close()
		delete(r.stores, name)
	}

	dbPath := filepath.Join(r.dir, name+".db")
	for _, suffix := range []string{"", "-wal", "-shm"} {
		p := dbPath + suffix
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	slog.Info("router.delete", "workspace", name)
	return nil
}

// HasWorkspace reports whether a database file exists without opening it.
func (r *Router) HasWorkspace(name string) bool {
	_, err := os.Stat(filepath.Join(r.dir, name+".db"))
	return err == nil
}

// Dir returns the cache directory path.
func (r *Router) Dir() string {
	return r.dir
}

// CloseAll closes every open connection.
func (r *Router) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, s := range r.stores {
		if err := s.Close(); err != nil {
			slog.Warn("router.close", "workspace", name, "err", err)
		}
	}
	r.stores = make(map[string]*Store)
}
