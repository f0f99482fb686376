package store

import "fmt"

// Workspace is one indexed Cargo workspace.
type Workspace struct {
	Name      string
	IndexedAt string
	RootPath  string
}

// UpsertWorkspace creates or refreshes a workspace record.
func (s *Store) UpsertWorkspace(name, rootPath string) error {
	_, err := s.q.Exec(`
		INSERT INTO workspaces (name, indexed_at, root_path) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET indexed_at=excluded.indexed_at, root_path=excluded.root_path`,
		name, Now(), rootPath)
	return err
}

// GetWorkspace returns one workspace record.
func (s *Store) GetWorkspace(name string) (*Workspace, error) {
	var w Workspace
	err := s.q.QueryRow("SELECT name, indexed_at, root_path FROM workspaces WHERE name=?", name).
		Scan(&w.Name, &w.IndexedAt, &w.RootPath)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkspaces returns every indexed workspace.
func (s *Store) ListWorkspaces() ([]*Workspace, error) {
	rows, err := s.q.Query("SELECT name, indexed_at, root_path FROM workspaces ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*Workspace
	for rows.Next() {
		var w Workspace
		if err := rows.Scan(&w.Name, &w.IndexedAt, &w.RootPath); err != nil {
			return nil, err
		}
		result = append(result, &w)
	}
	return result, rows.Err()
}

// DeleteWorkspace removes a workspace and, through CASCADE, its graph.
func (s *Store) DeleteWorkspace(name string) error {
	_, err := s.q.Exec("DELETE FROM workspaces WHERE name=?", name)
	return err
}

// UpsertFileHash stores one file's content fingerprint for incremental
// re-indexing.
func (s *Store) UpsertFileHash(workspace, relPath, hash string) error {
	_, err := s.q.Exec(`
		INSERT INTO file_hashes (workspace, rel_path, hash) VALUES (?, ?, ?)
		ON CONFLICT(workspace, rel_path) DO UPDATE SET hash=excluded.hash`,
		workspace, relPath, hash)
	return err
}

// GetFileHashes returns rel path to fingerprint for a workspace.
func (s *Store) GetFileHashes(workspace string) (map[string]string, error) {
	rows, err := s.q.Query("SELECT rel_path, hash FROM file_hashes WHERE workspace=?", workspace)
	if err != nil {
		return nil, fmt.Errorf("get file hashes: %w", err)
	}
	defer rows.Close()
	result := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		result[path] = hash
	}
	return result, rows.Err()
}

// DeleteFileHash removes one file's fingerprint.
func (s *Store) DeleteFileHash(workspace, relPath string) error {
	_, err := s.q.Exec("DELETE FROM file_hashes WHERE workspace=? AND rel_path=?", workspace, relPath)
	return err
}

// DeleteFileHashes removes every fingerprint of a workspace.
func (s *Store) DeleteFileHashes(workspace string) error {
	_, err := s.q.Exec("DELETE FROM file_hashes WHERE workspace=?", workspace)
	return err
}
