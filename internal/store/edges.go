package store

import (
	"database/sql"
	"fmt"
	"strings"
)

const edgeCols = "id, workspace, source_id, target_id, type, properties"

// InsertEdge inserts one edge, deduplicated by (source, target, type). A
// replay updates properties in place.
func (s *Store) InsertEdge(e *Edge) (int64, error) {
	res, err := s.q.Exec(`
		INSERT INTO edges (workspace, source_id, target_id, type, properties)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, type) DO UPDATE SET properties=excluded.properties`,
		e.Workspace, e.SourceID, e.TargetID, e.Type, marshalProps(e.Properties))
	if err != nil {
		return 0, fmt.Errorf("insert edge: %w", err)
	}
	return res.LastInsertId()
}

// FindEdgesBySource returns all edges leaving a node.
func (s *Store) FindEdgesBySource(sourceID int64) ([]*Edge, error) {
	rows, err := s.q.Query("SELECT "+edgeCols+" FROM edges WHERE source_id=?", sourceID)
	if err != nil {
		return nil, fmt.Errorf("find edges by source: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// FindEdgesByTarget returns all edges entering a node.
func (s *Store) FindEdgesByTarget(targetID int64) ([]*Edge, error) {
	rows, err := s.q.Query("SELECT "+edgeCols+" FROM edges WHERE target_id=?", targetID)
	if err != nil {
		return nil, fmt.Errorf("find edges by target: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// FindEdgesBySourceAndType returns outgoing edges of one kind.
func (s *Store) FindEdgesBySourceAndType(sourceID int64, edgeType string) ([]*Edge, error) {
	rows, err := s.q.Query("SELECT "+edgeCols+" FROM edges WHERE source_id=? AND type=?", sourceID, edgeType)
	if err != nil {
		return nil, fmt.Errorf("find edges by source+type: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// FindEdgesByTargetAndType returns incoming edges of one kind.
func (s *Store) FindEdgesByTargetAndType(targetID int64, edgeType string) ([]*Edge, error) {
	rows, err := s.q.Query("SELECT "+edgeCols+" FROM edges WHERE target_id=? AND type=?", targetID, edgeType)
	if err != nil {
		return nil, fmt.Errorf("find edges by target+type: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// FindEdgesByType returns every edge of one kind in a workspace.
func (s *Store) FindEdgesByType(workspace, edgeType string) ([]*Edge, error) {
	rows, err := s.q.Query("SELECT "+edgeCols+" FROM edges WHERE workspace=? AND type=?", workspace, edgeType)
	if err != nil {
		return nil, fmt.Errorf("find edges by type: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// FindSyntheticEdges returns edges generated rather than observed, filtered
// through the indexed generated column.
func (s *Store) FindSyntheticEdges(workspace string) ([]*Edge, error) {
	rows, err := s.q.Query("SELECT "+edgeCols+" FROM edges WHERE workspace=? AND synthetic_gen=1", workspace)
	if err != nil {
		return nil, fmt.Errorf("find synthetic edges: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// FindCrossCrateEdges returns edges whose endpoints live in different
// crates.
func (s *Store) FindCrossCrateEdges(workspace string) ([]*Edge, error) {
	rows, err := s.q.Query("SELECT "+edgeCols+" FROM edges WHERE workspace=? AND cross_gen=1", workspace)
	if err != nil {
		return nil, fmt.Errorf("find cross-crate edges: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// CountEdges returns the workspace's edge count.
func (s *Store) CountEdges(workspace string) (int, error) {
	var count int
	err := s.q.QueryRow("SELECT COUNT(*) FROM edges WHERE workspace=?", workspace).Scan(&count)
	return count, err
}

// DeleteEdgesByWorkspace removes every edge of a workspace.
func (s *Store) DeleteEdgesByWorkspace(workspace string) error {
	_, err := s.q.Exec("DELETE FROM edges WHERE workspace=?", workspace)
	return err
}

// DeleteEdgesByType removes every edge of one kind.
func (s *Store) DeleteEdgesByType(workspace, edgeType string) error {
	_, err := s.q.Exec("DELETE FROM edges WHERE workspace=? AND type=?", workspace, edgeType)
	return err
}

// DeleteEdgesBySourceFile removes edges of one kind whose source node sits in
// the file, so an incremental re-index of that file can re-emit them.
func (s *Store) DeleteEdgesBySourceFile(workspace, filePath, edgeType string) error {
	_, err := s.q.Exec(`
		DELETE FROM edges WHERE id IN (
			SELECT e.id FROM edges e
			JOIN nodes n ON e.source_id = n.id
			WHERE e.workspace=? AND n.file_path=? AND e.type=?
		)`, workspace, filePath, edgeType)
	return err
}

// 5 columns per row; 150 rows stays under the 999 bind limit.
const edgesBatchSize = 150

// InsertEdgeBatch inserts edges in multi-row INSERTs.
func (s *Store) InsertEdgeBatch(edges []*Edge) error {
	if len(edges) == 0 {
		return nil
	}
	for i := 0; i < len(edges); i += edgesBatchSize {
		end := min(i+edgesBatchSize, len(edges))
		if err := s.insertEdgeChunk(edges[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertEdgeChunk(batch []*Edge) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO edges (workspace, source_id, target_id, type, properties) VALUES `)

	args := make([]any, 0, len(batch)*5)
	for i, e := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?,?)")
		args = append(args, e.Workspace, e.SourceID, e.TargetID, e.Type, marshalProps(e.Properties))
	}
	sb.WriteString(` ON CONFLICT(source_id, target_id, type) DO UPDATE SET properties=excluded.properties`)

	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("insert edge batch: %w", err)
	}
	return nil
}

func scanEdges(rows *sql.Rows) ([]*Edge, error) {
	var result []*Edge
	for rows.Next() {
		var e Edge
		var props string
		if err := rows.Scan(&e.ID, &e.Workspace, &e.SourceID, &e.TargetID, &e.Type, &props); err != nil {
			return nil, err
		}
		e.Properties = unmarshalProps(props)
		result = append(result, &e)
	}
	return result, rows.Err()
}
