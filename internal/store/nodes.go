package store

import (
	"database/sql"
	"fmt"
	"strings"
)

const nodeCols = "id, workspace, label, name, qualified_name, file_path, start_line, end_line, properties"

// UpsertNode inserts or replaces one node, deduplicated by qualified name.
// LastInsertId can report a stale id after ON CONFLICT DO UPDATE; the
// fallback SELECT only runs when that happens.
func (s *Store) UpsertNode(n *Node) (int64, error) {
	res, err := s.q.Exec(`
		INSERT INTO nodes (workspace, label, name, qualified_name, file_path, start_line, end_line, properties)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace, qualified_name) DO UPDATE SET
			label=excluded.label, name=excluded.name, file_path=excluded.file_path,
			start_line=excluded.start_line, end_line=excluded.end_line, properties=excluded.properties`,
		n.Workspace, n.Label, n.Name, n.QualifiedName, n.FilePath, n.StartLine, n.EndLine, marshalProps(n.Properties))
	if err != nil {
		return 0, fmt.Errorf("upsert node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if id == 0 {
		err = s.q.QueryRow("SELECT id FROM nodes WHERE workspace=? AND qualified_name=?", n.Workspace, n.QualifiedName).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("get node id: %w", err)
		}
	}
	return id, nil
}

// FindNodeByID looks a node up by primary key.
func (s *Store) FindNodeByID(id int64) (*Node, error) {
	row := s.q.QueryRow("SELECT "+nodeCols+" FROM nodes WHERE id=?", id)
	return scanNode(row)
}

// FindNodeByQN looks a node up by workspace and qualified name.
func (s *Store) FindNodeByQN(workspace, qualifiedName string) (*Node, error) {
	row := s.q.QueryRow("SELECT "+nodeCols+" FROM nodes WHERE workspace=? AND qualified_name=?", workspace, qualifiedName)
	return scanNode(row)
}

// FindNodesByName returns every node with the given simple name.
func (s *Store) FindNodesByName(workspace, name string) ([]*Node, error) {
	rows, err := s.q.Query("SELECT "+nodeCols+" FROM nodes WHERE workspace=? AND name=?", workspace, name)
	if err != nil {
		return nil, fmt.Errorf("find by name: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// FindNodesByLabel returns every node carrying the label.
func (s *Store) FindNodesByLabel(workspace, label string) ([]*Node, error) {
	rows, err := s.q.Query("SELECT "+nodeCols+" FROM nodes WHERE workspace=? AND label=?", workspace, label)
	if err != nil {
		return nil, fmt.Errorf("find by label: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// FindNodesByFile returns every node declared in the file.
func (s *Store) FindNodesByFile(workspace, filePath string) ([]*Node, error) {
	rows, err := s.q.Query("SELECT "+nodeCols+" FROM nodes WHERE workspace=? AND file_path=?", workspace, filePath)
	if err != nil {
		return nil, fmt.Errorf("find by file: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// FindActors returns Type nodes dual-tagged as actors.
func (s *Store) FindActors(workspace string) ([]*Node, error) {
	rows, err := s.q.Query("SELECT "+nodeCols+" FROM nodes WHERE workspace=? AND label=? AND json_extract(properties, '$.is_actor')=1",
		workspace, LabelType)
	if err != nil {
		return nil, fmt.Errorf("find actors: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// CountNodes returns the workspace's node count.
func (s *Store) CountNodes(workspace string) (int, error) {
	var count int
	err := s.q.QueryRow("SELECT COUNT(*) FROM nodes WHERE workspace=?", workspace).Scan(&count)
	return count, err
}

// DeleteNodesByWorkspace removes every node of a workspace.
func (s *Store) DeleteNodesByWorkspace(workspace string) error {
	_, err := s.q.Exec("DELETE FROM nodes WHERE workspace=?", workspace)
	return err
}

// DeleteNodesByFile removes the nodes declared in one file, for incremental
// re-indexing.
func (s *Store) DeleteNodesByFile(workspace, filePath string) error {
	_, err := s.q.Exec("DELETE FROM nodes WHERE workspace=? AND file_path=?", workspace, filePath)
	return err
}

// FindNodesByIDs returns nodeID to node for the given IDs.
func (s *Store) FindNodesByIDs(ids []int64) (map[int64]*Node, error) {
	if len(ids) == 0 {
		return map[int64]*Node{}, nil
	}
	result := make(map[int64]*Node, len(ids))
	const batchSize = 998 // room for the IN list under the 999 bind limit

	for i := 0; i < len(ids); i += batchSize {
		end := min(i+batchSize, len(ids))
		chunk := ids[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for j, id := range chunk {
			placeholders[j] = "?"
			args[j] = id
		}
		query := fmt.Sprintf("SELECT %s FROM nodes WHERE id IN (%s)", nodeCols, strings.Join(placeholders, ","))

		if err := func() error {
			rows, err := s.q.Query(query, args...)
			if err != nil {
				return fmt.Errorf("find nodes by ids: %w", err)
			}
			defer rows.Close()
			nodes, err := scanNodes(rows)
			if err != nil {
				return err
			}
			for _, n := range nodes {
				result[n.ID] = n
			}
			return nil
		}(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// FindNodesByFileOverlap returns declaration nodes whose span overlaps
// [startLine, endLine]. The file suffix is matched with LIKE so relative and
// absolute paths both hit.
func (s *Store) FindNodesByFileOverlap(workspace, fileSuffix string, startLine, endLine int) ([]*Node, error) {
	rows, err := s.q.Query(`SELECT `+nodeCols+`
		FROM nodes WHERE workspace=? AND file_path LIKE '%' || ? AND start_line <= ? AND end_line >= ?
		AND label NOT IN (?, ?)`,
		workspace, fileSuffix, endLine, startLine, LabelCrate, LabelModule)
	if err != nil {
		return nil, fmt.Errorf("find by file overlap: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// AllNodes returns every node in a workspace.
func (s *Store) AllNodes(workspace string) ([]*Node, error) {
	rows, err := s.q.Query("SELECT "+nodeCols+" FROM nodes WHERE workspace=?", workspace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*Node, error) {
	var n Node
	var props string
	err := row.Scan(&n.ID, &n.Workspace, &n.Label, &n.Name, &n.QualifiedName, &n.FilePath, &n.StartLine, &n.EndLine, &props)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	n.Properties = unmarshalProps(props)
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]*Node, error) {
	var result []*Node
	for rows.Next() {
		var n Node
		var props string
		if err := rows.Scan(&n.ID, &n.Workspace, &n.Label, &n.Name, &n.QualifiedName, &n.FilePath, &n.StartLine, &n.EndLine, &props); err != nil {
			return nil, err
		}
		n.Properties = unmarshalProps(props)
		result = append(result, &n)
	}
	return result, rows.Err()
}

// SQLite caps bind variables at 999; 8 columns per row fixes the batch size.
const numNodeCols = 8
const nodesBatchSize = 999 / numNodeCols

// UpsertNodeBatch upserts nodes in multi-row INSERTs and returns qualified
// name to id for every row touched.
func (s *Store) UpsertNodeBatch(nodes []*Node) (map[string]int64, error) {
	if len(nodes) == 0 {
		return map[string]int64{}, nil
	}
	result := make(map[string]int64, len(nodes))
	for i := 0; i < len(nodes); i += nodesBatchSize {
		end := min(i+nodesBatchSize, len(nodes))
		if err := s.upsertNodeChunk(nodes[i:end], result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) upsertNodeChunk(batch []*Node, idMap map[string]int64) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO nodes (workspace, label, name, qualified_name, file_path, start_line, end_line, properties) VALUES `)

	args := make([]any, 0, len(batch)*numNodeCols)
	for i, n := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?,?,?,?,?)")
		args = append(args, n.Workspace, n.Label, n.Name, n.QualifiedName, n.FilePath, n.StartLine, n.EndLine, marshalProps(n.Properties))
	}
	sb.WriteString(` ON CONFLICT(workspace, qualified_name) DO UPDATE SET
		label=excluded.label, name=excluded.name, file_path=excluded.file_path,
		start_line=excluded.start_line, end_line=excluded.end_line, properties=excluded.properties`)

	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("upsert node batch: %w", err)
	}

	// Recover ids with a SELECT; batched upserts give no usable insert id.
	byWorkspace := make(map[string][]string)
	for _, n := range batch {
		byWorkspace[n.Workspace] = append(byWorkspace[n.Workspace], n.QualifiedName)
	}
	for workspace, qns := range byWorkspace {
		if err := s.resolveNodeIDs(workspace, qns, idMap); err != nil {
			return err
		}
	}
	return nil
}

// resolveNodeIDs fetches ids for qualified names, chunked under the bind
// limit.
func (s *Store) resolveNodeIDs(workspace string, qns []string, idMap map[string]int64) error {
	const maxQNsPerQuery = 998

	for i := 0; i < len(qns); i += maxQNsPerQuery {
		end := min(i+maxQNsPerQuery, len(qns))
		chunk := qns[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)+1)
		args = append(args, workspace)
		for j, qn := range chunk {
			placeholders[j] = "?"
			args = append(args, qn)
		}
		query := fmt.Sprintf("SELECT id, qualified_name FROM nodes WHERE workspace = ? AND qualified_name IN (%s)",
			strings.Join(placeholders, ","))

		if err := func() error {
			rows, err := s.q.Query(query, args...)
			if err != nil {
				return fmt.Errorf("resolve node ids: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id int64
				var qn string
				if err := rows.Scan(&id, &qn); err != nil {
					return err
				}
				idMap[qn] = id
			}
			return rows.Err()
		}(); err != nil {
			return err
		}
	}
	return nil
}

// FindNodeIDsByQNs returns qualified name to id for the given names.
func (s *Store) FindNodeIDsByQNs(workspace string, qns []string) (map[string]int64, error) {
	if len(qns) == 0 {
		return map[string]int64{}, nil
	}
	idMap := make(map[string]int64, len(qns))
	if err := s.resolveNodeIDs(workspace, qns, idMap); err != nil {
		return nil, err
	}
	return idMap, nil
}
