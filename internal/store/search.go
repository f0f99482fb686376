package store

import (
	"fmt"
	"regexp"
	"strings"
)

// SearchParams describes one structured graph search.
type SearchParams struct {
	Workspace    string
	Label        string
	NamePattern  string // regex over name and qualified name
	FilePattern  string // glob over file path
	Crate        string
	Relationship string
	Direction    string // "inbound", "outbound", "any"
	MinDegree    int    // -1 means unset
	MaxDegree    int    // -1 means unset
	ActorsOnly   bool
	Limit        int
	Offset       int
	// ExcludeEntryPoints drops nodes the runtime reaches on its own (main,
	// handler dispatch targets), for dead-code style queries.
	ExcludeEntryPoints bool
}

// SearchResult is a node with its edge-degree context.
type SearchResult struct {
	Node           *Node
	InDegree       int
	OutDegree      int
	ConnectedNames []string
}

// SearchOutput wraps results with the pre-pagination total.
type SearchOutput struct {
	Results []*SearchResult
	Total   int
}

// Search runs a parameterized node search. SQL narrows by the indexed
// columns; regex and degree filters apply Go-side on the narrowed set.
func (s *Store) Search(params SearchParams) (*SearchOutput, error) {
	if params.Limit <= 0 {
		params.Limit = 100000
	}

	var conditions []string
	var args []any

	conditions = append(conditions, "n.workspace = ?")
	args = append(args, params.Workspace)

	if params.Label != "" {
		conditions = append(conditions, "n.label = ?")
		args = append(args, params.Label)
	}
	if params.FilePattern != "" {
		conditions = append(conditions, "n.file_path LIKE ?")
		args = append(args, globToLike(params.FilePattern))
	}
	if params.Crate != "" {
		conditions = append(conditions, "json_extract(n.properties, '$.crate') = ?")
		args = append(args, params.Crate)
	}
	if params.ActorsOnly {
		conditions = append(conditions, "json_extract(n.properties, '$.is_actor') = 1")
	}

	where := strings.Join(conditions, " AND ")

	// Go-side filters need headroom: fetch more rows than the user limit and
	// trim after filtering.
	hasDegreeFilter := params.MinDegree >= 0 || params.MaxDegree >= 0
	var sqlLimit int
	if params.NamePattern != "" || hasDegreeFilter {
		sqlLimit = 10000
	} else {
		sqlLimit = params.Offset + params.Limit
		if sqlLimit > 100000 {
			sqlLimit = 100000
		}
	}

	query := fmt.Sprintf(`
		SELECT n.id, n.workspace, n.label, n.name, n.qualified_name, n.file_path, n.start_line, n.end_line, n.properties
		FROM nodes n
		WHERE %s
		LIMIT ?`, where)
	args = append(args, sqlLimit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}

	if params.NamePattern != "" {
		nodes, err = filterByNamePattern(nodes, params.NamePattern)
		if err != nil {
			return nil, err
		}
	}

	var allResults []*SearchResult
	for _, n := range nodes {
		sr := &SearchResult{Node: n}

		if params.Relationship != "" {
			s.db.QueryRow("SELECT COUNT(*) FROM edges WHERE target_id=? AND type=?", n.ID, params.Relationship).Scan(&sr.InDegree)
			s.db.QueryRow("SELECT COUNT(*) FROM edges WHERE source_id=? AND type=?", n.ID, params.Relationship).Scan(&sr.OutDegree)
		} else {
			s.db.QueryRow("SELECT COUNT(*) FROM edges WHERE target_id=?", n.ID).Scan(&sr.InDegree)
			s.db.QueryRow("SELECT COUNT(*) FROM edges WHERE source_id=?", n.ID).Scan(&sr.OutDegree)
		}

		degree := sr.InDegree
		if params.Direction == "outbound" {
			degree = sr.OutDegree
		}
		if params.MinDegree >= 0 && degree < params.MinDegree {
			continue
		}
		if params.MaxDegree >= 0 && degree > params.MaxDegree {
			continue
		}
		if params.ExcludeEntryPoints && isEntryPoint(n) {
			continue
		}

		connRows, connErr := s.db.Query(`
			SELECT DISTINCT n2.name FROM edges e
			JOIN nodes n2 ON (e.target_id = n2.id OR e.source_id = n2.id)
			WHERE (e.source_id = ? OR e.target_id = ?) AND n2.id != ?
			LIMIT 10`, n.ID, n.ID, n.ID)
		if connErr == nil {
			for connRows.Next() {
				var name string
				connRows.Scan(&name)
				sr.ConnectedNames = append(sr.ConnectedNames, name)
			}
			connRows.Close()
		}

		allResults = append(allResults, sr)
	}

	total := len(allResults)
	start := min(params.Offset, total)
	end := min(start+params.Limit, total)

	return &SearchOutput{Results: allResults[start:end], Total: total}, nil
}

func globToLike(pattern string) string {
	// "**/" and "/**" match any depth including none, so the separator must
	// fold into the wildcard or top-level paths never match.
	result := strings.ReplaceAll(pattern, "/**", "%")
	result = strings.ReplaceAll(result, "**/", "%")
	result = strings.ReplaceAll(result, "**", "%")
	result = strings.ReplaceAll(result, "*", "%")
	result = strings.ReplaceAll(result, "?", "_")
	return result
}

func isEntryPoint(n *Node) bool {
	if n.Properties == nil {
		return false
	}
	b, ok := n.Properties["is_entry_point"].(bool)
	return ok && b
}

func filterByNamePattern(nodes []*Node, pattern string) ([]*Node, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid name pattern: %w", err)
	}
	var filtered []*Node
	for _, n := range nodes {
		if re.MatchString(n.Name) || re.MatchString(n.QualifiedName) {
			filtered = append(filtered, n)
		}
	}
	return filtered, nil
}
