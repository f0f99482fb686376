package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/crate-graph-mcp/internal/store"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 200
)

func (s *Server) handleWorkspaceContext(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	workspace, st, err := s.resolveWorkspace(args)
	if err != nil {
		return errResult(err.Error()), nil
	}

	schema, err := st.GetSchema(workspace)
	if err != nil {
		return errResult(fmt.Sprintf("schema: %v", err)), nil
	}

	out := map[string]any{
		"workspace": workspace,
		"schema":    schema,
	}

	if hasSearchArgs(args) {
		limit := getIntArg(args, "limit", defaultSearchLimit)
		if limit > maxSearchLimit {
			limit = maxSearchLimit
		}
		params := store.SearchParams{
			Workspace:          workspace,
			Label:              getStringArg(args, "label"),
			NamePattern:        getStringArg(args, "name_pattern"),
			FilePattern:        getStringArg(args, "file_pattern"),
			Crate:              getStringArg(args, "crate"),
			Relationship:       getStringArg(args, "relationship"),
			Direction:          getStringArg(args, "direction"),
			MinDegree:          getIntArg(args, "min_degree", -1),
			MaxDegree:          getIntArg(args, "max_degree", -1),
			ActorsOnly:         getBoolArg(args, "actors_only"),
			ExcludeEntryPoints: getBoolArg(args, "exclude_entry_points"),
			Limit:              limit,
		}
		output, err := st.Search(params)
		if err != nil {
			return errResult(fmt.Sprintf("search: %v", err)), nil
		}
		results := make([]map[string]any, 0, len(output.Results))
		for _, r := range output.Results {
			results = append(results, searchResultJSON(r))
		}
		out["results"] = results
		out["total"] = output.Total
	}

	return jsonResult(out), nil
}

func hasSearchArgs(args map[string]any) bool {
	for _, key := range []string{
		"label", "name_pattern", "file_pattern", "crate", "actors_only",
		"relationship", "min_degree", "max_degree", "exclude_entry_points",
	} {
		if _, ok := args[key]; ok {
			return true
		}
	}
	return false
}

func searchResultJSON(r *store.SearchResult) map[string]any {
	m := map[string]any{
		"label":          r.Node.Label,
		"name":           r.Node.Name,
		"qualified_name": r.Node.QualifiedName,
		"file":           r.Node.FilePath,
		"line":           r.Node.StartLine,
	}
	if r.InDegree > 0 || r.OutDegree > 0 {
		m["in_degree"] = r.InDegree
		m["out_degree"] = r.OutDegree
	}
	if len(r.ConnectedNames) > 0 {
		m["connected"] = r.ConnectedNames
	}
	if crate, ok := r.Node.Properties["crate"]; ok {
		m["crate"] = crate
	}
	if isActor, ok := r.Node.Properties["is_actor"].(bool); ok && isActor {
		m["is_actor"] = true
	}
	return m
}
