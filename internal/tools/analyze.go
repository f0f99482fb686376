package tools

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/crate-graph-mcp/internal/discover"
	"github.com/DeusData/crate-graph-mcp/internal/pipeline"
)

func (s *Server) handleAnalyzeWorkspace(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	path := getStringArg(args, "path")
	if path == "" {
		return errResult("path is required"), nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errResult(fmt.Sprintf("bad path: %v", err)), nil
	}

	// One indexing run at a time; concurrent runs would race on the same
	// workspace database.
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	workspace := pipeline.WorkspaceNameFromPath(absPath)
	st, err := s.router.ForWorkspace(workspace)
	if err != nil {
		return errResult(fmt.Sprintf("open store: %v", err)), nil
	}

	p := pipeline.New(ctx, st, absPath, pipeline.Options{
		Synth:     s.opts.Synth,
		Enhancer:  s.opts.Enhancer,
		CachePath: s.opts.CachePath,
	})
	if err := p.Run(); err != nil {
		if errors.Is(err, discover.ErrNoCrates) {
			return errResult(fmt.Sprintf("no analyzable crates under %s", absPath)), nil
		}
		return errResult(fmt.Sprintf("analyze failed: %v", err)), nil
	}

	nodes, err := st.CountNodes(workspace)
	if err != nil {
		return errResult(fmt.Sprintf("count nodes: %v", err)), nil
	}
	edges, err := st.CountEdges(workspace)
	if err != nil {
		return errResult(fmt.Sprintf("count edges: %v", err)), nil
	}

	out := map[string]any{
		"workspace": workspace,
		"path":      absPath,
		"nodes":     nodes,
		"edges":     edges,
	}
	if p.Workspace != nil {
		crates := make([]string, 0, len(p.Workspace.Crates))
		for _, c := range p.Workspace.Crates {
			crates = append(crates, c.Name)
		}
		out["crates"] = crates
		out["files"] = p.Workspace.FileCount()
	}
	return jsonResult(out), nil
}
