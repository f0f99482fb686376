package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/crate-graph-mcp/internal/store"
)

// impactEdgeTypes are the edge kinds a change propagates backwards along.
var impactEdgeTypes = []string{store.EdgeCalls, store.EdgeSends, store.EdgeSpawns, store.EdgeSendsDistributed}

func (s *Server) handleChangeImpact(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	name := getStringArg(args, "name")
	if name == "" {
		return errResult("name is required"), nil
	}
	depth := getIntArg(args, "depth", 3)
	if depth < 1 {
		depth = 1
	}
	if depth > 5 {
		depth = 5
	}

	workspace, st, err := s.resolveWorkspace(args)
	if err != nil {
		return errResult(err.Error()), nil
	}

	node, err := findNode(st, workspace, name)
	if err != nil {
		return errResult(err.Error()), nil
	}

	result, err := st.BFS(node.ID, "inbound", impactEdgeTypes, depth, 500)
	if err != nil {
		return errResult(fmt.Sprintf("traverse: %v", err)), nil
	}

	hops := store.DeduplicateHops(result.Visited)
	summary := store.BuildImpactSummary(hops, result.Edges)

	dependents := make([]map[string]any, 0, len(hops))
	for _, nh := range hops {
		if nh.Node.ID == node.ID {
			continue
		}
		dependents = append(dependents, map[string]any{
			"name":           nh.Node.Name,
			"qualified_name": nh.Node.QualifiedName,
			"label":          nh.Node.Label,
			"file":           nh.Node.FilePath,
			"hop":            nh.Hop,
			"risk":           store.HopToRisk(nh.Hop),
		})
	}

	return jsonResult(map[string]any{
		"workspace":  workspace,
		"target":     node.QualifiedName,
		"depth":      depth,
		"summary":    summary,
		"dependents": dependents,
	}), nil
}

func (s *Server) handleValidateChange(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	file := getStringArg(args, "file")
	startLine := getIntArg(args, "start_line", 0)
	endLine := getIntArg(args, "end_line", 0)
	if file == "" || startLine <= 0 || endLine < startLine {
		return errResult("file, start_line and end_line are required; end_line must not precede start_line"), nil
	}

	workspace, st, err := s.resolveWorkspace(args)
	if err != nil {
		return errResult(err.Error()), nil
	}

	touched, err := st.FindNodesByFileOverlap(workspace, file, startLine, endLine)
	if err != nil {
		return errResult(fmt.Sprintf("overlap query: %v", err)), nil
	}
	if len(touched) == 0 {
		return jsonResult(map[string]any{
			"workspace": workspace,
			"file":      file,
			"touched":   []any{},
			"verdict":   "no indexed declarations overlap the range; impact unknown, reanalyze if the file is new",
		}), nil
	}

	type touchedDecl struct {
		Name       string              `json:"name"`
		Qualified  string              `json:"qualified_name"`
		Label      string              `json:"label"`
		Dependents int                 `json:"dependents"`
		Summary    store.ImpactSummary `json:"impact"`
	}
	var decls []touchedDecl
	worst := store.RiskLow

	for _, n := range touched {
		result, err := st.BFS(n.ID, "inbound", impactEdgeTypes, 3, 200)
		if err != nil {
			return errResult(fmt.Sprintf("traverse: %v", err)), nil
		}
		hops := store.DeduplicateHops(result.Visited)
		summary := store.BuildImpactSummary(hops, result.Edges)
		decls = append(decls, touchedDecl{
			Name:       n.Name,
			Qualified:  n.QualifiedName,
			Label:      n.Label,
			Dependents: summary.Total,
			Summary:    summary,
		})
		if summary.Critical > 0 {
			worst = store.RiskCritical
		} else if summary.High > 0 && worst != store.RiskCritical {
			worst = store.RiskHigh
		} else if summary.Medium > 0 && worst == store.RiskLow {
			worst = store.RiskMedium
		}
	}

	return jsonResult(map[string]any{
		"workspace": workspace,
		"file":      file,
		"touched":   decls,
		"risk":      worst,
	}), nil
}

// findNode locates a node by qualified name first, then by unique simple
// name. Ambiguity is an error listing the candidates.
func findNode(st *store.Store, workspace, name string) (*store.Node, error) {
	if strings.Contains(name, "::") {
		n, err := st.FindNodeByQN(workspace, name)
		if err != nil {
			return nil, fmt.Errorf("lookup: %w", err)
		}
		if n != nil {
			return n, nil
		}
	}
	matches, err := st.FindNodesByName(workspace, name)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("not found: %s", name)
	case 1:
		return matches[0], nil
	default:
		var qns []string
		for _, m := range matches {
			qns = append(qns, m.QualifiedName)
			if len(qns) == 10 {
				break
			}
		}
		return nil, fmt.Errorf("ambiguous name %s; candidates: %s", name, strings.Join(qns, ", "))
	}
}
