package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/crate-graph-mcp/internal/store"
)

func (s *Server) handleTestCoverage(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	workspace, st, err := s.resolveWorkspace(args)
	if err != nil {
		return errResult(err.Error()), nil
	}
	crateFilter := getStringArg(args, "crate")

	funcs, err := st.FindNodesByLabel(workspace, store.LabelFunction)
	if err != nil {
		return errResult(fmt.Sprintf("load functions: %v", err)), nil
	}
	calls, err := st.FindEdgesByType(workspace, store.EdgeCalls)
	if err != nil {
		return errResult(fmt.Sprintf("load calls: %v", err)), nil
	}

	byID := make(map[int64]*store.Node, len(funcs))
	var testRoots []int64
	for _, n := range funcs {
		byID[n.ID] = n
		if isTest, _ := n.Properties["is_test"].(bool); isTest {
			testRoots = append(testRoots, n.ID)
		}
	}

	adjacency := make(map[int64][]int64)
	for _, e := range calls {
		adjacency[e.SourceID] = append(adjacency[e.SourceID], e.TargetID)
	}

	// Everything transitively callable from a test counts as reached.
	reached := make(map[int64]bool)
	queue := append([]int64(nil), testRoots...)
	for _, id := range testRoots {
		reached[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[id] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}

	type crateCoverage struct {
		Crate     string   `json:"crate"`
		Functions int      `json:"functions"`
		Reached   int      `json:"reached"`
		Percent   float64  `json:"percent"`
		Untested  []string `json:"untested_sample,omitempty"`
	}
	perCrate := map[string]*crateCoverage{}

	tests := 0
	for _, n := range funcs {
		if isTest, _ := n.Properties["is_test"].(bool); isTest {
			tests++
			continue
		}
		crate, _ := n.Properties["crate"].(string)
		if crateFilter != "" && crate != crateFilter {
			continue
		}
		cc := perCrate[crate]
		if cc == nil {
			cc = &crateCoverage{Crate: crate}
			perCrate[crate] = cc
		}
		cc.Functions++
		if reached[n.ID] {
			cc.Reached++
		} else if len(cc.Untested) < 10 {
			cc.Untested = append(cc.Untested, n.QualifiedName)
		}
	}

	crates := make([]*crateCoverage, 0, len(perCrate))
	for _, cc := range perCrate {
		if cc.Functions > 0 {
			cc.Percent = float64(cc.Reached) / float64(cc.Functions) * 100
		}
		crates = append(crates, cc)
	}
	sort.Slice(crates, func(i, j int) bool { return crates[i].Crate < crates[j].Crate })

	totalFuncs, totalReached := 0, 0
	for _, cc := range crates {
		totalFuncs += cc.Functions
		totalReached += cc.Reached
	}
	overall := 0.0
	if totalFuncs > 0 {
		overall = float64(totalReached) / float64(totalFuncs) * 100
	}

	return jsonResult(map[string]any{
		"workspace":       workspace,
		"test_functions":  tests,
		"functions":       totalFuncs,
		"reached":         totalReached,
		"overall_percent": overall,
		"crates":          crates,
		"note":            "reference reach through CALLS edges, not executed-line coverage",
	}), nil
}
