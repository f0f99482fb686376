package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/crate-graph-mcp/internal/store"
)

type refactorCandidate struct {
	Name      string `json:"name"`
	Qualified string `json:"qualified_name"`
	File      string `json:"file"`
	Degree    int    `json:"degree"`
	Reason    string `json:"reason"`
}

func (s *Server) handleRefactorSuggestions(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	workspace, st, err := s.resolveWorkspace(args)
	if err != nil {
		return errResult(err.Error()), nil
	}
	fanThreshold := getIntArg(args, "fan_threshold", 10)
	limit := getIntArg(args, "limit", 10)

	fanIn, err := degreeSearch(st, workspace, "inbound", fanThreshold, limit,
		"widely depended on; consider a stable interface in front of it")
	if err != nil {
		return errResult(err.Error()), nil
	}
	fanOut, err := degreeSearch(st, workspace, "outbound", fanThreshold, limit,
		"calls many collaborators; consider splitting responsibilities")
	if err != nil {
		return errResult(err.Error()), nil
	}

	dead, err := st.Search(store.SearchParams{
		Workspace:          workspace,
		Label:              store.LabelFunction,
		Relationship:       store.EdgeCalls,
		Direction:          "inbound",
		MinDegree:          -1,
		MaxDegree:          0,
		ExcludeEntryPoints: true,
		Limit:              limit,
	})
	if err != nil {
		return errResult(fmt.Sprintf("dead-code search: %v", err)), nil
	}
	var deadCode []refactorCandidate
	for _, r := range dead.Results {
		if isTest, _ := r.Node.Properties["is_test"].(bool); isTest {
			continue
		}
		if traitImpl, _ := r.Node.Properties["is_trait_impl"].(bool); traitImpl {
			continue
		}
		deadCode = append(deadCode, refactorCandidate{
			Name:      r.Node.Name,
			Qualified: r.Node.QualifiedName,
			File:      r.Node.FilePath,
			Reason:    "no inbound calls; possibly dead or reached only through dynamic dispatch",
		})
	}

	busyActors, err := busyActorCandidates(st, workspace, fanThreshold, limit)
	if err != nil {
		return errResult(err.Error()), nil
	}

	return jsonResult(map[string]any{
		"workspace":     workspace,
		"fan_threshold": fanThreshold,
		"high_fan_in":   fanIn,
		"high_fan_out":  fanOut,
		"dead_code":     deadCode,
		"busy_actors":   busyActors,
	}), nil
}

func degreeSearch(st *store.Store, workspace, direction string, threshold, limit int, reason string) ([]refactorCandidate, error) {
	out, err := st.Search(store.SearchParams{
		Workspace:    workspace,
		Label:        store.LabelFunction,
		Relationship: store.EdgeCalls,
		Direction:    direction,
		MinDegree:    threshold,
		MaxDegree:    -1,
		Limit:        limit,
	})
	if err != nil {
		return nil, fmt.Errorf("degree search: %w", err)
	}
	var candidates []refactorCandidate
	for _, r := range out.Results {
		degree := r.InDegree
		if direction == "outbound" {
			degree = r.OutDegree
		}
		candidates = append(candidates, refactorCandidate{
			Name:      r.Node.Name,
			Qualified: r.Node.QualifiedName,
			File:      r.Node.FilePath,
			Degree:    degree,
			Reason:    reason,
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Degree > candidates[j].Degree })
	return candidates, nil
}

// busyActorCandidates flags actors whose handled-message count passes the
// threshold. An actor handling a dozen message types usually hides several
// responsibilities.
func busyActorCandidates(st *store.Store, workspace string, threshold, limit int) ([]refactorCandidate, error) {
	actors, err := st.FindActors(workspace)
	if err != nil {
		return nil, fmt.Errorf("find actors: %w", err)
	}
	var candidates []refactorCandidate
	for _, n := range actors {
		handles, err := st.FindEdgesBySourceAndType(n.ID, store.EdgeHandles)
		if err != nil {
			return nil, fmt.Errorf("handles edges: %w", err)
		}
		if len(handles) < threshold {
			continue
		}
		candidates = append(candidates, refactorCandidate{
			Name:      n.Name,
			Qualified: n.QualifiedName,
			File:      n.FilePath,
			Degree:    len(handles),
			Reason:    "handles many message types; consider splitting the actor",
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Degree > candidates[j].Degree })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
