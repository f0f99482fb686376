package tools

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/crate-graph-mcp/internal/arch"
	"github.com/DeusData/crate-graph-mcp/internal/discover"
	"github.com/DeusData/crate-graph-mcp/internal/pipeline"
	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

// archConfigName is the default layer-config file looked up at the
// workspace root.
const archConfigName = "crate-graph.yaml"

// analyzeLive runs the in-memory passes for a workspace path, without
// persisting anything. Validation tools need the live units, not the graph.
func (s *Server) analyzeLive(ctx context.Context, args map[string]any) (*pipeline.Pipeline, error) {
	path := getStringArg(args, "path")
	if path == "" {
		workspace, st, err := s.resolveWorkspace(args)
		if err != nil {
			return nil, err
		}
		path = rootPathOf(st, workspace)
		if path == "" {
			return nil, fmt.Errorf("no workspace root known; pass a path")
		}
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("bad path: %w", err)
	}

	p := pipeline.New(ctx, nil, absPath, pipeline.Options{Synth: s.opts.Synth})
	if err := p.Analyze(); err != nil {
		if errors.Is(err, discover.ErrNoCrates) {
			return nil, fmt.Errorf("no analyzable crates under %s", absPath)
		}
		return nil, fmt.Errorf("analyze: %w", err)
	}
	return p, nil
}

func (s *Server) handleArchitectureReport(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	p, err := s.analyzeLive(ctx, args)
	if err != nil {
		return errResult(err.Error()), nil
	}

	cfgPath := getStringArg(args, "config")
	if cfgPath == "" {
		cfgPath = s.opts.ArchConfigPath
	}
	if cfgPath == "" {
		cfgPath = filepath.Join(p.RootPath, archConfigName)
	}
	cfg, err := arch.LoadConfig(cfgPath)
	if err != nil {
		return errResult(fmt.Sprintf("load config: %v", err)), nil
	}

	report := arch.NewValidator(cfg).Validate(p.Workspace, p.Units)

	out := map[string]any{
		"workspace":  p.WorkspaceName,
		"violations": report.Violations,
		"cycles":     report.Cycles,
		"health":     report.Health,
	}
	if len(cfg.Layers) == 0 {
		out["note"] = "no layer config found; only cycle, visibility and import-depth checks ran"
	}
	return jsonResult(out), nil
}

func (s *Server) handleDependencyIssues(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	p, err := s.analyzeLive(ctx, args)
	if err != nil {
		return errResult(err.Error()), nil
	}

	report := arch.NewValidator(arch.Config{}).Validate(p.Workspace, p.Units)

	type lowConfidenceCall struct {
		From       string  `json:"from"`
		To         string  `json:"to"`
		Crate      string  `json:"crate"`
		ToCrate    string  `json:"to_crate"`
		Confidence float64 `json:"confidence"`
		File       string  `json:"file"`
		Line       int     `json:"line"`
	}

	var lowConfidence []lowConfidenceCall
	unresolved := map[string]int{}
	for _, unit := range p.Units {
		for i := range unit.Calls {
			c := &unit.Calls[i]
			if c.Kind == symbols.CallMacro {
				continue
			}
			if c.QualifiedCallee == "" {
				unresolved[unit.Crate]++
				continue
			}
			if c.CrossCrate && c.IsSynthetic && c.Confidence < 0.9 {
				lowConfidence = append(lowConfidence, lowConfidenceCall{
					From:       c.CallerQN,
					To:         c.QualifiedCallee,
					Crate:      c.FromCrate,
					ToCrate:    c.ToCrate,
					Confidence: c.Confidence,
					File:       c.FilePath,
					Line:       c.Line,
				})
			}
		}
	}

	crates := make([]string, 0, len(unresolved))
	for crate := range unresolved {
		crates = append(crates, crate)
	}
	sort.Strings(crates)
	unresolvedOut := make([]map[string]any, 0, len(crates))
	for _, crate := range crates {
		unresolvedOut = append(unresolvedOut, map[string]any{
			"crate":      crate,
			"unresolved": unresolved[crate],
		})
	}

	return jsonResult(map[string]any{
		"workspace":             p.WorkspaceName,
		"cycles":                report.Cycles,
		"low_confidence_calls":  lowConfidence,
		"unresolved_references": unresolvedOut,
	}), nil
}
