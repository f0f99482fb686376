// Package tools exposes the analysis over MCP: workspace indexing, graph
// queries, architecture validation, and change-impact assessment.
package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/crate-graph-mcp/internal/enhance"
	"github.com/DeusData/crate-graph-mcp/internal/store"
	"github.com/DeusData/crate-graph-mcp/internal/synth"
)

// Options configure the tool server.
type Options struct {
	ArchConfigPath string
	CachePath      string
	Synth          synth.Config
	Enhancer       *enhance.Orchestrator
}

// Server wraps the MCP server with tool handlers.
type Server struct {
	mcp    *mcp.Server
	router *store.Router
	opts   Options

	indexMu sync.Mutex
}

// NewServer creates the MCP server with every tool registered.
func NewServer(router *store.Router, opts Options) *Server {
	srv := &Server{
		router: router,
		opts:   opts,
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    "crate-graph-mcp",
				Version: "0.1.0",
			},
			nil,
		),
	}
	srv.registerTools()
	return srv
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	s.mcp.AddTool(&mcp.Tool{
		Name:        "analyze_workspace",
		Description: "Analyze a Rust workspace into the crate graph. Discovers crates, extracts functions/types/modules, detects actor patterns (spawns, message handlers, sends), resolves call references within and across crates, generates synthetic calls for macro expansions and framework dispatch, and stores the graph. Supports incremental reindex via content hashing.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "Absolute path to the workspace root (directory containing Cargo.toml)"
				}
			},
			"required": ["path"]
		}`),
	}, s.handleAnalyzeWorkspace)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "workspace_context",
		Description: "Summarize an analyzed workspace: node label counts, edge type counts, relationship patterns, sample function/actor/message names, plus structured search over nodes by label, name regex, file glob, crate, and edge degree. Use max_degree=0 with exclude_entry_points for dead-code candidates.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"workspace": {
					"type": "string",
					"description": "Workspace name. If omitted, the most recently analyzed workspace is used."
				},
				"label": {
					"type": "string",
					"description": "Node label filter: Crate, Module, Type, Function, MessageType"
				},
				"name_pattern": {
					"type": "string",
					"description": "Regex over node name and qualified name (e.g. '.*Actor')"
				},
				"file_pattern": {
					"type": "string",
					"description": "Glob over file path (e.g. 'src/io/**')"
				},
				"crate": {
					"type": "string",
					"description": "Restrict to one crate"
				},
				"actors_only": {
					"type": "boolean",
					"description": "Only types classified as actors"
				},
				"relationship": {
					"type": "string",
					"description": "Edge type for degree counting: CALLS, SPAWNS, SENDS, HANDLES, IMPLEMENTS"
				},
				"direction": {
					"type": "string",
					"enum": ["inbound", "outbound", "any"]
				},
				"min_degree": {"type": "integer"},
				"max_degree": {"type": "integer"},
				"exclude_entry_points": {"type": "boolean"},
				"limit": {
					"type": "integer",
					"description": "Max results (default 50, max 200)"
				}
			}
		}`),
	}, s.handleWorkspaceContext)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "architecture_report",
		Description: "Validate a workspace against its declared layering (crate-graph.yaml): upward layer calls, manifest dependencies against the layering, crate dependency cycles, cross-crate calls into private items, and deep imports. Returns violations plus a health score and band.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "Workspace root path. If omitted, the most recent workspace's stored root is used."
				},
				"config": {
					"type": "string",
					"description": "Path to the layer config. Defaults to crate-graph.yaml at the workspace root."
				}
			}
		}`),
	}, s.handleArchitectureReport)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "dependency_issues",
		Description: "Report crate-level dependency problems: cycles, cross-crate call edges with low confidence, and unresolved references per crate. Lighter than architecture_report; needs no layer config.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "Workspace root path. If omitted, the most recent workspace's stored root is used."
				}
			}
		}`),
	}, s.handleDependencyIssues)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "test_coverage",
		Description: "Estimate graph-level test reach: which non-test functions are reachable from test functions through CALLS edges, per crate. This is reference coverage, not line coverage.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"workspace": {"type": "string"},
				"crate": {
					"type": "string",
					"description": "Restrict to one crate"
				}
			}
		}`),
	}, s.handleTestCoverage)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "change_impact",
		Description: "Trace what a change to a function or type would reach, via inbound CALLS/SENDS/SPAWNS BFS. Returns dependents hop-by-hop with risk levels (hop 1 CRITICAL through LOW), whether distributed sends or synthetic edges widen the blast radius, and a summary.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"workspace": {"type": "string"},
				"name": {
					"type": "string",
					"description": "Simple or qualified name of the changed function/type"
				},
				"depth": {
					"type": "integer",
					"description": "Max BFS depth (1-5, default 3)"
				}
			},
			"required": ["name"]
		}`),
	}, s.handleChangeImpact)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "validate_change",
		Description: "Check a proposed edit (file plus line range) before making it: which declarations overlap the range, their inbound dependents with risk levels, and any architecture violations the edit's crate already participates in.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"workspace": {"type": "string"},
				"file": {
					"type": "string",
					"description": "File path (suffix match against stored paths)"
				},
				"start_line": {"type": "integer"},
				"end_line": {"type": "integer"}
			},
			"required": ["file", "start_line", "end_line"]
		}`),
	}, s.handleValidateChange)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "refactor_suggestions",
		Description: "Surface refactoring candidates from graph shape: high fan-in functions (widely depended on, extract an interface), high fan-out functions (doing too much, split), unreferenced non-test functions (dead-code candidates), and actors handling many message types.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"workspace": {"type": "string"},
				"fan_threshold": {
					"type": "integer",
					"description": "Degree above which fan-in/fan-out is flagged (default 10)"
				},
				"limit": {
					"type": "integer",
					"description": "Max candidates per category (default 10)"
				}
			}
		}`),
	}, s.handleRefactorSuggestions)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "import_trace",
		Description: "Ingest an OTLP JSON trace export from an instrumented actor runtime. Observed message deliveries confirm statically detected SENDS and SENDS_DISTRIBUTED edges, raise their confidence, and record call counts and p99 latency on the edges.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"workspace": {"type": "string"},
				"file": {
					"type": "string",
					"description": "Path to the OTLP JSON export"
				}
			},
			"required": ["file"]
		}`),
	}, s.handleImportTrace)
}

// jsonResult marshals data to JSON and returns it as the tool result.
func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult("json marshal err=" + err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}

// errResult returns a tool result indicating an error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// parseArgs unmarshals the raw JSON arguments into a map.
func parseArgs(req *mcp.CallToolRequest) (map[string]any, error) {
	if len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &m); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return m, nil
}

func getStringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// getIntArg extracts an integer argument; JSON numbers decode as float64.
func getIntArg(args map[string]any, key string, defaultVal int) int {
	f, ok := args[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(f)
}

func getBoolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// resolveWorkspace picks the workspace to operate on: the named one, or the
// most recently analyzed when the argument is empty.
func (s *Server) resolveWorkspace(args map[string]any) (string, *store.Store, error) {
	name := getStringArg(args, "workspace")
	if name != "" {
		if !s.router.HasWorkspace(name) {
			return "", nil, fmt.Errorf("workspace not analyzed: %s", name)
		}
		st, err := s.router.ForWorkspace(name)
		return name, st, err
	}

	infos, err := s.router.ListWorkspaces()
	if err != nil {
		return "", nil, fmt.Errorf("list workspaces: %w", err)
	}
	if len(infos) == 0 {
		return "", nil, fmt.Errorf("no analyzed workspaces; run analyze_workspace first")
	}

	latest := ""
	latestAt := ""
	for _, info := range infos {
		st, err := s.router.ForWorkspace(info.Name)
		if err != nil {
			continue
		}
		w, err := st.GetWorkspace(info.Name)
		if err != nil {
			continue
		}
		if w.IndexedAt > latestAt {
			latestAt = w.IndexedAt
			latest = info.Name
		}
	}
	if latest == "" {
		latest = infos[0].Name
	}
	st, err := s.router.ForWorkspace(latest)
	return latest, st, err
}

// rootPathOf returns the stored root path for a workspace, or "".
func rootPathOf(st *store.Store, workspace string) string {
	w, err := st.GetWorkspace(workspace)
	if err != nil || w == nil {
		return ""
	}
	return w.RootPath
}
