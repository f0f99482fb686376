package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/crate-graph-mcp/internal/traces"
)

func (s *Server) handleImportTrace(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	file := getStringArg(args, "file")
	if file == "" {
		return errResult("file is required"), nil
	}

	workspace, st, err := s.resolveWorkspace(args)
	if err != nil {
		return errResult(err.Error()), nil
	}

	result, err := traces.Ingest(st, workspace, file)
	if err != nil {
		return errResult(fmt.Sprintf("ingest: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"workspace": workspace,
		"result":    result,
	}), nil
}
