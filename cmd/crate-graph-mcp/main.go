package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/crate-graph-mcp/internal/arch"
	"github.com/DeusData/crate-graph-mcp/internal/enhance"
	"github.com/DeusData/crate-graph-mcp/internal/pipeline"
	"github.com/DeusData/crate-graph-mcp/internal/store"
	"github.com/DeusData/crate-graph-mcp/internal/synth"
	"github.com/DeusData/crate-graph-mcp/internal/tools"
	"github.com/DeusData/crate-graph-mcp/internal/watcher"
)

var version = "dev"

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "--version":
			fmt.Println("crate-graph-mcp", version)
			return
		case "index":
			if len(args) < 2 {
				log.Fatal("usage: crate-graph-mcp index <workspace-path>")
			}
			runIndex(args[1])
			return
		case "validate":
			if len(args) < 2 {
				log.Fatal("usage: crate-graph-mcp validate <workspace-path> [config]")
			}
			cfgPath := ""
			if len(args) > 2 {
				cfgPath = args[2]
			}
			runValidate(args[1], cfgPath)
			return
		}
	}

	serve()
}

func serve() {
	router, err := store.NewRouter()
	if err != nil {
		log.Fatalf("store router err=%v", err)
	}

	opts := serverOptions(router)
	srv := tools.NewServer(router, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if os.Getenv("CRATE_GRAPH_WATCH") == "1" {
		w := watcher.New(router, func(ctx context.Context, workspaceName, rootPath string) error {
			st, err := router.ForWorkspace(workspaceName)
			if err != nil {
				return err
			}
			p := pipeline.New(ctx, st, rootPath, pipeline.Options{
				Synth:     opts.Synth,
				Enhancer:  opts.Enhancer,
				CachePath: opts.CachePath,
			})
			return p.Run()
		})
		go w.Run(ctx)
	}

	runErr := srv.MCPServer().Run(ctx, &mcp.StdioTransport{})
	cancel()
	router.CloseAll()
	if runErr != nil {
		log.Fatalf("server err=%v", runErr)
	}
}

func serverOptions(router *store.Router) tools.Options {
	opts := tools.Options{
		ArchConfigPath: os.Getenv("CRATE_GRAPH_ARCH_CONFIG"),
		CachePath:      filepath.Join(router.Dir(), "global-index.cache"),
		Synth:          synth.DefaultConfig(),
	}
	if url := os.Getenv("CRATE_GRAPH_ENHANCE_URL"); url != "" {
		svc := enhance.NewHTTPService(url, nil)
		opts.Enhancer = enhance.New(svc, enhance.Options{}, nil)
	}
	return opts
}

func runIndex(path string) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		log.Fatalf("bad path err=%v", err)
	}
	workspace := pipeline.WorkspaceNameFromPath(absPath)

	router, err := store.NewRouter()
	if err != nil {
		log.Fatalf("store router err=%v", err)
	}
	defer router.CloseAll()

	st, err := router.ForWorkspace(workspace)
	if err != nil {
		log.Fatalf("store open err=%v", err)
	}

	p := pipeline.New(context.Background(), st, absPath, pipeline.Options{
		Synth:     synth.DefaultConfig(),
		CachePath: filepath.Join(router.Dir(), "global-index.cache"),
	})
	if err := p.Run(); err != nil {
		log.Fatalf("index err=%v", err)
	}

	nodes, _ := st.CountNodes(workspace)
	edges, _ := st.CountEdges(workspace)
	fmt.Printf("indexed %s: %d nodes, %d edges\n", workspace, nodes, edges)
}

func runValidate(path, cfgPath string) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		log.Fatalf("bad path err=%v", err)
	}
	if cfgPath == "" {
		cfgPath = filepath.Join(absPath, "crate-graph.yaml")
	}
	cfg, err := arch.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config err=%v", err)
	}

	p := pipeline.New(context.Background(), nil, absPath, pipeline.Options{
		Synth: synth.DefaultConfig(),
	})
	if err := p.Analyze(); err != nil {
		log.Fatalf("analyze err=%v", err)
	}

	report := arch.NewValidator(cfg).Validate(p.Workspace, p.Units)
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("marshal err=%v", err)
	}
	fmt.Println(string(out))

	if report.Health.Band == "critical" {
		os.Exit(1)
	}
}
