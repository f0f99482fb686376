// Package pipeline orchestrates the analysis passes: discover crates, parse
// and extract per file in parallel, merge per crate, resolve references,
// generate synthetic calls, index cross-crate, optionally enhance, then
// flush the graph in one transaction.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/DeusData/crate-graph-mcp/internal/discover"
	"github.com/DeusData/crate-graph-mcp/internal/enhance"
	"github.com/DeusData/crate-graph-mcp/internal/extract"
	"github.com/DeusData/crate-graph-mcp/internal/globalindex"
	"github.com/DeusData/crate-graph-mcp/internal/patterns"
	"github.com/DeusData/crate-graph-mcp/internal/resolve"
	"github.com/DeusData/crate-graph-mcp/internal/store"
	"github.com/DeusData/crate-graph-mcp/internal/symbols"
	"github.com/DeusData/crate-graph-mcp/internal/synth"
)

// Options configure one pipeline run.
type Options struct {
	Discover  *discover.Options
	Synth     synth.Config
	Enhancer  *enhance.Orchestrator // nil disables enhancement
	CachePath string                // global-index cache file; empty disables caching
}

// Pipeline drives one workspace analysis.
type Pipeline struct {
	ctx           context.Context
	Store         *store.Store
	RootPath      string
	WorkspaceName string
	opts          Options

	Workspace *discover.Workspace
	Units     []*symbols.UnitSymbols
	Index     *globalindex.Index
}

// New creates a Pipeline for the workspace at rootPath.
func New(ctx context.Context, s *store.Store, rootPath string, opts Options) *Pipeline {
	return &Pipeline{
		ctx:           ctx,
		Store:         s,
		RootPath:      rootPath,
		WorkspaceName: WorkspaceNameFromPath(rootPath),
		opts:          opts,
	}
}

// WorkspaceNameFromPath derives a stable workspace name from an absolute
// path by flattening separators.
func WorkspaceNameFromPath(absPath string) string {
	cleaned := filepath.ToSlash(filepath.Clean(absPath))
	name := strings.ReplaceAll(cleaned, "/", "-")
	name = strings.TrimLeft(name, "-")
	if name == "" {
		return "root"
	}
	return name
}

func (p *Pipeline) checkCancel() error {
	return p.ctx.Err()
}

// Run executes every pass and flushes the graph. The only fatal analysis
// condition is a workspace with no crates; everything else degrades to
// diagnostics and unresolved references.
func (p *Pipeline) Run() error {
	slog.Info("pipeline.start", "workspace", p.WorkspaceName, "path", p.RootPath)

	if err := p.checkCancel(); err != nil {
		return err
	}

	ws, err := discover.Discover(p.ctx, p.RootPath, p.opts.Discover)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	p.Workspace = ws
	slog.Info("pipeline.discovered", "crates", len(ws.Crates), "files", ws.FileCount())

	changed, unchanged := p.classifyFiles(ws)
	if len(unchanged) > 0 && len(changed) == 0 {
		slog.Info("incremental.noop", "reason", "no_changes")
		return nil
	}
	if len(unchanged) > 0 {
		slog.Info("incremental.classify", "changed", len(changed), "unchanged", len(unchanged))
	}

	t := time.Now()
	if err := p.passExtract(); err != nil {
		return fmt.Errorf("pass extract: %w", err)
	}
	slog.Info("pass.timing", "pass", "extract", "elapsed", time.Since(t))
	if err := p.checkCancel(); err != nil {
		return err
	}

	t = time.Now()
	for _, u := range p.Units {
		patterns.LinkHandlers(u)
		resolve.Unit(u)
	}
	slog.Info("pass.timing", "pass", "resolve", "elapsed", time.Since(t))

	t = time.Now()
	for _, u := range p.Units {
		synth.Generate(u, p.opts.Synth)
	}
	slog.Info("pass.timing", "pass", "synthetic", "elapsed", time.Since(t))
	if err := p.checkCancel(); err != nil {
		return err
	}

	t = time.Now()
	p.passGlobalIndex()
	slog.Info("pass.timing", "pass", "global_index", "elapsed", time.Since(t))

	if p.opts.Enhancer != nil {
		t = time.Now()
		for _, u := range p.Units {
			p.opts.Enhancer.Unit(p.ctx, u)
		}
		slog.Info("pass.timing", "pass", "enhance", "elapsed", time.Since(t))
	}
	if err := p.checkCancel(); err != nil {
		return err
	}

	t = time.Now()
	if err := p.flush(changed); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	slog.Info("pass.timing", "pass", "flush", "elapsed", time.Since(t))

	nc, _ := p.Store.CountNodes(p.WorkspaceName)
	ec, _ := p.Store.CountEdges(p.WorkspaceName)
	slog.Info("pipeline.done", "nodes", nc, "edges", ec)
	return nil
}

// Analyze runs every in-memory pass without touching the store: discovery,
// extraction, resolution, synthetic generation, and cross-crate indexing.
// Tools that need live units rather than the persisted graph use this.
func (p *Pipeline) Analyze() error {
	ws, err := discover.Discover(p.ctx, p.RootPath, p.opts.Discover)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	p.Workspace = ws

	if err := p.passExtract(); err != nil {
		return fmt.Errorf("pass extract: %w", err)
	}
	for _, u := range p.Units {
		patterns.LinkHandlers(u)
		resolve.Unit(u)
		synth.Generate(u, p.opts.Synth)
	}
	p.passGlobalIndex()
	return nil
}

// classifyFiles splits workspace files into changed and unchanged against
// the stored fingerprints. A first run classifies everything as changed.
func (p *Pipeline) classifyFiles(ws *discover.Workspace) (changed, unchanged []string) {
	stored, err := p.Store.GetFileHashes(p.WorkspaceName)
	if err != nil || len(stored) == 0 {
		for _, crate := range ws.Crates {
			for _, f := range crate.Files {
				changed = append(changed, f.Path)
			}
		}
		return changed, nil
	}
	for _, crate := range ws.Crates {
		for _, f := range crate.Files {
			data, err := os.ReadFile(f.Path)
			if err != nil {
				continue
			}
			if stored[f.Path] == hashBytes(data) {
				unchanged = append(unchanged, f.Path)
			} else {
				changed = append(changed, f.Path)
			}
		}
	}
	// Deleted files also count as a change.
	seen := make(map[string]bool, len(changed)+len(unchanged))
	for _, crate := range ws.Crates {
		for _, f := range crate.Files {
			seen[f.Path] = true
		}
	}
	for path := range stored {
		if !seen[path] {
			changed = append(changed, path)
		}
	}
	return changed, unchanged
}

func hashBytes(data []byte) string {
	return strconv.FormatUint(xxh3.Hash(data), 16)
}

// passExtract parses every file in parallel and merges per crate. Each
// worker is pure: it reads, parses, extracts, detects patterns, and returns
// one FileSymbols; all merging happens after the barrier.
func (p *Pipeline) passExtract() error {
	type fileJob struct {
		crate string
		path  string
		ctx   extract.FileContext
	}
	var jobs []fileJob
	for _, crate := range p.Workspace.Crates {
		for _, f := range crate.Files {
			jobs = append(jobs, fileJob{
				crate: crate.Name,
				path:  f.Path,
				ctx:   extract.FileContext{Crate: crate.Name, RelPath: f.RelPath, IsTest: f.IsTest},
			})
		}
	}

	results := make([]*symbols.FileSymbols, len(jobs))

	g, gctx := errgroup.WithContext(p.ctx)
	g.SetLimit(runtime.NumCPU())
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			source, err := os.ReadFile(job.path)
			if err != nil {
				slog.Warn("extract.read.err", "file", job.path, "err", err)
				return nil
			}
			res := extract.File(job.ctx, source)
			if res.Err != nil {
				slog.Warn("extract.parse.err", "file", job.path, "err", res.Err)
				return nil
			}
			patterns.Detect(res)
			res.Tree.Close()
			results[i] = &res.Symbols
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	units := make(map[string]*symbols.UnitSymbols, len(p.Workspace.Crates))
	for _, crate := range p.Workspace.Crates {
		units[crate.Name] = symbols.NewUnitSymbols(crate.Name)
	}
	for i, fs := range results {
		if fs == nil {
			continue
		}
		units[jobs[i].crate].Merge(fs)
	}
	p.Units = p.Units[:0]
	for _, crate := range p.Workspace.Crates {
		p.Units = append(p.Units, units[crate.Name])
	}

	var diags int
	for _, u := range p.Units {
		diags += len(u.Diagnostics)
	}
	if diags > 0 {
		slog.Debug("extract.diagnostics", "count", diags)
	}
	return nil
}

// passGlobalIndex builds or loads the cross-crate index and runs the second
// resolution pass.
func (p *Pipeline) passGlobalIndex() {
	key := globalindex.CacheKey(p.Workspace)
	if p.opts.CachePath != "" {
		if idx, ok := globalindex.LoadCached(p.opts.CachePath, key); ok {
			slog.Debug("global_index.cache.hit", "exports", len(idx.Exports))
			p.Index = idx
		}
	}
	if p.Index == nil {
		p.Index = globalindex.Build(p.Units)
		if p.opts.CachePath != "" {
			if err := p.Index.Save(p.opts.CachePath, key); err != nil {
				slog.Warn("global_index.cache.save.err", "err", err)
			}
		}
	}

	resolved := 0
	for _, u := range p.Units {
		resolved += p.Index.ResolveCross(u)
	}
	slog.Debug("global_index.resolved", "cross_crate", resolved)
}
