package watcher

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/DeusData/crate-graph-mcp/internal/discover"
	"github.com/DeusData/crate-graph-mcp/internal/store"
)

const (
	baseInterval = 1 * time.Second
	maxInterval  = 60 * time.Second
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

type workspaceState struct {
	snapshot map[string]fileSnapshot
	interval time.Duration
	nextPoll time.Time
}

// IndexFunc is the callback signature for triggering a re-analysis.
type IndexFunc func(ctx context.Context, workspaceName, rootPath string) error

// Watcher polls analyzed workspaces for file changes and triggers
// re-analysis.
type Watcher struct {
	router     *store.Router
	indexFn    IndexFunc
	workspaces map[string]*workspaceState
	ctx        context.Context
}

// New creates a Watcher. indexFn is called when file changes are detected.
func New(r *store.Router, indexFn IndexFunc) *Watcher {
	return &Watcher{
		router:     r,
		indexFn:    indexFn,
		workspaces: make(map[string]*workspaceState),
	}
}

// Run blocks until ctx is cancelled. Ticks at baseInterval, polling each
// workspace only when its adaptive interval has elapsed.
func (w *Watcher) Run(ctx context.Context) {
	w.ctx = ctx
	ticker := time.NewTicker(baseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollAll()
		}
	}
}

// pollAll lists all analyzed workspaces and polls each that is due.
func (w *Watcher) pollAll() {
	infos, err := w.router.ListWorkspaces()
	if err != nil {
		slog.Warn("watcher.list_workspaces", "err", err)
		return
	}

	now := time.Now()
	for _, info := range infos {
		// Get the store for this workspace (never cache directly)
		st, stErr := w.router.ForWorkspace(info.Name)
		if stErr != nil {
			continue
		}

		ws, wsErr := st.GetWorkspace(info.Name)
		if wsErr != nil || ws == nil || ws.RootPath == "" {
			continue
		}

		state, exists := w.workspaces[info.Name]
		if !exists {
			state = &workspaceState{}
			w.workspaces[info.Name] = state
		}

		if exists && now.Before(state.nextPoll) {
			continue // not due yet
		}

		w.pollWorkspace(ws, state)
	}
}

// pollWorkspace captures a snapshot of the file tree and compares with the
// previous one. First poll: captures baseline without triggering analysis.
// Subsequent polls: triggers indexFn if any file changed.
func (w *Watcher) pollWorkspace(ws *store.Workspace, state *workspaceState) {
	// Verify root path still exists
	if _, err := os.Stat(ws.RootPath); err != nil {
		slog.Warn("watcher.root_gone", "workspace", ws.Name, "path", ws.RootPath)
		state.nextPoll = time.Now().Add(maxInterval)
		return
	}

	snap, err := captureSnapshot(ws.RootPath)
	if err != nil {
		slog.Warn("watcher.snapshot", "workspace", ws.Name, "err", err)
		state.nextPoll = time.Now().Add(state.interval)
		return
	}

	interval := pollInterval(len(snap))

	if state.snapshot == nil {
		// First poll, capture baseline without an index trigger
		slog.Debug("watcher.baseline", "workspace", ws.Name, "files", len(snap))
		state.snapshot = snap
		state.interval = interval
		state.nextPoll = time.Now().Add(interval)
		return
	}

	if snapshotsEqual(state.snapshot, snap) {
		state.interval = interval
		state.nextPoll = time.Now().Add(interval)
		return
	}

	slog.Info("watcher.changed", "workspace", ws.Name, "files", len(snap))
	if err := w.indexFn(w.ctx, ws.Name, ws.RootPath); err != nil {
		slog.Warn("watcher.index", "workspace", ws.Name, "err", err)
		// Keep old snapshot so we retry next cycle
		state.nextPoll = time.Now().Add(interval)
		return
	}

	// Successful analysis, update snapshot and recalculate interval
	state.snapshot = snap
	state.interval = pollInterval(len(snap))
	state.nextPoll = time.Now().Add(state.interval)
}

// captureSnapshot walks the workspace with discovery and captures mtime and
// size for each source file and manifest.
func captureSnapshot(rootPath string) (map[string]fileSnapshot, error) {
	ws, err := discover.Discover(context.Background(), rootPath, nil)
	if err != nil {
		return nil, err
	}

	snap := make(map[string]fileSnapshot)
	for i := range ws.Crates {
		crate := &ws.Crates[i]
		stat(snap, crate.Name+"/Cargo.toml", crate.ManifestPath)
		for _, f := range crate.Files {
			stat(snap, crate.Name+"/"+f.RelPath, f.Path)
		}
	}
	return snap, nil
}

func stat(snap map[string]fileSnapshot, key, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	snap[key] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
}

// snapshotsEqual returns true if two snapshots have identical files with
// the same mtime and size.
func snapshotsEqual(a, b map[string]fileSnapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for path, aSnap := range a {
		bSnap, ok := b[path]
		if !ok {
			return false
		}
		if !aSnap.modTime.Equal(bSnap.modTime) || aSnap.size != bSnap.size {
			return false
		}
	}
	return true
}

// pollInterval computes the adaptive interval from file count.
// 1s base + 1s per 500 files, capped at 60s.
func pollInterval(fileCount int) time.Duration {
	ms := 1000 + (fileCount/500)*1000
	if ms > 60000 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}
