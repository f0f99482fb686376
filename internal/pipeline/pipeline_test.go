package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DeusData/crate-graph-mcp/internal/discover"
	"github.com/DeusData/crate-graph-mcp/internal/store"
	"github.com/DeusData/crate-graph-mcp/internal/synth"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeWorkspace lays out a two-crate fixture: a library crate and an
// actor-style application crate depending on it.
func writeWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "core-lib", "Cargo.toml"), `[package]
name = "core-lib"
version = "0.1.0"
`)
	writeFile(t, filepath.Join(root, "core-lib", "src", "lib.rs"), `pub mod db;
`)
	writeFile(t, filepath.Join(root, "core-lib", "src", "db.rs"), `pub struct Pool;

impl Pool {
    pub fn connect() -> Pool {
        Pool
    }
}
`)

	writeFile(t, filepath.Join(root, "app", "Cargo.toml"), `[package]
name = "app"
version = "0.1.0"

[dependencies]
core-lib = { path = "../core-lib" }
`)
	writeFile(t, filepath.Join(root, "app", "src", "main.rs"), `use core_lib::db::Pool;

pub struct OrderActor;
pub struct SupervisorActor;
pub struct PlaceOrder {
    pub id: u64,
}
pub struct StatusQuery;

pub trait Restartable {}

impl Restartable for SupervisorActor {}

impl Actor for OrderActor {}
impl Actor for SupervisorActor {}

impl Message<PlaceOrder> for OrderActor {
    type Reply = ();

    async fn handle(&mut self, msg: PlaceOrder, ctx: &mut Context<Self, Self::Reply>) -> Self::Reply {}
}

impl SupervisorActor {
    fn route(&self) {
        let orders: ActorRef<OrderActor> = self.orders();
        orders.tell(PlaceOrder { id: 1 });
    }
}

fn main() {
    let pool = Pool::connect();
    let orders = OrderActor::spawn(OrderActor::default());
}
`)
	return root
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunBuildsGraph(t *testing.T) {
	root := writeWorkspace(t)
	s := newTestStore(t)
	p := New(context.Background(), s, root, Options{Synth: synth.DefaultConfig()})

	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ws := p.WorkspaceName

	nodes, err := s.CountNodes(ws)
	if err != nil || nodes == 0 {
		t.Fatalf("nodes = %d, err = %v", nodes, err)
	}

	mainFn, err := s.FindNodeByQN(ws, "app::main")
	if err != nil || mainFn == nil {
		t.Fatalf("app::main not stored: %v", err)
	}
	if mainFn.Label != store.LabelFunction {
		t.Errorf("app::main label = %q", mainFn.Label)
	}
	if mainFn.Properties["is_entry_point"] != true {
		t.Errorf("app::main properties = %v", mainFn.Properties)
	}

	actor, err := s.FindNodeByQN(ws, "app::OrderActor")
	if err != nil || actor == nil {
		t.Fatalf("app::OrderActor not stored: %v", err)
	}
	if actor.Label != store.LabelType || actor.Properties["is_actor"] != true {
		t.Errorf("actor node = %+v", actor)
	}

	query, err := s.FindNodeByQN(ws, "app::StatusQuery")
	if err != nil || query == nil {
		t.Fatalf("app::StatusQuery not stored: %v", err)
	}
	if query.Label != store.LabelMessageType {
		t.Errorf("StatusQuery label = %q", query.Label)
	}

	if crate, _ := s.FindNodeByQN(ws, "core_lib"); crate == nil || crate.Label != store.LabelCrate {
		t.Errorf("crate node = %+v", crate)
	}

	deps, err := s.FindEdgesByType(ws, store.EdgeDependsOn)
	if err != nil || len(deps) != 1 {
		t.Fatalf("DEPENDS_ON edges = %d, err = %v", len(deps), err)
	}

	calls, err := s.FindEdgesByType(ws, store.EdgeCalls)
	if err != nil || len(calls) == 0 {
		t.Fatalf("CALLS edges = %d, err = %v", len(calls), err)
	}
	var crossCrate, synthetic bool
	for _, e := range calls {
		if e.Properties["cross_unit"] == true {
			crossCrate = true
		}
		if e.Properties["is_synthetic"] == true {
			synthetic = true
		}
	}
	if !crossCrate {
		t.Error("no cross-crate call edge (Pool::connect should resolve into core_lib)")
	}
	if !synthetic {
		t.Error("no synthetic call edge (handle lifecycle dispatch missing)")
	}

	for _, edgeType := range []string{store.EdgeHandles, store.EdgeSpawns, store.EdgeSends, store.EdgeImplements} {
		edges, err := s.FindEdgesByType(ws, edgeType)
		if err != nil || len(edges) == 0 {
			t.Errorf("%s edges = %d, err = %v", edgeType, len(edges), err)
		}
	}

	handles, err := s.FindEdgesByType(ws, store.EdgeHandles)
	if err != nil || len(handles) == 0 {
		t.Fatalf("HANDLES edges = %d, err = %v", len(handles), err)
	}
	if got := handles[0].Properties["is_async"]; got != true {
		t.Errorf("HANDLES is_async = %v, want true", got)
	}
	if _, ok := handles[0].Properties["reply_type"]; !ok {
		t.Errorf("HANDLES properties missing reply_type: %v", handles[0].Properties)
	}

	if w, err := s.GetWorkspace(ws); err != nil || w.RootPath != root {
		t.Errorf("workspace record = %+v, err = %v", w, err)
	}
}

func TestRunIncrementalNoop(t *testing.T) {
	root := writeWorkspace(t)
	s := newTestStore(t)

	p := New(context.Background(), s, root, Options{Synth: synth.DefaultConfig()})
	if err := p.Run(); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	before, _ := s.CountNodes(p.WorkspaceName)

	p2 := New(context.Background(), s, root, Options{Synth: synth.DefaultConfig()})
	if err := p2.Run(); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	after, _ := s.CountNodes(p2.WorkspaceName)
	if before != after {
		t.Errorf("unchanged workspace reindexed: %d -> %d nodes", before, after)
	}
}

func TestRunPicksUpChanges(t *testing.T) {
	root := writeWorkspace(t)
	s := newTestStore(t)

	p := New(context.Background(), s, root, Options{Synth: synth.DefaultConfig()})
	if err := p.Run(); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	writeFile(t, filepath.Join(root, "core-lib", "src", "db.rs"), `pub struct Pool;

impl Pool {
    pub fn connect() -> Pool {
        Pool
    }

    pub fn close(&self) {}
}
`)

	p2 := New(context.Background(), s, root, Options{Synth: synth.DefaultConfig()})
	if err := p2.Run(); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	added, err := s.FindNodeByQN(p2.WorkspaceName, "core_lib::db::Pool::close")
	if err != nil || added == nil {
		t.Errorf("new function not indexed after change: %v", err)
	}
}

func TestRunNoCrates(t *testing.T) {
	s := newTestStore(t)
	p := New(context.Background(), s, t.TempDir(), Options{})
	err := p.Run()
	if !errors.Is(err, discover.ErrNoCrates) {
		t.Errorf("err = %v, want ErrNoCrates", err)
	}
}

func TestAnalyzeInMemory(t *testing.T) {
	root := writeWorkspace(t)
	p := New(context.Background(), nil, root, Options{Synth: synth.DefaultConfig()})

	if err := p.Analyze(); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if p.Workspace == nil || len(p.Workspace.Crates) != 2 {
		t.Fatalf("workspace = %+v", p.Workspace)
	}
	if len(p.Units) != 2 {
		t.Fatalf("units = %d", len(p.Units))
	}
	if p.Index == nil || !p.Index.Has("core_lib::db::Pool::connect") {
		t.Error("global index missing core_lib exports")
	}

	var resolved bool
	for _, u := range p.Units {
		for _, c := range u.Calls {
			if c.QualifiedCallee == "core_lib::db::Pool::connect" && c.CrossCrate {
				resolved = true
			}
		}
	}
	if !resolved {
		t.Error("cross-crate call not resolved in memory")
	}
}

func TestGlobalIndexCacheReuse(t *testing.T) {
	root := writeWorkspace(t)
	cachePath := filepath.Join(t.TempDir(), "global-index.cache")

	p := New(context.Background(), nil, root, Options{Synth: synth.DefaultConfig(), CachePath: cachePath})
	if err := p.Analyze(); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, err := os.Stat(cachePath); err != nil {
		t.Fatalf("cache not written: %v", err)
	}

	p2 := New(context.Background(), nil, root, Options{Synth: synth.DefaultConfig(), CachePath: cachePath})
	if err := p2.Analyze(); err != nil {
		t.Fatalf("second Analyze: %v", err)
	}
	if !p2.Index.Has("core_lib::db::Pool::connect") {
		t.Error("cached index missing exports")
	}
}

func TestWorkspaceNameFromPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/home/dev/proj", "home-dev-proj"},
		{"/home/dev/proj/", "home-dev-proj"},
		{"/", "root"},
	}
	for _, tt := range tests {
		if got := WorkspaceNameFromPath(tt.in); got != tt.want {
			t.Errorf("WorkspaceNameFromPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
