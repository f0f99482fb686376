package resolve

import (
	"testing"

	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

func testUnit() *symbols.UnitSymbols {
	u := symbols.NewUnitSymbols("app")
	u.Merge(&symbols.FileSymbols{
		Functions: []symbols.Function{
			{Name: "init", QualifiedName: "app::init", Crate: "app", ModulePath: "app", LineStart: 1},
			{Name: "save", QualifiedName: "app::db::save", Crate: "app", ModulePath: "app::db", LineStart: 5},
			{Name: "render", QualifiedName: "app::ui::render", Crate: "app", ModulePath: "app::ui", LineStart: 3},
			{Name: "new", QualifiedName: "app::db::Pool::new", Crate: "app", ModulePath: "app::db", LineStart: 12},
		},
		Types: []symbols.TypeDecl{
			{Name: "Pool", QualifiedName: "app::db::Pool", Crate: "app", ModulePath: "app::db", LineStart: 10, Kind: symbols.TypeStruct},
		},
		Modules: []symbols.Module{
			{Name: "db", Path: "app::db", Crate: "app"},
			{Name: "ui", Path: "app::ui", Crate: "app"},
		},
		Imports: []symbols.Import{
			{Path: "app::db::save", Alias: "save", Kind: symbols.ImportGrouped, FilePath: "src/main.rs", Line: 1},
			{Path: "app::db::Pool", Alias: "Db", Kind: symbols.ImportSimple, FilePath: "src/main.rs", Line: 2},
			{Path: "app::ui", Kind: symbols.ImportGlob, FilePath: "src/glob.rs", Line: 1},
		},
	})
	return u
}

func TestResolvePrecedence(t *testing.T) {
	tbl := NewTable(testUnit())

	tests := []struct {
		name         string
		callerModule string
		filePath     string
		want         string
	}{
		// Already-qualified path.
		{"app::db::save", "app", "src/main.rs", "app::db::save"},
		// crate:: alias reroots to the crate name.
		{"crate::db::save", "app", "src/main.rs", "app::db::save"},
		// Import alias.
		{"save", "app", "src/main.rs", "app::db::save"},
		// Renamed import resolves Type::method through the alias.
		{"Db::new", "app", "src/main.rs", "app::db::Pool::new"},
		// Caller-module local beats crate root.
		{"save", "app::db", "src/db.rs", "app::db::save"},
		// Crate root.
		{"init", "app::ui", "src/ui.rs", "app::init"},
		// Glob import.
		{"render", "app", "src/glob.rs", "app::ui::render"},
		// Unique bare name with no import in scope.
		{"render", "app", "src/other.rs", "app::ui::render"},
		// Type::method relative to the caller module.
		{"Pool::new", "app::db", "src/db.rs", "app::db::Pool::new"},
		// Unique Type::method tail match from an unrelated module.
		{"Pool::new", "app::ui", "src/ui.rs", "app::db::Pool::new"},
		// Unknown name stays unresolved.
		{"missing", "app", "src/main.rs", ""},
		// Foreign crate path stays unresolved.
		{"serde::to_string", "app", "src/main.rs", ""},
	}
	for _, tt := range tests {
		if got := tbl.Resolve(tt.name, tt.callerModule, tt.filePath); got != tt.want {
			t.Errorf("Resolve(%q, %q, %q) = %q, want %q", tt.name, tt.callerModule, tt.filePath, got, tt.want)
		}
	}
}

func TestUnitResolvesCallsInPlace(t *testing.T) {
	u := testUnit()
	u.Merge(&symbols.FileSymbols{
		Calls: []symbols.Call{
			{CallerQN: "app::init", CallerModule: "app", CalleeName: "save", FilePath: "src/main.rs", Line: 3, Kind: symbols.CallDirect, FromCrate: "app", Confidence: 1.0},
			{CallerQN: "app::init", CallerModule: "app", CalleeName: "unknown_fn", FilePath: "src/main.rs", Line: 4, Kind: symbols.CallDirect, FromCrate: "app", Confidence: 1.0},
			{CallerQN: "app::init", CallerModule: "app", CalleeName: "println!", FilePath: "src/main.rs", Line: 5, Kind: symbols.CallMacro, FromCrate: "app", Confidence: 1.0},
		},
	})

	Unit(u)

	byName := map[string]symbols.Call{}
	for _, c := range u.Calls {
		byName[c.CalleeName] = c
	}
	if got := byName["save"].QualifiedCallee; got != "app::db::save" {
		t.Errorf("save resolved to %q", got)
	}
	if byName["save"].ToCrate != "app" || byName["save"].CrossCrate {
		t.Errorf("save crate fields = %+v", byName["save"])
	}
	if got := byName["unknown_fn"].QualifiedCallee; got != "" {
		t.Errorf("unknown_fn resolved to %q, want unresolved", got)
	}
	if got := byName["println!"].QualifiedCallee; got != "" {
		t.Errorf("macro call resolved to %q, want untouched", got)
	}
}

func TestLifecycleSyntheticCalls(t *testing.T) {
	u := symbols.NewUnitSymbols("app")
	u.Merge(&symbols.FileSymbols{
		Functions: []symbols.Function{
			{Name: "on_start", QualifiedName: "app::OrderActor::on_start", Crate: "app", ModulePath: "app", LineStart: 20},
			{Name: "handle", QualifiedName: "app::OrderActor::handle", Crate: "app", ModulePath: "app", LineStart: 30},
		},
		Impls: []symbols.ImplBlock{
			{TypeName: "OrderActor", QualifiedType: "app::OrderActor", TraitName: "Actor", Crate: "app", FilePath: "src/lib.rs", LineStart: 18},
			{TypeName: "OrderActor", QualifiedType: "app::OrderActor", TraitName: "Message", Crate: "app", FilePath: "src/lib.rs", LineStart: 28},
		},
	})

	Unit(u)

	synthetic := map[string]symbols.Call{}
	for _, c := range u.Calls {
		if c.IsSynthetic {
			synthetic[c.QualifiedCallee] = c
		}
	}
	onStart, ok := synthetic["app::OrderActor::on_start"]
	if !ok {
		t.Fatalf("no synthetic call to on_start; calls = %+v", u.Calls)
	}
	if onStart.Kind != symbols.CallSynthetic {
		t.Errorf("kind = %q", onStart.Kind)
	}
	if onStart.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", onStart.Confidence)
	}
	if onStart.CallerQN != "app::OrderActor" {
		t.Errorf("caller = %q", onStart.CallerQN)
	}
	if _, ok := synthetic["app::OrderActor::handle"]; !ok {
		t.Error("no synthetic call to handle")
	}
	// on_stop has no impl method, so no call is fabricated for it.
	if _, ok := synthetic["app::OrderActor::on_stop"]; ok {
		t.Error("synthetic call to undeclared on_stop")
	}
}

func TestLifecycleCallsIdempotent(t *testing.T) {
	u := symbols.NewUnitSymbols("app")
	u.Merge(&symbols.FileSymbols{
		Functions: []symbols.Function{
			{Name: "on_start", QualifiedName: "app::OrderActor::on_start", Crate: "app", ModulePath: "app", LineStart: 20},
		},
		Impls: []symbols.ImplBlock{
			{TypeName: "OrderActor", QualifiedType: "app::OrderActor", TraitName: "Actor", Crate: "app", FilePath: "src/lib.rs", LineStart: 18},
		},
	})

	Unit(u)
	first := len(u.Calls)
	Unit(u)
	if len(u.Calls) != first {
		t.Errorf("second resolve grew calls from %d to %d", first, len(u.Calls))
	}
}
