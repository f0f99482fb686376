package synth

import (
	"reflect"
	"testing"

	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

func TestExpandPattern(t *testing.T) {
	gens := []string{"Output", "Result"}
	tests := []struct {
		pattern string
		want    []string
	}{
		{"$name Indicator", []string{"OutputIndicator", "ResultIndicator"}},
		{"Sma $kind", []string{"SmaOutput", "SmaResult"}},
		{"Order Actor", []string{"OrderActor"}},
		{"order _state", []string{"OrderState"}},
	}
	for _, tt := range tests {
		if got := expandPattern(tt.pattern, gens); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("expandPattern(%q) = %v, want %v", tt.pattern, got, tt.want)
		}
	}
}

func baseUnit() *symbols.UnitSymbols {
	u := symbols.NewUnitSymbols("ta")
	u.Merge(&symbols.FileSymbols{
		Functions: []symbols.Function{
			{Name: "compute", QualifiedName: "ta::sma::compute", Crate: "ta", ModulePath: "ta::sma", LineStart: 5},
			{Name: "from_ohlcv", QualifiedName: "ta::sma::SmaOutput::from_ohlcv", Crate: "ta", ModulePath: "ta::sma", LineStart: 30},
		},
		Types: []symbols.TypeDecl{
			{Name: "SmaOutput", QualifiedName: "ta::sma::SmaOutput", Crate: "ta", ModulePath: "ta::sma", LineStart: 25, Kind: symbols.TypeStruct},
		},
	})
	return u
}

func TestGenerateKnownTarget(t *testing.T) {
	u := baseUnit()
	u.Merge(&symbols.FileSymbols{
		MacroExpansions: []symbols.MacroExpansion{
			{
				Crate:              "ta",
				FilePath:           "src/sma.rs",
				LineStart:          8,
				MacroType:          "paste",
				Pattern:            "Sma $kind",
				Method:             "from_ohlcv",
				ContainingFunction: "ta::sma::compute",
			},
		},
	})

	Generate(u, DefaultConfig())

	var resolved, guessed []symbols.Call
	for _, c := range u.Calls {
		if !c.IsSynthetic {
			continue
		}
		if c.QualifiedCallee != "" {
			resolved = append(resolved, c)
		} else {
			guessed = append(guessed, c)
		}
	}

	if len(resolved) != 1 {
		t.Fatalf("resolved synthetic calls = %d, want 1: %+v", len(resolved), resolved)
	}
	r := resolved[0]
	if r.QualifiedCallee != "ta::sma::SmaOutput::from_ohlcv" {
		t.Errorf("resolved to %q", r.QualifiedCallee)
	}
	if r.Confidence != ConfKnownTarget {
		t.Errorf("confidence = %v, want %v", r.Confidence, ConfKnownTarget)
	}
	if r.Kind != symbols.CallSynthetic || r.CallerQN != "ta::sma::compute" {
		t.Errorf("call = %+v", r)
	}

	// The other expansions name undeclared types; from_ohlcv is a known
	// generated-method name, so they survive as guesses.
	for _, g := range guessed {
		if g.Confidence != ConfGuessedTarget {
			t.Errorf("guessed confidence = %v, want %v", g.Confidence, ConfGuessedTarget)
		}
	}
	if len(guessed) != len(DefaultConfig().Generators)-1 {
		t.Errorf("guessed calls = %d, want %d", len(guessed), len(DefaultConfig().Generators)-1)
	}
}

func TestGenerateUnknownMethodDropped(t *testing.T) {
	u := baseUnit()
	u.Merge(&symbols.FileSymbols{
		MacroExpansions: []symbols.MacroExpansion{
			{
				Crate:              "ta",
				FilePath:           "src/sma.rs",
				LineStart:          8,
				MacroType:          "paste",
				Pattern:            "$kind Widget",
				Method:             "obscure_method",
				ContainingFunction: "ta::sma::compute",
			},
		},
	})

	Generate(u, DefaultConfig())

	for _, c := range u.Calls {
		if c.IsSynthetic {
			t.Errorf("unresolvable expansion with unknown method produced call %+v", c)
		}
	}
}

func TestGenerateNoContainingFunction(t *testing.T) {
	u := baseUnit()
	u.Merge(&symbols.FileSymbols{
		MacroExpansions: []symbols.MacroExpansion{
			{Crate: "ta", FilePath: "src/sma.rs", LineStart: 1, MacroType: "paste", Pattern: "Sma $kind", Method: "from_ohlcv"},
		},
	})

	Generate(u, DefaultConfig())

	for _, c := range u.Calls {
		if c.IsSynthetic {
			t.Errorf("expansion outside any function produced call %+v", c)
		}
	}
}

func TestGenerateDispatch(t *testing.T) {
	u := symbols.NewUnitSymbols("app")
	u.Merge(&symbols.FileSymbols{
		Functions: []symbols.Function{
			{Name: "started", QualifiedName: "app::WsSession::started", Crate: "app", ModulePath: "app", LineStart: 12},
			{Name: "handle", QualifiedName: "app::WsSession::handle", Crate: "app", ModulePath: "app", LineStart: 20},
		},
		Impls: []symbols.ImplBlock{
			{TypeName: "WsSession", QualifiedType: "app::WsSession", TraitName: "Actor", Crate: "app", FilePath: "src/ws.rs", LineStart: 10},
			{TypeName: "WsSession", QualifiedType: "app::WsSession", TraitName: "StreamHandler", Crate: "app", FilePath: "src/ws.rs", LineStart: 18},
		},
	})

	Generate(u, Config{})

	byTarget := map[string]symbols.Call{}
	for _, c := range u.Calls {
		if c.IsSynthetic {
			byTarget[c.QualifiedCallee] = c
		}
	}

	started, ok := byTarget["app::WsSession::started"]
	if !ok {
		t.Fatalf("no dispatch call to started; calls = %+v", u.Calls)
	}
	if started.Confidence != ConfDispatch {
		t.Errorf("Actor dispatch confidence = %v, want %v", started.Confidence, ConfDispatch)
	}
	handle, ok := byTarget["app::WsSession::handle"]
	if !ok {
		t.Fatal("no dispatch call to handle")
	}
	if handle.Confidence != ConfSocketHandler {
		t.Errorf("StreamHandler dispatch confidence = %v, want %v", handle.Confidence, ConfSocketHandler)
	}
	// stopped/stopping have no impl methods; nothing is fabricated for them.
	if _, ok := byTarget["app::WsSession::stopped"]; ok {
		t.Error("dispatch call to undeclared stopped")
	}
}

func TestGenerateDispatchOverlapSingleCall(t *testing.T) {
	u := symbols.NewUnitSymbols("app")
	u.Merge(&symbols.FileSymbols{
		Functions: []symbols.Function{
			{Name: "started", QualifiedName: "app::WsSession::started", Crate: "app", ModulePath: "app", LineStart: 12},
		},
		// StreamHandler listed first: the lifecycle trait must still own the
		// overlapping started hook.
		Impls: []symbols.ImplBlock{
			{TypeName: "WsSession", QualifiedType: "app::WsSession", TraitName: "StreamHandler", Crate: "app", FilePath: "src/ws.rs", LineStart: 18},
			{TypeName: "WsSession", QualifiedType: "app::WsSession", TraitName: "Actor", Crate: "app", FilePath: "src/ws.rs", LineStart: 10},
		},
	})

	Generate(u, Config{})

	var startedCalls []symbols.Call
	for _, c := range u.Calls {
		if c.IsSynthetic && c.QualifiedCallee == "app::WsSession::started" {
			startedCalls = append(startedCalls, c)
		}
	}
	if len(startedCalls) != 1 {
		t.Fatalf("expected 1 dispatch call to started, got %d", len(startedCalls))
	}
	if startedCalls[0].Confidence != ConfDispatch {
		t.Errorf("confidence = %v, want %v", startedCalls[0].Confidence, ConfDispatch)
	}
}

func TestGenerateAdditiveAndIdempotent(t *testing.T) {
	u := baseUnit()
	observed := symbols.Call{
		CallerQN: "ta::sma::compute", CallerModule: "ta::sma", CalleeName: "helper",
		Kind: symbols.CallDirect, FilePath: "src/sma.rs", Line: 6, FromCrate: "ta", Confidence: 1.0,
	}
	u.Merge(&symbols.FileSymbols{
		Calls: []symbols.Call{observed},
		MacroExpansions: []symbols.MacroExpansion{
			{Crate: "ta", FilePath: "src/sma.rs", LineStart: 8, MacroType: "paste",
				Pattern: "Sma $kind", Method: "from_ohlcv", ContainingFunction: "ta::sma::compute"},
		},
	})

	Generate(u, DefaultConfig())
	first := len(u.Calls)
	Generate(u, DefaultConfig())
	if len(u.Calls) != first {
		t.Errorf("second generation grew calls from %d to %d", first, len(u.Calls))
	}

	var foundObserved bool
	for _, c := range u.Calls {
		if c.CalleeName == "helper" && !c.IsSynthetic && c.Confidence == 1.0 {
			foundObserved = true
		}
	}
	if !foundObserved {
		t.Error("observed call modified or removed by generation")
	}
}
