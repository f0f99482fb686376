// Package synth generates synthetic call edges for code that only exists
// after macro expansion or that is dispatched by a framework at runtime.
// Generation is strictly additive: no observed call is modified or removed,
// and every synthetic call carries its confidence.
package synth

import (
	"strings"

	"github.com/DeusData/crate-graph-mcp/internal/fqn"
	"github.com/DeusData/crate-graph-mcp/internal/resolve"
	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

// Confidence bands. A macro expansion whose target type is declared in the
// crate is near-certain; a target guessed from the expansion shape is not.
const (
	ConfKnownTarget   = 0.95
	ConfGuessedTarget = 0.7
	ConfDispatch      = 0.90
	ConfSocketHandler = 0.95
)

// Config names the identifier sets used to expand macro placeholders. Each
// generator name substitutes into a $-placeholder in a recorded expansion
// pattern.
type Config struct {
	Generators []string `yaml:"generators"`
}

// DefaultConfig covers the common output-type expansion convention.
func DefaultConfig() Config {
	return Config{Generators: []string{"Output", "Result", "Response", "State"}}
}

// dispatchTraits maps framework traits to runtime-dispatched methods and the
// confidence of the synthesized inbound call. The kameo lifecycle set is
// handled at resolve time; these cover the actix and websocket conventions.
var dispatchTraits = map[string]struct {
	methods    []string
	confidence float64
}{
	"Actor":            {[]string{"started", "stopped", "stopping"}, ConfDispatch},
	"StreamHandler":    {[]string{"handle", "started", "finished"}, ConfSocketHandler},
	"WebsocketHandler": {[]string{"on_open", "on_message", "on_close", "on_error"}, ConfSocketHandler},
}

// ctorMethods are generated-method names that expansions conventionally call.
var ctorMethods = map[string]bool{
	"new": true, "default": true, "from_ohlcv": true, "na": true, "nan": true, "nz": true,
}

// Generate appends synthetic calls for the unit's macro expansions and
// framework trait impls. Resolution uses the already-built crate table.
func Generate(unit *symbols.UnitSymbols, cfg Config) {
	t := resolve.NewTable(unit)
	seen := make(map[string]struct{}, len(unit.Calls))
	for i := range unit.Calls {
		seen[unit.Calls[i].Key()] = struct{}{}
	}

	appendCall := func(c symbols.Call) {
		if _, dup := seen[c.Key()]; dup {
			return
		}
		seen[c.Key()] = struct{}{}
		unit.Calls = append(unit.Calls, c)
	}

	for i := range unit.MacroExpansions {
		generateFromExpansion(unit, &unit.MacroExpansions[i], cfg, t, appendCall)
	}
	generateDispatch(unit, t, appendCall)
}

// generateFromExpansion turns one paste-style expansion site into calls. The
// pattern is the bracketed concatenation text, e.g. "$name Output"; each
// configured generator substitutes for the placeholder and the result is
// checked against the crate's declarations.
func generateFromExpansion(unit *symbols.UnitSymbols, m *symbols.MacroExpansion,
	cfg Config, t *resolve.Table, appendCall func(symbols.Call)) {

	caller := m.ContainingFunction
	if caller == "" {
		return
	}
	callerModule := caller
	if i := strings.LastIndex(caller, "::"); i >= 0 {
		callerModule = caller[:i]
	}

	for _, candidate := range expandPattern(m.Pattern, cfg.Generators) {
		call := symbols.Call{
			CallerQN:     caller,
			CallerModule: callerModule,
			CalleeName:   candidate + "::" + m.Method,
			Kind:         symbols.CallSynthetic,
			FilePath:     m.FilePath,
			Line:         m.LineStart,
			FromCrate:    unit.Crate,
			IsSynthetic:  true,
		}
		if qn := t.Resolve(call.CalleeName, callerModule, m.FilePath); qn != "" {
			call.QualifiedCallee = qn
			call.ToCrate = fqn.CrateOf(qn)
			call.Confidence = ConfKnownTarget
		} else {
			if !ctorMethods[m.Method] {
				continue
			}
			call.Confidence = ConfGuessedTarget
		}
		appendCall(call)
	}
}

// expandPattern substitutes each generator name into the pattern's
// $-placeholder and pastes the segments into one type name. A pattern with no
// placeholder expands to itself.
func expandPattern(pattern string, generators []string) []string {
	segments := strings.Fields(pattern)
	hasPlaceholder := false
	for _, s := range segments {
		if strings.HasPrefix(s, "$") {
			hasPlaceholder = true
			break
		}
	}
	if !hasPlaceholder {
		return []string{pasteSegments(segments, "")}
	}
	out := make([]string, 0, len(generators))
	for _, g := range generators {
		out = append(out, pasteSegments(segments, g))
	}
	return out
}

func pasteSegments(segments []string, substitute string) string {
	var b strings.Builder
	for _, s := range segments {
		if strings.HasPrefix(s, "$") {
			b.WriteString(substitute)
			continue
		}
		b.WriteString(titleWord(s))
	}
	return b.String()
}

func titleWord(s string) string {
	s = strings.Trim(s, "_")
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// generateDispatch adds inbound calls for methods a framework invokes rather
// than user code. A type can implement several dispatch traits whose method
// sets overlap (started is both an Actor lifecycle hook and a StreamHandler
// hook), so targets are deduplicated per (caller, callee) with the lifecycle
// trait owning the overlap.
func generateDispatch(unit *symbols.UnitSymbols, t *resolve.Table, appendCall func(symbols.Call)) {
	type dispatchKey struct {
		caller string
		target string
	}
	picked := make(map[dispatchKey]symbols.Call)
	var order []dispatchKey

	for i := range unit.Impls {
		impl := &unit.Impls[i]
		entry, ok := dispatchTraits[impl.TraitName]
		if !ok {
			continue
		}
		for _, method := range entry.methods {
			target := fqn.Join(impl.QualifiedType, method)
			if !t.Has(target) {
				continue
			}
			key := dispatchKey{caller: impl.QualifiedType, target: target}
			if prev, dup := picked[key]; dup {
				if impl.TraitName == "Actor" {
					prev.Confidence = entry.confidence
					prev.FilePath = impl.FilePath
					prev.Line = impl.LineStart
					picked[key] = prev
				}
				continue
			}
			picked[key] = symbols.Call{
				CallerQN:        impl.QualifiedType,
				CallerModule:    parentPath(impl.QualifiedType),
				CalleeName:      impl.TypeName + "::" + method,
				QualifiedCallee: target,
				Kind:            symbols.CallSynthetic,
				FilePath:        impl.FilePath,
				Line:            impl.LineStart,
				FromCrate:       unit.Crate,
				ToCrate:         unit.Crate,
				IsSynthetic:     true,
				Confidence:      entry.confidence,
			}
			order = append(order, key)
		}
	}

	for _, key := range order {
		appendCall(picked[key])
	}
}

func parentPath(qn string) string {
	if i := strings.LastIndex(qn, "::"); i >= 0 {
		return qn[:i]
	}
	return qn
}
