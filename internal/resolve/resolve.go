// Package resolve turns textual callee names into qualified names using a
// per-crate symbol table and the caller file's imports. Resolution precedence
// is fixed: already-qualified path, import alias, caller-module local name,
// crate-root name, then a unique bare-name match. An unresolved call keeps an
// empty qualified callee; that is an incompleteness, never an error.
package resolve

import (
	"strings"

	"github.com/DeusData/crate-graph-mcp/internal/fqn"
	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

// Table indexes one crate's declarations for lookup by qualified and simple
// name.
type Table struct {
	crate       string
	byQualified map[string]struct{}
	bySimple    map[string][]string
	// imports keyed by file path, then local alias.
	imports map[string]map[string]string
	// glob prefixes per file, tried last among import forms.
	globs map[string][]string
}

// NewTable builds the lookup table for a merged unit.
func NewTable(unit *symbols.UnitSymbols) *Table {
	t := &Table{
		crate:       unit.Crate,
		byQualified: make(map[string]struct{}, len(unit.Functions)+len(unit.Types)),
		bySimple:    map[string][]string{},
		imports:     map[string]map[string]string{},
		globs:       map[string][]string{},
	}
	for i := range unit.Functions {
		t.add(unit.Functions[i].QualifiedName)
	}
	for i := range unit.Types {
		t.add(unit.Types[i].QualifiedName)
	}
	for i := range unit.Modules {
		t.add(unit.Modules[i].Path)
	}
	for i := range unit.Imports {
		imp := &unit.Imports[i]
		if imp.Kind == symbols.ImportGlob {
			t.globs[imp.FilePath] = append(t.globs[imp.FilePath], imp.Path)
			continue
		}
		m := t.imports[imp.FilePath]
		if m == nil {
			m = map[string]string{}
			t.imports[imp.FilePath] = m
		}
		m[imp.Alias] = imp.Path
	}
	return t
}

func (t *Table) add(qn string) {
	if qn == "" {
		return
	}
	t.byQualified[qn] = struct{}{}
	simple := fqn.SimpleName(qn)
	t.bySimple[simple] = append(t.bySimple[simple], qn)
}

// Has reports whether the qualified name is declared in this crate.
func (t *Table) Has(qn string) bool {
	_, ok := t.byQualified[qn]
	return ok
}

// Unit resolves every call in the unit against the table, in place, then
// appends synthetic dispatch calls for actor trait impls.
func Unit(unit *symbols.UnitSymbols) {
	t := NewTable(unit)
	for i := range unit.Calls {
		c := &unit.Calls[i]
		if c.QualifiedCallee != "" || c.Kind == symbols.CallMacro {
			continue
		}
		if qn := t.Resolve(c.CalleeName, c.CallerModule, c.FilePath); qn != "" {
			c.QualifiedCallee = qn
			c.ToCrate = fqn.CrateOf(qn)
			c.CrossCrate = c.ToCrate != c.FromCrate
		}
	}
	appendLifecycleCalls(unit, t)
}

// Resolve maps a callee name to a declared qualified name, or "" when no
// candidate matches.
func (t *Table) Resolve(name, callerModule, filePath string) string {
	name = fqn.RerootCrateAlias(name, t.crate)

	if strings.Contains(name, "::") {
		return t.resolvePath(name, callerModule, filePath)
	}

	// Import alias.
	if path, ok := t.imports[filePath][name]; ok {
		if t.Has(path) {
			return path
		}
	}
	// Caller-module local.
	if qn := fqn.Join(callerModule, name); t.Has(qn) {
		return qn
	}
	// Crate root.
	if qn := fqn.Join(t.crate, name); t.Has(qn) {
		return qn
	}
	// Glob imports.
	for _, prefix := range t.globs[filePath] {
		if qn := fqn.Join(prefix, name); t.Has(qn) {
			return qn
		}
	}
	// Unique bare-name match.
	if candidates := t.bySimple[name]; len(candidates) == 1 {
		return candidates[0]
	}
	return ""
}

func (t *Table) resolvePath(path, callerModule, filePath string) string {
	if t.Has(path) {
		return path
	}
	head, rest, _ := strings.Cut(path, "::")

	// The head may be an imported alias for a type or module.
	if full, ok := t.imports[filePath][head]; ok {
		if qn := fqn.Join(full, rest); t.Has(qn) {
			return qn
		}
	}
	// Type::method relative to the caller's module.
	if qn := fqn.Join(callerModule, path); t.Has(qn) {
		return qn
	}
	// Type::method at the crate root.
	if qn := fqn.Join(t.crate, path); t.Has(qn) {
		return qn
	}
	// Glob imports may bring the head type into scope.
	for _, prefix := range t.globs[filePath] {
		if qn := fqn.Join(prefix, path); t.Has(qn) {
			return qn
		}
	}
	// Unique match on the full Type::method tail.
	if candidates := t.bySimple[fqn.SimpleName(path)]; len(candidates) == 1 {
		if strings.HasSuffix(candidates[0], "::"+path) {
			return candidates[0]
		}
	}
	return ""
}

// lifecycleMethods maps actor-framework traits to the methods the runtime
// dispatches into. Impl methods matching these get a synthetic incoming call
// so they never appear unreachable.
var lifecycleMethods = map[string][]string{
	"Actor":   {"on_start", "on_stop", "on_panic", "on_link_died"},
	"Message": {"handle"},
}

const lifecycleConfidence = 0.8

func appendLifecycleCalls(unit *symbols.UnitSymbols, t *Table) {
	seen := map[string]struct{}{}
	for i := range unit.Calls {
		seen[unit.Calls[i].Key()] = struct{}{}
	}
	for i := range unit.Impls {
		impl := &unit.Impls[i]
		methods, ok := lifecycleMethods[impl.TraitName]
		if !ok {
			continue
		}
		for _, method := range methods {
			target := fqn.Join(impl.QualifiedType, method)
			if !t.Has(target) {
				continue
			}
			call := symbols.Call{
				CallerQN:        impl.QualifiedType,
				CallerModule:    fqnParent(impl.QualifiedType),
				CalleeName:      impl.TypeName + "::" + method,
				QualifiedCallee: target,
				Kind:            symbols.CallSynthetic,
				FilePath:        impl.FilePath,
				Line:            impl.LineStart,
				FromCrate:       unit.Crate,
				ToCrate:         unit.Crate,
				IsSynthetic:     true,
				Confidence:      lifecycleConfidence,
			}
			if _, dup := seen[call.Key()]; dup {
				continue
			}
			seen[call.Key()] = struct{}{}
			unit.Calls = append(unit.Calls, call)
		}
	}
}

func fqnParent(qn string) string {
	if i := strings.LastIndex(qn, "::"); i >= 0 {
		return qn[:i]
	}
	return qn
}
