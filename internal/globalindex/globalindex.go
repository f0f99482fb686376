// Package globalindex merges per-crate exports into one workspace-wide
// lookup and runs the second resolution pass: calls that stayed unresolved
// inside their own crate are matched against every other crate's public
// surface.
package globalindex

import (
	"strings"

	"github.com/DeusData/crate-graph-mcp/internal/fqn"
	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

// Index is the cross-crate symbol surface. Only public declarations are
// indexed; a private item can never satisfy a cross-crate reference.
type Index struct {
	// Exports maps a qualified name to its owning crate.
	Exports map[string]string
	// Simple maps a bare name to its qualified candidates, for unique-match
	// fallback.
	Simple map[string][]string
	// Crates records every analyzed crate by normalized name.
	Crates map[string]bool
}

// Build indexes the public declarations of every unit.
func Build(units []*symbols.UnitSymbols) *Index {
	idx := &Index{
		Exports: map[string]string{},
		Simple:  map[string][]string{},
		Crates:  map[string]bool{},
	}
	for _, u := range units {
		idx.Crates[u.Crate] = true
		for i := range u.Functions {
			f := &u.Functions[i]
			if isPublic(f.Visibility) {
				idx.add(f.QualifiedName, u.Crate)
			}
		}
		for i := range u.Types {
			t := &u.Types[i]
			if isPublic(t.Visibility) {
				idx.add(t.QualifiedName, u.Crate)
			}
		}
	}
	return idx
}

func (idx *Index) add(qn, crate string) {
	if qn == "" {
		return
	}
	if _, ok := idx.Exports[qn]; ok {
		return
	}
	idx.Exports[qn] = crate
	simple := fqn.SimpleName(qn)
	idx.Simple[simple] = append(idx.Simple[simple], qn)
}

// Has reports whether the qualified name is exported by any crate.
func (idx *Index) Has(qn string) bool {
	_, ok := idx.Exports[qn]
	return ok
}

// CrateOf returns the owning crate of an exported name.
func (idx *Index) CrateOf(qn string) string {
	return idx.Exports[qn]
}

// ResolveCross fills qualified callees for the unit's remaining unresolved
// calls using other crates' exports. Matches in the caller's own crate were
// already tried; anything found here is cross-crate by construction unless
// the export turns out to live in the same crate after re-rooting.
func (idx *Index) ResolveCross(unit *symbols.UnitSymbols) int {
	resolved := 0
	for i := range unit.Calls {
		c := &unit.Calls[i]
		if c.QualifiedCallee != "" || c.Kind == symbols.CallMacro {
			continue
		}
		qn := idx.resolve(c.CalleeName, unit.Crate)
		if qn == "" {
			continue
		}
		c.QualifiedCallee = qn
		c.ToCrate = idx.Exports[qn]
		c.CrossCrate = c.ToCrate != c.FromCrate
		resolved++
	}
	return resolved
}

func (idx *Index) resolve(name, fromCrate string) string {
	name = fqn.RerootCrateAlias(name, fromCrate)

	if idx.Has(name) {
		return name
	}
	if !strings.Contains(name, "::") {
		// Bare names only resolve cross-crate on a unique export match.
		if candidates := idx.Simple[name]; len(candidates) == 1 {
			return candidates[0]
		}
		return ""
	}

	head, _, _ := strings.Cut(name, "::")
	normalized := fqn.NormalizeCrate(head)
	if idx.Crates[normalized] && normalized != head {
		if qn := normalized + strings.TrimPrefix(name, head); idx.Has(qn) {
			return qn
		}
	}
	// Type::method exported from some crate root or submodule: unique match
	// on the full path tail.
	var match string
	for _, candidate := range idx.Simple[fqn.SimpleName(name)] {
		if candidate == name || strings.HasSuffix(candidate, "::"+name) {
			if match != "" {
				return "" // ambiguous across crates
			}
			match = candidate
		}
	}
	return match
}

func isPublic(visibility string) bool {
	return strings.HasPrefix(visibility, "pub")
}
