// Package arch validates workspace structure against a declared layering:
// layer ordering, crate dependency cycles, private-API access, and
// deep-import reach. Findings are reported, never enforced; the analysis
// output stays complete regardless of violations.
package arch

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DeusData/crate-graph-mcp/internal/discover"
	"github.com/DeusData/crate-graph-mcp/internal/fqn"
	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

// Config declares the intended architecture. Layers are listed bottom-up:
// the first layer is the foundation and may not reach into any layer above
// it.
type Config struct {
	Layers []Layer `yaml:"layers"`
	// MaxImportDepth bounds how deep a cross-crate import path may reach.
	// Zero disables the check.
	MaxImportDepth int `yaml:"max_import_depth"`
}

// Layer names one architectural band and the crates assigned to it.
type Layer struct {
	Name   string   `yaml:"name"`
	Crates []string `yaml:"crates"`
}

// LoadConfig reads a layering declaration. A missing file yields an empty
// config: cycle and private-API checks still run, layer checks do not.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read layer config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse layer config %s: %w", path, err)
	}
	return cfg, nil
}

// ViolationKind classifies one finding.
type ViolationKind string

const (
	LayerViolation      ViolationKind = "layer"
	LayerSkipViolation  ViolationKind = "layer_skip"
	CycleViolation      ViolationKind = "cycle"
	ReverseDependency   ViolationKind = "reverse_dependency"
	PrivateAccess       ViolationKind = "private_access"
	DeepImportViolation ViolationKind = "deep_import"
)

// Violation is one finding with enough context to locate it.
type Violation struct {
	Kind      ViolationKind `json:"kind"`
	FromCrate string        `json:"from_crate"`
	ToCrate   string        `json:"to_crate"`
	Detail    string        `json:"detail"`
	FilePath  string        `json:"file,omitempty"`
	Line      int           `json:"line,omitempty"`
}

// Report is the full validation result.
type Report struct {
	Violations []Violation `json:"violations"`
	Cycles     [][]string  `json:"cycles"`
	Health     Health      `json:"health"`
}

// Health grades the workspace. The score decays with violation count; the
// band gives the operator a one-word answer.
type Health struct {
	Score float64 `json:"score"`
	Band  string  `json:"band"`
}

func healthOf(violations int) Health {
	score := 100.0 / (1.0 + float64(violations)/10.0)
	band := "critical"
	switch {
	case score >= 90:
		band = "healthy"
	case score >= 70:
		band = "warning"
	}
	return Health{Score: score, Band: band}
}

// Validator holds the layer assignment derived from config.
type Validator struct {
	cfg        Config
	layerOf    map[string]int
	layerNames []string
}

// NewValidator indexes the config's crate-to-layer assignment. Crate names
// are normalized the same way analysis normalizes them.
func NewValidator(cfg Config) *Validator {
	v := &Validator{cfg: cfg, layerOf: map[string]int{}}
	for idx, layer := range cfg.Layers {
		v.layerNames = append(v.layerNames, layer.Name)
		for _, crate := range layer.Crates {
			v.layerOf[fqn.NormalizeCrate(crate)] = idx
		}
	}
	return v
}

// Validate checks every cross-crate relationship in the workspace.
func (v *Validator) Validate(ws *discover.Workspace, units []*symbols.UnitSymbols) *Report {
	report := &Report{}

	inWorkspace := map[string]bool{}
	for _, c := range ws.Crates {
		inWorkspace[c.Name] = true
	}

	v.checkCalls(units, report)
	v.checkManifestDeps(ws, inWorkspace, report)
	v.checkPrivateAccess(units, report)
	v.checkDeepImports(units, inWorkspace, report)
	report.Cycles = findCycles(ws, units, inWorkspace)
	for _, cycle := range report.Cycles {
		report.Violations = append(report.Violations, Violation{
			Kind:   CycleViolation,
			Detail: "dependency cycle: " + strings.Join(cycle, " -> "),
		})
	}

	report.Health = healthOf(len(report.Violations))
	return report
}

// upward reports whether a reference from one crate to another climbs the
// layering. Crates outside the config are exempt.
func (v *Validator) upward(from, to string) (string, bool) {
	fromIdx, okFrom := v.layerOf[from]
	toIdx, okTo := v.layerOf[to]
	if !okFrom || !okTo || fromIdx >= toIdx {
		return "", false
	}
	return fmt.Sprintf("%s (%s) reaches up into %s (%s)",
		from, v.layerNames[fromIdx], to, v.layerNames[toIdx]), true
}

// skips reports whether a downward reference jumps over intermediate
// layers instead of going through the layer directly below.
func (v *Validator) skips(from, to string) (string, bool) {
	fromIdx, okFrom := v.layerOf[from]
	toIdx, okTo := v.layerOf[to]
	if !okFrom || !okTo || fromIdx-toIdx <= 1 {
		return "", false
	}
	return fmt.Sprintf("%s (%s) skips %d layer(s) down to %s (%s)",
		from, v.layerNames[fromIdx], fromIdx-toIdx-1, to, v.layerNames[toIdx]), true
}

func (v *Validator) checkCalls(units []*symbols.UnitSymbols, report *Report) {
	for _, u := range units {
		for i := range u.Calls {
			c := &u.Calls[i]
			if !c.CrossCrate || c.ToCrate == "" {
				continue
			}
			if detail, bad := v.upward(c.FromCrate, c.ToCrate); bad {
				report.Violations = append(report.Violations, Violation{
					Kind:      LayerViolation,
					FromCrate: c.FromCrate,
					ToCrate:   c.ToCrate,
					Detail:    detail + " via " + c.CalleeName,
					FilePath:  c.FilePath,
					Line:      c.Line,
				})
			}
			if detail, bad := v.skips(c.FromCrate, c.ToCrate); bad {
				report.Violations = append(report.Violations, Violation{
					Kind:      LayerSkipViolation,
					FromCrate: c.FromCrate,
					ToCrate:   c.ToCrate,
					Detail:    detail + " via " + c.CalleeName,
					FilePath:  c.FilePath,
					Line:      c.Line,
				})
			}
		}
	}
}

func (v *Validator) checkManifestDeps(ws *discover.Workspace, inWorkspace map[string]bool, report *Report) {
	for _, crate := range ws.Crates {
		for _, dep := range crate.Dependencies {
			depName := fqn.NormalizeCrate(dep)
			if !inWorkspace[depName] {
				continue
			}
			if detail, bad := v.upward(crate.Name, depName); bad {
				report.Violations = append(report.Violations, Violation{
					Kind:      ReverseDependency,
					FromCrate: crate.Name,
					ToCrate:   depName,
					Detail:    detail + " in " + crate.ManifestPath,
				})
			}
		}
	}
}

// checkPrivateAccess flags cross-crate calls landing on declarations that
// are not public.
func (v *Validator) checkPrivateAccess(units []*symbols.UnitSymbols, report *Report) {
	visibility := map[string]string{}
	for _, u := range units {
		for i := range u.Functions {
			visibility[u.Functions[i].QualifiedName] = u.Functions[i].Visibility
		}
		for i := range u.Types {
			visibility[u.Types[i].QualifiedName] = u.Types[i].Visibility
		}
	}
	for _, u := range units {
		for i := range u.Calls {
			c := &u.Calls[i]
			if !c.CrossCrate || c.QualifiedCallee == "" {
				continue
			}
			vis, known := visibility[c.QualifiedCallee]
			if !known || strings.HasPrefix(vis, "pub") {
				continue
			}
			report.Violations = append(report.Violations, Violation{
				Kind:      PrivateAccess,
				FromCrate: c.FromCrate,
				ToCrate:   c.ToCrate,
				Detail:    c.QualifiedCallee + " is not public",
				FilePath:  c.FilePath,
				Line:      c.Line,
			})
		}
	}
}

// checkDeepImports flags imports that reach past another crate's public
// surface into deep module internals.
func (v *Validator) checkDeepImports(units []*symbols.UnitSymbols, inWorkspace map[string]bool, report *Report) {
	if v.cfg.MaxImportDepth <= 0 {
		return
	}
	for _, u := range units {
		for i := range u.Imports {
			imp := &u.Imports[i]
			head := fqn.CrateOf(imp.Path)
			if head == u.Crate || !inWorkspace[head] {
				continue
			}
			if strings.Count(imp.Path, "::") <= v.cfg.MaxImportDepth {
				continue
			}
			report.Violations = append(report.Violations, Violation{
				Kind:      DeepImportViolation,
				FromCrate: u.Crate,
				ToCrate:   head,
				Detail:    fmt.Sprintf("import %s exceeds depth %d", imp.Path, v.cfg.MaxImportDepth),
				FilePath:  imp.FilePath,
				Line:      imp.Line,
			})
		}
	}
}

// findCycles detects crate-level dependency cycles over the union of
// manifest dependencies and observed cross-crate calls.
func findCycles(ws *discover.Workspace, units []*symbols.UnitSymbols, inWorkspace map[string]bool) [][]string {
	adj := map[string]map[string]bool{}
	addEdge := func(from, to string) {
		if from == to || !inWorkspace[from] || !inWorkspace[to] {
			return
		}
		if adj[from] == nil {
			adj[from] = map[string]bool{}
		}
		adj[from][to] = true
	}
	for _, crate := range ws.Crates {
		for _, dep := range crate.Dependencies {
			addEdge(crate.Name, fqn.NormalizeCrate(dep))
		}
	}
	for _, u := range units {
		for i := range u.Calls {
			if u.Calls[i].CrossCrate {
				addEdge(u.Calls[i].FromCrate, u.Calls[i].ToCrate)
			}
		}
	}

	var nodes []string
	for n := range adj {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := map[string]int{}
	var stack []string
	var cycles [][]string
	seenCycle := map[string]bool{}

	var visit func(n string)
	visit = func(n string) {
		state[n] = inStack
		stack = append(stack, n)
		var next []string
		for m := range adj[n] {
			next = append(next, m)
		}
		sort.Strings(next)
		for _, m := range next {
			switch state[m] {
			case unvisited:
				visit(m)
			case inStack:
				start := len(stack) - 1
				for start >= 0 && stack[start] != m {
					start--
				}
				cycle := append(append([]string{}, stack[start:]...), m)
				key := strings.Join(canonicalCycle(cycle), ",")
				if !seenCycle[key] {
					seenCycle[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
	}
	for _, n := range nodes {
		if state[n] == unvisited {
			visit(n)
		}
	}
	return cycles
}

// canonicalCycle rotates a cycle to start at its smallest member so the same
// cycle reported from different entry points deduplicates.
func canonicalCycle(cycle []string) []string {
	members := cycle[:len(cycle)-1]
	minIdx := 0
	for i, m := range members {
		if m < members[minIdx] {
			minIdx = i
		}
	}
	out := make([]string, 0, len(members))
	out = append(out, members[minIdx:]...)
	out = append(out, members[:minIdx]...)
	return out
}
