// Package lang describes the structural grammar surface the extractor
// consults: which tree-sitter node kinds declare functions, types, modules,
// imports, and calls.
package lang

// Spec defines the tree-sitter node kinds for the analyzed language.
type Spec struct {
	FileExtensions    []string
	FunctionNodeTypes []string
	TypeNodeTypes     []string
	ImplNodeTypes     []string
	ModuleNodeTypes   []string
	CallNodeTypes     []string
	ImportNodeTypes   []string
	AttributeTypes    []string
	PackageIndicators []string

	functionSet map[string]struct{}
	typeSet     map[string]struct{}
	callSet     map[string]struct{}
}

func (s *Spec) init() {
	s.functionSet = toSet(s.FunctionNodeTypes)
	s.typeSet = toSet(s.TypeNodeTypes)
	s.callSet = toSet(s.CallNodeTypes)
}

// IsFunctionNode reports whether kind declares a function.
func (s *Spec) IsFunctionNode(kind string) bool {
	_, ok := s.functionSet[kind]
	return ok
}

// IsTypeNode reports whether kind declares a type.
func (s *Spec) IsTypeNode(kind string) bool {
	_, ok := s.typeSet[kind]
	return ok
}

// IsCallNode reports whether kind is a call site.
func (s *Spec) IsCallNode(kind string) bool {
	_, ok := s.callSet[kind]
	return ok
}

func toSet(kinds []string) map[string]struct{} {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}
