// Package extract turns one Rust source file into raw declaration and call
// records. It performs no resolution: qualified callees stay empty and
// cross-crate flags unset until later passes fill them.
package extract

import (
	"fmt"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/crate-graph-mcp/internal/fqn"
	"github.com/DeusData/crate-graph-mcp/internal/lang"
	"github.com/DeusData/crate-graph-mcp/internal/parser"
	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

// FileContext identifies the file being extracted.
type FileContext struct {
	Crate   string
	RelPath string // relative to the crate root
	IsTest  bool   // path-convention test context
}

// Result carries one file's symbols plus the parsed tree so later passes can
// re-walk it without re-parsing. The caller owns Tree and must Close it.
type Result struct {
	Ctx     FileContext
	Symbols symbols.FileSymbols
	Tree    *tree_sitter.Tree
	Source  []byte
	Err     error
}

// File parses source and extracts declarations, imports, modules, and calls.
// A structurally broken sub-tree is skipped with a diagnostic; extraction of
// the rest of the file continues.
func File(ctx FileContext, source []byte) *Result {
	result := &Result{Ctx: ctx, Source: stripBOM(source)}

	tree, err := parser.Parse(result.Source)
	if err != nil {
		result.Err = fmt.Errorf("parse %s: %w", ctx.RelPath, err)
		return result
	}
	result.Tree = tree

	e := &extractor{
		ctx:        ctx,
		source:     result.Source,
		modulePath: fqn.ModulePath(ctx.Crate, ctx.RelPath),
		out:        &result.Symbols,
	}
	e.run(tree.RootNode())
	return result
}

type extractor struct {
	ctx        FileContext
	source     []byte
	modulePath string
	out        *symbols.FileSymbols
}

func (e *extractor) run(root *tree_sitter.Node) {
	// File-level module record.
	e.out.Modules = append(e.out.Modules, symbols.Module{
		Name:     fqn.SimpleName(e.modulePath),
		Path:     e.modulePath,
		Crate:    e.ctx.Crate,
		FilePath: e.ctx.RelPath,
		Line:     1,
	})

	parser.Walk(root, func(node *tree_sitter.Node) bool {
		switch kind := node.Kind(); {
		case kind == "ERROR":
			e.diag("unparseable sub-tree at line %d", line(node))
			return false
		case kind == "mod_item":
			e.extractModule(node)
			return true
		case kind == "use_declaration":
			e.extractUse(node)
			return false
		case lang.Rust.IsFunctionNode(kind):
			e.extractFunction(node, "", false)
			return false
		case kind == "impl_item":
			e.extractImpl(node)
			return false
		case lang.Rust.IsTypeNode(kind):
			e.extractType(node)
			return false
		}
		return true
	})
}

func (e *extractor) diag(format string, args ...any) {
	e.out.Diagnostics = append(e.out.Diagnostics,
		e.ctx.RelPath+": "+fmt.Sprintf(format, args...))
}

func (e *extractor) extractModule(node *tree_sitter.Node) {
	name := parser.FieldText(node, "name", e.source)
	if name == "" {
		return
	}
	e.out.Modules = append(e.out.Modules, symbols.Module{
		Name:     name,
		Path:     fqn.Join(e.modulePath, name),
		Crate:    e.ctx.Crate,
		FilePath: e.ctx.RelPath,
		Line:     line(node),
	})
}

// extractUse expands one use declaration into Import records. Grouped lists
// produce one record per item; wildcard imports are recorded as glob and
// left for no further expansion.
func (e *extractor) extractUse(node *tree_sitter.Node) {
	arg := node.ChildByFieldName("argument")
	if arg == nil {
		return
	}
	e.expandUseTree(parser.NodeText(arg, e.source), line(node))
}

func (e *extractor) expandUseTree(text string, ln int) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	// Grouped: prefix::{a, b as c, d::e}
	if open := strings.Index(text, "{"); open >= 0 && strings.HasSuffix(text, "}") {
		prefix := strings.TrimSuffix(text[:open], "::")
		inner := text[open+1 : len(text)-1]
		for _, item := range splitUseGroup(inner) {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			full := item
			if prefix != "" {
				if item == "self" {
					full = prefix
				} else {
					full = prefix + "::" + item
				}
			}
			e.expandUseLeaf(full, symbols.ImportGrouped, ln)
		}
		return
	}

	e.expandUseLeaf(text, symbols.ImportSimple, ln)
}

func (e *extractor) expandUseLeaf(text string, kind symbols.ImportKind, ln int) {
	alias := ""
	path := text
	if i := strings.Index(text, " as "); i >= 0 {
		path = strings.TrimSpace(text[:i])
		alias = strings.TrimSpace(text[i+4:])
	}
	path = fqn.RerootCrateAlias(path, e.ctx.Crate)

	if strings.HasSuffix(path, "::*") {
		// Wildcards are deferred, not resolved.
		e.out.Imports = append(e.out.Imports, symbols.Import{
			Path:     strings.TrimSuffix(path, "::*"),
			Kind:     symbols.ImportGlob,
			Crate:    e.ctx.Crate,
			FilePath: e.ctx.RelPath,
			Line:     ln,
		})
		return
	}

	if alias == "" {
		alias = fqn.SimpleName(path)
	}
	// A path with no segments is a module-level import of a whole crate.
	if kind == symbols.ImportSimple && !strings.Contains(path, "::") {
		kind = symbols.ImportModule
	}
	e.out.Imports = append(e.out.Imports, symbols.Import{
		Path:     path,
		Alias:    alias,
		Kind:     kind,
		Crate:    e.ctx.Crate,
		FilePath: e.ctx.RelPath,
		Line:     ln,
	})
}

// splitUseGroup splits a use-group body on top-level commas, respecting
// nested braces.
func splitUseGroup(inner string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range inner {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, inner[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, inner[start:])
	return parts
}

// extractFunction handles a free function or (when implType is non-empty) an
// impl-block method. Calls inside the body are collected with this function
// as the caller.
func (e *extractor) extractFunction(node *tree_sitter.Node, implType string, isTraitImpl bool) {
	name := parser.FieldText(node, "name", e.source)
	if name == "" {
		return
	}

	qn := fqn.Join(e.modulePath, name)
	if implType != "" {
		qn = fqn.Join(e.modulePath, implType, name)
	}

	attrs := precedingAttributes(node, e.source)
	fn := symbols.Function{
		Name:          name,
		QualifiedName: qn,
		Crate:         e.ctx.Crate,
		ModulePath:    e.modulePath,
		FilePath:      e.ctx.RelPath,
		LineStart:     line(node),
		LineEnd:       endLine(node),
		Visibility:    visibility(node, e.source),
		Signature:     e.signature(node),
		DocComment:    docComment(node, e.source),
		IsAsync:       hasModifier(node, e.source, "async"),
		IsUnsafe:      hasModifier(node, e.source, "unsafe"),
		IsGeneric:     node.ChildByFieldName("type_parameters") != nil,
		IsTest:        e.ctx.IsTest || isTestAttr(attrs) || inCfgTestModule(node, e.source),
		IsTraitImpl:   isTraitImpl,
	}
	e.out.Functions = append(e.out.Functions, fn)

	if body := node.ChildByFieldName("body"); body != nil {
		e.extractCalls(body, qn, implType)
	}
}

func (e *extractor) signature(node *tree_sitter.Node) string {
	sig := parser.FieldText(node, "parameters", e.source)
	if rt := parser.FieldText(node, "return_type", e.source); rt != "" {
		sig += " -> " + rt
	}
	return sig
}

// extractImpl handles `impl Type` and `impl Trait for Type` blocks. Methods
// are emitted as Functions qualified by the implementing type; a named trait
// records an ImplBlock for the IMPLEMENTS edge.
func (e *extractor) extractImpl(node *tree_sitter.Node) {
	typeNode := node.ChildByFieldName("type")
	if typeNode == nil {
		return
	}
	typeName := baseTypeName(parser.NodeText(typeNode, e.source))
	if typeName == "" || strings.Contains(typeName, "::") {
		// Qualified impl targets are associated items of foreign types;
		// skip rather than fabricate a local declaration.
		return
	}

	traitName := ""
	if traitNode := node.ChildByFieldName("trait"); traitNode != nil {
		traitName = baseTypeName(parser.NodeText(traitNode, e.source))
	}

	e.out.Impls = append(e.out.Impls, symbols.ImplBlock{
		TypeName:      typeName,
		QualifiedType: fqn.Join(e.modulePath, typeName),
		TraitName:     traitName,
		Crate:         e.ctx.Crate,
		FilePath:      e.ctx.RelPath,
		LineStart:     line(node),
		LineEnd:       endLine(node),
	})

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := uint(0); i < body.ChildCount(); i++ {
		child := body.Child(i)
		if child == nil {
			continue
		}
		if child.Kind() == "ERROR" {
			e.diag("unparseable impl member at line %d", line(child))
			continue
		}
		if lang.Rust.IsFunctionNode(child.Kind()) {
			e.extractFunction(child, typeName, traitName != "")
		}
	}
}

func (e *extractor) extractType(node *tree_sitter.Node) {
	name := parser.FieldText(node, "name", e.source)
	if name == "" {
		return
	}
	var kind symbols.TypeKind
	switch node.Kind() {
	case "struct_item":
		kind = symbols.TypeStruct
	case "enum_item":
		kind = symbols.TypeEnum
	case "trait_item":
		kind = symbols.TypeTrait
	case "type_item":
		kind = symbols.TypeAlias
	case "union_item":
		kind = symbols.TypeUnion
	default:
		return
	}

	e.out.Types = append(e.out.Types, symbols.TypeDecl{
		Name:          name,
		QualifiedName: fqn.Join(e.modulePath, name),
		Crate:         e.ctx.Crate,
		ModulePath:    e.modulePath,
		FilePath:      e.ctx.RelPath,
		LineStart:     line(node),
		LineEnd:       endLine(node),
		Kind:          kind,
		Visibility:    visibility(node, e.source),
		DocComment:    docComment(node, e.source),
		IsGeneric:     node.ChildByFieldName("type_parameters") != nil,
		IsTest:        e.ctx.IsTest || inCfgTestModule(node, e.source),
	})

	// Trait declarations carry default methods and bare signatures for
	// required methods.
	if node.Kind() == "trait_item" {
		if body := node.ChildByFieldName("body"); body != nil {
			for i := uint(0); i < body.ChildCount(); i++ {
				child := body.Child(i)
				if child == nil {
					continue
				}
				switch child.Kind() {
				case "function_item", "function_signature_item":
					e.extractFunction(child, name, false)
				}
			}
		}
	}
}

// extractCalls walks one function body and records every call site with the
// enclosing function as caller. implType is the enclosing impl type, used to
// rewrite Self-qualified and self-receiver calls to the concrete type.
func (e *extractor) extractCalls(body *tree_sitter.Node, callerQN, implType string) {
	parser.Walk(body, func(node *tree_sitter.Node) bool {
		switch node.Kind() {
		case "ERROR":
			e.diag("unparseable expression at line %d", line(node))
			return false
		case "call_expression":
			e.extractCall(node, callerQN, implType)
			return true
		case "macro_invocation":
			e.extractMacroCall(node, callerQN)
			return false
		case "function_item", "closure_expression":
			// Nested items keep the outer caller for closures; nested fns
			// are extracted at the top-level walk.
			return node.Kind() == "closure_expression"
		}
		return true
	})
}

func (e *extractor) extractCall(node *tree_sitter.Node, callerQN, implType string) {
	fnNode := node.ChildByFieldName("function")
	if fnNode == nil {
		return
	}

	call := symbols.Call{
		CallerQN:     callerQN,
		CallerModule: e.modulePath,
		FilePath:     e.ctx.RelPath,
		Line:         line(node),
		FromCrate:    e.ctx.Crate,
		Confidence:   1.0,
	}

	switch fnNode.Kind() {
	case "identifier":
		call.CalleeName = parser.NodeText(fnNode, e.source)
		call.Kind = symbols.CallDirect
	case "scoped_identifier":
		path := parser.NodeText(fnNode, e.source)
		path = e.rewriteSelfPath(path, implType)
		call.CalleeName = path
		call.Kind = symbols.CallAssociated
	case "field_expression":
		method := parser.FieldText(fnNode, "field", e.source)
		if method == "" {
			return
		}
		call.Kind = symbols.CallMethod
		receiver := fnNode.ChildByFieldName("value")
		if receiver != nil && implType != "" && parser.NodeText(receiver, e.source) == "self" {
			// self.method() resolves to the concrete enclosing type.
			call.CalleeName = implType + "::" + method
		} else {
			call.CalleeName = method
		}
	case "generic_function":
		inner := fnNode.ChildByFieldName("function")
		if inner == nil {
			return
		}
		path := parser.NodeText(inner, e.source)
		call.CalleeName = e.rewriteSelfPath(path, implType)
		if strings.Contains(call.CalleeName, "::") {
			call.Kind = symbols.CallAssociated
		} else {
			call.Kind = symbols.CallDirect
		}
	default:
		return
	}

	if call.CalleeName == "" {
		return
	}
	e.out.Calls = append(e.out.Calls, call)
}

func (e *extractor) extractMacroCall(node *tree_sitter.Node, callerQN string) {
	macroNode := node.ChildByFieldName("macro")
	if macroNode == nil {
		return
	}
	name := parser.NodeText(macroNode, e.source)
	if name == "" {
		return
	}
	e.out.Calls = append(e.out.Calls, symbols.Call{
		CallerQN:     callerQN,
		CallerModule: e.modulePath,
		CalleeName:   name + "!",
		Kind:         symbols.CallMacro,
		FilePath:     e.ctx.RelPath,
		Line:         line(node),
		FromCrate:    e.ctx.Crate,
		Confidence:   1.0,
	})
}

// rewriteSelfPath replaces a leading Self segment with the enclosing impl
// type so Self::bar() inside impl Foo becomes Foo::bar.
func (e *extractor) rewriteSelfPath(path, implType string) string {
	if implType == "" {
		return path
	}
	if path == "Self" {
		return implType
	}
	if rest, ok := strings.CutPrefix(path, "Self::"); ok {
		return implType + "::" + rest
	}
	return path
}

// baseTypeName strips generic arguments and references from a type
// expression, leaving the bare type path.
func baseTypeName(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "&")
	text = strings.TrimPrefix(text, "mut ")
	if i := strings.Index(text, "<"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

func visibility(node *tree_sitter.Node, source []byte) string {
	if vis := parser.ChildByKind(node, "visibility_modifier"); vis != nil {
		return parser.NodeText(vis, source)
	}
	return "private"
}

func hasModifier(node *tree_sitter.Node, source []byte, keyword string) bool {
	if mods := parser.ChildByKind(node, "function_modifiers"); mods != nil {
		for _, m := range strings.Fields(parser.NodeText(mods, source)) {
			if m == keyword {
				return true
			}
		}
	}
	return false
}

// precedingAttributes collects attribute_item siblings immediately before a
// declaration.
func precedingAttributes(node *tree_sitter.Node, source []byte) []string {
	var attrs []string
	for prev := node.PrevSibling(); prev != nil; prev = prev.PrevSibling() {
		switch prev.Kind() {
		case "attribute_item":
			attrs = append(attrs, parser.NodeText(prev, source))
		case "line_comment", "block_comment":
			continue
		default:
			return attrs
		}
	}
	return attrs
}

func isTestAttr(attrs []string) bool {
	for _, a := range attrs {
		if strings.Contains(a, "#[test]") || strings.Contains(a, "#[tokio::test]") ||
			strings.Contains(a, "#[cfg(test)]") {
			return true
		}
	}
	return false
}

// inCfgTestModule reports whether node sits inside a #[cfg(test)] module.
func inCfgTestModule(node *tree_sitter.Node, source []byte) bool {
	for p := node.Parent(); p != nil; p = p.Parent() {
		if p.Kind() != "mod_item" {
			continue
		}
		for _, a := range precedingAttributes(p, source) {
			if strings.Contains(a, "cfg(test)") {
				return true
			}
		}
	}
	return false
}

// docComment gathers /// line comments directly above a declaration.
func docComment(node *tree_sitter.Node, source []byte) string {
	var lines []string
	for prev := node.PrevSibling(); prev != nil; prev = prev.PrevSibling() {
		if prev.Kind() != "line_comment" {
			break
		}
		text := parser.NodeText(prev, source)
		if !strings.HasPrefix(text, "///") {
			break
		}
		lines = append([]string{strings.TrimSpace(strings.TrimPrefix(text, "///"))}, lines...)
	}
	return strings.Join(lines, "\n")
}

func line(node *tree_sitter.Node) int {
	return int(node.StartPosition().Row) + 1
}

func endLine(node *tree_sitter.Node) int {
	return int(node.EndPosition().Row) + 1
}

func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}
