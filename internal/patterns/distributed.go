package patterns

import (
	"regexp"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/crate-graph-mcp/internal/parser"
	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

// detectDistributedActors records distributed_actor! declarations. The macro
// body names the actor first and its advertised message types after it.
func (d *detector) detectDistributedActors(root *tree_sitter.Node) {
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		if node.Kind() != "macro_invocation" {
			return true
		}
		macroNode := node.ChildByFieldName("macro")
		if macroNode == nil {
			return true
		}
		if lastSegment(parser.NodeText(macroNode, d.source)) != "distributed_actor" {
			return true
		}
		idents := tokenTreeIdentifiers(node, d.source)
		if len(idents) == 0 {
			return false
		}
		d.out.DistActors = append(d.out.DistActors, symbols.DistributedActor{
			Name:                idents[0],
			Crate:               d.ctx.Crate,
			FilePath:            d.ctx.RelPath,
			Line:                nodeLine(node),
			IsTest:              d.ctx.IsTest,
			DistributedMessages: idents[1:],
		})
		return false
	})
}

// tokenTreeIdentifiers collects proper-cased identifiers from a macro body in
// source order.
func tokenTreeIdentifiers(macroNode *tree_sitter.Node, source []byte) []string {
	var idents []string
	parser.Walk(macroNode, func(node *tree_sitter.Node) bool {
		if node.Kind() == "identifier" || node.Kind() == "type_identifier" {
			text := parser.NodeText(node, source)
			if isPascal(text) {
				idents = append(idents, text)
			}
		}
		return true
	})
	return idents
}

// Identifier-concatenation expansion sites. The bracketed form pastes a
// prefix and suffix into a type name and calls a method on the result; the
// call only exists after expansion, so it is recorded here and synthesized
// into calls later.
var (
	pasteBlockRe   = regexp.MustCompile(`\bpaste(::paste)?!\s*[({]`)
	pastePatternRe = regexp.MustCompile(`\[<\s*([^>]+?)\s*>\]\s*::\s*([a-z_][a-z0-9_]*)`)
)

// detectMacroExpansions scans source text for paste-style expansion blocks.
// This is a text scan, not a tree walk: the grammar sees only opaque token
// trees inside macro bodies.
func (d *detector) detectMacroExpansions() {
	lines := strings.Split(string(d.source), "\n")
	for i := 0; i < len(lines); i++ {
		if !pasteBlockRe.MatchString(lines[i]) {
			continue
		}
		start := i
		end := macroBlockEnd(lines, i)
		block := strings.Join(lines[start:end+1], "\n")
		for _, m := range pastePatternRe.FindAllStringSubmatch(block, -1) {
			d.out.MacroExpansions = append(d.out.MacroExpansions, symbols.MacroExpansion{
				Crate:              d.ctx.Crate,
				FilePath:           d.ctx.RelPath,
				LineStart:          start + 1,
				LineEnd:            end + 1,
				MacroType:          "paste",
				Pattern:            strings.TrimSpace(m[1]),
				Method:             m[2],
				ContainingFunction: d.functionAtLine(start + 1),
			})
		}
		i = end
	}
}

// macroBlockEnd finds the closing line of a macro block by brace balance.
func macroBlockEnd(lines []string, start int) int {
	depth := 0
	opened := false
	for i := start; i < len(lines); i++ {
		for _, r := range lines[i] {
			switch r {
			case '{', '(':
				depth++
				opened = true
			case '}', ')':
				depth--
			}
		}
		if opened && depth <= 0 {
			return i
		}
	}
	return len(lines) - 1
}

// functionAtLine names the extracted function whose span covers the line.
func (d *detector) functionAtLine(line int) string {
	for i := range d.out.Functions {
		f := &d.out.Functions[i]
		if line >= f.LineStart && line <= f.LineEnd {
			return f.QualifiedName
		}
	}
	return ""
}
