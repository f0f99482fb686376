package patterns

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/crate-graph-mcp/internal/parser"
	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

// detectSpawns records actor spawn sites. Three syntactic shapes are
// recognized: Type::spawn(...), Actor::spawn(instance), and
// framework::module::spawn(instance). Spawns under known non-actor
// namespaces (tokio, std, rayon and the rest) are rejected.
func (d *detector) detectSpawns(root *tree_sitter.Node) {
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		if node.Kind() != "call_expression" {
			return true
		}
		fnNode := node.ChildByFieldName("function")
		if fnNode == nil || fnNode.Kind() != "scoped_identifier" {
			return true
		}
		path := parser.NodeText(fnNode, d.source)
		segs := strings.Split(path, "::")
		if len(segs) < 2 {
			return true
		}
		methodName := segs[len(segs)-1]
		method, known := spawnMethods[methodName]
		if !known {
			return true
		}
		if nonActorFrameworks[segs[0]] {
			return true
		}

		spawn := symbols.ActorSpawn{
			Method:    method,
			FilePath:  d.ctx.RelPath,
			Line:      nodeLine(node),
			FromCrate: d.ctx.Crate,
			ToCrate:   d.ctx.Crate,
		}

		switch {
		case len(segs) == 2 && segs[0] == "Actor":
			// Actor::spawn(instance): the child comes from the argument.
			child := d.actorTypeFromArgs(node)
			if child == "" {
				return true
			}
			spawn.ChildActor = child
			spawn.Pattern = symbols.PatternTraitMethod
			spawn.Method = symbols.SpawnActorTrait
		case len(segs) == 2:
			if !isLikelyActorType(segs[0]) {
				return true
			}
			spawn.ChildActor = segs[0]
			spawn.Pattern = symbols.PatternDirectType
		default:
			// Module-function spawns only count for known actor frameworks.
			key := segs[0] + "/" + strings.Join(segs[1:], "/")
			if !moduleSpawnFuncs[key] {
				return true
			}
			child := d.actorTypeFromArgs(node)
			if child == "" {
				return true
			}
			spawn.ChildActor = child
			spawn.Pattern = symbols.PatternModuleFunction
			spawn.Method = symbols.SpawnModuleFunc
		}

		spawn.ParentActor, spawn.Context = d.spawningContext(node)
		d.out.Spawns = append(d.out.Spawns, spawn)
		return true
	})
}

// actorTypeFromArgs pulls the spawned actor type out of a spawn call's first
// argument: a constructor call, a struct literal, or an actor-style variable.
func (d *detector) actorTypeFromArgs(callNode *tree_sitter.Node) string {
	args := callNode.ChildByFieldName("arguments")
	if args == nil {
		return ""
	}
	var first *tree_sitter.Node
	for i := uint(0); i < args.NamedChildCount(); i++ {
		first = args.NamedChild(i)
		break
	}
	if first == nil {
		return ""
	}
	switch first.Kind() {
	case "call_expression":
		inner := first.ChildByFieldName("function")
		if inner == nil || inner.Kind() != "scoped_identifier" {
			return ""
		}
		segs := strings.Split(parser.NodeText(inner, d.source), "::")
		if len(segs) != 2 {
			return ""
		}
		switch segs[1] {
		case "new", "default", "create":
			if isLikelyActorType(segs[0]) || isPascal(segs[0]) {
				return segs[0]
			}
		}
	case "struct_expression":
		if name := first.ChildByFieldName("name"); name != nil {
			return baseName(parser.NodeText(name, d.source))
		}
	case "identifier":
		ident := parser.NodeText(first, d.source)
		if isLikelyActorVariable(ident) {
			return actorTypeFromVariable(ident)
		}
	}
	return ""
}

// spawningContext resolves the parent actor and the enclosing-function
// classification for a spawn site. Inside an actor impl the parent is the
// impl type; elsewhere it is the enclosing function's name.
func (d *detector) spawningContext(node *tree_sitter.Node) (parent, context string) {
	context = "unknown"
	if fn := enclosingFunction(node); fn != nil {
		context = parser.FieldText(fn, "name", d.source)
		if context == "" {
			context = "unknown"
		}
		for _, a := range attributesOf(fn, d.source) {
			if strings.Contains(a, "#[test]") || strings.Contains(a, "#[tokio::test]") {
				context = "test"
			}
		}
	}
	if implType := d.enclosingImplType(node); implType != "" {
		return implType, context
	}
	if context != "unknown" && context != "test" {
		return context, context
	}
	return "Unknown", context
}

func (d *detector) enclosingImplType(node *tree_sitter.Node) string {
	for p := node.Parent(); p != nil; p = p.Parent() {
		if p.Kind() != "impl_item" {
			continue
		}
		typeNode := p.ChildByFieldName("type")
		if typeNode == nil {
			return ""
		}
		name := lastSegment(baseName(parser.NodeText(typeNode, d.source)))
		if strings.Contains(name, "::") {
			return ""
		}
		return name
	}
	return ""
}

func enclosingFunction(node *tree_sitter.Node) *tree_sitter.Node {
	for p := node.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == "function_item" {
			return p
		}
	}
	return nil
}

func attributesOf(node *tree_sitter.Node, source []byte) []string {
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

func isPascal(ident string) bool {
	return ident != "" && ident[0] >= 'A' && ident[0] <= 'Z'
}
