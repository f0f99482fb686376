package patterns

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/crate-graph-mcp/internal/parser"
	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

// Receiver resolution confidence. A tracked reference binding is certain; a
// context receiver maps through the enclosing impl; a bare name-shape guess
// is recorded but marked weak.
const (
	confTracked   = 1.0
	confContext   = 0.9
	confNameShape = 0.6
)

// buildActorRefMap tracks bindings that hold actor references: typed let
// bindings, spawn-result assignments, and struct fields of reference type.
func (d *detector) buildActorRefMap(root *tree_sitter.Node) map[string]string {
	refs := map[string]string{}

	parser.Walk(root, func(node *tree_sitter.Node) bool {
		switch node.Kind() {
		case "let_declaration":
			name := bindingName(node, d.source)
			if name == "" {
				return true
			}
			if t := refTargetType(node.ChildByFieldName("type"), d.source); t != "" {
				refs[name] = t
				return true
			}
			if t := d.spawnResultType(node.ChildByFieldName("value")); t != "" {
				refs[name] = t
			}
		case "field_declaration":
			fieldName := parser.FieldText(node, "name", d.source)
			if fieldName == "" {
				return true
			}
			if t := refTargetType(node.ChildByFieldName("type"), d.source); t != "" {
				refs[fieldName] = t
			}
		}
		return true
	})
	return refs
}

// refTargetType extracts T from an ActorRef<T>-shaped type annotation.
func refTargetType(typeNode *tree_sitter.Node, source []byte) string {
	if typeNode == nil {
		return ""
	}
	base, args := splitGeneric(parser.NodeText(typeNode, source))
	switch lastSegment(base) {
	case "ActorRef", "RemoteActorRef", "WeakActorRef":
		if len(args) > 0 {
			return lastSegment(args[0])
		}
	}
	return ""
}

// spawnResultType resolves `let x = Foo::spawn(...)` to Foo.
func (d *detector) spawnResultType(value *tree_sitter.Node) string {
	if value == nil {
		return ""
	}
	// await-wrapped spawns unwrap to the inner call.
	if value.Kind() == "await_expression" {
		value = value.NamedChild(0)
		if value == nil {
			return ""
		}
	}
	if value.Kind() != "call_expression" {
		return ""
	}
	fnNode := value.ChildByFieldName("function")
	if fnNode == nil || fnNode.Kind() != "scoped_identifier" {
		return ""
	}
	segs := strings.Split(parser.NodeText(fnNode, d.source), "::")
	if len(segs) < 2 {
		return ""
	}
	if _, ok := spawnMethods[segs[len(segs)-1]]; !ok {
		return ""
	}
	if nonActorFrameworks[segs[0]] {
		return ""
	}
	if len(segs) == 2 && segs[0] != "Actor" && isPascal(segs[0]) {
		return segs[0]
	}
	return d.actorTypeFromArgs(value)
}

// buildMessageVarTypes tracks let bindings initialized with a message-type
// constructor or literal, so `actor.tell(msg)` can name the message.
func (d *detector) buildMessageVarTypes(root *tree_sitter.Node) map[string]string {
	vars := map[string]string{}
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		if node.Kind() != "let_declaration" {
			return true
		}
		name := bindingName(node, d.source)
		value := node.ChildByFieldName("value")
		if name == "" || value == nil {
			return true
		}
		if t := messageTypeOfExpr(value, d.source); t != "" {
			vars[name] = t
		}
		return true
	})
	return vars
}

// messageTypeOfExpr names the message type built by an expression: a struct
// literal, an enum-variant path, or a Type::new(...) constructor.
func messageTypeOfExpr(expr *tree_sitter.Node, source []byte) string {
	switch expr.Kind() {
	case "struct_expression":
		if name := expr.ChildByFieldName("name"); name != nil {
			return firstSegment(baseName(parser.NodeText(name, source)))
		}
	case "scoped_identifier":
		return firstSegment(parser.NodeText(expr, source))
	case "call_expression":
		fnNode := expr.ChildByFieldName("function")
		if fnNode != nil && fnNode.Kind() == "scoped_identifier" {
			first := firstSegment(parser.NodeText(fnNode, source))
			if isPascal(first) {
				return first
			}
		}
	}
	return ""
}

// detectSends records tell/ask call sites against tracked actor references.
func (d *detector) detectSends(root *tree_sitter.Node) {
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		if node.Kind() != "call_expression" {
			return true
		}
		fnNode := node.ChildByFieldName("function")
		if fnNode == nil || fnNode.Kind() != "field_expression" {
			return true
		}
		var method symbols.SendMethod
		switch parser.FieldText(fnNode, "field", d.source) {
		case "tell":
			method = symbols.SendTell
		case "ask":
			method = symbols.SendAsk
		default:
			return true
		}

		receiver := fnNode.ChildByFieldName("value")
		if receiver == nil {
			return true
		}
		recvName, recvActor, conf := d.resolveReceiver(receiver, node)
		if recvActor == "" {
			return true
		}
		msgType := d.messageTypeOfArgs(node)
		if msgType == "" {
			return true
		}

		sender := d.senderContext(node)
		send := symbols.MessageSend{
			SenderActor:   sender,
			ReceiverActor: recvActor,
			MessageType:   msgType,
			Method:        method,
			Confidence:    conf,
			Crate:         d.ctx.Crate,
			FilePath:      d.ctx.RelPath,
			Line:          nodeLine(node),
		}
		d.out.MessageSends = append(d.out.MessageSends, send)

		if strings.Contains(recvName, "distributed") {
			d.out.DistFlows = append(d.out.DistFlows, symbols.DistributedMessageFlow{
				MessageType:   msgType,
				SenderActor:   sender,
				SenderContext: d.functionContext(node),
				SenderCrate:   d.ctx.Crate,
				TargetActor:   recvActor,
				TargetCrate:   d.ctx.Crate, // local-receiver assumption, revisited at resolve time
				Method:        method,
				FilePath:      d.ctx.RelPath,
				Line:          nodeLine(node),
			})
		}
		return true
	})
}

// resolveReceiver maps a send receiver expression to an actor type. The
// chain: tracked binding, context receiver via the enclosing impl, tracked
// struct field, then the name-shape fallback.
func (d *detector) resolveReceiver(receiver, site *tree_sitter.Node) (name, actor string, conf float64) {
	switch receiver.Kind() {
	case "identifier":
		name = parser.NodeText(receiver, d.source)
		if t, ok := d.refMap[name]; ok {
			return name, t, confTracked
		}
		if name == "ctx" || name == "context" {
			if implType := d.enclosingImplType(site); implType != "" {
				return name, implType, confContext
			}
			return name, "", 0
		}
		if isLikelyActorVariable(name) {
			return name, actorTypeFromVariable(name), confNameShape
		}
	case "field_expression":
		name = parser.FieldText(receiver, "field", d.source)
		if t, ok := d.refMap[name]; ok {
			return name, t, confTracked
		}
		if isLikelyActorVariable(name) {
			return name, actorTypeFromVariable(name), confNameShape
		}
	}
	return name, "", 0
}

// messageTypeOfArgs names the message passed as the send's first argument.
func (d *detector) messageTypeOfArgs(callNode *tree_sitter.Node) string {
	args := callNode.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return ""
	}
	arg := args.NamedChild(0)
	if arg == nil {
		return ""
	}
	if arg.Kind() == "reference_expression" {
		if inner := arg.NamedChild(0); inner != nil {
			arg = inner
		}
	}
	if arg.Kind() == "identifier" {
		ident := parser.NodeText(arg, d.source)
		if t, ok := d.msgVarTypes[ident]; ok {
			return t
		}
		if isPascal(ident) {
			return ident
		}
		return ""
	}
	return messageTypeOfExpr(arg, d.source)
}

// senderContext names the sending actor: the enclosing impl type, or the
// enclosing function when it is a recognized entry context.
func (d *detector) senderContext(node *tree_sitter.Node) string {
	if implType := d.enclosingImplType(node); implType != "" {
		return implType
	}
	fn := d.functionContext(node)
	if fn == "main" || fn == "test" || d.ctx.IsTest {
		return fn
	}
	if fn != "" {
		return fn
	}
	return "Unknown"
}

func (d *detector) functionContext(node *tree_sitter.Node) string {
	fn := enclosingFunction(node)
	if fn == nil {
		return ""
	}
	for _, a := range attributesOf(fn, d.source) {
		if strings.Contains(a, "#[test]") || strings.Contains(a, "#[tokio::test]") {
			return "test"
		}
	}
	return parser.FieldText(fn, "name", d.source)
}

func bindingName(letNode *tree_sitter.Node, source []byte) string {
	pattern := letNode.ChildByFieldName("pattern")
	if pattern == nil {
		return ""
	}
	switch pattern.Kind() {
	case "identifier":
		return parser.NodeText(pattern, source)
	case "mut_pattern":
		if inner := pattern.NamedChild(0); inner != nil && inner.Kind() == "identifier" {
			return parser.NodeText(inner, source)
		}
	}
	return ""
}

func firstSegment(path string) string {
	if i := strings.Index(path, "::"); i >= 0 {
		return path[:i]
	}
	return path
}
