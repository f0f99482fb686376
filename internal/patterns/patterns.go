// Package patterns classifies actor-style concurrency constructs from a
// parsed file: actor types, spawn edges, message types, handlers, sends, and
// distributed flows.
//
// Actors are classified exactly two ways: an explicit `impl Actor for T`, or
// inferred from a message-handler impl on a type with no explicit
// declaration. Inference from naming conventions or from ActorRef-typed
// fields is deliberately disabled; it produces unacceptable false positives.
package patterns

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/crate-graph-mcp/internal/extract"
	"github.com/DeusData/crate-graph-mcp/internal/fqn"
	"github.com/DeusData/crate-graph-mcp/internal/parser"
	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

// nonActorFrameworks are spawn namespaces that are concurrency primitives,
// not actor frameworks. Spawn sites under these are rejected outright.
var nonActorFrameworks = map[string]bool{
	"tokio": true, "std": true, "async_std": true, "futures": true,
	"runtime": true, "task": true, "thread": true, "executor": true,
	"spawn_blocking": true, "smol": true, "async_global_executor": true,
	"blocking": true, "rayon": true,
}

// spawnMethods maps method names at a spawn site to the spawn method enum.
var spawnMethods = map[string]symbols.SpawnMethod{
	"spawn":              symbols.SpawnPlain,
	"spawn_with_mailbox": symbols.SpawnWithMailbox,
	"spawn_link":         symbols.SpawnLink,
	"spawn_in_thread":    symbols.SpawnInThread,
	"spawn_with_storage": symbols.SpawnWithStorage,
}

// moduleSpawnFuncs are module-level spawn entry points of known actor
// frameworks, keyed module/submodule/function.
var moduleSpawnFuncs = map[string]bool{
	"kameo/actor/spawn":              true,
	"kameo/actor/spawn_with_mailbox": true,
	"actix/actor/spawn":              true,
	"riker/actor/spawn":              true,
	"bastion/children/spawn":         true,
	"coerce/actor/spawn":             true,
}

// Detect appends pattern records to the file's symbols. It re-walks the
// already-parsed tree; the extract result must still own its Tree.
func Detect(res *extract.Result) {
	if res.Tree == nil {
		return
	}
	d := &detector{
		ctx:        res.Ctx,
		source:     res.Source,
		modulePath: fqn.ModulePath(res.Ctx.Crate, res.Ctx.RelPath),
		out:        &res.Symbols,
	}
	root := res.Tree.RootNode()

	d.detectMessageTypes()
	d.detectActorsAndHandlers(root)
	d.refMap = d.buildActorRefMap(root)
	d.msgVarTypes = d.buildMessageVarTypes(root)
	d.detectSpawns(root)
	d.detectSends(root)
	d.detectDistributedActors(root)
	d.detectMacroExpansions()
}

type detector struct {
	ctx         extract.FileContext
	source      []byte
	modulePath  string
	out         *symbols.FileSymbols
	refMap      map[string]string // binding name -> actor type
	msgVarTypes map[string]string // let binding -> struct type
}

// detectMessageTypes tags already-extracted struct/enum declarations whose
// names end with a recognized message-role suffix.
func (d *detector) detectMessageTypes() {
	for _, t := range d.out.Types {
		if t.Kind != symbols.TypeStruct && t.Kind != symbols.TypeEnum {
			continue
		}
		var kind symbols.MessageKind
		switch {
		case strings.HasSuffix(t.Name, "Tell"):
			kind = symbols.KindTell
		case strings.HasSuffix(t.Name, "Ask"):
			kind = symbols.KindAsk
		case strings.HasSuffix(t.Name, "Message"):
			kind = symbols.KindMessage
		case strings.HasSuffix(t.Name, "Query"):
			kind = symbols.KindQuery
		default:
			continue
		}
		d.out.MessageTypes = append(d.out.MessageTypes, symbols.MessageType{
			Name:          t.Name,
			QualifiedName: t.QualifiedName,
			Crate:         t.Crate,
			ModulePath:    t.ModulePath,
			FilePath:      t.FilePath,
			LineStart:     t.LineStart,
			LineEnd:       t.LineEnd,
			Kind:          kind,
			Visibility:    t.Visibility,
		})
	}
}

// detectActorsAndHandlers walks impl blocks for the two permitted actor
// classifications and for message-handler records.
func (d *detector) detectActorsAndHandlers(root *tree_sitter.Node) {
	seen := map[string]bool{}

	parser.Walk(root, func(node *tree_sitter.Node) bool {
		if node.Kind() != "impl_item" {
			return true
		}
		traitNode := node.ChildByFieldName("trait")
		typeNode := node.ChildByFieldName("type")
		if traitNode == nil || typeNode == nil {
			return false
		}
		traitBase, traitArgs := splitGeneric(parser.NodeText(traitNode, d.source))
		typeName := lastSegment(baseName(parser.NodeText(typeNode, d.source)))

		switch traitBase {
		case "Actor":
			// Enum variants and associated types are not actor types.
			if typeName == "" || strings.Contains(parser.NodeText(typeNode, d.source), "::") {
				return false
			}
			if seen[typeName] {
				return false
			}
			seen[typeName] = true
			d.out.Actors = append(d.out.Actors, symbols.Actor{
				Name:          typeName,
				QualifiedName: fqn.Join(d.modulePath, typeName),
				Crate:         d.ctx.Crate,
				ModulePath:    d.modulePath,
				FilePath:      d.ctx.RelPath,
				LineStart:     nodeLine(node),
				LineEnd:       nodeEndLine(node),
				Kind:          actorKindFromName(typeName),
				Visibility:    "pub",
				IsDistributed: strings.Contains(typeName, "Distributed"),
				IsTest:        d.ctx.IsTest,
				Inferred:      false,
			})
		case "Message":
			if typeName == "" || len(traitArgs) == 0 {
				return false
			}
			msgType := traitArgs[0]
			d.out.MessageHandlers = append(d.out.MessageHandlers, symbols.MessageHandler{
				ActorName:   typeName,
				ActorQN:     fqn.Join(d.modulePath, typeName),
				MessageType: msgType,
				MessageQN:   fqn.Join(d.modulePath, msgType),
				ReplyType:   d.replyType(node),
				IsAsync:     true, // handler trait methods are async by contract
				Crate:       d.ctx.Crate,
				FilePath:    d.ctx.RelPath,
				Line:        nodeLine(node),
			})
			if !seen[typeName] {
				seen[typeName] = true
				d.out.Actors = append(d.out.Actors, symbols.Actor{
					Name:          typeName,
					QualifiedName: fqn.Join(d.modulePath, typeName),
					Crate:         d.ctx.Crate,
					ModulePath:    d.modulePath,
					FilePath:      d.ctx.RelPath,
					LineStart:     nodeLine(node),
					LineEnd:       nodeEndLine(node),
					Kind:          symbols.ActorLocal,
					Visibility:    "pub",
					IsTest:        d.ctx.IsTest,
					Inferred:      true,
					LocalMessages: []string{msgType},
				})
			}
		}
		return false
	})
}

// replyType finds `type Reply = X;` inside a handler impl body.
func (d *detector) replyType(implNode *tree_sitter.Node) string {
	body := implNode.ChildByFieldName("body")
	if body == nil {
		return "Unknown"
	}
	for i := uint(0); i < body.ChildCount(); i++ {
		child := body.Child(i)
		if child == nil || child.Kind() != "type_item" {
			continue
		}
		if parser.FieldText(child, "name", d.source) != "Reply" {
			continue
		}
		if t := child.ChildByFieldName("type"); t != nil {
			return parser.NodeText(t, d.source)
		}
	}
	return "Unknown"
}

// LinkHandlers folds message handlers back into their owning actors'
// local-message lists. It runs after the per-crate merge so handlers and
// actor declarations in different files still meet.
func LinkHandlers(unit *symbols.UnitSymbols) {
	byQN := map[string][]string{}
	for _, h := range unit.MessageHandlers {
		byQN[h.ActorQN] = append(byQN[h.ActorQN], h.MessageType)
	}
	for i := range unit.Actors {
		if msgs, ok := byQN[unit.Actors[i].QualifiedName]; ok {
			unit.Actors[i].LocalMessages = unionInto(unit.Actors[i].LocalMessages, msgs)
		}
	}
	for i := range unit.DistActors {
		da := &unit.DistActors[i]
		qn := fqn.NormalizeCrate(da.Crate) + "::" + da.Name
		for actorQN, msgs := range byQN {
			if actorQN == qn || strings.HasSuffix(actorQN, "::"+da.Name) {
				da.LocalMessages = unionInto(da.LocalMessages, msgs)
			}
		}
	}
}

func unionInto(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range src {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			dst = append(dst, s)
		}
	}
	return dst
}

func actorKindFromName(name string) symbols.ActorKind {
	switch {
	case strings.Contains(name, "Supervisor"):
		return symbols.ActorSupervisor
	case strings.Contains(name, "Distributed"):
		return symbols.ActorDistributed
	default:
		return symbols.ActorLocal
	}
}

// isLikelyActorType applies the documented heuristic: proper-cased name with
// actor-style naming or context. Trait names themselves never qualify.
func isLikelyActorType(ident string) bool {
	if nonActorFrameworks[ident] {
		return false
	}
	if ident == "Actor" || ident == "Message" || ident == "Handler" {
		return false
	}
	first := ident != "" && ident[0] >= 'A' && ident[0] <= 'Z'
	named := strings.HasSuffix(ident, "Actor") || strings.HasSuffix(ident, "Supervisor") ||
		strings.HasSuffix(ident, "Worker") || strings.HasSuffix(ident, "Handler") ||
		strings.HasSuffix(ident, "Agent") || strings.HasSuffix(ident, "Service")
	context := strings.Contains(ident, "Actor") || strings.Contains(ident, "Supervisor") ||
		strings.Contains(ident, "Manager")
	return first && (named || context)
}

func isLikelyActorVariable(ident string) bool {
	return strings.HasSuffix(ident, "_actor") || strings.HasSuffix(ident, "_supervisor") ||
		strings.HasSuffix(ident, "_worker") || strings.HasSuffix(ident, "_handler") ||
		strings.HasSuffix(ident, "_agent") || strings.HasSuffix(ident, "_service") ||
		strings.Contains(ident, "actor_") || strings.Contains(ident, "supervisor_")
}

// actorTypeFromVariable converts an actor-style variable name to its
// presumed type name, e.g. accounting_actor -> AccountingActor.
func actorTypeFromVariable(varName string) string {
	for _, suffix := range []string{"_actor", "_supervisor", "_worker", "_handler"} {
		if base, ok := strings.CutSuffix(varName, suffix); ok {
			return pascalCase(base) + pascalCase(strings.TrimPrefix(suffix, "_"))
		}
	}
	return pascalCase(varName)
}

func pascalCase(snake string) string {
	var b strings.Builder
	for _, word := range strings.Split(snake, "_") {
		if word == "" {
			continue
		}
		b.WriteString(strings.ToUpper(word[:1]))
		b.WriteString(word[1:])
	}
	return b.String()
}

// splitGeneric splits "Message<Ping>" into ("Message", ["Ping"]).
func splitGeneric(text string) (string, []string) {
	text = strings.TrimSpace(text)
	open := strings.Index(text, "<")
	if open < 0 {
		return text, nil
	}
	base := text[:open]
	inner := strings.TrimSuffix(text[open+1:], ">")
	var args []string
	for _, a := range strings.Split(inner, ",") {
		if a = strings.TrimSpace(a); a != "" {
			args = append(args, baseName(a))
		}
	}
	return base, args
}

func baseName(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "&")
	if i := strings.Index(text, "<"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "::"); i >= 0 {
		return path[i+2:]
	}
	return path
}

func nodeLine(n *tree_sitter.Node) int {
	return int(n.StartPosition().Row) + 1
}

func nodeEndLine(n *tree_sitter.Node) int {
	return int(n.EndPosition().Row) + 1
}
