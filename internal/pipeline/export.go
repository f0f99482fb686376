package pipeline

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/DeusData/crate-graph-mcp/internal/store"
	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

// pendingEdge defers edge creation until node ids are known. Edges are
// collected by qualified name during the build and resolved against the
// id map after the node batch lands.
type pendingEdge struct {
	SourceQN   string
	TargetQN   string
	Type       string
	Properties map[string]any
}

// flush writes the whole graph inside one transaction, then refreshes file
// fingerprints. A re-run starts by clearing the workspace's previous graph
// so deleted symbols do not linger.
func (p *Pipeline) flush(changedFiles []string) error {
	nodes, edges := p.buildGraph()

	err := p.Store.WithTransaction(func(tx *store.Store) error {
		// The workspace row must exist before the node batch; nodes carry a
		// foreign key to it.
		if err := tx.UpsertWorkspace(p.WorkspaceName, p.RootPath); err != nil {
			return fmt.Errorf("upsert workspace: %w", err)
		}
		if err := tx.DeleteEdgesByWorkspace(p.WorkspaceName); err != nil {
			return fmt.Errorf("clear edges: %w", err)
		}
		if err := tx.DeleteNodesByWorkspace(p.WorkspaceName); err != nil {
			return fmt.Errorf("clear nodes: %w", err)
		}

		idMap, err := tx.UpsertNodeBatch(nodes)
		if err != nil {
			return err
		}

		batch := make([]*store.Edge, 0, len(edges))
		skipped := 0
		for _, pe := range edges {
			srcID, okSrc := idMap[pe.SourceQN]
			tgtID, okTgt := idMap[pe.TargetQN]
			if !okSrc || !okTgt || srcID == tgtID {
				skipped++
				continue
			}
			batch = append(batch, &store.Edge{
				Workspace:  p.WorkspaceName,
				SourceID:   srcID,
				TargetID:   tgtID,
				Type:       pe.Type,
				Properties: pe.Properties,
			})
		}
		if skipped > 0 {
			slog.Debug("flush.edges.skipped", "count", skipped)
		}
		return tx.InsertEdgeBatch(batch)
	})
	if err != nil {
		return err
	}

	p.storeFileHashes(changedFiles)
	return nil
}

func (p *Pipeline) storeFileHashes(changedFiles []string) {
	for _, path := range changedFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			_ = p.Store.DeleteFileHash(p.WorkspaceName, path)
			continue
		}
		if err := p.Store.UpsertFileHash(p.WorkspaceName, path, hashBytes(data)); err != nil {
			slog.Warn("flush.hash.err", "file", path, "err", err)
		}
	}
}

// buildGraph converts the merged units into nodes and pending edges.
func (p *Pipeline) buildGraph() ([]*store.Node, []pendingEdge) {
	b := &graphBuilder{
		workspace: p.WorkspaceName,
		nodes:     map[string]*store.Node{},
	}

	inWorkspace := map[string]bool{}
	for _, crate := range p.Workspace.Crates {
		inWorkspace[crate.Name] = true
	}

	for _, crate := range p.Workspace.Crates {
		b.addNode(&store.Node{
			Workspace:     p.WorkspaceName,
			Label:         store.LabelCrate,
			Name:          crate.Name,
			QualifiedName: crate.Name,
			Properties:    map[string]any{"raw_name": crate.RawName, "root": crate.Root},
		})
		for _, dep := range crate.Dependencies {
			if inWorkspace[dep] && dep != crate.Name {
				b.addEdge(crate.Name, dep, store.EdgeDependsOn, nil)
			}
		}
	}

	for _, u := range p.Units {
		b.unit(u)
	}
	return b.finish()
}

type graphBuilder struct {
	workspace string
	nodes     map[string]*store.Node
	order     []string
	edges     []pendingEdge
}

func (b *graphBuilder) addNode(n *store.Node) *store.Node {
	if existing, ok := b.nodes[n.QualifiedName]; ok {
		return existing
	}
	if n.Properties == nil {
		n.Properties = map[string]any{}
	}
	b.nodes[n.QualifiedName] = n
	b.order = append(b.order, n.QualifiedName)
	return n
}

func (b *graphBuilder) addEdge(srcQN, tgtQN, edgeType string, props map[string]any) {
	if srcQN == "" || tgtQN == "" {
		return
	}
	b.edges = append(b.edges, pendingEdge{SourceQN: srcQN, TargetQN: tgtQN, Type: edgeType, Properties: props})
}

func (b *graphBuilder) finish() ([]*store.Node, []pendingEdge) {
	nodes := make([]*store.Node, 0, len(b.order))
	for _, qn := range b.order {
		nodes = append(nodes, b.nodes[qn])
	}
	return nodes, b.edges
}

func (b *graphBuilder) unit(u *symbols.UnitSymbols) {
	for i := range u.Modules {
		m := &u.Modules[i]
		b.addNode(&store.Node{
			Workspace:     b.workspace,
			Label:         store.LabelModule,
			Name:          m.Name,
			QualifiedName: m.Path,
			FilePath:      m.FilePath,
			StartLine:     m.Line,
			Properties:    map[string]any{"crate": m.Crate},
		})
	}

	for i := range u.Types {
		t := &u.Types[i]
		b.addNode(&store.Node{
			Workspace:     b.workspace,
			Label:         store.LabelType,
			Name:          t.Name,
			QualifiedName: t.QualifiedName,
			FilePath:      t.FilePath,
			StartLine:     t.LineStart,
			EndLine:       t.LineEnd,
			Properties: map[string]any{
				"crate":      t.Crate,
				"kind":       string(t.Kind),
				"visibility": t.Visibility,
				"is_test":    t.IsTest,
				"is_generic": t.IsGeneric,
			},
		})
	}

	// Message-suffixed types keep one node, relabeled; the declaration
	// properties stay.
	for i := range u.MessageTypes {
		m := &u.MessageTypes[i]
		n := b.addNode(&store.Node{
			Workspace:     b.workspace,
			Label:         store.LabelMessageType,
			Name:          m.Name,
			QualifiedName: m.QualifiedName,
			FilePath:      m.FilePath,
			StartLine:     m.LineStart,
			EndLine:       m.LineEnd,
			Properties:    map[string]any{"crate": m.Crate, "visibility": m.Visibility},
		})
		n.Label = store.LabelMessageType
		n.Properties["message_kind"] = string(m.Kind)
	}

	// Actors dual-tag their Type node rather than adding a second one.
	for i := range u.Actors {
		a := &u.Actors[i]
		n := b.addNode(&store.Node{
			Workspace:     b.workspace,
			Label:         store.LabelType,
			Name:          a.Name,
			QualifiedName: a.QualifiedName,
			FilePath:      a.FilePath,
			StartLine:     a.LineStart,
			EndLine:       a.LineEnd,
			Properties:    map[string]any{"crate": a.Crate, "kind": "struct"},
		})
		n.Properties["is_actor"] = true
		n.Properties["actor_kind"] = string(a.Kind)
		n.Properties["inferred"] = a.Inferred
		if len(a.LocalMessages) > 0 {
			n.Properties["local_messages"] = a.LocalMessages
		}
		if len(a.DistributedMessages) > 0 {
			n.Properties["distributed_messages"] = a.DistributedMessages
		}
	}
	for i := range u.DistActors {
		d := &u.DistActors[i]
		if qn, ok := b.resolveType(u, d.Name); ok {
			n := b.nodes[qn]
			n.Properties["is_actor"] = true
			n.Properties["actor_kind"] = string(symbols.ActorDistributed)
			if len(d.DistributedMessages) > 0 {
				n.Properties["distributed_messages"] = d.DistributedMessages
			}
		}
	}

	for i := range u.Functions {
		f := &u.Functions[i]
		props := map[string]any{
			"crate":      f.Crate,
			"visibility": f.Visibility,
			"signature":  f.Signature,
			"is_async":   f.IsAsync,
			"is_test":    f.IsTest,
		}
		if f.Name == "main" {
			props["is_entry_point"] = true
		}
		if f.IsTraitImpl {
			props["is_trait_impl"] = true
		}
		b.addNode(&store.Node{
			Workspace:     b.workspace,
			Label:         store.LabelFunction,
			Name:          f.Name,
			QualifiedName: f.QualifiedName,
			FilePath:      f.FilePath,
			StartLine:     f.LineStart,
			EndLine:       f.LineEnd,
			Properties:    props,
		})
	}

	b.unitEdges(u)
}

func (b *graphBuilder) unitEdges(u *symbols.UnitSymbols) {
	for i := range u.Calls {
		c := &u.Calls[i]
		if c.QualifiedCallee == "" {
			continue
		}
		b.addEdge(c.CallerQN, c.QualifiedCallee, store.EdgeCalls, map[string]any{
			"line":         c.Line,
			"call_kind":    string(c.Kind),
			"is_synthetic": c.IsSynthetic,
			"confidence":   c.Confidence,
			"cross_unit":   c.CrossCrate,
		})
	}

	for i := range u.Impls {
		impl := &u.Impls[i]
		if impl.TraitName == "" {
			continue
		}
		if traitQN, ok := b.resolveType(u, impl.TraitName); ok {
			b.addEdge(impl.QualifiedType, traitQN, store.EdgeImplements, map[string]any{
				"line": impl.LineStart,
			})
		}
	}

	for i := range u.Spawns {
		s := &u.Spawns[i]
		parentQN, okParent := b.resolveType(u, s.ParentActor)
		childQN, okChild := b.resolveType(u, s.ChildActor)
		if !okChild {
			continue
		}
		if !okParent {
			// A spawn from main or a free function hangs off the Function
			// node when one matches the context name.
			parentQN, okParent = b.resolveFunction(u, s.Context)
		}
		if !okParent {
			continue
		}
		b.addEdge(parentQN, childQN, store.EdgeSpawns, map[string]any{
			"method":  string(s.Method),
			"pattern": string(s.Pattern),
			"context": s.Context,
			"line":    s.Line,
		})
	}

	for i := range u.MessageHandlers {
		h := &u.MessageHandlers[i]
		actorQN, okActor := b.resolveType(u, h.ActorName)
		msgQN, okMsg := b.resolveType(u, h.MessageType)
		if !okActor || !okMsg {
			continue
		}
		b.addEdge(actorQN, msgQN, store.EdgeHandles, map[string]any{
			"reply_type": h.ReplyType,
			"is_async":   h.IsAsync,
			"line":       h.Line,
		})
	}

	for i := range u.MessageSends {
		s := &u.MessageSends[i]
		senderQN, okSender := b.resolveType(u, s.SenderActor)
		receiverQN, okRecv := b.resolveType(u, s.ReceiverActor)
		if !okSender || !okRecv {
			continue
		}
		b.addEdge(senderQN, receiverQN, store.EdgeSends, map[string]any{
			"message_type": s.MessageType,
			"method":       string(s.Method),
			"confidence":   s.Confidence,
			"line":         s.Line,
		})
	}

	for i := range u.DistFlows {
		f := &u.DistFlows[i]
		senderQN, okSender := b.resolveType(u, f.SenderActor)
		targetQN, okTarget := b.resolveType(u, f.TargetActor)
		if !okSender || !okTarget {
			continue
		}
		b.addEdge(senderQN, targetQN, store.EdgeSendsDistributed, map[string]any{
			"message_type": f.MessageType,
			"method":       string(f.Method),
			"target_crate": f.TargetCrate,
			"line":         f.Line,
		})
	}
}

// resolveType maps a simple type name to a node QN: the unit's own crate
// first, then a unique match anywhere in the graph built so far.
func (b *graphBuilder) resolveType(u *symbols.UnitSymbols, name string) (string, bool) {
	if name == "" || name == "Unknown" {
		return "", false
	}
	var match string
	for i := range u.Types {
		if u.Types[i].Name == name {
			if match != "" && match != u.Types[i].QualifiedName {
				return "", false
			}
			match = u.Types[i].QualifiedName
		}
	}
	if match != "" {
		return match, true
	}
	for qn, n := range b.nodes {
		if n.Name != name {
			continue
		}
		if n.Label != store.LabelType && n.Label != store.LabelMessageType {
			continue
		}
		if match != "" && match != qn {
			return "", false
		}
		match = qn
	}
	return match, match != ""
}

// resolveFunction maps a function context name to a unique Function QN in
// the unit.
func (b *graphBuilder) resolveFunction(u *symbols.UnitSymbols, name string) (string, bool) {
	if name == "" || name == "unknown" || name == "test" {
		return "", false
	}
	var match string
	for i := range u.Functions {
		if u.Functions[i].Name == name {
			if match != "" && match != u.Functions[i].QualifiedName {
				return "", false
			}
			match = u.Functions[i].QualifiedName
		}
	}
	return match, match != ""
}
