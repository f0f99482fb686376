package symbols

// FileSymbols is the raw extraction result for one source file. It carries
// no resolution state; later passes fill qualified callees and cross-crate
// flags without rewriting anything else.
type FileSymbols struct {
	Functions        []Function
	Types            []TypeDecl
	Impls            []ImplBlock
	Imports          []Import
	Modules          []Module
	Calls            []Call
	Actors           []Actor
	Spawns           []ActorSpawn
	MessageTypes     []MessageType
	MessageHandlers  []MessageHandler
	MessageSends     []MessageSend
	DistActors       []DistributedActor
	DistFlows        []DistributedMessageFlow
	MacroExpansions  []MacroExpansion
	Diagnostics      []string
}

// UnitSymbols is the merged, deduplicated symbol set for one crate.
type UnitSymbols struct {
	Crate string

	Functions       []Function
	Types           []TypeDecl
	Impls           []ImplBlock
	Imports         []Import
	Modules         []Module
	Calls           []Call
	Actors          []Actor
	Spawns          []ActorSpawn
	MessageTypes    []MessageType
	MessageHandlers []MessageHandler
	MessageSends    []MessageSend
	DistActors      []DistributedActor
	DistFlows       []DistributedMessageFlow
	MacroExpansions []MacroExpansion
	Diagnostics     []string

	seenFuncs    map[string]struct{}
	seenTypes    map[string]struct{}
	seenActors   map[string]int // key -> index, for message-list merging
	seenSpawns   map[string]struct{}
	seenCalls    map[string]struct{}
	seenMsgTypes map[string]struct{}
	seenHandlers map[string]struct{}
	seenSends    map[string]struct{}
	seenDist     map[string]struct{}
	seenFlows    map[string]struct{}
	seenMacros   map[string]struct{}
}

// NewUnitSymbols returns an empty merged set for one crate.
func NewUnitSymbols(crate string) *UnitSymbols {
	return &UnitSymbols{
		Crate:        crate,
		seenFuncs:    map[string]struct{}{},
		seenTypes:    map[string]struct{}{},
		seenActors:   map[string]int{},
		seenSpawns:   map[string]struct{}{},
		seenCalls:    map[string]struct{}{},
		seenMsgTypes: map[string]struct{}{},
		seenHandlers: map[string]struct{}{},
		seenSends:    map[string]struct{}{},
		seenDist:     map[string]struct{}{},
		seenFlows:    map[string]struct{}{},
		seenMacros:   map[string]struct{}{},
	}
}

// Merge folds one file's symbols into the unit set. Merging is commutative
// up to slice order and idempotent: replaying the same file changes nothing.
func (u *UnitSymbols) Merge(fs *FileSymbols) {
	for _, f := range fs.Functions {
		if _, ok := u.seenFuncs[f.Key()]; ok {
			continue
		}
		u.seenFuncs[f.Key()] = struct{}{}
		u.Functions = append(u.Functions, f)
	}
	for _, t := range fs.Types {
		if _, ok := u.seenTypes[t.Key()]; ok {
			continue
		}
		u.seenTypes[t.Key()] = struct{}{}
		u.Types = append(u.Types, t)
	}
	u.Impls = append(u.Impls, fs.Impls...)
	u.Imports = append(u.Imports, fs.Imports...)
	u.Modules = append(u.Modules, fs.Modules...)

	for _, c := range fs.Calls {
		if _, ok := u.seenCalls[c.Key()]; ok {
			continue
		}
		u.seenCalls[c.Key()] = struct{}{}
		u.Calls = append(u.Calls, c)
	}
	for _, a := range fs.Actors {
		u.mergeActor(a)
	}
	for _, s := range fs.Spawns {
		if _, ok := u.seenSpawns[s.Key()]; ok {
			continue
		}
		u.seenSpawns[s.Key()] = struct{}{}
		u.Spawns = append(u.Spawns, s)
	}
	for _, m := range fs.MessageTypes {
		if _, ok := u.seenMsgTypes[m.Key()]; ok {
			continue
		}
		u.seenMsgTypes[m.Key()] = struct{}{}
		u.MessageTypes = append(u.MessageTypes, m)
	}
	for _, h := range fs.MessageHandlers {
		if _, ok := u.seenHandlers[h.Key()]; ok {
			continue
		}
		u.seenHandlers[h.Key()] = struct{}{}
		u.MessageHandlers = append(u.MessageHandlers, h)
	}
	for _, s := range fs.MessageSends {
		if _, ok := u.seenSends[s.Key()]; ok {
			continue
		}
		u.seenSends[s.Key()] = struct{}{}
		u.MessageSends = append(u.MessageSends, s)
	}
	for _, d := range fs.DistActors {
		if _, ok := u.seenDist[d.Key()]; ok {
			continue
		}
		u.seenDist[d.Key()] = struct{}{}
		u.DistActors = append(u.DistActors, d)
	}
	for _, f := range fs.DistFlows {
		if _, ok := u.seenFlows[f.Key()]; ok {
			continue
		}
		u.seenFlows[f.Key()] = struct{}{}
		u.DistFlows = append(u.DistFlows, f)
	}
	for _, m := range fs.MacroExpansions {
		if _, ok := u.seenMacros[m.Key()]; ok {
			continue
		}
		u.seenMacros[m.Key()] = struct{}{}
		u.MacroExpansions = append(u.MacroExpansions, m)
	}
	u.Diagnostics = append(u.Diagnostics, fs.Diagnostics...)
}

// mergeActor keeps one Actor per (name, crate). An explicit classification
// wins over an inferred one; message lists union.
func (u *UnitSymbols) mergeActor(a Actor) {
	idx, ok := u.seenActors[a.Key()]
	if !ok {
		u.seenActors[a.Key()] = len(u.Actors)
		u.Actors = append(u.Actors, a)
		return
	}
	existing := &u.Actors[idx]
	if existing.Inferred && !a.Inferred {
		msgs := unionStrings(existing.LocalMessages, a.LocalMessages)
		dist := unionStrings(existing.DistributedMessages, a.DistributedMessages)
		*existing = a
		existing.LocalMessages = msgs
		existing.DistributedMessages = dist
		return
	}
	existing.LocalMessages = unionStrings(existing.LocalMessages, a.LocalMessages)
	existing.DistributedMessages = unionStrings(existing.DistributedMessages, a.DistributedMessages)
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
