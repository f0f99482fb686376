// Package symbols holds the analysis data model: declarations, calls, and
// concurrency-pattern records extracted from Rust source, plus the per-crate
// merge that deduplicates them into one consistent set.
package symbols

import (
	"fmt"
	"strconv"
)

// CallKind classifies how a call site appears in source.
type CallKind string

const (
	CallDirect     CallKind = "direct"
	CallMethod     CallKind = "method"
	CallAssociated CallKind = "associated"
	CallMacro      CallKind = "macro"
	CallSynthetic  CallKind = "synthetic"
)

// ActorKind classifies an actor implementation.
type ActorKind string

const (
	ActorLocal       ActorKind = "local"
	ActorDistributed ActorKind = "distributed"
	ActorSupervisor  ActorKind = "supervisor"
	ActorUnknown     ActorKind = "unknown"
)

// SpawnMethod is the concrete spawn entry point used at a spawn site.
type SpawnMethod string

const (
	SpawnPlain       SpawnMethod = "spawn"
	SpawnWithMailbox SpawnMethod = "spawn_with_mailbox"
	SpawnLink        SpawnMethod = "spawn_link"
	SpawnInThread    SpawnMethod = "spawn_in_thread"
	SpawnWithStorage SpawnMethod = "spawn_with_storage"
	SpawnActorTrait  SpawnMethod = "actor_trait"
	SpawnModuleFunc  SpawnMethod = "module_function"
)

// SpawnPattern is the syntactic shape of a spawn site.
type SpawnPattern string

const (
	PatternDirectType     SpawnPattern = "direct_type"
	PatternTraitMethod    SpawnPattern = "trait_method"
	PatternModuleFunction SpawnPattern = "module_function"
)

// MessageKind is derived from the message type's name suffix.
type MessageKind string

const (
	KindTell    MessageKind = "tell"
	KindAsk     MessageKind = "ask"
	KindMessage MessageKind = "message"
	KindQuery   MessageKind = "query"
)

// SendMethod distinguishes fire-and-forget from reply-expecting sends.
type SendMethod string

const (
	SendTell SendMethod = "tell"
	SendAsk  SendMethod = "ask"
)

// ImportKind classifies a use declaration.
type ImportKind string

const (
	ImportSimple  ImportKind = "simple"
	ImportGrouped ImportKind = "grouped"
	ImportModule  ImportKind = "module"
	ImportGlob    ImportKind = "glob"
)

// TypeKind is the declaration form of a type.
type TypeKind string

const (
	TypeStruct TypeKind = "struct"
	TypeEnum   TypeKind = "enum"
	TypeTrait  TypeKind = "trait"
	TypeAlias  TypeKind = "alias"
	TypeUnion  TypeKind = "union"
)

// Function is a free function or an impl-block method.
type Function struct {
	Name          string
	QualifiedName string
	Crate         string
	ModulePath    string
	FilePath      string
	LineStart     int
	LineEnd       int
	Visibility    string
	Signature     string
	DocComment    string
	IsAsync       bool
	IsUnsafe      bool
	IsGeneric     bool
	IsTest        bool
	IsTraitImpl   bool
}

// Key is the stable dedup identity for a function across re-runs.
func (f *Function) Key() string {
	return f.QualifiedName + ":" + strconv.Itoa(f.LineStart)
}

// TypeDecl is a struct, enum, trait, alias, or union declaration.
type TypeDecl struct {
	Name          string
	QualifiedName string
	Crate         string
	ModulePath    string
	FilePath      string
	LineStart     int
	LineEnd       int
	Kind          TypeKind
	Visibility    string
	DocComment    string
	IsGeneric     bool
	IsTest        bool
}

func (t *TypeDecl) Key() string {
	return t.QualifiedName + ":" + strconv.Itoa(t.LineStart)
}

// ImplBlock records an impl, optionally of a trait, for a type. Its methods
// are emitted as Functions separately; the block itself yields IMPLEMENTS
// edges when a trait is named.
type ImplBlock struct {
	TypeName      string
	QualifiedType string
	TraitName     string // empty for inherent impls
	Crate         string
	FilePath      string
	LineStart     int
	LineEnd       int
}

// Import is one expanded use declaration entry (grouped imports produce one
// Import per item).
type Import struct {
	Path     string // full imported path, e.g. a::b::Baz
	Alias    string // local name; equals the last path segment unless renamed
	Kind     ImportKind
	Crate    string
	FilePath string
	Line     int
}

// Module is a module declaration or a file-level module.
type Module struct {
	Name     string
	Path     string // qualified module path
	Crate    string
	FilePath string
	Line     int
}

// Call is one call edge. QualifiedCallee stays empty until resolution; an
// unresolved call is an incompleteness, not an error.
type Call struct {
	CallerQN        string
	CallerModule    string
	CalleeName      string
	QualifiedCallee string
	Kind            CallKind
	FilePath        string
	Line            int
	FromCrate       string
	ToCrate         string
	CrossCrate      bool
	IsSynthetic     bool
	Confidence      float64
}

// Key identifies a call site; synthetic and observed calls at the same site
// keep distinct keys so one never overwrites the other.
func (c *Call) Key() string {
	return fmt.Sprintf("%s->%s:%d:%v:%s", c.CallerQN, c.CalleeName, c.Line, c.IsSynthetic, c.Kind)
}

// Actor is a type classified as an actor. It always shadows a TypeDecl of
// the same identity; the graph export dual-tags the node rather than
// creating a second one.
type Actor struct {
	Name                string
	QualifiedName       string
	Crate               string
	ModulePath          string
	FilePath            string
	LineStart           int
	LineEnd             int
	Kind                ActorKind
	Visibility          string
	IsDistributed       bool
	IsTest              bool
	Inferred            bool // classified from a message handler, not an explicit Actor impl
	LocalMessages       []string
	DistributedMessages []string
}

// Key is the actor identity: one actor per (name, crate).
func (a *Actor) Key() string {
	return a.Crate + "::" + a.Name
}

// ActorSpawn is a parent-spawns-child edge.
type ActorSpawn struct {
	ParentActor string
	ChildActor  string
	Method      SpawnMethod
	Pattern     SpawnPattern
	Context     string // enclosing function classification
	FilePath    string
	Line        int
	FromCrate   string
	ToCrate     string
}

func (s *ActorSpawn) Key() string {
	return fmt.Sprintf("%s>%s:%s:%d", s.ParentActor, s.ChildActor, s.FilePath, s.Line)
}

// MessageType is a type whose name carries a recognized message-role suffix.
type MessageType struct {
	Name          string
	QualifiedName string
	Crate         string
	ModulePath    string
	FilePath      string
	LineStart     int
	LineEnd       int
	Kind          MessageKind
	Visibility    string
}

func (m *MessageType) Key() string {
	return m.QualifiedName + ":" + strconv.Itoa(m.LineStart)
}

// MessageHandler is an impl of the message-handling capability for an actor.
type MessageHandler struct {
	ActorName      string
	ActorQN        string
	MessageType    string
	MessageQN      string
	ReplyType      string
	IsAsync        bool
	Crate          string
	FilePath       string
	Line           int
}

func (h *MessageHandler) Key() string {
	return fmt.Sprintf("%s:%s->%s:%d", h.Crate, h.ActorName, h.MessageType, h.Line)
}

// MessageSend is a tell/ask call site against a tracked actor reference.
type MessageSend struct {
	SenderActor   string // "Unknown" when statically undetermined
	SenderQN      string
	ReceiverActor string
	ReceiverQN    string
	MessageType   string
	Method        SendMethod
	Confidence    float64
	Crate         string
	FilePath      string
	Line          int
}

func (s *MessageSend) Key() string {
	return fmt.Sprintf("%s:%s->%s:%s:%d", s.Crate, s.SenderActor, s.ReceiverActor, s.MessageType, s.Line)
}

// DistributedActor is an explicit distributed-actor declaration with its
// advertised message set.
type DistributedActor struct {
	Name                string
	Crate               string
	FilePath            string
	Line                int
	IsTest              bool
	DistributedMessages []string
	LocalMessages       []string
}

func (d *DistributedActor) Key() string {
	return fmt.Sprintf("%s::%s:%d", d.Crate, d.Name, d.Line)
}

// DistributedMessageFlow is a message send over a distributed actor
// reference. TargetCrate defaults to the sender's crate; that assumption is
// a configurable policy, not an invariant.
type DistributedMessageFlow struct {
	MessageType   string
	SenderActor   string
	SenderContext string
	SenderCrate   string
	TargetActor   string
	TargetCrate   string
	Method        SendMethod
	FilePath      string
	Line          int
}

func (f *DistributedMessageFlow) Key() string {
	return fmt.Sprintf("%s::%s::%s:%d", f.SenderCrate, f.SenderActor, f.MessageType, f.Line)
}

// MacroExpansion is a code-generation expansion site. Synthetic calls are
// generated from it separately; the record itself carries the site and the
// textual pattern.
type MacroExpansion struct {
	Crate              string
	FilePath           string
	LineStart          int
	LineEnd            int
	MacroType          string
	Pattern            string
	Method             string // generated method name parsed from the pattern
	ContainingFunction string
}

func (m *MacroExpansion) Key() string {
	return fmt.Sprintf("%s:%d:%s", m.FilePath, m.LineStart, m.MacroType)
}
