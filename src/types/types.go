// Package types implements the type registry (§4.1) and the data model of
// §3.1: a Type is one of Plain, Function, Template, Alias or Class, each
// carrying the essential attributes of type_meta plus identity and
// structural-equivalence rules.
//
// Grounded on the teacher's ir/lir/types package (vslc's DataType/
// InstructionType enums) for the enum + String() table idiom, generalized
// from four LIR scalar kinds to the full host/script type lattice the FFI
// binder and lowering need.
package types

import (
	"hash/fnv"
	"sort"
)

// Access is a type or member's visibility.
type Access int

const (
	Public Access = iota
	Private
	Protected
)

// Kind tags which Type variant a value holds (§3.1 "Variants (tagged)").
type Kind int

const (
	KindPlain Kind = iota
	KindFunction
	KindTemplate
	KindAlias
	KindClass
)

// Meta holds the essential attributes of type_meta (§3.1).
type Meta struct {
	Size                    uint32
	Host                    bool
	POD                     bool
	TriviallyConstructible  bool
	TriviallyCopyable       bool
	TriviallyDestructible   bool
	Primitive               bool
	FloatingPoint           bool
	Integral                bool
	Unsigned                bool
	Function                bool
	Template                bool
	Anonymous               bool
}

// ArgKind enumerates the implicit/explicit argument kinds of §3.2.
type ArgKind int

const (
	ArgContextPtr ArgKind = iota
	ArgRetPtr
	ArgFuncPtr
	ArgThisPtr
	ArgPointer
	ArgValue
	ArgCapturePtr
)

// IsImplicit is true for the first four kinds (§3.1 "Argument descriptor").
func (k ArgKind) IsImplicit() bool {
	return k == ArgContextPtr || k == ArgRetPtr || k == ArgFuncPtr || k == ArgThisPtr
}

// Argument is one entry of a FunctionType's ordered argument list.
type Argument struct {
	Kind ArgKind
	Type *Type
}

// Property is a member of a Plain/Class Type (§3.1).
type Property struct {
	Name       string
	Access     Access
	Offset     uint32
	Type       *Type
	Read       bool
	Write      bool
	Pointer    bool
	Static     bool
	GetterID   uint32 // 0 if none.
	SetterID   uint32 // 0 if none.
	HasGetter  bool
	HasSetter  bool
}

// Base describes one inheritance base of a Class Type.
type Base struct {
	Type   *Type
	Offset uint32
	Access Access
}

// MethodRef names one method for equivalence comparisons: by name,
// signature, access and static-ness (§3.1 invariant).
type MethodRef struct {
	Name     string
	Sig      *Type // a Function Type.
	Access   Access
	Static   bool
}

// Type is one entry of the registry. Only the fields relevant to its Kind
// are populated; callers must switch on Kind (or use GetEffectiveType for
// Alias chasing) before reading variant-specific fields.
type Type struct {
	Kind Kind
	Meta Meta

	FQN       string // fully qualified name.
	ShortName string
	Access    Access
	Module    string // owning module id/name.
	ID        uint64 // stable 64-bit id.

	// Plain / Class.
	Properties []Property
	Methods    []MethodRef
	Bases      []Base // Class only.
	DtorID     uint32
	HasDtor    bool

	// Function.
	Return         *Type
	This           *Type // nil unless a method signature.
	Args           []Argument
	ReturnsPointer bool

	// Template.
	TemplateContext interface{} // opaque blob, specializer-owned.
	Specializer     func(args []*Type) (*Type, error)

	// Alias.
	AliasOf *Type
}

// GetEffectiveType chases an Alias chain to the underlying Type. Returns t
// itself if t is not an Alias.
func (t *Type) GetEffectiveType() *Type {
	cur := t
	for cur != nil && cur.Kind == KindAlias {
		cur = cur.AliasOf
	}
	return cur
}

// EqualTo is id equality after alias chasing (§3.1).
func (t *Type) EqualTo(o *Type) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.GetEffectiveType().ID == o.GetEffectiveType().ID
}

// EquivalentTo implements §3.1's structural equivalence: the fully
// qualified name, every Meta attribute, every method (by name/signature/access/static-ness) and every
// property (name/offset/access/flags/type) must match, and base-type lists
// must be pairwise equivalent. This relation is reflexive, symmetric and
// transitive (§8 property 1) because it reduces to pointwise equality and
// recursive EquivalentTo calls on strictly smaller Base/Argument lists.
func (t *Type) EquivalentTo(o *Type) bool {
	if t == nil || o == nil {
		return t == o
	}
	a, b := t.GetEffectiveType(), o.GetEffectiveType()
	if a == b {
		return true
	}
	if a.Kind != b.Kind || a.Meta != b.Meta || a.FQN != b.FQN {
		return false
	}

	switch a.Kind {
	case KindFunction:
		return functionEquivalent(a, b)
	default:
		if len(a.Properties) != len(b.Properties) || len(a.Methods) != len(b.Methods) || len(a.Bases) != len(b.Bases) {
			return false
		}
		for i := range a.Properties {
			if !propertyEquivalent(a.Properties[i], b.Properties[i]) {
				return false
			}
		}
		for i := range a.Methods {
			if !methodEquivalent(a.Methods[i], b.Methods[i]) {
				return false
			}
		}
		for i := range a.Bases {
			if a.Bases[i].Offset != b.Bases[i].Offset || a.Bases[i].Access != b.Bases[i].Access {
				return false
			}
			if !a.Bases[i].Type.EquivalentTo(b.Bases[i].Type) {
				return false
			}
		}
		return true
	}
}

func propertyEquivalent(a, b Property) bool {
	return a.Name == b.Name && a.Offset == b.Offset && a.Access == b.Access &&
		a.Read == b.Read && a.Write == b.Write && a.Pointer == b.Pointer && a.Static == b.Static &&
		a.Type.EquivalentTo(b.Type)
}

func methodEquivalent(a, b MethodRef) bool {
	return a.Name == b.Name && a.Access == b.Access && a.Static == b.Static && a.Sig.EquivalentTo(b.Sig)
}

func functionEquivalent(a, b *Type) bool {
	if (a.This == nil) != (b.This == nil) {
		return false
	}
	if a.This != nil && !a.This.EquivalentTo(b.This) {
		return false
	}
	if !a.Return.EquivalentTo(b.Return) {
		return false
	}
	if len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if a.Args[i].Kind != b.Args[i].Kind {
			return false
		}
		if !a.Args[i].Type.EquivalentTo(b.Args[i].Type) {
			return false
		}
	}
	return true
}

// HashFQN computes the stable 64-bit id of a fully qualified name (§3.1).
func HashFQN(fqn string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fqn))
	return h.Sum64()
}

// SignatureKey renders a FunctionType's structural signature as a string
// for hashing, per §3.2: "Signature ids are structural: two function
// signatures with the same thisness, return type and argument kinds/types
// share one id."
func SignatureKey(this *Type, ret *Type, args []Argument) string {
	sb := make([]byte, 0, 64)
	if this != nil {
		sb = append(sb, "this:"+this.FQN+";"...)
	}
	sb = append(sb, "ret:"+typeKey(ret)+";"...)
	for _, a := range args {
		sb = append(sb, []byte("arg:"+argKindName(a.Kind)+":"+typeKey(a.Type)+";")...)
	}
	return string(sb)
}

func typeKey(t *Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.GetEffectiveType().FQN
}

func argKindName(k ArgKind) string {
	names := [...]string{"ctx", "ret", "func", "this", "ptr", "val", "cap"}
	if int(k) >= 0 && int(k) < len(names) {
		return names[k]
	}
	return "?"
}

// HashSignature computes the structural id of a function signature.
func HashSignature(this *Type, ret *Type, args []Argument) uint64 {
	return HashFQN(SignatureKey(this, ret, args))
}

// SortedProperties returns a Type's properties sorted by name, used by
// debug printers that want deterministic output independent of binder
// declaration order.
func SortedProperties(props []Property) []Property {
	out := make([]Property, len(props))
	copy(out, props)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
