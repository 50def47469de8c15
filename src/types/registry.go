package types

import "sync"

// Registry interns data types, indexes them by stable id, and mediates
// structural equality (§4.1). The global registry is single-writer at
// compile time and many-reader at runtime (§5).
type Registry struct {
	mu      sync.RWMutex
	byID    map[uint64]*Type
	foreign map[uint64]*Type // non-owning references added via AddForeignType.
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[uint64]*Type),
		foreign: make(map[uint64]*Type),
	}
}

// GetType looks up a Type by its stable id.
func (r *Registry) GetType(id uint64) *Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.byID[id]; ok {
		return t
	}
	return r.foreign[id]
}

// GetTypeByName looks up a Type by its fully qualified name.
func (r *Registry) GetTypeByName(fqn string) *Type {
	return r.GetType(HashFQN(fqn))
}

// AddType registers an owned Type, assigning its ID from its FQN if unset.
func (r *Registry) AddType(t *Type) *Type {
	if t.ID == 0 {
		t.ID = HashFQN(t.FQN)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = t
	return t
}

// AddForeignType registers a non-owning reference to a Type declared by
// another module, e.g. a template instantiation's base template (§4.1).
func (r *Registry) AddForeignType(t *Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.foreign[t.ID] = t
}

// AllTypes returns every live Type known to the registry (owned and
// foreign), used by signature interning to search for a structurally
// equivalent existing FunctionType before allocating a new one (§4.1).
func (r *Registry) AllTypes() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Type, 0, len(r.byID)+len(r.foreign))
	for _, t := range r.byID {
		out = append(out, t)
	}
	for _, t := range r.foreign {
		out = append(out, t)
	}
	return out
}

// FindEquivalentSignature searches the registry for an existing Function
// Type structurally equivalent to the given shape, implementing the
// signature interning contract of §4.1 and testable property §8.2: "the
// global registry holds at most one object per structural signature."
func (r *Registry) FindEquivalentSignature(this *Type, ret *Type, args []Argument) *Type {
	id := HashSignature(this, ret, args)
	if t := r.GetType(id); t != nil && t.Kind == KindFunction {
		return t
	}
	return nil
}

// InternFunctionType returns an existing structurally-equivalent Function
// Type if one is registered, or registers and returns the given candidate.
// The candidate's ID is overwritten with the structural hash so repeated
// calls with equivalent shapes always resolve to the same object.
func (r *Registry) InternFunctionType(candidate *Type) *Type {
	id := HashSignature(candidate.This, candidate.Return, candidate.Args)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[id]; ok && existing.Kind == KindFunction {
		return existing
	}
	candidate.ID = id
	candidate.Kind = KindFunction
	r.byID[id] = candidate
	return candidate
}

// FinalizeClassArgs describes the accumulated contents a binder hands the
// registry to produce a Plain or Class Type (§4.1 finalize_class, §4.3).
type FinalizeClassArgs struct {
	FQN        string
	ShortName  string
	Access     Access
	Module     string
	Meta       Meta
	Properties []Property
	Methods    []MethodRef
	Bases      []Base // non-empty implies Class, empty implies Plain.
	DtorID     uint32
	HasDtor    bool
}

// FinalizeClass consumes a binder's accumulated methods/properties and
// produces a Plain or Class Type, interning its id and registering it
// (§4.1). Properties are stored in declaration order for offset fidelity;
// SortedProperties is used only for deterministic iteration in debug output.
func (r *Registry) FinalizeClass(a FinalizeClassArgs) *Type {
	kind := KindPlain
	if len(a.Bases) > 0 {
		kind = KindClass
	}
	t := &Type{
		Kind:       kind,
		Meta:       a.Meta,
		FQN:        a.FQN,
		ShortName:  a.ShortName,
		Access:     a.Access,
		Module:     a.Module,
		Properties: a.Properties,
		Methods:    a.Methods,
		Bases:      a.Bases,
		DtorID:     a.DtorID,
		HasDtor:    a.HasDtor,
	}
	return r.AddType(t)
}
