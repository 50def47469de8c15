// Package modules implements Module (§3.3, §4.4): a unit of compilation
// owning types, functions and a data section, with an init function run
// once before any other function in the module may be called (§5).
//
// Grounded on the teacher's ir/lir.Module (vslc's ir/lir/module.go) for the
// id-assignment, owned-collection and sync.Mutex-guarded mutation idiom;
// generalized from "globals + functions" to the fuller §3.3 data model
// (named data slots with source references, imported modules).
package modules

import (
	"fmt"
	"sync"

	"tsn/src/ffi"
	"tsn/src/types"
)

// DataSlot is one named entry of a Module's data section (§3.3, §4.4).
type DataSlot struct {
	Name      string
	Type      *types.Type
	Offset    uint32
	SourceRef string
	id        uint32
}

// Module is a unit of compilation (§3.3).
type Module struct {
	mu sync.Mutex

	ID   uint64
	Path string // source path the id is hashed from.

	types     *types.Registry
	functions *ffi.Registry

	ownedTypeIDs []uint64
	ownedFuncIDs []uint32

	slots     []*DataSlot
	slotBytes uint32

	InitFunc *ffi.Function

	Imports []*Module

	initialized bool
}

// MarkInitialized records that this module's init function has run.
// Init() itself is driven by the VM (module init is an ordinary script
// call, §2), this just makes that call idempotent per §5: "init is
// idempotent but must not race."
func (m *Module) MarkInitialized() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
}

// Initialized reports whether MarkInitialized has been called.
func (m *Module) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// NewModule creates a Module for the given source path, hashing its id
// from the path per §3.3.
func NewModule(path string, typeReg *types.Registry, funcReg *ffi.Registry) *Module {
	return &Module{
		ID:        types.HashFQN(path),
		Path:      path,
		types:     typeReg,
		functions: funcReg,
	}
}

// DeclareType registers t as owned by this module.
func (m *Module) DeclareType(t *types.Type) *types.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Module = m.Path
	m.types.AddType(t)
	m.ownedTypeIDs = append(m.ownedTypeIDs, t.ID)
	return t
}

// DeclareFunction registers fn as owned by this module.
func (m *Module) DeclareFunction(fn *ffi.Function) *ffi.Function {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn.Module = m.Path
	m.functions.Add(fn)
	m.ownedFuncIDs = append(m.ownedFuncIDs, fn.ID)
	return fn
}

// GetTypes returns every Type owned by this module.
func (m *Module) GetTypes() []*types.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Type, 0, len(m.ownedTypeIDs))
	for _, id := range m.ownedTypeIDs {
		if t := m.types.GetType(id); t != nil {
			out = append(out, t)
		}
	}
	return out
}

// AllFunctions returns every Function owned by this module.
func (m *Module) AllFunctions() []*ffi.Function {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ffi.Function, 0, len(m.ownedFuncIDs))
	for _, id := range m.ownedFuncIDs {
		if f := m.functions.GetFunction(id); f != nil {
			out = append(out, f)
		}
	}
	return out
}

// DefineLocal reserves a data slot of the given name and type, returning
// its slot id. A slot's offset is stable for the module's lifetime (§3.3
// invariant).
func (m *Module) DefineLocal(name string, t *types.Type, sourceRef string) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	size := t.Meta.Size
	if size == 0 {
		size = 8 // pointer-sized fallback for not-yet-sized template instantiations.
	}
	slot := &DataSlot{
		Name:      name,
		Type:      t,
		Offset:    m.slotBytes,
		SourceRef: sourceRef,
		id:        uint32(len(m.slots)),
	}
	m.slots = append(m.slots, slot)
	m.slotBytes += size
	return slot.id
}

// GetDataInfo returns the slot registered under id.
func (m *Module) GetDataInfo(id uint32) (*DataSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) >= len(m.slots) {
		return nil, fmt.Errorf("module %s: no data slot with id %d", m.Path, id)
	}
	return m.slots[id], nil
}

// DataSize returns the total byte size of the module's data section.
func (m *Module) DataSize() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slotBytes
}

// Slots returns every data slot in declaration order.
func (m *Module) Slots() []*DataSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*DataSlot, len(m.slots))
	copy(out, m.slots)
	return out
}
