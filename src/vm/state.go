package vm

import (
	"fmt"

	"tsn/src/ffi"
)

// ExecutionContext threads through a call chain: the error trace every VM
// instruction writes to on failure, the current frame's capture-block and
// return-slot pointers passed to host thunks, and the currently executing
// function id (§4.8 "Error surface", GLOSSARY "@ectx").
type ExecutionContext struct {
	TraceError   bool
	TraceMessage string
	TraceFrames  []string

	CapturePtr  uint64
	RetPtr      uint64
	CurrentFunc uint32
}

// Fail records a runtime error on the trace (§4.8 "Error surface"); the
// interpreter loop checks TraceError after every step and unwinds.
func (ec *ExecutionContext) Fail(format string, args ...interface{}) {
	if ec.TraceError {
		return // first error wins; don't overwrite the original cause.
	}
	ec.TraceError = true
	ec.TraceMessage = fmt.Sprintf(format, args...)
}

// PushFrame appends a call-site annotation to the trace, used once an
// error is already flagged so the outer host-visible call can report a
// call stack.
func (ec *ExecutionContext) PushFrame(desc string) {
	if ec.TraceError {
		ec.TraceFrames = append(ec.TraceFrames, desc)
	}
}

// Memory is the VM's flat, bounds-checked byte buffer backing stack
// frames, module data sections and heap allocations (§4.8 "memory
// instructions ... with bounds check").
type Memory struct {
	buf []byte
}

// NewMemory allocates a zeroed Memory of size bytes.
func NewMemory(size uint32) *Memory {
	return &Memory{buf: make([]byte, size)}
}

func (m *Memory) checkBounds(off uint64, width int) error {
	if off+uint64(width) > uint64(len(m.buf)) {
		return fmt.Errorf("vm: memory access out of range: offset %d width %d buffer size %d", off, width, len(m.buf))
	}
	return nil
}

// Read reads a little-endian integer of the given width, zero-extended to
// 64 bits.
func (m *Memory) Read(off uint64, width int) (uint64, error) {
	if err := m.checkBounds(off, width); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < width; i++ {
		v |= uint64(m.buf[off+uint64(i)]) << (8 * i)
	}
	return v, nil
}

func (m *Memory) Write(off uint64, width int, v uint64) error {
	if err := m.checkBounds(off, width); err != nil {
		return err
	}
	for i := 0; i < width; i++ {
		m.buf[off+uint64(i)] = byte(v >> (8 * i))
	}
	return nil
}

func (m *Memory) Len() int { return len(m.buf) }

// Program is one function's executable code: a flat Instruction vector
// as produced by src/backend, addressed by instruction index.
type Program struct {
	Code []Instruction
}

// State is one execution's full machine state: registers, memory, the
// function registry (for host/script dispatch) and the active execution
// context (§4.8, §5 "single logical context per thread").
type State struct {
	Regs RegisterFile
	Mem  *Memory
	Ctx  ExecutionContext

	Functions *ffi.Registry
	Programs  map[uint32]*Program // by ffi.Function.ID, for script-defined functions.

	PC int // index into the currently executing Program.Code.
}

// NewState returns a fresh State with the given memory size and function
// registry.
func NewState(memSize uint32, functions *ffi.Registry) *State {
	return &State{
		Mem:       NewMemory(memSize),
		Functions: functions,
		Programs:  make(map[uint32]*Program),
	}
}
