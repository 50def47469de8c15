// io.go provides source reading for the pipeline and a disassembly writer
// for the VM backend's instruction dump. Adapted from the
// teacher's assembler Writer (vslc's src/util/io.go): the per-instruction
// formatting helpers (Ins1/Ins2/Ins3/LoadStore/Label) are kept almost
// verbatim because the VM's instruction shapes line up with the teacher's
// assembler mnemonics one for one. The concurrent multi-writer channel
// plumbing (ListenWrite/NewWriter/Close) is dropped: vslc needed it because
// independent goroutines emitted textual assembly for separate functions
// that had to be interleaved into one output stream; this backend builds
// in-memory vm.Programs and text is only for on-demand debugging, so a
// single buffer suffices.
package util

import (
	"fmt"
	"os"
	"strings"
)

// Disassembly buffers human readable VM instruction text.
type Disassembly struct {
	sb strings.Builder
}

// NewDisassembly returns an empty Disassembly buffer.
func NewDisassembly() *Disassembly {
	return &Disassembly{}
}

// Write writes a format string to the buffer.
func (w *Disassembly) Write(format string, args ...interface{}) {
	w.sb.WriteString(fmt.Sprintf(format, args...))
}

// WriteString writes a plain string to the buffer.
func (w *Disassembly) WriteString(s string) {
	w.sb.WriteString(s)
}

// Ins1 writes a one-line instruction using the operator and single operand.
func (w *Disassembly) Ins1(op, rs1 string) {
	w.sb.WriteString(fmt.Sprintf("\t%s\t%s\n", op, rs1))
}

// Ins2 writes a one-line instruction using the operator, destination register and single source register.
func (w *Disassembly) Ins2(op, rd, rs1 string) {
	w.sb.WriteString(fmt.Sprintf("\t%s\t%s, %s\n", op, rd, rs1))
}

// Ins2imm writes a one-line instruction using the operator, destination register, single source register and
// signed immediate.
func (w *Disassembly) Ins2imm(op, rd, rs1 string, imm int64) {
	w.sb.WriteString(fmt.Sprintf("\t%s\t%s, %s, %d\n", op, rd, rs1, imm))
}

// Ins3 writes a one-line instruction using the operator, destination register and two source registers.
func (w *Disassembly) Ins3(op, rd, rs1, rs2 string) {
	w.sb.WriteString(fmt.Sprintf("\t%s\t%s, %s, %s\n", op, rd, rs1, rs2))
}

// LoadStore writes a load or store instruction of register reg with offset to the register pointer (usually sp).
func (w *Disassembly) LoadStore(op, reg string, offset int64, pointer string) {
	w.sb.WriteString(fmt.Sprintf("\t%s\t%s, %d(%s)\n", op, reg, offset, pointer))
}

// Label writes a one-line label with the given name.
func (w *Disassembly) Label(name string) {
	w.sb.WriteString(fmt.Sprintf("%s:\n", name))
}

// String returns the buffered disassembly text.
func (w *Disassembly) String() string {
	return w.sb.String()
}

// ReadSource reads script source code from the file named by opt.Src.
func ReadSource(opt Options) (string, error) {
	b, err := os.ReadFile(opt.Src)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
