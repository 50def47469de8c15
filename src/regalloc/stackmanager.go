package regalloc

import "sort"

// block is one partition entry of the stack frame (§4.7 "Stack manager").
type block struct {
	start, size uint32
	inUse       bool
}

// StackManager partitions a function's spill area into a sorted list of
// blocks, coalescing adjacent unused neighbours on free (§4.7).
type StackManager struct {
	blocks []block
}

// NewStackManager returns an empty stack manager.
func NewStackManager() *StackManager {
	return &StackManager{}
}

// Alloc reserves sz bytes: it prefers the first unused block of exact
// size, otherwise splits a larger unused block, otherwise appends a fresh
// block at the end of the frame (§4.7).
func (s *StackManager) Alloc(sz uint32) uint32 {
	for i := range s.blocks {
		b := &s.blocks[i]
		if !b.inUse && b.size == sz {
			b.inUse = true
			return b.start
		}
	}
	for i := range s.blocks {
		b := &s.blocks[i]
		if !b.inUse && b.size > sz {
			start := b.start
			remainder := block{start: b.start + sz, size: b.size - sz, inUse: false}
			b.size = sz
			b.inUse = true
			s.blocks = append(s.blocks, block{})
			copy(s.blocks[i+2:], s.blocks[i+1:])
			s.blocks[i+1] = remainder
			return start
		}
	}
	var end uint32
	if n := len(s.blocks); n > 0 {
		last := s.blocks[n-1]
		end = last.start + last.size
	}
	s.blocks = append(s.blocks, block{start: end, size: sz, inUse: true})
	return end
}

// Free releases the block starting at start, coalescing with adjacent
// unused neighbours.
func (s *StackManager) Free(start uint32) {
	idx := -1
	for i := range s.blocks {
		if s.blocks[i].start == start {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	s.blocks[idx].inUse = false

	// Coalesce with the next block.
	if idx+1 < len(s.blocks) && !s.blocks[idx+1].inUse {
		s.blocks[idx].size += s.blocks[idx+1].size
		s.blocks = append(s.blocks[:idx+1], s.blocks[idx+2:]...)
	}
	// Coalesce with the previous block.
	if idx-1 >= 0 && !s.blocks[idx-1].inUse {
		s.blocks[idx-1].size += s.blocks[idx].size
		s.blocks = append(s.blocks[:idx], s.blocks[idx+1:]...)
	}
}

// FrameSize returns the current total size of the partitioned frame.
func (s *StackManager) FrameSize() uint32 {
	if len(s.blocks) == 0 {
		return 0
	}
	sort.Slice(s.blocks, func(i, j int) bool { return s.blocks[i].start < s.blocks[j].start })
	last := s.blocks[len(s.blocks)-1]
	return last.start + last.size
}
