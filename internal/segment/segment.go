// Package segment implements spec.md component A: fixed-size segments over
// a global validity bitmap, plus the allocation table that owns both. It
// is grounded on original_source's segment.rs and the AllocTable half of
// block_alloc.rs, carried over field-for-field and test-for-test (see this
// package's _test.go, which reproduces segment.rs's numeric assertions).
package segment

import (
	"sync/atomic"
)

// Size is S from spec.md §3: the number of HBAs per segment.
const Size = 1024

// ID identifies a segment by its position in the segment table.
type ID = uint64

// Segment tracks how many of its Size blocks are valid and how many are
// free-or-reclaimed, for GC victim selection. It does not own the bitmap
// bits themselves — Table does — it only counts them.
type Segment struct {
	id         ID
	validBlock atomic.Int64
	freeSpace  atomic.Int64
	nblocks    int64
}

// NewSegment constructs a segment assuming all of its blocks start free.
func NewSegment(id ID, nblocks int64) *Segment {
	s := &Segment{id: id, nblocks: nblocks}
	s.validBlock.Store(nblocks)
	s.freeSpace.Store(nblocks)
	return s
}

func (s *Segment) ID() ID { return s.id }

func (s *Segment) NBlocks() int64 { return s.nblocks }

// NumValidBlocks is only ever decremented by deallocation.
func (s *Segment) NumValidBlocks() int64 { return s.validBlock.Load() }

// FreeSpace counts empty-or-deallocated slots; both allocation and
// deallocation move it.
func (s *Segment) FreeSpace() int64 { return s.freeSpace.Load() }

func (s *Segment) NumInvalidBlocks() int64 { return s.nblocks - s.NumValidBlocks() }

func (s *Segment) MarkAlloc() { s.freeSpace.Add(-1) }

func (s *Segment) MarkAllocBatch(n int64) { s.freeSpace.Add(-n) }

func (s *Segment) MarkDeallocated() {
	s.freeSpace.Add(1)
	s.validBlock.Add(-1)
}

func (s *Segment) MarkDeallocatedBatch(n int64) {
	s.freeSpace.Add(n)
	s.validBlock.Add(-n)
}

func (s *Segment) ClearSegment() {
	s.validBlock.Store(s.nblocks)
	s.freeSpace.Store(s.nblocks)
}

// serSize is the packed size of a segment's persisted state: two uint64
// fields (validBlock, freeSpace), matching segment.rs's `[usize; 2]`.
const serSize = 16

// ToBytes serializes valid_block and free_space, in that order.
func (s *Segment) ToBytes() []byte {
	buf := make([]byte, serSize)
	putU64(buf[0:8], uint64(s.NumValidBlocks()))
	putU64(buf[8:16], uint64(s.FreeSpace()))
	return buf
}

// segmentFromBytes reconstructs a segment's counters from ToBytes' output.
func segmentFromBytes(id ID, nblocks int64, buf []byte) *Segment {
	s := &Segment{id: id, nblocks: nblocks}
	s.validBlock.Store(int64(getU64(buf[0:8])))
	s.freeSpace.Store(int64(getU64(buf[8:16])))
	return s
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
