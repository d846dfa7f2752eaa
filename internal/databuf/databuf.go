// Package databuf implements spec.md component C: a bounded, in-memory
// write-back cache keyed by LBA that absorbs user writes before a
// batched flush to the allocation/encryption/index path. It follows the
// teacher's bounded-map idiom in internal/index/index.go (a mutex-guarded
// map plus an atomic closed flag) generalized from a string-keyed
// key-value index to an LBA-keyed block cache with a hard capacity.
package databuf

import (
	"sync"

	"github.com/sworndisk/sworndisk/pkg/errors"
)

// LBA is a logical block address.
type LBA = uint64

// Buffer is the bounded write-back data buffer. Capacity is fixed at
// construction (spec.md's DATA_BUF_CAP); there is no eviction policy —
// once full, callers are expected to flush and clear the buffer before
// further writes are accepted.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	order    []LBA
	blocks   map[LBA][]byte
}

// New builds an empty buffer with the given capacity.
func New(capacity int) *Buffer {
	return &Buffer{capacity: capacity, blocks: make(map[LBA][]byte, capacity)}
}

// Capacity returns the buffer's fixed capacity.
func (b *Buffer) Capacity() int { return b.capacity }

// Put stores (or overwrites) the plaintext block for lba. It returns true
// if the buffer has reached capacity after this put, signalling the
// caller should flush before any further write.
func (b *Buffer) Put(lba LBA, block []byte) (atCapacity bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.blocks[lba]; !exists {
		if len(b.blocks) >= b.capacity {
			return false, errors.NewDiskError(nil, errors.ErrorCodeOutOfMemory, "data buffer is at capacity").
				WithDetail("capacity", b.capacity)
		}
		b.order = append(b.order, lba)
	}
	cp := make([]byte, len(block))
	copy(cp, block)
	b.blocks[lba] = cp
	return len(b.blocks) >= b.capacity, nil
}

// Get returns the buffered block for lba, if present.
func (b *Buffer) Get(lba LBA) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	block, ok := b.blocks[lba]
	return block, ok
}

// GetRange returns every buffered (lba, block) pair whose lba lies in
// [start, end), in insertion order — used to short-circuit index range
// reads the way spec.md's read path consults the buffer before the LSM.
func (b *Buffer) GetRange(start, end LBA) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Entry
	for _, lba := range b.order {
		if lba < start || lba >= end {
			continue
		}
		if block, ok := b.blocks[lba]; ok {
			out = append(out, Entry{LBA: lba, Block: block})
		}
	}
	return out
}

// Entry is a single buffered (LBA, block) pair, as returned by GetRange
// and All.
type Entry struct {
	LBA   LBA
	Block []byte
}

// All returns every buffered entry in insertion order, for draining
// during a flush.
func (b *Buffer) All() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, 0, len(b.order))
	for _, lba := range b.order {
		if block, ok := b.blocks[lba]; ok {
			out = append(out, Entry{LBA: lba, Block: block})
		}
	}
	return out
}

// IsEmpty reports whether the buffer currently holds no blocks.
func (b *Buffer) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blocks) == 0
}

// Len returns the number of blocks currently buffered.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blocks)
}

// Clear drains the buffer entirely, for use immediately after a
// successful flush.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.blocks)
	b.order = nil
}
