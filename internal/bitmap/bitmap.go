// Package bitmap implements the validity bitmap described in spec.md §3:
// one bit per HBA over the whole user-data region, where bit=1 means free.
// It is a plain word-packed bitset with scanning helpers; the allocation
// semantics (cursor, free-count condition variable, segment bookkeeping)
// live one layer up in internal/segment, the same separation the original
// draws between util::BitMap and block_alloc::AllocTable.
package bitmap

import "math/bits"

const wordBits = 64

// Bitmap is a fixed-length, word-packed bitset. It is not internally
// synchronized — callers needing concurrent access (internal/segment)
// wrap it in their own mutex, since they must also serialize the
// cursor/counter state kept alongside it.
type Bitmap struct {
	words []uint64
	nbits uint64
}

// New allocates a bitmap of nbits bits, all set to allFree.
func New(nbits uint64, allFree bool) *Bitmap {
	nwords := (nbits + wordBits - 1) / wordBits
	b := &Bitmap{words: make([]uint64, nwords), nbits: nbits}
	if allFree {
		for i := range b.words {
			b.words[i] = ^uint64(0)
		}
		b.maskTail()
	}
	return b
}

// maskTail clears any bits beyond nbits in the last word, so popcount and
// scans never see spurious set bits past the logical end.
func (b *Bitmap) maskTail() {
	if b.nbits%wordBits == 0 {
		return
	}
	last := len(b.words) - 1
	valid := b.nbits % wordBits
	b.words[last] &= (uint64(1) << valid) - 1
}

// Len returns the number of bits in the bitmap.
func (b *Bitmap) Len() uint64 { return b.nbits }

// Test reports whether bit i is set (free).
func (b *Bitmap) Test(i uint64) bool {
	return b.words[i/wordBits]&(uint64(1)<<(i%wordBits)) != 0
}

// Set sets bit i to free (true) or allocated (false).
func (b *Bitmap) Set(i uint64, free bool) {
	w := i / wordBits
	mask := uint64(1) << (i % wordBits)
	if free {
		b.words[w] |= mask
	} else {
		b.words[w] &^= mask
	}
}

// PopCount returns the number of free (set) bits.
func (b *Bitmap) PopCount() uint64 {
	var n uint64
	for _, w := range b.words {
		n += uint64(bits.OnesCount64(w))
	}
	return n
}

// FindFirstFree scans forward from start (wrapping to 0 once) for the first
// free bit, returning (index, true), or (0, false) if none exists.
func (b *Bitmap) FindFirstFree(start uint64) (uint64, bool) {
	if b.nbits == 0 {
		return 0, false
	}
	start %= b.nbits
	for _, wrapped := range [2]struct{ from, to uint64 }{{start, b.nbits}, {0, start}} {
		for i := wrapped.from; i < wrapped.to; i++ {
			if b.Test(i) {
				return i, true
			}
		}
	}
	return 0, false
}

// FindRunFree finds the first run of n consecutive free bits starting the
// scan at `start` (no wraparound within a run — spec.md §4.A: "Batch
// allocation returns the first contiguous run it can find"). Returns the
// run's starting index, or ok=false if no such run exists.
func (b *Bitmap) FindRunFree(start uint64, n uint64) (uint64, bool) {
	if n == 0 || n > b.nbits {
		return 0, false
	}
	start %= b.nbits
	// Scan twice: [start, nbits) then [0, start), to emulate wraparound
	// cursor behaviour while keeping each candidate run contiguous.
	for _, seg := range [2]struct{ from, to uint64 }{{start, b.nbits}, {0, start}} {
		run := uint64(0)
		runStart := seg.from
		for i := seg.from; i < seg.to; i++ {
			if b.Test(i) {
				if run == 0 {
					runStart = i
				}
				run++
				if run == n {
					return runStart, true
				}
			} else {
				run = 0
			}
		}
	}
	return 0, false
}

// SetRange sets n consecutive bits starting at i to free or allocated.
func (b *Bitmap) SetRange(i, n uint64, free bool) {
	for k := uint64(0); k < n; k++ {
		b.Set(i+k, free)
	}
}

// Bytes serializes the bitmap to its packed little-endian word form, used
// when snapshotting into the BVT bucket.
func (b *Bitmap) Bytes() []byte {
	out := make([]byte, len(b.words)*8)
	for i, w := range b.words {
		for j := 0; j < 8; j++ {
			out[i*8+j] = byte(w >> (8 * j))
		}
	}
	return out
}

// FromBytes reconstructs a Bitmap of nbits bits from its packed
// serialization, as produced by Bytes.
func FromBytes(nbits uint64, data []byte) *Bitmap {
	nwords := (nbits + wordBits - 1) / wordBits
	b := &Bitmap{words: make([]uint64, nwords), nbits: nbits}
	for i := range b.words {
		if i*8 >= len(data) {
			break
		}
		var w uint64
		for j := 0; j < 8 && i*8+j < len(data); j++ {
			w |= uint64(data[i*8+j]) << (8 * j)
		}
		b.words[i] = w
	}
	b.maskTail()
	return b
}
