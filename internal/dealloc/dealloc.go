// Package dealloc implements spec.md component D: the per-block
// deallocation table GC uses to mark old HBAs it has already reclaimed
// while migrating them, so that the dealloc listener, when the old forward
// record is dropped, skips deallocating them a second time. It is
// grounded on original_source's dealloc_block.rs, which itself moved from
// an lba-keyed map to a bitmap over host block addresses — the port
// follows that final bitmap-based shape.
package dealloc

import "github.com/sworndisk/sworndisk/internal/bitmap"

// Table tracks, per host block address, whether that block has been
// marked deallocated and the mark not yet consumed by the listener.
type Table struct {
	bm *bitmap.Bitmap
}

// New builds a dealloc table over nblocks host block addresses, all
// initially live (not deallocated).
func New(nblocks uint64) *Table {
	return &Table{bm: bitmap.New(nblocks, false)}
}

// HasDeallocated reports whether hba has been marked deallocated and the
// mark not yet cleared by FinishDeallocated.
func (t *Table) HasDeallocated(hba uint64) bool {
	return t.bm.Test(hba)
}

// MarkDeallocated records that hba's data is no longer live.
func (t *Table) MarkDeallocated(hba uint64) {
	t.bm.Set(hba, true)
}

// FinishDeallocated clears hba's mark; the dealloc listener calls it when
// it sees the mark, in place of deallocating the block again.
func (t *Table) FinishDeallocated(hba uint64) {
	t.bm.Set(hba, false)
}
