package alloc

import (
	"github.com/sworndisk/sworndisk/internal/logstore"
	"github.com/sworndisk/sworndisk/internal/segment"
)

// Compact persists table's current bitmap (and segment counters, if GC is
// enabled) as the new BVT/SEG snapshots and discards every BAL record
// accumulated so far, in a single transaction — block_alloc.rs's
// do_compaction: "persist the block validity table to BVT log, GC all
// existing BAL logs".
func Compact(store *logstore.Store, table *segment.Table) error {
	bvt, seg := table.Snapshot()
	tx := store.Begin().PutSnapshot(logstore.BucketBVT, bvt)
	if seg != nil {
		tx = tx.PutSnapshot(logstore.BucketSEG, seg)
	}
	tx = tx.ClearBucket(logstore.BucketBAL)
	return tx.Commit()
}
