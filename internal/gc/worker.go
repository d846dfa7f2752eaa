// Package gc implements spec.md component H: the background worker that
// reclaims segments heavy with deallocated-but-unreclaimed blocks by
// migrating their still-valid data elsewhere and resetting their bitmap
// range to free. Grounded directly on original_source's gc.rs
// (GcWorker::background_gc/find_target_hbas/clean_and_migrate_data/
// remap_index_batch), wired onto internal/disk's exported accessors so gc
// never needs disk's unexported fields.
package gc

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/sworndisk/sworndisk/internal/disk"
	"github.com/sworndisk/sworndisk/internal/hostdisk"
	"github.com/sworndisk/sworndisk/internal/segment"
	sderrors "github.com/sworndisk/sworndisk/pkg/errors"
)

// Tuning constants, kept numerically identical to gc.rs's.
const (
	gcWatermark        = 16
	activeThreshold    = 0.6
	inactiveThreshold  = 0.1
	activeGCInterval   = 5 * time.Second
	inactiveGCInterval = 100 * time.Millisecond
)

// hbaPair is an (old, new) host block address remapping produced by a
// migration batch.
type hbaPair struct {
	old uint64
	new uint64
}

// lbaHba pairs a logical block address with a host block address already
// known to be stale (invalid, not yet reclaimed) within a victim segment.
type lbaHba struct {
	lba uint64
	hba uint64
}

// Worker runs spec.md's background GC loop against one Disk.
type Worker struct {
	disk     *disk.Disk
	policy   VictimPolicy
	isActive atomic.Bool
}

// New builds a GC worker over d using policy for victim selection.
func New(d *disk.Disk, policy VictimPolicy) *Worker {
	return &Worker{disk: d, policy: policy}
}

// MarkActive records that foreground write activity has occurred since
// the last GC pass, raising the invalid-block threshold the next time Run
// loops and making Run wait activeGCInterval rather than the shorter
// inactiveGCInterval before that pass. Callers on the write path
// (pkg/sworndisk) call this after every successful write, mirroring
// gc.rs's shared is_active flag between GcWorker and the foreground disk.
func (w *Worker) MarkActive() { w.isActive.Store(true) }

// Run loops background GC passes until ctx is canceled or a pass returns
// an error (which Run then returns), announcing each
// pass via the shared barrier so foreground I/O and LSM compaction wait
// out the stop-the-world window, per spec.md §4.I.
func (w *Worker) Run(ctx context.Context) error {
	for {
		w.disk.Barrier().StartGC()
		err := w.backgroundGC()
		w.disk.Barrier().NotifyGCFinished()
		if err != nil {
			return err
		}

		interval := inactiveGCInterval
		if w.isActive.Load() {
			interval = activeGCInterval
		}
		w.isActive.Store(false)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// BackgroundGC runs a single GC pass synchronously, for tests and for
// callers that want to drive GC manually rather than via Run's loop.
func (w *Worker) BackgroundGC() error { return w.backgroundGC() }

func (w *Worker) backgroundGC() error {
	// spec.md §4.I: a GC pass waits out any in-flight LSM compaction
	// before picking victims, the same way compaction waits out GC in
	// internal/disk.compactForwardIndex.
	w.disk.Barrier().WaitForCompaction()

	threshold := inactiveThreshold
	if w.isActive.Load() {
		threshold = activeThreshold
	}

	table := w.disk.Table()
	for i := 0; i < gcWatermark; i++ {
		victim, ok := w.policy.PickVictim(table, threshold)
		if !ok {
			break
		}

		remapped, err := w.cleanAndMigrateData(victim)
		if err != nil {
			return err
		}
		if len(remapped) == 0 {
			continue
		}
		if err := w.remapIndexBatch(remapped); err != nil {
			return err
		}
	}
	return nil
}

// findTargetHBAs classifies a victim segment's allocated blocks into
// still-valid (forward index still points at this hba) versus stale
// (already superseded, just not yet reclaimed), and finds enough free
// HBAs elsewhere to receive the valid blocks. Grounded on gc.rs's
// find_target_hbas.
//
// The valid/discard/target partitions are built as mapset.Set[uint64]
// rather than slices: membership, not order, is what the partitioning
// itself needs (a source hba is either valid or stale, never both; a
// target hba is reserved for this migration or it isn't), and targetHBAs
// is cross-checked against validHBAs/discardHBAs to guard against the
// migration ever reserving one of the victim's own blocks as a
// destination. Ascending order, which the contiguous-run grouping in
// cleanAndMigrateData depends on, is restored once when the sets are
// flattened back to slices.
func (w *Worker) findTargetHBAs(victim Victim) (validHBAs []uint64, discardPairs []lbaHba, targetHBAs []uint64, err error) {
	table := w.disk.Table()
	rev := w.disk.ReverseIndex()
	fwd := w.disk.ForwardIndex()

	validSet := mapset.NewThreadUnsafeSet[uint64]()
	discardSet := mapset.NewThreadUnsafeSet[uint64]()
	var discards []lbaHba

	for _, hba := range victim.Blocks {
		lba, ok := rev.Get(hba)
		if !ok {
			return nil, nil, nil, sderrors.NewDiskError(nil, sderrors.ErrorCodeNotFound, "reverse index missing entry for victim hba").WithHBA(hba)
		}
		v, ok := fwd.Get(disk.EncodeLBA(lba))
		if !ok {
			return nil, nil, nil, sderrors.NewDiskError(nil, sderrors.ErrorCodeNotFound, "forward index missing entry for victim lba").WithLBA(lba)
		}
		if disk.DecodeForwardValue(v).HBA == hba {
			validSet.Add(hba)
		} else {
			discardSet.Add(hba)
			discards = append(discards, lbaHba{lba: lba, hba: hba})
		}
	}

	targetSet := mapset.NewThreadUnsafeSet[uint64]()
	segments := table.Segments()
	for i, seg := range segments {
		if segment.ID(i) == victim.SegmentID || seg.FreeSpace() == 0 {
			continue
		}
		for _, hba := range table.FreeBlocksInSegment(segment.ID(i)) {
			if uint64(targetSet.Cardinality()) >= uint64(validSet.Cardinality()) {
				break
			}
			targetSet.Add(hba)
		}
		if uint64(targetSet.Cardinality()) >= uint64(validSet.Cardinality()) {
			break
		}
	}
	if reserved := targetSet.Intersect(validSet.Union(discardSet)); reserved.Cardinality() != 0 {
		hba, _ := reserved.Pop()
		return nil, nil, nil, sderrors.NewDiskError(nil, sderrors.ErrorCodeInvalidArgs, "migration target overlaps victim's own segment").WithHBA(hba)
	}

	validHBAs = sortedSlice(validSet)
	targetHBAs = sortedSlice(targetSet)
	return validHBAs, discards, targetHBAs, nil
}

// sortedSlice flattens a mapset.Set[uint64] back to an ascending slice.
func sortedSlice(s mapset.Set[uint64]) []uint64 {
	out := s.ToSlice()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// cleanAndMigrateData reads the victim segment's raw (still-encrypted)
// data, rewrites each still-valid block to a free HBA elsewhere in
// contiguous batches, then applies the validity-table bookkeeping for the
// migration (MigrateBatch for the destinations, ClearSegment for the now-
// fully-reclaimed victim). Grounded on gc.rs's clean_and_migrate_data.
func (w *Worker) cleanAndMigrateData(victim Victim) ([]hbaPair, error) {
	validHBAs, discardPairs, targetHBAs, err := w.findTargetHBAs(victim)
	if err != nil {
		return nil, err
	}

	table := w.disk.Table()
	if len(validHBAs) == 0 {
		table.ClearSegment(victim.SegmentID, uint64(len(discardPairs)))
		return nil, nil
	}
	if len(targetHBAs) < len(validHBAs) {
		return nil, sderrors.NewDiskError(nil, sderrors.ErrorCodeOutOfDisk, "not enough free blocks to migrate victim segment")
	}

	dataDisk := w.disk.DataDisk()
	segStart := uint64(victim.SegmentID) * segment.Size
	segEnd := segStart + segment.Size
	if segEnd > dataDisk.NBlocks() {
		segEnd = dataDisk.NBlocks()
	}
	victimData := make([]byte, (segEnd-segStart)*hostdisk.BlockSize)
	if err := dataDisk.ReadAt(segStart, victimData); err != nil {
		return nil, err
	}

	var remapped []hbaPair
	idx := 0
	for _, run := range groupContiguousHBAs(targetHBAs) {
		batch := make([]hbaPair, 0, len(run))
		writeBuf := make([]byte, len(run)*hostdisk.BlockSize)
		for i := 0; i < len(run) && idx < len(validHBAs); i, idx = i+1, idx+1 {
			victimHBA := validHBAs[idx]
			srcOff := (victimHBA - segStart) * hostdisk.BlockSize
			copy(writeBuf[uint64(i)*hostdisk.BlockSize:], victimData[srcOff:srcOff+hostdisk.BlockSize])
			batch = append(batch, hbaPair{old: victimHBA, new: run[i]})
		}
		if err := dataDisk.WriteAt(run[0], writeBuf[:uint64(len(batch))*hostdisk.BlockSize]); err != nil {
			return nil, err
		}
		remapped = append(remapped, batch...)
	}

	newHBAs := make([]uint64, len(remapped))
	for i, p := range remapped {
		newHBAs[i] = p.new
	}
	table.MigrateBatch(newHBAs)
	table.ClearSegment(victim.SegmentID, uint64(len(discardPairs)))
	return remapped, nil
}

// remapIndexBatch rewrites the forward and reverse index entries for every
// migrated block to point at its new hba, and flags each old hba
// deallocated. Grounded on gc.rs's remap_index_batch, with one deliberate
// reordering: the original flags dealloc_table *after* calling put,
// relying on on-drop firing asynchronously at a later memtable-flush time.
// This port's Tree.Put fires OnDrop synchronously, so the flag must be set
// *before* the put that triggers it, or the listener would (wrongly) run
// the ordinary bitmap.set_deallocated path on a bit ClearSegment already
// freed.
func (w *Worker) remapIndexBatch(pairs []hbaPair) error {
	fwd := w.disk.ForwardIndex()
	rev := w.disk.ReverseIndex()
	deallocTable := w.disk.DeallocTable()

	for _, p := range pairs {
		lba, ok := rev.Get(p.old)
		if !ok {
			return sderrors.NewDiskError(nil, sderrors.ErrorCodeNotFound, "reverse index missing entry for migrated hba").WithHBA(p.old)
		}
		v, ok := fwd.Get(disk.EncodeLBA(lba))
		if !ok {
			return sderrors.NewDiskError(nil, sderrors.ErrorCodeNotFound, "forward index missing entry for migrated lba").WithLBA(lba)
		}
		rec := disk.DecodeForwardValue(v)
		rec.HBA = p.new

		deallocTable.MarkDeallocated(p.old)
		if err := fwd.Put(disk.EncodeLBA(lba), disk.EncodeForwardValue(rec)); err != nil {
			return err
		}
		if err := rev.Put(p.new, lba); err != nil {
			return err
		}
	}
	return nil
}

func groupContiguousHBAs(hbas []uint64) [][]uint64 {
	var runs [][]uint64
	for _, h := range hbas {
		if len(runs) > 0 {
			last := runs[len(runs)-1]
			if last[len(last)-1]+1 == h {
				runs[len(runs)-1] = append(last, h)
				continue
			}
		}
		runs = append(runs, []uint64{h})
	}
	return runs
}
