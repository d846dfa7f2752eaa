package disk

import (
	"context"

	"github.com/sworndisk/sworndisk/internal/alloc"
	"github.com/sworndisk/sworndisk/internal/crypto"
	"github.com/sworndisk/sworndisk/internal/hostdisk"
	"github.com/sworndisk/sworndisk/internal/stats"
	sderrors "github.com/sworndisk/sworndisk/pkg/errors"
)

type pendingWrite struct {
	lba uint64
	hba uint64
	key crypto.Key
	mac crypto.MAC
}

// flush implements spec.md §4.F's Flush steps. Callers must hold rwlock in
// some mode (shared for an ordinary write-triggered flush).
func (d *Disk) flush() error {
	d.barrier.WaitForBackgroundGC()

	entries := d.buf.All()
	if len(entries) == 0 {
		return nil
	}
	if d.cost != nil {
		defer d.cost.Timer(stats.CostL3Write)()
	}

	count := uint64(len(entries))
	ctx := context.Background()
	start, err := d.table.AllocBatch(ctx, count)
	if err != nil {
		if !sderrors.ErrOutOfDisk(err) {
			return err
		}
		// spec.md's OutOfDisk-on-batch-allocation retry is a manual LSM
		// compaction (the original's manual_compaction on
		// logical_block_table), not a validity-table snapshot. In this
		// port the compaction only rewrites the forward index's log and
		// fires no listener events: superseded blocks were already freed
		// when Tree.Put overwrote their records, so the retry finds only
		// what has been freed since the first attempt.
		if cerr := d.compactForwardIndex(); cerr != nil {
			return cerr
		}
		start, err = d.table.AllocBatch(ctx, count)
		if err != nil {
			return err
		}
	}

	diffs := alloc.NewDiffs(d.table)
	d.txListener.BeginTx(diffs)
	defer d.txListener.EndTx()

	cipherBuf := make([]byte, count*hostdisk.BlockSize)
	writes := make([]pendingWrite, count)
	for i, e := range entries {
		key, err := crypto.RandomKey()
		if err != nil {
			return err
		}
		ciphertext, mac, err := crypto.Encrypt(key, e.Block)
		if err != nil {
			return err
		}
		copy(cipherBuf[uint64(i)*hostdisk.BlockSize:], ciphertext)

		hba := start + uint64(i)
		writes[i] = pendingWrite{lba: e.LBA, hba: hba, key: key, mac: mac}
		diffs.RecordAlloc(hba)
	}

	// Steps 4-5: one contiguous disk write for the run, then one
	// forward/reverse-index update per block.
	if err := d.dataDisk.WriteAt(start, cipherBuf); err != nil {
		return err
	}
	if d.waf != nil {
		d.waf.AddLogical(count * hostdisk.BlockSize)
		d.waf.AddPhysical(count * hostdisk.BlockSize)
	}

	for _, w := range writes {
		if !d.opts.DelayedReclamation {
			// Pre-read-to-trigger-eager-dealloc trick (spec.md §4.F step 5):
			// the return value is intentionally discarded. In this port
			// Tree.Put already fires OnDrop synchronously for any record it
			// overwrites, so this Get is a documented no-op rather than the
			// load-bearing trigger it is in a leveled LSM — see DESIGN.md.
			_, _ = d.fwd.Get(encodeLBA(w.lba))
		}
		val := encodeForwardValue(ForwardRecord{HBA: w.hba, Key: w.key, MAC: w.mac})
		if err := d.fwd.Put(encodeLBA(w.lba), val); err != nil {
			return err
		}
		if d.rev != nil {
			if err := d.rev.Put(w.hba, w.lba); err != nil {
				return err
			}
		}
	}

	tx := d.store.Begin()
	diffs.AppendToLog(tx, hostdisk.BlockSize)
	if err := tx.Commit(); err != nil {
		return err
	}
	diffs.Apply()

	d.buf.Clear()
	return nil
}

// withCompactionBarrier runs fn (a compaction step) coordinated with the
// shared barrier per spec.md §4.I: it waits out any in-flight GC pass,
// announces its own critical section so a GC pass started afterward waits
// in turn, then clears the flag on return. Both of this disk's compaction
// entry points — the forward index's manual compaction and the
// allocation table's BVT/SEG/BAL compaction — go through this.
func (d *Disk) withCompactionBarrier(fn func() error) error {
	d.barrier.WaitForBackgroundGC()
	d.barrier.StartCompaction()
	defer d.barrier.NotifyCompactionFinished()
	return fn()
}

// compactForwardIndex runs a manual LSM compaction on the forward index,
// rewriting its log to the live records only. It fires no dealloc listener
// events and frees no blocks itself.
func (d *Disk) compactForwardIndex() error {
	return d.withCompactionBarrier(d.fwd.ManualCompaction)
}

// Flush forces a flush of any buffered writes, outside of the capacity-
// triggered path Writev uses internally.
func (d *Disk) Flush() error {
	d.rwlock.RLock()
	defer d.rwlock.RUnlock()
	return d.flush()
}

// Sync implements spec.md §4.F's Sync: flush, compact the validity table,
// sync the forward and reverse index logs, then flush the user-data disk.
// The log store's bucket files are written but not fsynced here. It takes
// rwlock in exclusive mode, serializing against concurrent writes.
func (d *Disk) Sync() error {
	d.rwlock.Lock()
	defer d.rwlock.Unlock()
	if d.cost != nil {
		defer d.cost.Timer(stats.CostL3Sync)()
	}

	if err := d.flush(); err != nil {
		return err
	}
	if err := d.withCompactionBarrier(func() error { return alloc.Compact(d.store, d.table) }); err != nil {
		return err
	}
	if err := d.fwd.Sync(); err != nil {
		return err
	}
	if d.rev != nil {
		if err := d.rev.Sync(); err != nil {
			return err
		}
	}
	return d.dataDisk.Sync()
}
