// Package alloc implements spec.md components B and J: the per-TX
// allocation diff log (BlockAlloc in the original) and the crash-recovery
// path that replays it on top of a bitmap snapshot. It is grounded on
// original_source's block_alloc.rs (the BlockAlloc impl block and the
// AllocDiff enum), wired onto internal/segment's Table and
// internal/logstore's BAL bucket.
package alloc

import (
	"github.com/sworndisk/sworndisk/internal/bitmap"
	"github.com/sworndisk/sworndisk/internal/logstore"
	"github.com/sworndisk/sworndisk/internal/segment"
	"github.com/sworndisk/sworndisk/pkg/errors"
)

// DiffKind tags a single block's allocation-state change within a TX.
type DiffKind byte

const (
	// DiffAlloc marks a block as newly allocated, matching the original
	// AllocDiff::Alloc tag byte (3) so on-disk BAL records stay
	// byte-compatible in shape with the reference encoding.
	DiffAlloc DiffKind = 3
	// DiffDealloc marks a block as newly deallocated (tag byte 7).
	DiffDealloc DiffKind = 7
)

// recordSize is one tag byte plus an 8-byte little-endian HBA.
const recordSize = 1 + 8

// Diffs accumulates the block-validity changes made during a single TX,
// before they are persisted to the BAL bucket and applied to the live
// allocation table at commit.
type Diffs struct {
	table *segment.Table
	diffs map[uint64]DiffKind
	order []uint64
}

// NewDiffs creates an empty per-TX diff accumulator over table.
func NewDiffs(table *segment.Table) *Diffs {
	return &Diffs{table: table, diffs: make(map[uint64]DiffKind)}
}

// RecordAlloc notes that hba was allocated during this TX.
func (d *Diffs) RecordAlloc(hba uint64) {
	if _, exists := d.diffs[hba]; !exists {
		d.order = append(d.order, hba)
	}
	d.diffs[hba] = DiffAlloc
}

// RecordDealloc notes that hba was deallocated during this TX.
func (d *Diffs) RecordDealloc(hba uint64) {
	if _, exists := d.diffs[hba]; !exists {
		d.order = append(d.order, hba)
	}
	d.diffs[hba] = DiffDealloc
}

// Empty reports whether any diffs have been recorded.
func (d *Diffs) Empty() bool { return len(d.diffs) == 0 }

// maxBufRecords caps how many records go into a single BAL log append,
// mirroring block_alloc.rs's MAX_BUF_SIZE = 1024 * BLOCK_SIZE bound on
// diff_buf before it is flushed and a fresh buffer started.
const maxBufRecords = (1024 * 4096) / recordSize

// EncodeRecords serializes the accumulated diffs into one or more
// logstore records (each padded to a block-size multiple, one record per
// chunk of at most maxBufRecords diffs).
func (d *Diffs) EncodeRecords(blockSize int) [][]byte {
	if d.Empty() {
		return nil
	}
	var chunks [][]byte
	var buf []byte
	flush := func() {
		if len(buf) == 0 {
			return
		}
		chunks = append(chunks, padTo(buf, blockSize))
		buf = nil
	}
	for i, hba := range d.order {
		kind := d.diffs[hba]
		buf = append(buf, byte(kind))
		buf = appendU64(buf, hba)
		if (i+1)%maxBufRecords == 0 {
			flush()
		}
	}
	flush()
	return chunks
}

func padTo(buf []byte, blockSize int) []byte {
	if rem := len(buf) % blockSize; rem != 0 {
		buf = append(buf, make([]byte, blockSize-rem)...)
	}
	return buf
}

func appendU64(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

func readU64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}

// AppendToLog queues this TX's diffs as BAL records on tx. No-op if empty.
func (d *Diffs) AppendToLog(tx *logstore.Tx, blockSize int) {
	for _, chunk := range d.EncodeRecords(blockSize) {
		tx.AppendRecord(logstore.BucketBAL, chunk)
	}
}

// Apply commits the accumulated diffs into the live allocation table.
// Alloc diffs need no further table action (the bit was already cleared
// when the block was originally allocated); Dealloc diffs free the bit,
// matching block_alloc.rs's update_alloc_table, which only ever sets bits
// for the Dealloc case and asserts the Alloc case was already unset.
func (d *Diffs) Apply() {
	for hba, kind := range d.diffs {
		if kind == DiffDealloc {
			d.table.SetDeallocated(hba)
		}
	}
}

// ReplayRecords applies a sequence of previously-persisted BAL records
// (already sorted into append order by the log store) directly onto bm,
// the way block_alloc.rs's recover walks each BAL log "from older to
// newer". Unrecognized tag bytes (including zero-padding) are skipped,
// matching AllocDiff::from's fallback-to-Invalid behavior.
func ReplayRecords(bm *bitmap.Bitmap, records [][]byte) {
	for _, rec := range records {
		for off := 0; off+recordSize <= len(rec); off += recordSize {
			tag := DiffKind(rec[off])
			hba := readU64(rec[off+1 : off+recordSize])
			switch tag {
			case DiffAlloc:
				bm.Set(hba, false)
			case DiffDealloc:
				bm.Set(hba, true)
			default:
				// padding or corrupt record; skip.
			}
		}
	}
}

// Recover rebuilds a segment.Table from a BVT snapshot (or fresh all-free
// bitmap), a SEG snapshot, and the full set of BAL records accumulated
// since the last compaction, in that order — mirroring
// block_alloc.rs's recover.
func Recover(nblocks uint64, gcEnabled bool, bvt []byte, seg []byte, balRecords [][]byte) (*segment.Table, error) {
	var bm *bitmap.Bitmap
	if bvt == nil {
		bm = bitmap.New(nblocks, true)
	} else {
		bm = bitmap.FromBytes(nblocks, bvt)
	}
	ReplayRecords(bm, balRecords)
	return segment.RecoverFromBitmap(bm, gcEnabled, seg), nil
}

// RecoverFromStore reads the BVT/SEG snapshots and all BAL records
// directly from store and recovers a segment.Table from them. NotFound
// snapshots are treated as "start fresh", matching block_alloc.rs's
// recover, which falls back to an all-free AllocTable when no BVT log
// exists yet.
func RecoverFromStore(store *logstore.Store, nblocks uint64, gcEnabled bool) (*segment.Table, error) {
	bvt, err := store.ReadSnapshot(logstore.BucketBVT)
	if err != nil && !errors.ErrNotFound(err) {
		return nil, err
	}
	if errors.ErrNotFound(err) {
		bvt = nil
	}
	seg, err := store.ReadSnapshot(logstore.BucketSEG)
	if err != nil && !errors.ErrNotFound(err) {
		return nil, err
	}
	if errors.ErrNotFound(err) {
		seg = nil
	}
	records, err := store.ReadRecords(logstore.BucketBAL)
	if err != nil {
		return nil, err
	}
	// store.ReadRecords already returns records in ascending (append) order
	// via its ULID-sorted filenames.
	return Recover(nblocks, gcEnabled, bvt, seg, records)
}
