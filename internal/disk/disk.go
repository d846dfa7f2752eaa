// Package disk implements spec.md component F: the read/write/flush/sync
// path binding together the segment & validity table (A), allocation log
// (B), data buffer (C), dealloc table (D), reverse index (E), TX listener
// (G), and GC barrier (I) into one block-device inner engine. Grounded on
// spec.md §4.F directly, in the shape of a top-level struct wiring
// together storage + index state and a read-write lock that separates a
// bulk operation from ordinary traffic, generalized here to the
// block-device domain.
package disk

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sworndisk/sworndisk/internal/alloc"
	"github.com/sworndisk/sworndisk/internal/barrier"
	"github.com/sworndisk/sworndisk/internal/crypto"
	"github.com/sworndisk/sworndisk/internal/databuf"
	"github.com/sworndisk/sworndisk/internal/dealloc"
	"github.com/sworndisk/sworndisk/internal/hostdisk"
	"github.com/sworndisk/sworndisk/internal/listener"
	"github.com/sworndisk/sworndisk/internal/logstore"
	"github.com/sworndisk/sworndisk/internal/lsm"
	"github.com/sworndisk/sworndisk/internal/revindex"
	"github.com/sworndisk/sworndisk/internal/segment"
	"github.com/sworndisk/sworndisk/internal/stats"
	"github.com/sworndisk/sworndisk/pkg/errors"
	"github.com/sworndisk/sworndisk/pkg/filesys"
	"github.com/sworndisk/sworndisk/pkg/options"
)

// Exact sub-disk split ratios from spec.md §6 / SPEC_FULL's "Exact sub-disk
// split ratios": [0, 15n/16) data, [15n/16, 31n/32) forward-index storage,
// [31n/32, n) reverse-index storage. Expressed as integer divisions of the
// total block count; any remainder from rounding is folded into the data
// region so no blocks are silently dropped from total_blocks().
const (
	dataFractionNum  = 15
	dataFractionDen  = 16
	indexFractionNum = 1
	indexFractionDen = 32
)

func splitRegions(total uint64) (dataBlocks, fwdBlocks, revBlocks uint64) {
	fwdBlocks = total * indexFractionNum / indexFractionDen
	revBlocks = total * indexFractionNum / indexFractionDen
	dataBlocks = total - fwdBlocks - revBlocks
	return
}

// Disk is SwornDisk's inner engine: everything below the public surface in
// pkg/sworndisk.
type Disk struct {
	opts *options.Options
	log  *zap.SugaredLogger

	dataDisk hostdisk.BlockSet
	nblocks  uint64

	table        *segment.Table
	store        *logstore.Store
	deallocTable *dealloc.Table

	fwd *lsm.Tree
	rev *revindex.Index // nil when GC is disabled

	txListener *listener.TxListener

	buf   *databuf.Buffer
	cache *readCache // nil when Options.CacheSize <= 0

	barrier *barrier.Barrier

	waf  *stats.WAF       // nil when !opts.StatWAF
	cost *stats.CostStats // nil when !opts.StatCost

	rwlock sync.RWMutex // shared for writes, exclusive for sync — spec.md §4.F
}

// fwdRecordSize is the on-disk width of a forward-index value:
// {hba:u64, key:[32]byte, mac:[16]byte}.
const fwdRecordSize = 8 + crypto.KeySize + crypto.MACSize

// ForwardRecord is the decoded form of a forward-index value: {hba, key,
// mac} per spec.md §6. Exported so internal/gc (which must decode and
// re-encode forward records while rewriting migrated blocks) can share this
// codec instead of duplicating it.
type ForwardRecord struct {
	HBA uint64
	Key crypto.Key
	MAC crypto.MAC
}

// EncodeLBA encodes lba as a big-endian forward-index key, so byte order
// matches numeric order for range queries.
func EncodeLBA(lba uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(lba >> (8 * i))
	}
	return b
}

func encodeLBA(lba uint64) []byte { return EncodeLBA(lba) }

// DecodeForwardValue parses a forward-index value into its fields.
func DecodeForwardValue(v []byte) ForwardRecord {
	var r ForwardRecord
	for i := 0; i < 8; i++ {
		r.HBA |= uint64(v[i]) << (8 * i)
	}
	copy(r.Key[:], v[8:8+crypto.KeySize])
	copy(r.MAC[:], v[8+crypto.KeySize:8+crypto.KeySize+crypto.MACSize])
	return r
}

func decodeForwardValue(v []byte) ForwardRecord { return DecodeForwardValue(v) }

// EncodeForwardValue serializes a forward-index record.
func EncodeForwardValue(r ForwardRecord) []byte {
	v := make([]byte, fwdRecordSize)
	for i := 0; i < 8; i++ {
		v[i] = byte(r.HBA >> (8 * i))
	}
	copy(v[8:8+crypto.KeySize], r.Key[:])
	copy(v[8+crypto.KeySize:8+crypto.KeySize+crypto.MACSize], r.MAC[:])
	return v
}

func encodeForwardValue(r ForwardRecord) []byte { return EncodeForwardValue(r) }

// decodeHBAFromForwardValue is the listener.DecodeHBA hook.
func decodeHBAFromForwardValue(v []byte) uint64 {
	var hba uint64
	for i := 0; i < 8; i++ {
		hba |= uint64(v[i]) << (8 * i)
	}
	return hba
}

func open(bs hostdisk.BlockSet, opts *options.Options, log *zap.SugaredLogger) (*Disk, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("disk")

	dataBlocks, _, _ := splitRegions(bs.NBlocks())
	dataDisk, err := bs.Subset(0, dataBlocks)
	if err != nil {
		return nil, errors.NewDiskError(err, errors.ErrorCodeInvalidArgs, "failed to carve data region")
	}

	if err := filesys.CreateDir(opts.DataDir, 0755, true); err != nil {
		return nil, errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to create data directory")
	}
	store, err := logstore.Open(opts.DataDir, log)
	if err != nil {
		return nil, err
	}

	table, err := alloc.RecoverFromStore(store, dataBlocks, opts.EnableGC)
	if err != nil {
		return nil, err
	}

	deallocTable := dealloc.New(dataBlocks)

	fwd, err := lsm.Open(opts.DataDir+"/forward.log", nil)
	if err != nil {
		return nil, err
	}

	var rev *revindex.Index
	if opts.EnableGC {
		rev, err = revindex.Open(opts.DataDir + "/reverse.log")
		if err != nil {
			return nil, err
		}
	}

	txListener := listener.New(deallocTable, table, decodeHBAFromForwardValue)
	fwd.SetListener(txListener)

	var waf *stats.WAF
	if opts.StatWAF {
		waf = stats.NewWAF(nil)
	}
	var cost *stats.CostStats
	if opts.StatCost {
		cost = stats.NewCostStats(nil)
	}

	d := &Disk{
		opts:         opts,
		log:          log,
		dataDisk:     dataDisk,
		nblocks:      dataBlocks,
		table:        table,
		store:        store,
		deallocTable: deallocTable,
		fwd:          fwd,
		rev:          rev,
		txListener:   txListener,
		buf:          databuf.New(opts.DataBufferCapacity),
		cache:        newReadCache(opts),
		barrier:      barrier.New(),
		waf:          waf,
		cost:         cost,
	}
	return d, nil
}

// Create initializes a fresh SwornDisk over bs, discarding any prior
// metadata state under opts.DataDir.
func Create(bs hostdisk.BlockSet, opts *options.Options, log *zap.SugaredLogger) (*Disk, error) {
	if err := filesys.DeleteDir(opts.DataDir); err != nil {
		return nil, errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to clear data directory for create")
	}
	return open(bs, opts, log)
}

// Open reopens a SwornDisk over bs, recovering its metadata from
// opts.DataDir.
func Open(bs hostdisk.BlockSet, opts *options.Options, log *zap.SugaredLogger) (*Disk, error) {
	return open(bs, opts, log)
}

// TotalBlocks returns the number of LBAs addressable on this disk — the
// size of the data region, not the full underlying BlockSet (which also
// carries the forward/reverse index regions).
func (d *Disk) TotalBlocks() uint64 { return d.nblocks }

// Close releases the forward/reverse index logs. It does not sync; callers
// that want durability must call Sync first.
func (d *Disk) Close() error {
	var err error
	if cerr := d.fwd.Close(); cerr != nil {
		err = cerr
	}
	if d.rev != nil {
		if cerr := d.rev.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}

// hbaLBA pairs an hba with its lba; groupContiguousRuns groups such pairs
// into contiguous-HBA runs, sorted ascending by HBA, the run-length
// compression step spec.md's read path calls for.
type hbaLBA struct {
	hba uint64
	lba uint64
}

// Table exposes the segment & validity table for internal/gc's victim
// selection and migration bookkeeping.
func (d *Disk) Table() *segment.Table { return d.table }

// ForwardIndex exposes the forward index for internal/gc's rewrite step.
func (d *Disk) ForwardIndex() *lsm.Tree { return d.fwd }

// ReverseIndex exposes the reverse index (nil if GC is disabled).
func (d *Disk) ReverseIndex() *revindex.Index { return d.rev }

// DeallocTable exposes the dealloc table internal/gc marks before a
// migrated HBA's old forward record is dropped.
func (d *Disk) DeallocTable() *dealloc.Table { return d.deallocTable }

// DataDisk exposes the user-data BlockSet for internal/gc's segment
// read/rewrite I/O.
func (d *Disk) DataDisk() hostdisk.BlockSet { return d.dataDisk }

// Barrier exposes the shared-state barrier so internal/gc can announce and
// clear its own critical sections.
func (d *Disk) Barrier() *barrier.Barrier { return d.barrier }

// TxListener exposes the TX listener that flush uses to diff-track
// deallocations. internal/gc does not call it.
func (d *Disk) TxListener() *listener.TxListener { return d.txListener }

// Store exposes the log store that holds the BVT/SEG/BAL buckets.
// internal/gc does not call it.
func (d *Disk) Store() *logstore.Store { return d.store }

// Cost exposes the cost-timer collector (nil if Options.StatCost is false).
func (d *Disk) Cost() *stats.CostStats { return d.cost }

// Logger exposes the disk's logger so internal/gc can log under the same
// component tree.
func (d *Disk) Logger() *zap.SugaredLogger { return d.log }

// Options exposes the disk's configuration.
func (d *Disk) Options() *options.Options { return d.opts }

func groupContiguousRuns(pairs []hbaLBA) [][]hbaLBA {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].hba < pairs[j].hba })
	var runs [][]hbaLBA
	for _, p := range pairs {
		if len(runs) > 0 {
			last := runs[len(runs)-1]
			if last[len(last)-1].hba+1 == p.hba {
				runs[len(runs)-1] = append(last, p)
				continue
			}
		}
		runs = append(runs, []hbaLBA{p})
	}
	return runs
}
