package disk

import (
	"testing"

	"github.com/sworndisk/sworndisk/internal/hostdisk"
	sderrors "github.com/sworndisk/sworndisk/pkg/errors"
	"github.com/sworndisk/sworndisk/pkg/options"
)

const testTotalBlocks = 4096 // small enough for a fast in-memory test disk

func newTestDisk(t *testing.T) (*Disk, *hostdisk.MemDisk, *options.Options) {
	t.Helper()
	bs := hostdisk.NewMemDisk(testTotalBlocks)
	opts := options.New(
		options.WithDataDir(t.TempDir()),
		options.WithDataBufferCapacity(16),
	)
	d, err := Create(bs, opts, nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return d, bs, opts
}

func fillBlock(v byte) []byte {
	b := make([]byte, hostdisk.BlockSize)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestRoundTripWriteAndRead(t *testing.T) {
	d, _, _ := newTestDisk(t)
	defer d.Close()

	const n = 16
	bufs := make([][]byte, n)
	for i := range bufs {
		bufs[i] = fillBlock(byte(i))
	}
	if err := d.Writev(0, bufs); err != nil {
		t.Fatalf("writev failed: %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	out := make([][]byte, n)
	for i := range out {
		out[i] = make([]byte, hostdisk.BlockSize)
	}
	if err := d.Readv(0, out); err != nil {
		t.Fatalf("readv failed: %v", err)
	}
	for i := range out {
		if out[i][0] != byte(i) {
			t.Fatalf("lba %d: expected value %d, got %d", i, i, out[i][0])
		}
	}
}

func TestOverwrite(t *testing.T) {
	d, _, _ := newTestDisk(t)
	defer d.Close()

	aa := make([][]byte, 8)
	for i := range aa {
		aa[i] = fillBlock(0xAA)
	}
	if err := d.Writev(100, aa); err != nil {
		t.Fatalf("first writev failed: %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}

	bb := make([][]byte, 4)
	for i := range bb {
		bb[i] = fillBlock(0xBB)
	}
	if err := d.Writev(100, bb); err != nil {
		t.Fatalf("second writev failed: %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}

	out := make([][]byte, 8)
	for i := range out {
		out[i] = make([]byte, hostdisk.BlockSize)
	}
	if err := d.Readv(100, out); err != nil {
		t.Fatalf("readv failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		if out[i][0] != 0xBB {
			t.Fatalf("lba %d: expected 0xBB, got %#x", 100+i, out[i][0])
		}
	}
	for i := 4; i < 8; i++ {
		if out[i][0] != 0xAA {
			t.Fatalf("lba %d: expected 0xAA, got %#x", 100+i, out[i][0])
		}
	}
}

func TestReopenPreservesData(t *testing.T) {
	bs := hostdisk.NewMemDisk(testTotalBlocks)
	opts := options.New(
		options.WithDataDir(t.TempDir()),
		options.WithDataBufferCapacity(16),
	)
	d, err := Create(bs, opts, nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	bufs := make([][]byte, 8)
	for i := range bufs {
		bufs[i] = fillBlock(byte(i + 1))
	}
	if err := d.Writev(5, bufs); err != nil {
		t.Fatalf("writev failed: %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := Open(bs, opts, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	out := make([][]byte, 2)
	out[0] = make([]byte, hostdisk.BlockSize)
	out[1] = make([]byte, hostdisk.BlockSize)
	if err := reopened.Readv(5, out); err != nil {
		t.Fatalf("readv after reopen failed: %v", err)
	}
	if out[0][0] != 1 || out[1][0] != 2 {
		t.Fatalf("expected original values after reopen, got %d, %d", out[0][0], out[1][0])
	}
}

func TestEmptyReadIsNotAnError(t *testing.T) {
	d, _, _ := newTestDisk(t)
	defer d.Close()

	buf := make([]byte, hostdisk.BlockSize)
	if err := d.Read(42, buf); err != nil {
		t.Fatalf("expected empty read to succeed, got: %v", err)
	}
}

func TestBatchAllocationIsContiguous(t *testing.T) {
	d, _, _ := newTestDisk(t)
	defer d.Close()

	const n = 16
	bufs := make([][]byte, n)
	for i := range bufs {
		bufs[i] = fillBlock(byte(i))
	}
	if err := d.Writev(0, bufs); err != nil {
		t.Fatalf("writev failed: %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	var hbas []uint64
	for i := uint64(0); i < n; i++ {
		v, ok := d.fwd.Get(EncodeLBA(i))
		if !ok {
			t.Fatalf("expected a forward record for lba %d", i)
		}
		hbas = append(hbas, DecodeForwardValue(v).HBA)
	}
	for i := 1; i < len(hbas); i++ {
		if hbas[i] != hbas[i-1]+1 {
			t.Fatalf("expected a contiguous HBA run, got %v", hbas)
		}
	}
}

func TestWriteBeyondTotalBlocksReturnsOutOfDisk(t *testing.T) {
	d, _, _ := newTestDisk(t)
	defer d.Close()

	buf := make([]byte, hostdisk.BlockSize)
	err := d.Write(d.TotalBlocks(), buf)
	if !sderrors.ErrOutOfDisk(err) {
		t.Fatalf("expected an OutOfDisk error writing past total_blocks, got %v", err)
	}
}

// TestReadCacheServesFreshDataAfterOverwrite guards against the read
// cache papering over an overwrite: a block cached by one read, then
// overwritten and re-synced, must not be served stale on the next read.
func TestReadCacheServesFreshDataAfterOverwrite(t *testing.T) {
	bs := hostdisk.NewMemDisk(testTotalBlocks)
	opts := options.New(
		options.WithDataDir(t.TempDir()),
		options.WithDataBufferCapacity(16),
		options.WithCacheSize(64),
		options.WithTwoLevelCaching(true),
	)
	d, err := Create(bs, opts, nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer d.Close()

	if err := d.Write(7, fillBlock(1)); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}

	out := make([]byte, hostdisk.BlockSize)
	if err := d.Read(7, out); err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	if out[0] != 1 {
		t.Fatalf("expected 1 before overwrite, got %d", out[0])
	}

	if err := d.Write(7, fillBlock(2)); err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}

	if err := d.Read(7, out); err != nil {
		t.Fatalf("second read failed: %v", err)
	}
	if out[0] != 2 {
		t.Fatalf("expected 2 after overwrite, got %d (stale cache entry)", out[0])
	}
}
