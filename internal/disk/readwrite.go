package disk

import (
	"github.com/sworndisk/sworndisk/internal/crypto"
	"github.com/sworndisk/sworndisk/internal/hostdisk"
	"github.com/sworndisk/sworndisk/internal/stats"
	sderrors "github.com/sworndisk/sworndisk/pkg/errors"
)

func (d *Disk) checkRange(lba uint64, n uint64) error {
	if n == 0 {
		return sderrors.NewDiskError(nil, sderrors.ErrorCodeInvalidArgs, "zero-length request")
	}
	if lba+n > d.nblocks {
		// spec.md §8's boundary test treats writing past total_blocks as
		// address-space exhaustion rather than a malformed argument.
		return sderrors.NewDiskError(nil, sderrors.ErrorCodeOutOfDisk, "lba range exceeds total_blocks").WithLBA(lba)
	}
	return nil
}

// Readv reads len(bufs) blocks starting at lba, one caller-supplied buffer
// per block, implementing spec.md §4.F's read path.
func (d *Disk) Readv(lba uint64, bufs [][]byte) error {
	if err := d.checkRange(lba, uint64(len(bufs))); err != nil {
		return err
	}
	d.rwlock.RLock()
	defer d.rwlock.RUnlock()
	if d.cost != nil {
		defer d.cost.Timer(stats.CostL3Read)()
	}

	n := uint64(len(bufs))
	completed := make([]bool, n)
	anyMissing := false
	for i := uint64(0); i < n; i++ {
		if block, ok := d.buf.Get(lba + i); ok {
			copy(bufs[i], block)
			completed[i] = true
		} else if block, ok := d.cache.getBlock(lba + i); ok {
			copy(bufs[i], block)
			completed[i] = true
		} else {
			anyMissing = true
		}
	}
	if !anyMissing {
		return nil
	}

	d.barrier.WaitForBackgroundGC()

	recordFor := make(map[uint64]ForwardRecord, n)
	var pairs []hbaLBA
	for i := uint64(0); i < n; i++ {
		if completed[i] {
			continue
		}
		l := lba + i
		var rec ForwardRecord
		if cached, ok := d.cache.getRecord(l); ok {
			rec = cached
		} else {
			v, ok := d.fwd.Get(encodeLBA(l))
			if !ok {
				// Empty read: never written. Non-error per spec.md §7; the
				// caller's buffer contents are left as-is.
				continue
			}
			rec = decodeForwardValue(v)
			d.cache.putRecord(l, rec)
		}
		recordFor[l] = rec
		pairs = append(pairs, hbaLBA{hba: rec.HBA, lba: l})
	}
	if len(pairs) == 0 {
		return nil
	}

	for _, run := range groupContiguousRuns(pairs) {
		nblocks := uint64(len(run))
		cipherBuf := make([]byte, nblocks*hostdisk.BlockSize)
		if err := d.dataDisk.ReadAt(run[0].hba, cipherBuf); err != nil {
			return err
		}
		for i, p := range run {
			rec := recordFor[p.lba]
			ciphertext := cipherBuf[uint64(i)*hostdisk.BlockSize : (uint64(i)+1)*hostdisk.BlockSize]
			dst := bufs[p.lba-lba]
			if err := crypto.Decrypt(rec.Key, ciphertext, rec.MAC, dst); err != nil {
				return err
			}
			d.cache.putBlock(p.lba, dst)
		}
	}
	return nil
}

// Read reads n = len(buf)/BlockSize blocks starting at lba into one flat
// buffer.
func (d *Disk) Read(lba uint64, buf []byte) error {
	bufs, err := splitBlocks(buf)
	if err != nil {
		return err
	}
	return d.Readv(lba, bufs)
}

// Writev writes len(bufs) blocks starting at lba, one caller-supplied block
// per LBA, implementing spec.md §4.F's write path: buffer every block,
// flushing immediately if a put overflows the data buffer's capacity.
func (d *Disk) Writev(lba uint64, bufs [][]byte) error {
	if err := d.checkRange(lba, uint64(len(bufs))); err != nil {
		return err
	}
	d.rwlock.RLock()
	defer d.rwlock.RUnlock()
	if d.cost != nil {
		defer d.cost.Timer(stats.CostL3Write)()
	}

	for i, block := range bufs {
		l := lba + uint64(i)
		d.cache.invalidate(l)
		atCapacity, err := d.buf.Put(l, block)
		if err != nil {
			return err
		}
		if atCapacity {
			if err := d.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Write writes len(buf)/BlockSize blocks starting at lba from one flat
// buffer.
func (d *Disk) Write(lba uint64, buf []byte) error {
	bufs, err := splitBlocks(buf)
	if err != nil {
		return err
	}
	return d.Writev(lba, bufs)
}

func splitBlocks(buf []byte) ([][]byte, error) {
	if len(buf)%hostdisk.BlockSize != 0 {
		return nil, sderrors.NewDiskError(nil, sderrors.ErrorCodeInvalidArgs, "buffer length is not a multiple of block size")
	}
	n := len(buf) / hostdisk.BlockSize
	bufs := make([][]byte, n)
	for i := range bufs {
		bufs[i] = buf[i*hostdisk.BlockSize : (i+1)*hostdisk.BlockSize]
	}
	return bufs, nil
}
