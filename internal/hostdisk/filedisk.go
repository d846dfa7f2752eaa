package hostdisk

import (
	"golang.org/x/sys/unix"

	sderrors "github.com/sworndisk/sworndisk/pkg/errors"
)

// FileDisk is a BlockSet backed by a real file, using pread/pwrite/fdatasync
// directly rather than *os.File's buffered-offset methods. Design Notes
// asks implementers to confine this kind of direct I/O to a benchmark
// adapter rather than the core; FileDisk is that adapter, for callers that
// want a real file instead of MemDisk. Nothing in this module opens one.
type FileDisk struct {
	fd     int
	nblock uint64
}

// OpenFileDisk opens (creating if necessary) a file-backed BlockSet of
// exactly nblocks blocks at path.
func OpenFileDisk(path string, nblocks uint64) (*FileDisk, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0644)
	if err != nil {
		return nil, sderrors.NewDiskError(err, sderrors.ErrorCodeIOFailed, "failed to open host disk file").
			WithDetail("path", path)
	}
	size := int64(nblocks * BlockSize)
	if err := unix.Ftruncate(fd, size); err != nil {
		_ = unix.Close(fd)
		return nil, sderrors.NewDiskError(err, sderrors.ErrorCodeIOFailed, "failed to size host disk file").
			WithDetail("path", path).WithDetail("size", size)
	}
	return &FileDisk{fd: fd, nblock: nblocks}, nil
}

func (f *FileDisk) ReadAt(hba uint64, buf []byte) error {
	nblocks, err := checkBufLen(buf)
	if err != nil {
		return err
	}
	if hba+nblocks > f.nblock {
		return sderrors.NewDiskError(nil, sderrors.ErrorCodeInvalidArgs, "read out of range").WithHBA(hba)
	}
	off := int64(hba * BlockSize)
	for read := 0; read < len(buf); {
		n, err := unix.Pread(f.fd, buf[read:], off+int64(read))
		if err != nil {
			return sderrors.NewDiskError(err, sderrors.ErrorCodeIOFailed, "pread failed").WithHBA(hba)
		}
		if n == 0 {
			return sderrors.NewDiskError(nil, sderrors.ErrorCodeIOFailed, "short pread").WithHBA(hba)
		}
		read += n
	}
	return nil
}

func (f *FileDisk) WriteAt(hba uint64, buf []byte) error {
	nblocks, err := checkBufLen(buf)
	if err != nil {
		return err
	}
	if hba+nblocks > f.nblock {
		return sderrors.NewDiskError(nil, sderrors.ErrorCodeInvalidArgs, "write out of range").WithHBA(hba)
	}
	off := int64(hba * BlockSize)
	for written := 0; written < len(buf); {
		n, err := unix.Pwrite(f.fd, buf[written:], off+int64(written))
		if err != nil {
			return sderrors.NewDiskError(err, sderrors.ErrorCodeIOFailed, "pwrite failed").WithHBA(hba)
		}
		if n == 0 {
			return sderrors.NewDiskError(nil, sderrors.ErrorCodeIOFailed, "short pwrite").WithHBA(hba)
		}
		written += n
	}
	return nil
}

func (f *FileDisk) Sync() error {
	if err := unix.Fdatasync(f.fd); err != nil {
		return sderrors.NewDiskError(err, sderrors.ErrorCodeIOFailed, "fdatasync failed")
	}
	return nil
}

func (f *FileDisk) NBlocks() uint64 { return f.nblock }

func (f *FileDisk) Subset(start, end uint64) (BlockSet, error) {
	if start > end || end > f.nblock {
		return nil, sderrors.NewDiskError(nil, sderrors.ErrorCodeInvalidArgs, "invalid subset range")
	}
	return &subsetDisk{parent: f, base: start, nblock: end - start}, nil
}

// Close releases the underlying file descriptor.
func (f *FileDisk) Close() error {
	if err := unix.Close(f.fd); err != nil {
		return sderrors.NewDiskError(err, sderrors.ErrorCodeIOFailed, "failed to close host disk file")
	}
	return nil
}
