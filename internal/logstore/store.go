// Package logstore implements the transactional log store that holds
// SwornDisk's three persisted metadata buckets: BVT (bitmap snapshot),
// SEG (segment-table snapshot), and BAL (allocation/deallocation diff
// log). It adapts a segment-rotating file discipline (one active file,
// atomic rotation, directory bootstrap via pkg/filesys) to a
// transactional snapshot+log model: BVT/SEG are single snapshots
// replaced atomically on compaction, while BAL is an append-only
// sequence of small records replayed in order on recovery. Record IDs
// use oklog/ulid so that lexicographic filename order is also
// chronological append order, the same property a zero-padded-sequence-
// plus-timestamp segment name gives ordinary log rotation.
package logstore

import (
	"encoding/binary"
	"path/filepath"
	"sort"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/xxh3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sworndisk/sworndisk/pkg/errors"
	"github.com/sworndisk/sworndisk/pkg/filesys"
)

// checksumSize is the width of the xxh3 checksum appended to every BVT/SEG
// snapshot so recovery can detect a torn or truncated write before trusting
// the snapshot over replaying from BAL.
const checksumSize = 8

// Bucket names for the three persisted structures spec.md §3/§6 describe.
const (
	BucketBVT = "bvt"
	BucketSEG = "seg"
	BucketBAL = "bal"
)

// Store is a directory-backed transactional log store. Each bucket is a
// subdirectory of dir; BVT/SEG hold a single "current" snapshot file,
// while BAL holds a sequence of ULID-named record files.
type Store struct {
	dir string
	log *zap.SugaredLogger
}

// Open prepares a log store rooted at dir, creating the bucket
// subdirectories if they do not already exist.
func Open(dir string, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Store{dir: dir, log: log.Named("logstore")}
	for _, bucket := range []string{BucketBVT, BucketSEG, BucketBAL} {
		if err := filesys.CreateDir(s.bucketDir(bucket), 0755, true); err != nil {
			return nil, errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to create log store bucket directory").
				WithDetail("bucket", bucket)
		}
	}
	return s, nil
}

func (s *Store) bucketDir(bucket string) string {
	return filepath.Join(s.dir, bucket)
}

func (s *Store) snapshotPath(bucket string) string {
	return filepath.Join(s.bucketDir(bucket), "current")
}

// ReadSnapshot reads the current snapshot for a BVT/SEG-style bucket,
// verifying its trailing xxh3 checksum. Returns a NotFound DiskError if no
// snapshot has ever been written, or if the checksum does not match — a
// torn/truncated write is treated identically to a missing snapshot, so
// callers fall back to replaying from BAL.
func (s *Store) ReadSnapshot(bucket string) ([]byte, error) {
	exists, err := filesys.Exists(s.snapshotPath(bucket))
	if err != nil {
		return nil, errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to stat snapshot").WithDetail("bucket", bucket)
	}
	if !exists {
		return nil, errors.NewDiskError(nil, errors.ErrorCodeNotFound, "no snapshot present").WithDetail("bucket", bucket)
	}
	raw, err := filesys.ReadFile(s.snapshotPath(bucket))
	if err != nil {
		return nil, errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to read snapshot").WithDetail("bucket", bucket)
	}
	if len(raw) < checksumSize {
		return nil, errors.NewDiskError(nil, errors.ErrorCodeNotFound, "snapshot shorter than checksum, treating as absent").WithDetail("bucket", bucket)
	}
	data := raw[:len(raw)-checksumSize]
	want := binary.LittleEndian.Uint64(raw[len(raw)-checksumSize:])
	if xxh3.Hash(data) != want {
		return nil, errors.NewDiskError(nil, errors.ErrorCodeNotFound, "snapshot checksum mismatch, treating as absent").WithDetail("bucket", bucket)
	}
	return data, nil
}

// writeSnapshot atomically replaces a bucket's current snapshot: write data
// plus its trailing xxh3 checksum to a temp file, then rename over the old
// one.
func (s *Store) writeSnapshot(bucket string, data []byte) error {
	var sum [checksumSize]byte
	binary.LittleEndian.PutUint64(sum[:], xxh3.Hash(data))
	buf := make([]byte, 0, len(data)+checksumSize)
	buf = append(buf, data...)
	buf = append(buf, sum[:]...)

	tmp := s.snapshotPath(bucket) + ".tmp"
	if err := filesys.WriteFile(tmp, 0644, buf); err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to write snapshot tmp file").WithDetail("bucket", bucket)
	}
	if err := renameFile(tmp, s.snapshotPath(bucket)); err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to install new snapshot").WithDetail("bucket", bucket)
	}
	return nil
}

// ReadRecords reads every BAL record currently stored, in ascending
// (i.e. chronological) ID order.
func (s *Store) ReadRecords(bucket string) ([][]byte, error) {
	names, err := filesys.ReadDir(filepath.Join(s.bucketDir(bucket), "*"))
	if err != nil {
		return nil, errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to list records").WithDetail("bucket", bucket)
	}
	sort.Strings(names)
	records := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := filesys.ReadFile(name)
		if err != nil {
			return nil, errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to read record").WithDetail("path", name)
		}
		records = append(records, data)
	}
	return records, nil
}

// clearBucket deletes every record file in bucket.
func (s *Store) clearBucket(bucket string) error {
	names, err := filesys.ReadDir(filepath.Join(s.bucketDir(bucket), "*"))
	if err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to list records for clearing").WithDetail("bucket", bucket)
	}
	var errs error
	for _, name := range names {
		if err := filesys.DeleteFile(name); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return errors.NewDiskError(errs, errors.ErrorCodeIOFailed, "failed to clear bucket").WithDetail("bucket", bucket)
	}
	return nil
}

func (s *Store) appendRecord(bucket string, data []byte) error {
	id := ulid.Make()
	path := filepath.Join(s.bucketDir(bucket), id.String())
	if err := filesys.WriteFile(path, 0644, data); err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to append record").WithDetail("bucket", bucket)
	}
	return nil
}
