package logstore

import (
	"os"

	"go.uber.org/multierr"

	"github.com/sworndisk/sworndisk/pkg/errors"
)

func renameFile(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

type opKind int

const (
	opPutSnapshot opKind = iota
	opAppendRecord
	opClearBucket
)

type op struct {
	kind   opKind
	bucket string
	data   []byte
}

// Tx batches a sequence of bucket mutations so they can be applied
// together and reported as a single TxAborted error on failure. This
// mirrors block_alloc.rs's do_compaction, which performs its snapshot
// replacement and log truncation "inside one TX, abort on any error" —
// there is no cross-file atomicity primitive available at this layer, so
// Commit applies ops in order and aggregates any failures rather than
// rolling back partial writes: ops applied before a failure stay applied.
type Tx struct {
	store *Store
	ops   []op
}

// Begin starts a new transaction against the store.
func (s *Store) Begin() *Tx {
	return &Tx{store: s}
}

// PutSnapshot queues an atomic replacement of bucket's current snapshot.
func (tx *Tx) PutSnapshot(bucket string, data []byte) *Tx {
	tx.ops = append(tx.ops, op{kind: opPutSnapshot, bucket: bucket, data: data})
	return tx
}

// AppendRecord queues a new BAL-style record append.
func (tx *Tx) AppendRecord(bucket string, data []byte) *Tx {
	tx.ops = append(tx.ops, op{kind: opAppendRecord, bucket: bucket, data: data})
	return tx
}

// ClearBucket queues deletion of every record currently in bucket.
func (tx *Tx) ClearBucket(bucket string) *Tx {
	tx.ops = append(tx.ops, op{kind: opClearBucket, bucket: bucket})
	return tx
}

// Commit applies all queued operations in order. On any failure, it
// continues applying the remaining operations (to leave the store in as
// consistent a state as possible) and returns a TxAborted DiskError
// aggregating every failure via multierr.
func (tx *Tx) Commit() error {
	var errs error
	for _, o := range tx.ops {
		var err error
		switch o.kind {
		case opPutSnapshot:
			err = tx.store.writeSnapshot(o.bucket, o.data)
		case opAppendRecord:
			err = tx.store.appendRecord(o.bucket, o.data)
		case opClearBucket:
			err = tx.store.clearBucket(o.bucket)
		}
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return errors.NewDiskError(errs, errors.ErrorCodeTxAborted, "log store transaction aborted")
	}
	return nil
}
