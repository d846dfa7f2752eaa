// Package revindex implements spec.md component E: a thin wrapper over
// the LSM substrate storing HBA→LBA, needed only when GC is enabled so
// GC can find the current LBA of a block it is about to migrate.
// Grounded on internal/lsm's generic ordered store and on spec.md §4.E's
// one-paragraph description: "inserted on every forward-index insert and
// on every GC rewrite. Consulted only by GC."
package revindex

import (
	"encoding/binary"

	"github.com/sworndisk/sworndisk/internal/lsm"
)

// Index is the HBA→LBA reverse index.
type Index struct {
	tree *lsm.Tree
}

// Open opens (creating if necessary) a reverse index backed by the log
// file at path.
func Open(path string) (*Index, error) {
	tree, err := lsm.Open(path, lsm.NopListener{})
	if err != nil {
		return nil, err
	}
	return &Index{tree: tree}, nil
}

func encodeHBA(hba uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, hba)
	return b
}

func decodeLBA(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// Put records that hba currently holds the data for lba.
func (idx *Index) Put(hba, lba uint64) error {
	return idx.tree.Put(encodeHBA(hba), encodeHBA(lba))
}

// Get looks up the LBA currently stored at hba, if any.
func (idx *Index) Get(hba uint64) (uint64, bool) {
	v, ok := idx.tree.Get(encodeHBA(hba))
	if !ok {
		return 0, false
	}
	return decodeLBA(v), true
}

// Delete removes hba's reverse-index entry, once it has been superseded.
func (idx *Index) Delete(hba uint64) error {
	return idx.tree.Delete(encodeHBA(hba))
}

// Sync flushes the reverse index to stable storage.
func (idx *Index) Sync() error { return idx.tree.Sync() }

// Close releases the underlying log.
func (idx *Index) Close() error { return idx.tree.Close() }
