// Package lsm provides the transactional ordered key-value substrate
// spec.md §1 names as an external collaborator ("the underlying
// transactional LSM-tree... assumed available with get/put/get_range/
// manual_compaction/sync and a transactional event-listener hook"). No
// embeddable LSM/sorted-map library appears anywhere in the retrieval
// pack, so this package plays that role directly: an in-memory sorted
// map backed by an append-only on-disk log, Bitcask-style (an in-memory
// index over an append-only, rotatable log). ManualCompaction plays the
// part a rotating log's segment compaction would: rewriting the log down
// to only the entries still live.
package lsm

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/sworndisk/sworndisk/pkg/errors"
)

// Listener receives insert/drop notifications for every record mutation,
// the hook spec.md §4.G's TX listener is built on: translating LSM
// record add/drop events into allocation diffs.
type Listener interface {
	OnInsert(key, value []byte)
	OnDrop(key, value []byte)
}

// NopListener discards every notification.
type NopListener struct{}

func (NopListener) OnInsert(key, value []byte) {}
func (NopListener) OnDrop(key, value []byte)   {}

type record struct {
	key   []byte
	value []byte
}

// Tree is a durable, ordered key-value store keyed by raw bytes (callers
// are expected to encode integer keys big-endian, so that byte-order
// equals numeric order for GetRange).
type Tree struct {
	mu       sync.RWMutex
	data     map[string][]byte
	keys     [][]byte // kept sorted
	listener Listener

	logPath string
	logFile *os.File
}

const (
	tagPut    byte = 1
	tagDelete byte = 2
)

// Open opens (creating if necessary) a Tree backed by the log file at
// path, replaying any existing records into memory.
func Open(path string, listener Listener) (*Tree, error) {
	if listener == nil {
		listener = NopListener{}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to open lsm log").WithDetail("path", path)
	}
	t := &Tree{data: make(map[string][]byte), logPath: path, logFile: f, listener: listener}
	if err := t.replay(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tree) replay() error {
	if _, err := t.logFile.Seek(0, io.SeekStart); err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to seek lsm log for replay")
	}
	for {
		rec, err := readRecord(t.logFile)
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to replay lsm log")
		}
		if rec.value == nil {
			delete(t.data, string(rec.key))
			t.removeKey(rec.key)
		} else {
			if _, exists := t.data[string(rec.key)]; !exists {
				t.insertKey(rec.key)
			}
			t.data[string(rec.key)] = rec.value
		}
	}
	if _, err := t.logFile.Seek(0, io.SeekEnd); err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to seek lsm log to end")
	}
	return nil
}

func readRecord(f io.Reader) (record, error) {
	var header [9]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return record{}, err
	}
	tag := header[0]
	keyLen := binary.LittleEndian.Uint32(header[1:5])
	valLen := binary.LittleEndian.Uint32(header[5:9])
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(f, key); err != nil {
		return record{}, err
	}
	if tag == tagDelete {
		return record{key: key, value: nil}, nil
	}
	value := make([]byte, valLen)
	if _, err := io.ReadFull(f, value); err != nil {
		return record{}, err
	}
	return record{key: key, value: value}, nil
}

func writeRecord(f io.Writer, tag byte, key, value []byte) error {
	var header [9]byte
	header[0] = tag
	binary.LittleEndian.PutUint32(header[1:5], uint32(len(key)))
	binary.LittleEndian.PutUint32(header[5:9], uint32(len(value)))
	if _, err := f.Write(header[:]); err != nil {
		return err
	}
	if _, err := f.Write(key); err != nil {
		return err
	}
	if tag == tagPut {
		if _, err := f.Write(value); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) keyIndex(key []byte) (int, bool) {
	i := sort.Search(len(t.keys), func(i int) bool { return bytes.Compare(t.keys[i], key) >= 0 })
	if i < len(t.keys) && bytes.Equal(t.keys[i], key) {
		return i, true
	}
	return i, false
}

func (t *Tree) insertKey(key []byte) {
	i, found := t.keyIndex(key)
	if found {
		return
	}
	cp := append([]byte(nil), key...)
	t.keys = append(t.keys, nil)
	copy(t.keys[i+1:], t.keys[i:])
	t.keys[i] = cp
}

func (t *Tree) removeKey(key []byte) {
	i, found := t.keyIndex(key)
	if !found {
		return
	}
	t.keys = append(t.keys[:i], t.keys[i+1:]...)
}

// SetListener replaces the tree's listener after construction, letting
// callers wire a listener that itself needs a reference to the tree's
// surrounding disk (a dependency that can't exist yet at Open time).
func (t *Tree) SetListener(listener Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if listener == nil {
		listener = NopListener{}
	}
	t.listener = listener
}

// Get looks up key, returning (value, true) if present.
func (t *Tree) Get(key []byte) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.data[string(key)]
	return v, ok
}

// Put inserts or overwrites key's value. If key already held a value,
// the listener's OnDrop fires for the old (key, value) pair immediately
// before OnInsert fires for the new one — spec.md's Open Question (d):
// "the on-drop-in-memtable callback... assumes that only the latest
// record for an LBA is present in the memtable at any time", which Put
// upholds by always fully replacing the prior entry.
func (t *Tree) Put(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	keyCopy := append([]byte(nil), key...)
	valCopy := append([]byte(nil), value...)
	if old, exists := t.data[string(key)]; exists {
		t.listener.OnDrop(keyCopy, old)
	} else {
		t.insertKey(keyCopy)
	}
	if err := writeRecord(t.logFile, tagPut, key, value); err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to append lsm record")
	}
	t.data[string(key)] = valCopy
	t.listener.OnInsert(keyCopy, valCopy)
	return nil
}

// Delete removes key, firing OnDrop for its prior value if present.
func (t *Tree) Delete(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, exists := t.data[string(key)]
	if !exists {
		return nil
	}
	if err := writeRecord(t.logFile, tagDelete, key, nil); err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to append lsm delete record")
	}
	delete(t.data, string(key))
	t.removeKey(key)
	t.listener.OnDrop(key, old)
	return nil
}

// Pair is a single (key, value) result from GetRange.
type Pair struct {
	Key   []byte
	Value []byte
}

// GetRange returns every entry with key in [start, end), sorted ascending
// by key.
func (t *Tree) GetRange(start, end []byte) []Pair {
	t.mu.RLock()
	defer t.mu.RUnlock()
	lo, _ := t.keyIndex(start)
	var out []Pair
	for i := lo; i < len(t.keys); i++ {
		k := t.keys[i]
		if bytes.Compare(k, end) >= 0 {
			break
		}
		out = append(out, Pair{Key: k, Value: t.data[string(k)]})
	}
	return out
}

// ManualCompaction rewrites the log down to exactly the live key set,
// the way storage.go rotates to a fresh segment: write a temp log
// containing only current entries, fsync, then rename over the old one.
func (t *Tree) ManualCompaction() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tmpPath := t.logPath + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to open compaction tmp log")
	}
	for _, k := range t.keys {
		if err := writeRecord(tmp, tagPut, k, t.data[string(k)]); err != nil {
			_ = tmp.Close()
			return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to write compacted record")
		}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to sync compacted log")
	}
	if err := tmp.Close(); err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to close compacted log")
	}
	if err := t.logFile.Close(); err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to close old log before compaction rename")
	}
	if err := os.Rename(tmpPath, t.logPath); err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to install compacted log")
	}
	f, err := os.OpenFile(t.logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to reopen log after compaction")
	}
	t.logFile = f
	return nil
}

// Sync flushes the log to stable storage.
func (t *Tree) Sync() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.logFile.Sync(); err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to sync lsm log")
	}
	return nil
}

// Close releases the underlying log file.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.logFile.Close(); err != nil {
		return errors.NewDiskError(err, errors.ErrorCodeIOFailed, "failed to close lsm log")
	}
	return nil
}
