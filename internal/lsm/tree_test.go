package lsm

import (
	"path/filepath"
	"testing"
)

type recordingListener struct {
	inserts [][2]string
	drops   [][2]string
}

func (l *recordingListener) OnInsert(key, value []byte) {
	l.inserts = append(l.inserts, [2]string{string(key), string(value)})
}

func (l *recordingListener) OnDrop(key, value []byte) {
	l.drops = append(l.drops, [2]string{string(key), string(value)})
}

func TestPutGetAndOverwriteFiresDrop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.log")
	l := &recordingListener{}
	tree, err := Open(path, l)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer tree.Close()

	if err := tree.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if got, ok := tree.Get([]byte("k1")); !ok || string(got) != "v1" {
		t.Fatalf("expected v1, got %q ok=%v", got, ok)
	}

	if err := tree.Put([]byte("k1"), []byte("v2")); err != nil {
		t.Fatalf("overwrite put failed: %v", err)
	}
	if len(l.drops) != 1 || l.drops[0] != [2]string{"k1", "v1"} {
		t.Fatalf("expected a drop of the old value on overwrite, got %v", l.drops)
	}
	if got, ok := tree.Get([]byte("k1")); !ok || string(got) != "v2" {
		t.Fatalf("expected v2 after overwrite, got %q ok=%v", got, ok)
	}
}

func TestGetRangeSortedOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.log")
	tree, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer tree.Close()

	for _, k := range []string{"c", "a", "b", "z"} {
		if err := tree.Put([]byte(k), []byte(k)); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}
	pairs := tree.GetRange([]byte("a"), []byte("c"))
	if len(pairs) != 2 || string(pairs[0].Key) != "a" || string(pairs[1].Key) != "b" {
		t.Fatalf("expected [a, b] in range [a,c), got %v", pairs)
	}
}

func TestReopenReplaysLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.log")
	tree, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := tree.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := tree.Delete([]byte("deleted")); err != nil {
		t.Fatalf("delete of missing key should be a no-op, got: %v", err)
	}
	if err := tree.Sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if err := tree.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if got, ok := reopened.Get([]byte("k")); !ok || string(got) != "v" {
		t.Fatalf("expected replayed value v, got %q ok=%v", got, ok)
	}
}

func TestManualCompactionPreservesLiveData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.log")
	tree, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := tree.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := tree.Put([]byte("k1"), []byte("v2")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if err := tree.Put([]byte("k2"), []byte("v3")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := tree.Delete([]byte("k2")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := tree.ManualCompaction(); err != nil {
		t.Fatalf("compaction failed: %v", err)
	}
	if err := tree.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen after compaction failed: %v", err)
	}
	defer reopened.Close()
	if got, ok := reopened.Get([]byte("k1")); !ok || string(got) != "v2" {
		t.Fatalf("expected compacted k1=v2, got %q ok=%v", got, ok)
	}
	if _, ok := reopened.Get([]byte("k2")); ok {
		t.Fatal("expected k2 to remain deleted after compaction")
	}
}
