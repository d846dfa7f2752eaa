package revindex

import (
	"path/filepath"
	"testing"
)

func TestPutGetDelete(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "rev.log"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer idx.Close()

	if err := idx.Put(100, 7); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	lba, ok := idx.Get(100)
	if !ok || lba != 7 {
		t.Fatalf("expected lba 7, got %d ok=%v", lba, ok)
	}

	if err := idx.Delete(100); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok := idx.Get(100); ok {
		t.Fatal("expected entry to be gone after delete")
	}
}
