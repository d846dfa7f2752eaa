package databuf

import "testing"

func TestPutGetAndCapacity(t *testing.T) {
	b := New(2)
	block := []byte("abcd")

	atCap, err := b.Put(1, block)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atCap {
		t.Fatal("buffer should not be at capacity after first put")
	}

	atCap, err = b.Put(2, block)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !atCap {
		t.Fatal("buffer should report at capacity after second put")
	}

	if _, err := b.Put(3, block); err == nil {
		t.Fatal("expected an error putting a new key past capacity")
	}

	// Overwriting an existing key must still be allowed at capacity.
	if _, err := b.Put(1, []byte("efgh")); err != nil {
		t.Fatalf("expected overwrite of existing key to succeed at capacity: %v", err)
	}
	got, ok := b.Get(1)
	if !ok || string(got) != "efgh" {
		t.Fatalf("expected overwritten value efgh, got %q ok=%v", got, ok)
	}
}

func TestGetRangeInsertionOrder(t *testing.T) {
	b := New(10)
	for _, lba := range []LBA{5, 1, 3, 8} {
		if _, err := b.Put(lba, []byte{byte(lba)}); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}
	entries := b.GetRange(0, 6)
	want := []LBA{5, 1, 3}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries in range, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.LBA != want[i] {
			t.Fatalf("expected insertion order %v, got lba %d at index %d", want, e.LBA, i)
		}
	}
}

func TestClearAndIsEmpty(t *testing.T) {
	b := New(4)
	if !b.IsEmpty() {
		t.Fatal("fresh buffer should be empty")
	}
	if _, err := b.Put(1, []byte{1}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if b.IsEmpty() {
		t.Fatal("buffer should not be empty after a put")
	}
	b.Clear()
	if !b.IsEmpty() || b.Len() != 0 {
		t.Fatal("expected buffer to be empty after Clear")
	}
}
