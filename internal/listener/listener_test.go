package listener

import (
	"testing"

	"github.com/sworndisk/sworndisk/internal/alloc"
	"github.com/sworndisk/sworndisk/internal/dealloc"
	"github.com/sworndisk/sworndisk/internal/segment"
)

func decodeHBATestValue(value []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(value[i]) << (8 * i)
	}
	return v
}

func encodeHBATestValue(hba uint64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(hba >> (8 * i))
	}
	return buf
}

func TestOnDropDeallocatesWhenNotFlagged(t *testing.T) {
	table := segment.NewTable(16, false)
	hba, err := table.Alloc()
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	before := table.NumFree()

	dt := dealloc.New(16)
	l := New(dt, table, decodeHBATestValue)
	l.OnDrop(nil, encodeHBATestValue(hba))

	if table.NumFree() != before+1 {
		t.Fatalf("expected numFree to increase by 1, got %d -> %d", before, table.NumFree())
	}
}

func TestOnDropSkipsDeallocationWhenFlagged(t *testing.T) {
	table := segment.NewTable(16, false)
	hba, err := table.Alloc()
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	before := table.NumFree()

	dt := dealloc.New(16)
	dt.MarkDeallocated(hba)
	l := New(dt, table, decodeHBATestValue)
	l.OnDrop(nil, encodeHBATestValue(hba))

	if table.NumFree() != before {
		t.Fatalf("expected numFree unchanged (double-free guard), got %d -> %d", before, table.NumFree())
	}
	if dt.HasDeallocated(hba) {
		t.Fatal("expected dealloc flag to be cleared after being observed")
	}
}

func TestOnDropRecordsDiffDuringTx(t *testing.T) {
	table := segment.NewTable(16, false)
	hba, err := table.Alloc()
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	before := table.NumFree()

	dt := dealloc.New(16)
	l := New(dt, table, decodeHBATestValue)

	diffs := alloc.NewDiffs(table)
	l.BeginTx(diffs)
	l.OnDrop(nil, encodeHBATestValue(hba))
	l.EndTx()

	if table.NumFree() != before {
		t.Fatalf("expected table not yet mutated while diff-tracked, got %d -> %d", before, table.NumFree())
	}
	diffs.Apply()
	if table.NumFree() != before+1 {
		t.Fatalf("expected numFree to increase after Diffs.Apply, got %d -> %d", before, table.NumFree())
	}
}
