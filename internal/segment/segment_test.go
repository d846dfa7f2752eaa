package segment

import "testing"

func TestSegmentMarkAllocBatchThenDeallocate(t *testing.T) {
	s := NewSegment(0, Size)
	if s.NumValidBlocks() != Size {
		t.Fatalf("expected fresh segment to have %d valid blocks, got %d", Size, s.NumValidBlocks())
	}
	if s.FreeSpace() != Size {
		t.Fatalf("expected fresh segment to have %d free space, got %d", Size, s.FreeSpace())
	}

	s.MarkAllocBatch(10)
	if s.NumValidBlocks() != Size {
		t.Fatalf("alloc must not change valid block count, got %d", s.NumValidBlocks())
	}
	if s.FreeSpace() != Size-10 {
		t.Fatalf("expected free space %d, got %d", Size-10, s.FreeSpace())
	}

	s.MarkDeallocated()
	if s.NumValidBlocks() != Size-1 {
		t.Fatalf("expected valid blocks %d, got %d", Size-1, s.NumValidBlocks())
	}
	if s.FreeSpace() != Size-10+1 {
		t.Fatalf("expected free space %d, got %d", Size-10+1, s.FreeSpace())
	}
}

func TestSegmentClearSegmentResetsBothCounters(t *testing.T) {
	s := NewSegment(3, Size)
	s.MarkAllocBatch(500)
	s.MarkDeallocatedBatch(100)
	s.ClearSegment()
	if s.NumValidBlocks() != Size || s.FreeSpace() != Size {
		t.Fatalf("clear segment should reset both counters to %d, got valid=%d free=%d", Size, s.NumValidBlocks(), s.FreeSpace())
	}
}

func TestSegmentRoundTripBytes(t *testing.T) {
	s := NewSegment(7, Size)
	s.MarkAllocBatch(42)
	s.MarkDeallocatedBatch(5)
	buf := s.ToBytes()
	got := segmentFromBytes(7, Size, buf)
	if got.NumValidBlocks() != s.NumValidBlocks() || got.FreeSpace() != s.FreeSpace() {
		t.Fatalf("round trip mismatch: want valid=%d free=%d, got valid=%d free=%d",
			s.NumValidBlocks(), s.FreeSpace(), got.NumValidBlocks(), got.FreeSpace())
	}
}
