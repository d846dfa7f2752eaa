package gc

import (
	"sync/atomic"

	"github.com/sworndisk/sworndisk/internal/segment"
)

// Victim is a segment chosen for reclamation, plus the HBAs within it that
// are still allocated (and therefore candidates for migration rather than
// outright discard).
type Victim struct {
	SegmentID segment.ID
	Blocks    []uint64
}

// VictimPolicy selects which segment background GC should clean next.
// Grounded on gc.rs's VictimPolicy trait.
type VictimPolicy interface {
	PickVictim(table *segment.Table, threshold float64) (Victim, bool)
}

// GreedyVictimPolicy picks the segment with the most invalid (deallocated
// but not yet reclaimed) blocks among those exceeding threshold. Grounded
// on gc.rs's GreedyVictimPolicy.
type GreedyVictimPolicy struct{}

func (GreedyVictimPolicy) PickVictim(table *segment.Table, threshold float64) (Victim, bool) {
	segments := table.Segments()
	maxInvalid := int64(0)
	victimID := segment.ID(0)
	found := false
	for i, seg := range segments {
		frac := float64(seg.NumInvalidBlocks()) / float64(seg.NBlocks())
		if frac > threshold && seg.NumInvalidBlocks() > maxInvalid {
			maxInvalid = seg.NumInvalidBlocks()
			victimID = segment.ID(i)
			found = true
		}
	}
	if !found {
		return Victim{}, false
	}
	return Victim{SegmentID: victimID, Blocks: table.AllocatedBlocksInSegment(victimID)}, true
}

// LoopScanVictimPolicy scans segments round-robin from where it last left
// off, picking the first one exceeding threshold. Grounded on gc.rs's
// LoopScanVictimPolicy.
type LoopScanVictimPolicy struct {
	cursor atomic.Uint64
}

func NewLoopScanVictimPolicy() *LoopScanVictimPolicy {
	return &LoopScanVictimPolicy{}
}

func (p *LoopScanVictimPolicy) PickVictim(table *segment.Table, threshold float64) (Victim, bool) {
	segments := table.Segments()
	n := uint64(len(segments))
	if n == 0 {
		return Victim{}, false
	}
	last := p.cursor.Load()
	cursor := last
	for {
		cursor = (cursor + 1) % n
		if cursor == last {
			return Victim{}, false
		}
		seg := segments[cursor]
		frac := float64(seg.NumInvalidBlocks()) / float64(seg.NBlocks())
		if frac > threshold {
			p.cursor.Store(cursor)
			return Victim{SegmentID: segment.ID(cursor), Blocks: table.AllocatedBlocksInSegment(segment.ID(cursor))}, true
		}
	}
}
