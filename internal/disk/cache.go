package disk

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sworndisk/sworndisk/pkg/options"
)

// readCache is an optional read-through cache sized by Options.CacheSize,
// grounded on the hashicorp/golang-lru usage pattern for an open-segment
// cache in a similar log-structured block device. Caching the forward
// index's own sorted tree is internal/lsm's job; this cache sits in front
// of it and of the data disk, so a hot LBA costs neither an LSM lookup nor
// a data-disk read plus AEAD decrypt.
//
// With Options.TwoLevelCaching, a second tier caches decoded forward-index
// records (HBA, key, MAC) without the plaintext block, so a read whose
// plaintext has been evicted can skip the forward-index lookup. Only the
// read path uses this cache; GC reads the forward index directly.
type readCache struct {
	blocks  *lru.Cache[uint64, []byte]
	records *lru.Cache[uint64, ForwardRecord]
}

func newReadCache(opts *options.Options) *readCache {
	if opts.CacheSize <= 0 {
		return nil
	}
	blocks, err := lru.New[uint64, []byte](opts.CacheSize)
	if err != nil {
		return nil
	}
	rc := &readCache{blocks: blocks}
	if opts.TwoLevelCaching {
		if records, err := lru.New[uint64, ForwardRecord](opts.CacheSize); err == nil {
			rc.records = records
		}
	}
	return rc
}

func (c *readCache) getBlock(lba uint64) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.blocks.Get(lba)
}

func (c *readCache) putBlock(lba uint64, block []byte) {
	if c == nil {
		return
	}
	cp := make([]byte, len(block))
	copy(cp, block)
	c.blocks.Add(lba, cp)
}

func (c *readCache) getRecord(lba uint64) (ForwardRecord, bool) {
	if c == nil || c.records == nil {
		return ForwardRecord{}, false
	}
	return c.records.Get(lba)
}

func (c *readCache) putRecord(lba uint64, rec ForwardRecord) {
	if c == nil || c.records == nil {
		return
	}
	c.records.Add(lba, rec)
}

// invalidate drops lba from both tiers. Called on every write so a flushed
// overwrite can't serve a stale cached block or record.
func (c *readCache) invalidate(lba uint64) {
	if c == nil {
		return
	}
	c.blocks.Remove(lba)
	if c.records != nil {
		c.records.Remove(lba)
	}
}
