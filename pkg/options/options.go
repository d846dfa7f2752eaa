// Package options provides the configuration surface for SwornDisk. It
// keeps the functional-options shape (OptionFunc + WithX constructors)
// instead of a process-global configuration cell: every constructor takes
// an explicit *Options value, so a single process can run multiple
// independently-configured disks side by side.
package options

import "strings"

// VictimPolicyKind selects which GC victim-selection strategy a disk uses.
type VictimPolicyKind string

const (
	VictimPolicyGreedy   VictimPolicyKind = "greedy"
	VictimPolicyLoopScan VictimPolicyKind = "loop_scan"
)

// segmentOptions controls the append-only log-store layer backing the
// persisted BVT/SEG/BAL buckets (see internal/logstore).
type segmentOptions struct {
	// Size is the maximum size, in bytes, a single log file may grow to
	// before the log store rotates to a new one.
	Size uint64 `json:"maxLogSize"`

	// Directory names the subdirectory under DataDir holding log files.
	Directory string `json:"directory"`

	// Prefix is the filename prefix for log files.
	Prefix string `json:"prefix"`
}

// Options carries every configuration knob recognised by SwornDisk, per
// spec.md §6 and the richest config.rs variant in original_source (the
// GC-aware one — see DESIGN.md's resolution of Open Question (a)).
type Options struct {
	// DataDir is the base path for the log store's on-disk buckets. It has
	// no bearing on the user-data region, which lives on the BlockSet
	// passed to disk.Create/disk.Open.
	DataDir string `json:"dataDir"`

	// SegmentOptions configures the log store's own file rotation.
	SegmentOptions *segmentOptions `json:"segmentOptions"`

	// DataBufferCapacity is C in spec.md §3: the bounded LBA->block map
	// absorbing writes before a flush. Default 1024, per DATA_BUF_CAP in
	// the original sworndisk.rs.
	DataBufferCapacity int `json:"dataBufferCapacity"`

	// CacheSize hints the size of an optional read-through cache kept in
	// front of the forward index (backed by hashicorp/golang-lru). The
	// original treats this as transparent to the core except via the LSM;
	// here it directly sizes internal/disk's optional cache.
	CacheSize int `json:"cacheSize"`

	// TwoLevelCaching adds a second read-cache tier of decoded forward-index
	// records (HBA, key, MAC) beside the tier of decrypted plaintext blocks.
	TwoLevelCaching bool `json:"twoLevelCaching"`

	// DelayedReclamation, when false, makes every flush perform a pre-read
	// of the superseded key purely to trigger the listener's on-drop path
	// and reclaim the old HBA eagerly (spec.md §4.F step 5).
	DelayedReclamation bool `json:"delayedReclamation"`

	// StatWAF enables the logical/physical byte counters in internal/stats.
	StatWAF bool `json:"statWaf"`

	// StatCost enables the two-tier (L2/L3) cost-timer histograms in
	// internal/stats.
	StatCost bool `json:"statCost"`

	// EnableGC turns on the per-segment counters, the reverse index, and
	// the background GC worker. The dealloc table is built either way, and
	// with GC disabled a block whose forward record is overwritten is still
	// freed through the dealloc listener; no segment is ever cleaned.
	EnableGC bool `json:"enableGc"`

	// VictimPolicy selects the GC victim-selection strategy. Defaults to
	// greedy, matching Config::get_victim_policy in the original.
	VictimPolicy VictimPolicyKind `json:"victimPolicy"`
}

// OptionFunc mutates an Options value; applied in order by callers.
type OptionFunc func(*Options)

// New builds an Options value starting from the documented defaults and
// applying fns in order, the standard functional-options constructor shape.
func New(fns ...OptionFunc) *Options {
	cfg := NewDefaultOptions()
	for _, fn := range fns {
		fn(&cfg)
	}
	return &cfg
}

// WithDefaultOptions resets every field to its documented default.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = NewDefaultOptions()
	}
}

// WithDataDir sets the base path for the log store's on-disk buckets.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithSegmentDir sets the log store's own segment subdirectory.
func WithSegmentDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.SegmentOptions.Directory = directory
		}
	}
}

// WithSegmentPrefix sets the log store's segment filename prefix.
func WithSegmentPrefix(prefix string) OptionFunc {
	return func(o *Options) {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			o.SegmentOptions.Prefix = prefix
		}
	}
}

// WithSegmentSize bounds the log store's per-file rotation size.
func WithSegmentSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size > MinSegmentSize && size < MaxSegmentSize {
			o.SegmentOptions.Size = size
		}
	}
}

// WithDataBufferCapacity overrides the bounded write-back buffer's capacity.
func WithDataBufferCapacity(capacity int) OptionFunc {
	return func(o *Options) {
		if capacity > 0 {
			o.DataBufferCapacity = capacity
		}
	}
}

// WithCacheSize sets the hint size for the optional read-through cache.
func WithCacheSize(size int) OptionFunc {
	return func(o *Options) {
		if size >= 0 {
			o.CacheSize = size
		}
	}
}

// WithTwoLevelCaching toggles the two-level read cache hint.
func WithTwoLevelCaching(enabled bool) OptionFunc {
	return func(o *Options) { o.TwoLevelCaching = enabled }
}

// WithDelayedReclamation toggles whether flush eagerly reclaims superseded
// HBAs via a pre-read, or leaves reclamation to the ordinary listener path.
func WithDelayedReclamation(enabled bool) OptionFunc {
	return func(o *Options) { o.DelayedReclamation = enabled }
}

// WithStatWAF toggles write-amplification counters.
func WithStatWAF(enabled bool) OptionFunc {
	return func(o *Options) { o.StatWAF = enabled }
}

// WithStatCost toggles the cost-timer histograms.
func WithStatCost(enabled bool) OptionFunc {
	return func(o *Options) { o.StatCost = enabled }
}

// WithGC enables the per-segment counters, reverse index, and background
// GC worker, optionally selecting a non-default victim policy.
func WithGC(enabled bool, policy VictimPolicyKind) OptionFunc {
	return func(o *Options) {
		o.EnableGC = enabled
		if policy != "" {
			o.VictimPolicy = policy
		}
	}
}
