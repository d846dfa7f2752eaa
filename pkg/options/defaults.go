package options

const (
	// DefaultDataDir is the base path for SwornDisk's log-store buckets
	// when no other directory is specified during initialization.
	DefaultDataDir = "/var/lib/sworndisk"

	// MinSegmentSize is the minimum allowed log-store rotation size (512MB).
	MinSegmentSize uint64 = 512 * 1024 * 1024

	// MaxSegmentSize is the maximum allowed log-store rotation size (4GB).
	MaxSegmentSize uint64 = 4 * 1024 * 1024 * 1024

	// DefaultSegmentSize is the default log-store rotation size (1GB).
	DefaultSegmentSize uint64 = 1 * 1024 * 1024 * 1024

	// DefaultSegmentDirectory is the default subdirectory under DataDir
	// for log-store files.
	DefaultSegmentDirectory = "/logs"

	// DefaultSegmentPrefix is the default log-store filename prefix.
	DefaultSegmentPrefix = "log"

	// DefaultDataBufferCapacity is C from spec.md §3 — DATA_BUF_CAP in the
	// original sworndisk.rs.
	DefaultDataBufferCapacity = 1024

	// DefaultCacheSize is a conservative default for the optional
	// golang-lru read-through cache; 0 disables it.
	DefaultCacheSize = 0
)

// defaultOptions holds the baseline configuration for a SwornDisk instance.
var defaultOptions = Options{
	DataDir: DefaultDataDir,
	SegmentOptions: &segmentOptions{
		Size:      DefaultSegmentSize,
		Prefix:    DefaultSegmentPrefix,
		Directory: DefaultSegmentDirectory,
	},
	DataBufferCapacity: DefaultDataBufferCapacity,
	CacheSize:          DefaultCacheSize,
	TwoLevelCaching:    true,
	DelayedReclamation: true,
	StatWAF:            false,
	StatCost:           false,
	EnableGC:           false,
	VictimPolicy:       VictimPolicyGreedy,
}

// NewDefaultOptions returns a fresh copy of the default configuration.
func NewDefaultOptions() Options {
	cfg := defaultOptions
	segCopy := *defaultOptions.SegmentOptions
	cfg.SegmentOptions = &segCopy
	return cfg
}
