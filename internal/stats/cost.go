package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CostL3 names a fine-grained operation whose latency is tracked
// individually: the leaves of the cost breakdown.
type CostL3 string

const (
	CostL3Read        CostL3 = "read"
	CostL3Write       CostL3 = "write"
	CostL3Sync        CostL3 = "sync"
	CostL3Encrypt     CostL3 = "encrypt"
	CostL3Decrypt     CostL3 = "decrypt"
	CostL3IndexLookup CostL3 = "index_lookup"
	CostL3IndexInsert CostL3 = "index_insert"
	CostL3GcMigrate   CostL3 = "gc_migrate"
	CostL3Compaction  CostL3 = "compaction"
)

// CostL2 groups L3 categories into the two broad phases spec.md
// distinguishes for GC scheduling: work done on the foreground I/O path
// versus work done by the background GC/compaction worker.
type CostL2 string

const (
	CostL2Foreground CostL2 = "foreground"
	CostL2Background CostL2 = "background"
)

var l3ToL2 = map[CostL3]CostL2{
	CostL3Read:        CostL2Foreground,
	CostL3Write:       CostL2Foreground,
	CostL3Sync:        CostL2Foreground,
	CostL3Encrypt:     CostL2Foreground,
	CostL3Decrypt:     CostL2Foreground,
	CostL3IndexLookup: CostL2Foreground,
	CostL3IndexInsert: CostL2Foreground,
	CostL3GcMigrate:   CostL2Background,
	CostL3Compaction:  CostL2Background,
}

// CostStats is the two-tier cost-timer collector: every recorded duration
// rolls up into both its L3 (fine-grained) and L2 (foreground/background)
// histograms, so callers can inspect either the detailed breakdown or the
// foreground/background split.
type CostStats struct {
	l3 *prometheus.HistogramVec
	l2 *prometheus.HistogramVec
}

// NewCostStats constructs a CostStats collector, registering its
// histograms (if reg is non-nil) under the sworndisk namespace.
func NewCostStats(reg prometheus.Registerer) *CostStats {
	c := &CostStats{
		l3: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sworndisk",
			Subsystem: "cost",
			Name:      "l3_seconds",
			Help:      "Per-operation cost breakdown, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		l2: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sworndisk",
			Subsystem: "cost",
			Name:      "l2_seconds",
			Help:      "Foreground vs background cost breakdown, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
	}
	if reg != nil {
		reg.MustRegister(c.l3, c.l2)
	}
	return c
}

// Timer starts timing op; call the returned function when the operation
// completes to record its duration into both the L3 and L2 histograms.
func (c *CostStats) Timer(op CostL3) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start).Seconds()
		c.l3.WithLabelValues(string(op)).Observe(elapsed)
		c.l2.WithLabelValues(string(l3ToL2[op])).Observe(elapsed)
	}
}
