// Package stats implements spec.md's optional write-amplification and
// cost-timer instrumentation (enabled via Options.StatWAF / Options.StatCost).
// WAF accounting is grounded directly on original_source's waf_stats.rs;
// the two-tier cost timers are original engineering within the shape that
// file's mod.rs re-export list implies (see DESIGN.md — the original's
// cost_stats.rs is an empty stub in the retrieval pack), built on top of
// prometheus/client_golang the way the rest of the pack instruments
// counters and histograms.
package stats

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// WAF tracks logical versus physical write bytes to compute the write
// amplification factor: how many bytes actually hit the host disk for
// every byte a caller logically wrote.
type WAF struct {
	logicalBytes  atomic.Uint64
	physicalBytes atomic.Uint64

	logicalCounter  prometheus.Counter
	physicalCounter prometheus.Counter
}

// NewWAF constructs a WAF collector, registering its counters (if reg is
// non-nil) under the sworndisk namespace.
func NewWAF(reg prometheus.Registerer) *WAF {
	w := &WAF{
		logicalCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sworndisk",
			Subsystem: "waf",
			Name:      "logical_bytes_total",
			Help:      "Total bytes logically written by callers.",
		}),
		physicalCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sworndisk",
			Subsystem: "waf",
			Name:      "physical_bytes_total",
			Help:      "Total bytes physically written to the host disk.",
		}),
	}
	if reg != nil {
		reg.MustRegister(w.logicalCounter, w.physicalCounter)
	}
	return w
}

// AddLogical records logical bytes written by a caller (writes to the
// user-facing LBA space).
func (w *WAF) AddLogical(n uint64) {
	w.logicalBytes.Add(n)
	w.logicalCounter.Add(float64(n))
}

// AddPhysical records bytes actually written to the underlying BlockSet.
func (w *WAF) AddPhysical(n uint64) {
	w.physicalBytes.Add(n)
	w.physicalCounter.Add(float64(n))
}

// Logical returns the running total of logical write bytes.
func (w *WAF) Logical() uint64 { return w.logicalBytes.Load() }

// Physical returns the running total of physical write bytes.
func (w *WAF) Physical() uint64 { return w.physicalBytes.Load() }

// Factor computes physical/logical, or 0 if no logical writes happened yet.
func (w *WAF) Factor() float64 {
	logical := float64(w.Logical())
	if logical == 0 {
		return 0
	}
	return float64(w.Physical()) / logical
}

// Reset zeroes both counters. Registered prometheus counters are
// monotonic and are not reset, matching prometheus counter semantics.
func (w *WAF) Reset() {
	w.logicalBytes.Store(0)
	w.physicalBytes.Store(0)
}
