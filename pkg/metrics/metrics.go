// Package metrics registers the prometheus instrumentation for the
// liquidity core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SweepsTotal counts snapshotter sweeps, by outcome.
	SweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zigzag",
		Subsystem: "book",
		Name:      "sweeps_total",
		Help:      "Snapshotter sweeps executed.",
	}, []string{"outcome"})

	// SnapshotsPublished counts consolidated snapshots written per market.
	SnapshotsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zigzag",
		Subsystem: "book",
		Name:      "snapshots_published_total",
		Help:      "Consolidated book snapshots published.",
	}, []string{"chain", "market"})

	// OffersCollected counts fill offers accepted into auctions.
	OffersCollected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zigzag",
		Subsystem: "auction",
		Name:      "offers_collected_total",
		Help:      "Fill offers accepted into auction state.",
	})

	// AuctionsSettled counts auction outcomes: matched, exhausted or
	// abandoned.
	AuctionsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zigzag",
		Subsystem: "auction",
		Name:      "settled_total",
		Help:      "Auction settlement outcomes.",
	}, []string{"outcome"})

	// QuoteLatency observes GenQuote wall time.
	QuoteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "zigzag",
		Subsystem: "quote",
		Name:      "latency_seconds",
		Help:      "Ladder quote computation latency.",
		Buckets:   prometheus.DefBuckets,
	})
)
