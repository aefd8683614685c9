// Package metrics exposes prometheus counters/gauges for the session
// engine's observable state: retransmit counts, RTT, punch attempts, and
// pair-table size (SPEC_FULL.md §11 domain stack).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Retransmits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "p2psession",
		Subsystem: "transport",
		Name:      "retransmits_total",
		Help:      "Total number of datagram retransmissions across all sessions.",
	})

	SmoothedRTTMillis = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2psession",
		Subsystem: "transport",
		Name:      "srtt_milliseconds",
		Help:      "Most recently observed smoothed RTT, in milliseconds.",
	})

	PunchAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "p2psession",
		Subsystem: "punch",
		Name:      "attempts_total",
		Help:      "Total number of PUNCH datagrams sent.",
	})

	PunchFallbacksToRelay = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "p2psession",
		Subsystem: "punch",
		Name:      "relay_fallbacks_total",
		Help:      "Total number of sessions that fell back to RELAY after the punch deadline.",
	})

	PairTableSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2psession",
		Subsystem: "signaling",
		Name:      "pair_table_size",
		Help:      "Current number of live entries in the rendezvous server's pair table.",
	})
)

func init() {
	prometheus.MustRegister(Retransmits, SmoothedRTTMillis, PunchAttempts, PunchFallbacksToRelay, PairTableSize)
}
