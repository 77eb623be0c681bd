package main

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsNamespace = "netstackd"
)

// Collector holds the process's Prometheus metrics, grounded on
// dantte-lp-gobfd's internal/metrics.Collector: one gauge/counter vector
// per diagnostic signal SPEC_FULL names (frames dropped, ARP cache
// evictions, TCP RST sent, SSH auth failures), registered against a
// private registry and served on a loopback-only endpoint.
type Collector struct {
	FramesDropped  prometheus.Counter
	ARPEvictions   prometheus.Counter
	TCPResetsSent  prometheus.Counter
	SSHAuthFailure prometheus.Counter
	SSHSessions    prometheus.Gauge
	DHCPState      prometheus.Gauge
}

// NewCollector creates a Collector and registers every metric against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_dropped_total",
			Help:      "Ethernet frames dropped by the dispatch chain (bad CRC, short buffer, unknown ethertype).",
		}),
		ARPEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "arp_cache_evictions_total",
			Help:      "ARP cache entries evicted to make room for a new resolution.",
		}),
		TCPResetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tcp_resets_sent_total",
			Help:      "TCP RST segments sent by the connection table.",
		}),
		SSHAuthFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ssh_auth_failures_total",
			Help:      "Failed SSH USERAUTH_REQUEST attempts.",
		}),
		SSHSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "ssh_sessions_open",
			Help:      "1 if an SSH administration channel is currently open, 0 otherwise.",
		}),
		DHCPState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "dhcp_client_state",
			Help:      "Current DHCPv4 client state (0=NoLease, 1=DiscoverSent, 2=RequestSent, 3=LeaseActive, 4=LeaseRenew).",
		}),
	}
	reg.MustRegister(
		c.FramesDropped,
		c.ARPEvictions,
		c.TCPResetsSent,
		c.SSHAuthFailure,
		c.SSHSessions,
		c.DHCPState,
	)
	return c
}
