package detector

import "github.com/prometheus/client_golang/prometheus"

// Prometheus detection metrics.
var (
	batchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coresentry_sample_batches_total",
			Help: "Total number of sample batches processed.",
		},
	)
	batchesRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coresentry_sample_batches_rejected_total",
			Help: "Sample batches rejected before ingestion, by reason (invalid, mismatch).",
		},
		[]string{"reason"},
	)
	mitigationStartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coresentry_mitigation_starts_total",
			Help: "Total number of StartMitigation decisions emitted.",
		},
	)
	mitigationStopsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coresentry_mitigation_stops_total",
			Help: "Total number of StopMitigation decisions emitted.",
		},
	)
	hostsTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coresentry_hosts_tracked",
			Help: "Number of hosts with a sample window.",
		},
	)
	hostsIncluded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coresentry_hosts_included",
			Help: "Number of hosts currently included in population statistics.",
		},
	)
	hostsMitigating = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coresentry_hosts_mitigating",
			Help: "Number of hosts currently under mitigation.",
		},
	)
)

func init() {
	prometheus.MustRegister(batchesTotal)
	prometheus.MustRegister(batchesRejectedTotal)
	prometheus.MustRegister(mitigationStartsTotal)
	prometheus.MustRegister(mitigationStopsTotal)
	prometheus.MustRegister(hostsTracked)
	prometheus.MustRegister(hostsIncluded)
	prometheus.MustRegister(hostsMitigating)
}
