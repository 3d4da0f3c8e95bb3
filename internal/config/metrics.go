package config

import "github.com/prometheus/client_golang/prometheus"

var configReloadsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "coresentry_config_reloads_total",
		Help: "Configuration reload attempts by result (applied, rejected).",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(configReloadsTotal)
}
