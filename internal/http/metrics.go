package http

import "github.com/prometheus/client_golang/prometheus"

// metrics holds a per-server registry so multiple servers can coexist in
// tests without collector registration conflicts.
type metrics struct {
	registry    *prometheus.Registry
	decisions   *prometheus.CounterVec
	redemptions *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "access_decisions_total",
		Help: "Access check decisions by result.",
	}, []string{"result"})
	redemptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pin_redemptions_total",
		Help: "Pin redemption attempts by outcome.",
	}, []string{"outcome"})
	registry.MustRegister(decisions, redemptions)
	return &metrics{registry: registry, decisions: decisions, redemptions: redemptions}
}
