package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline instrumentation, served from the core at /metrics. Stage names
// follow the component boundaries: aggregator_perceive, reasoner_think,
// membrane_inspect, connector_act, market_create_offer, market_check_status.
var (
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aura_stage_duration_seconds",
		Help:    "Duration of one pipeline stage for one request.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	IntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aura_intents_total",
		Help: "Final intent actions after the membrane pass.",
	}, []string{"action"})

	MembraneOverrides = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aura_membrane_overrides_total",
		Help: "Guardrail rewrites by override reason.",
	}, []string{"reason"})

	DealsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aura_deals_total",
		Help: "Locked-deal state transitions.",
	}, []string{"status"})

	CryptoProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aura_crypto_provider_calls_total",
		Help: "Outbound chain RPC calls by method and outcome.",
	}, []string{"method", "outcome"})

	TelemetryRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aura_telemetry_refresh_total",
		Help: "Telemetry cache refresh attempts by result.",
	}, []string{"result"})
)
