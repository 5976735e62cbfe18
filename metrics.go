package main

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/numbleroot/causaldoc/server"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Functions

// NewMetrics returns discarding instruments if promAddr
// is empty and instruments registered at reg otherwise.
func NewMetrics(promAddr string, reg prom.Registerer) *server.Metrics {

	if promAddr == "" {
		return &server.Metrics{
			Commands:      discard.NewCounter(),
			DecodeErrors:  discard.NewCounter(),
			StaleContexts: discard.NewCounter(),
			Connections:   discard.NewGauge(),
			Subscribers:   discard.NewGauge(),
			OpLogLength:   discard.NewGauge(),
			Latency:       discard.NewHistogram(),
		}
	}

	commands := prom.NewCounterVec(prom.CounterOpts{
		Namespace: "causaldoc",
		Subsystem: "server",
		Name:      "commands_total",
		Help:      "Number of handled commands",
	}, []string{"command"})

	decodeErrors := prom.NewCounterVec(prom.CounterOpts{
		Namespace: "causaldoc",
		Subsystem: "server",
		Name:      "decode_errors_total",
		Help:      "Number of dropped undecodable messages",
	}, nil)

	staleContexts := prom.NewCounterVec(prom.CounterOpts{
		Namespace: "causaldoc",
		Subsystem: "server",
		Name:      "stale_contexts_total",
		Help:      "Number of adds under a stale or forged context",
	}, nil)

	connections := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "causaldoc",
		Subsystem: "server",
		Name:      "connections",
		Help:      "Number of open client connections",
	}, nil)

	subscribers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "causaldoc",
		Subsystem: "server",
		Name:      "subscribers",
		Help:      "Number of subscribed connections",
	}, nil)

	opLogLength := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "causaldoc",
		Subsystem: "server",
		Name:      "op_log_length",
		Help:      "Number of operations in the log",
	}, nil)

	latency := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "causaldoc",
		Subsystem: "server",
		Name:      "command_duration_seconds",
		Help:      "Time spent handling a command",
		Buckets:   prom.DefBuckets,
	}, []string{"command"})

	reg.MustRegister(commands, decodeErrors, staleContexts, connections, subscribers, opLogLength, latency)

	return &server.Metrics{
		Commands:      prometheus.NewCounter(commands),
		DecodeErrors:  prometheus.NewCounter(decodeErrors),
		StaleContexts: prometheus.NewCounter(staleContexts),
		Connections:   prometheus.NewGauge(connections),
		Subscribers:   prometheus.NewGauge(subscribers),
		OpLogLength:   prometheus.NewGauge(opLogLength),
		Latency:       prometheus.NewHistogram(latency),
	}
}

func runPromHTTP(logger log.Logger, addr string, gatherer prom.Gatherer) {

	if addr == "" {
		level.Debug(logger).Log("msg", "prometheus addr is empty, not exposing prometheus metrics")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	level.Info(logger).Log("msg", "prometheus handler listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		level.Warn(logger).Log("msg", "failed to serve prometheus metrics", "err", err)
	}
}
