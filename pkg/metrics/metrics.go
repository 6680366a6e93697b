package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exa_indexer"

type Metrics struct {
	blocksTotal   *prometheus.CounterVec
	blockDuration *prometheus.HistogramVec
	eventsTotal   *prometheus.CounterVec
	deltasTotal   *prometheus.CounterVec
	rowsTotal     prometheus.Counter
	reorgsTotal   prometheus.Counter
	reorgDepth    prometheus.Histogram
	headBlock     prometheus.Gauge
}

// NewMetrics registers the indexer collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		blocksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "blocks_total", Help: "Blocks processed"},
			[]string{"status"},
		),
		blockDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "block_duration_seconds", Help: "Block processing latency", Buckets: prometheus.DefBuckets},
			[]string{"status"},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "events_total", Help: "Decoded domain events"},
			[]string{"kind"},
		),
		deltasTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "deltas_total", Help: "Store deltas committed"},
			[]string{"store"},
		),
		rowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "changeset_rows_total", Help: "Changeset rows written to the sink"},
		),
		reorgsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "reorgs_total", Help: "Chain reorganizations rewound"},
		),
		reorgDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{Namespace: namespace, Name: "reorg_depth_blocks", Help: "Blocks rewound per reorg", Buckets: []float64{1, 2, 4, 8, 16, 32, 64}},
		),
		headBlock: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "head_block", Help: "Last committed block"},
		),
	}
	reg.MustRegister(m.blocksTotal, m.blockDuration, m.eventsTotal, m.deltasTotal, m.rowsTotal, m.reorgsTotal, m.reorgDepth, m.headBlock)
	return m
}

func (m *Metrics) ObserveBlock(number uint64, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	} else {
		m.headBlock.Set(float64(number))
	}
	m.blocksTotal.WithLabelValues(status).Inc()
	m.blockDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

func (m *Metrics) AddEvent(kind string) {
	m.eventsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddDelta(store string) {
	m.deltasTotal.WithLabelValues(store).Inc()
}

func (m *Metrics) AddRows(n int) {
	m.rowsTotal.Add(float64(n))
}

func (m *Metrics) ObserveReorg(from uint64, to uint64) {
	m.reorgsTotal.Inc()
	m.reorgDepth.Observe(float64(from - to))
	m.headBlock.Set(float64(to))
}

// Handler serves the metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
