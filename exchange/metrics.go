package exchange

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics surface how evenly an exchange spread its input. Skew does not
// fail a query, so per-bucket row and byte counts are the only way an
// operator can see it.
type Metrics struct {
	RoutedRows  *prometheus.CounterVec
	RoutedBytes *prometheus.CounterVec
	SkewRatio   prometheus.Gauge
	SpilledRuns prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RoutedRows: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_routed_rows_total",
			Help: "Rows routed to each bucket.",
		}, []string{"bucket"}),
		RoutedBytes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_routed_bytes_total",
			Help: "Approximate bytes routed to each bucket.",
		}, []string{"bucket"}),
		SkewRatio: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "exchange_skew_ratio",
			Help: "Largest bucket row count divided by the mean bucket row count.",
		}),
		SpilledRuns: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "exchange_spilled_runs_total",
			Help: "Bucket buffers spilled to storage.",
		}),
	}
}

func (m *Metrics) observeRouted(bucket int, numBytes int64) {
	if m == nil {
		return
	}
	label := strconv.Itoa(bucket)
	m.RoutedRows.WithLabelValues(label).Inc()
	m.RoutedBytes.WithLabelValues(label).Add(float64(numBytes))
}

func (m *Metrics) observeSkew(bucketRows []int64) {
	if m == nil {
		return
	}
	var total, largest int64
	for _, numRows := range bucketRows {
		total += numRows
		if numRows > largest {
			largest = numRows
		}
	}
	if total == 0 {
		m.SkewRatio.Set(0)
		return
	}
	mean := float64(total) / float64(len(bucketRows))
	m.SkewRatio.Set(float64(largest) / mean)
}

func (m *Metrics) observeSpill() {
	if m == nil {
		return
	}
	m.SpilledRuns.Inc()
}
