package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uhyunpark/mbp10/pkg/book"
	"github.com/uhyunpark/mbp10/pkg/mbp"
)

// Replay holds the collectors for one replay and implements replay.Observer.
type Replay struct {
	Registry *prometheus.Registry

	Events    *prometheus.CounterVec
	Snapshots prometheus.Counter
	Levels    *prometheus.GaugeVec
	OpenOrder prometheus.Gauge
}

func New() *Replay {
	m := &Replay{
		Registry: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbp_events_total",
			Help: "Decoded MBO events by action and outcome",
		}, []string{"action", "outcome"}),
		Snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mbp_snapshots_emitted_total",
			Help: "Snapshots accepted by every sink",
		}),
		Levels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mbp_book_levels",
			Help: "Price levels currently resting per side",
		}, []string{"side"}),
		OpenOrder: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mbp_order_index_size",
			Help: "Orders tracked for cancellation",
		}),
	}
	m.Registry.MustRegister(
		m.Events, m.Snapshots, m.Levels, m.OpenOrder,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Replay) Observe(ev book.Event, out book.Outcome, b *book.Book) {
	m.Events.WithLabelValues(ev.Action.String(), out.String()).Inc()
	m.Levels.WithLabelValues("bid").Set(float64(b.Bids.Len()))
	m.Levels.WithLabelValues("ask").Set(float64(b.Asks.Len()))
	m.OpenOrder.Set(float64(b.Orders.Len()))
}

// Emitted counts a snapshot every sink accepted.
func (m *Replay) Emitted(mbp.Snapshot) { m.Snapshots.Inc() }

func (m *Replay) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
