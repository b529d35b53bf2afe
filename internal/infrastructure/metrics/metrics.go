package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/internal/domain/entity"
)

const namespace = "chatsync"

// Prometheus records reconciler activity. It owns its registry so tests
// and multiple instances do not collide on the global one.
type Prometheus struct {
	registry *prometheus.Registry

	outboxDepth prometheus.Gauge
	transmits   *prometheus.CounterVec
	flushed     *prometheus.CounterVec
	flushRuns   prometheus.Counter
	notices     *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		outboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_depth",
			Help:      "Messages waiting in the offline outbox.",
		}),
		transmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transmit_total",
			Help:      "Feed append attempts by path (send or flush) and outcome.",
		}, []string{"path", "ok"}),
		flushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_messages_total",
			Help:      "Queued messages handled by flushes, by outcome.",
		}, []string{"outcome"}),
		flushRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_runs_total",
			Help:      "Completed flush passes.",
		}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_total",
			Help:      "Banner notices emitted, by event.",
		}, []string{"event"}),
	}
	reg.MustRegister(
		p.outboxDepth,
		p.transmits,
		p.flushed,
		p.flushRuns,
		p.notices,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) OutboxDepth(n int) {
	p.outboxDepth.Set(float64(n))
}

func (p *Prometheus) Transmit(path string, ok bool) {
	p.transmits.WithLabelValues(path, strconv.FormatBool(ok)).Inc()
}

func (p *Prometheus) Flushed(sent, failed int) {
	p.flushRuns.Inc()
	p.flushed.WithLabelValues("sent").Add(float64(sent))
	p.flushed.WithLabelValues("failed").Add(float64(failed))
}

func (p *Prometheus) Notice(event entity.NoticeEvent) {
	p.notices.WithLabelValues(string(event)).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
