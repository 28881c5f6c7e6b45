package router

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-xroute/internal/core/envelope"
)

// 丢弃原因，作为 dropped_total 的 reason 标签
const (
	dropRateLimited = "rate_limited"
	dropInsecure    = "insecure"
	dropMalformed   = "malformed"
	dropSpoofed     = "spoofed"
	dropDuplicate   = "duplicate"
	dropUnmatched   = "unmatched"
	dropRejected    = "rejected"
	dropUnroutable  = "unroutable"
	dropClosed      = "closed"
)

// metrics 单个路由器的 Prometheus 指标
type metrics struct {
	sent      *prometheus.CounterVec
	received  *prometheus.CounterVec
	forwarded prometheus.Counter
	dropped   *prometheus.CounterVec
	timeouts  prometheus.Counter
	pending   prometheus.Gauge
	queued    prometheus.GaugeFunc
	latency   prometheus.Histogram
}

// newMetrics 创建并注册指标
//
// 同一注册表上可以有多个路由器，node 与 instance 作为常量标签区分。
func newMetrics(reg prometheus.Registerer, labels prometheus.Labels, queued func() float64) (*metrics, error) {
	const ns, sub = "xroute", "router"

	m := &metrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "sent_total",
			Help: "Envelopes originated by this router, by kind.", ConstLabels: labels,
		}, []string{"kind"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "received_total",
			Help: "Envelopes accepted from transports, by kind.", ConstLabels: labels,
		}, []string{"kind"}),
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "forwarded_total",
			Help: "Envelopes relayed toward another node.", ConstLabels: labels,
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "dropped_total",
			Help: "Inbound frames dropped, by reason.", ConstLabels: labels,
		}, []string{"reason"}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "timeouts_total",
			Help: "Pending requests that expired.", ConstLabels: labels,
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "pending_requests",
			Help: "Requests waiting for a response.", ConstLabels: labels,
		}),
		queued: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "queued_frames",
			Help: "Frames buffered on edges waiting for the peer handshake.", ConstLabels: labels,
		}, queued),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: "request_duration_seconds",
			Help:    "Time from send to matching response.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{
		m.sent, m.received, m.forwarded, m.dropped,
		m.timeouts, m.pending, m.queued, m.latency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) drop(reason string) { m.dropped.WithLabelValues(reason).Inc() }

func (m *metrics) onSent(k envelope.Kind) { m.sent.WithLabelValues(k.String()).Inc() }

func (m *metrics) onReceived(k envelope.Kind) { m.received.WithLabelValues(k.String()).Inc() }
