package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/travigo/livetrains/pkg/realtime/portalpasazera"
)

var states = []portalpasazera.State{
	portalpasazera.StateIdle,
	portalpasazera.StateNegotiating,
	portalpasazera.StateConnected,
	portalpasazera.StateStreaming,
	portalpasazera.StateClosed,
}

var _ portalpasazera.Metrics = (*Collector)(nil)

// Collector exposes stream and sink counters on its own registry.
type Collector struct {
	reg *prometheus.Registry

	framesReceived    prometheus.Counter
	framesMalformed   prometheus.Counter
	batchesPublished  prometheus.Counter
	trainsPublished   prometheus.Gauge
	reconnects        prometheus.Counter
	negotiationErrors prometheus.Counter
	state             *prometheus.GaugeVec // state label, 1 for the current state

	publishDuration prometheus.Histogram

	sinkWrites    *prometheus.CounterVec // sink label
	sinkErrors    *prometheus.CounterVec // sink label
	natsConnected prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livetrains_frames_received_total",
			Help: "Total protocol frames received from the hub.",
		}),
		framesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livetrains_frames_malformed_total",
			Help: "Total frames dropped because nothing could be parsed.",
		}),
		batchesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livetrains_batches_published_total",
			Help: "Total position batches published to subscribers.",
		}),
		trainsPublished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livetrains_trains_published",
			Help: "Number of trains in the last published batch.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livetrains_reconnects_total",
			Help: "Total reconnection cycles.",
		}),
		negotiationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livetrains_negotiation_errors_total",
			Help: "Total failed session negotiations.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livetrains_stream_state",
			Help: "1 for the current stream state, 0 otherwise.",
		}, []string{"state"}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "livetrains_publish_duration_seconds",
			Help:    "Duration to filter and publish a batch.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		sinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livetrains_sink_writes_total",
			Help: "Total batches written per sink.",
		}, []string{"sink"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livetrains_sink_errors_total",
			Help: "Total failed batch writes per sink.",
		}, []string{"sink"}),
		natsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livetrains_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		c.framesReceived, c.framesMalformed,
		c.batchesPublished, c.trainsPublished,
		c.reconnects, c.negotiationErrors, c.state,
		c.publishDuration,
		c.sinkWrites, c.sinkErrors, c.natsConnected,
	)

	c.StateChanged(portalpasazera.StateIdle)

	return c
}

func (c *Collector) FramesReceived(count int) {
	c.framesReceived.Add(float64(count))
}

func (c *Collector) FramesMalformed(count int) {
	c.framesMalformed.Add(float64(count))
}

func (c *Collector) BatchPublished(trains int, duration time.Duration) {
	c.batchesPublished.Inc()
	c.trainsPublished.Set(float64(trains))
	c.publishDuration.Observe(duration.Seconds())
}

func (c *Collector) Reconnected() {
	c.reconnects.Inc()
}

func (c *Collector) NegotiationFailed() {
	c.negotiationErrors.Inc()
}

func (c *Collector) StateChanged(current portalpasazera.State) {
	for _, s := range states {
		value := 0.0
		if s == current {
			value = 1
		}
		c.state.WithLabelValues(string(s)).Set(value)
	}
}

// SinkWritten records the outcome of one sink write.
func (c *Collector) SinkWritten(sink string, err error) {
	if err != nil {
		c.sinkErrors.WithLabelValues(sink).Inc()
		return
	}
	c.sinkWrites.WithLabelValues(sink).Inc()
}

func (c *Collector) SetNATSConnected(connected bool) {
	if connected {
		c.natsConnected.Set(1)
	} else {
		c.natsConnected.Set(0)
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}
