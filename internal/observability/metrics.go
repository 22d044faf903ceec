package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimCollector bundles Prometheus metrics for a simulation run. It
// satisfies the clock and application observer interfaces, so it can be
// handed straight to timectrl and apps.
type SimCollector struct {
	gatherer prometheus.Gatherer

	EventsFired      *prometheus.CounterVec
	DroppedEvents    prometheus.Counter
	ClockSeconds     prometheus.Gauge
	AppsActive       prometheus.Gauge
	AppsStarted      *prometheus.CounterVec
	TopologyNodes    prometheus.Gauge
	TopologyLinks    prometheus.Gauge
	PacketsDelivered prometheus.Counter
	RunDuration      prometheus.Histogram
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	fired, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_events_fired_total",
		Help: "Clock events executed, labeled by event name.",
	}, []string{"event"}), "sim_events_fired_total")
	if err != nil {
		return nil, err
	}
	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_events_dropped_total",
		Help: "Clock events discarded because they were queued beyond the horizon.",
	}), "sim_events_dropped_total")
	if err != nil {
		return nil, err
	}
	clock, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_clock_seconds",
		Help: "Current simulation time in seconds.",
	}), "sim_clock_seconds")
	if err != nil {
		return nil, err
	}
	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_applications_active",
		Help: "Applications between their start and stop events.",
	}), "sim_applications_active")
	if err != nil {
		return nil, err
	}
	started, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_applications_started_total",
		Help: "Applications started, labeled by kind.",
	}, []string{"kind"}), "sim_applications_started_total")
	if err != nil {
		return nil, err
	}
	nodes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_topology_nodes",
		Help: "Nodes in the dumbbell, routers included.",
	}), "sim_topology_nodes")
	if err != nil {
		return nil, err
	}
	links, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_topology_links",
		Help: "Links in the dumbbell, backbone included.",
	}), "sim_topology_links")
	if err != nil {
		return nil, err
	}
	delivered, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_packets_delivered_total",
		Help: "Packets delivered to their destination node.",
	}), "sim_packets_delivered_total")
	if err != nil {
		return nil, err
	}
	runDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_run_duration_seconds",
		Help:    "Wall-clock time spent driving the simulation clock.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}), "sim_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:         gatherer,
		EventsFired:      fired,
		DroppedEvents:    dropped,
		ClockSeconds:     clock,
		AppsActive:       active,
		AppsStarted:      started,
		TopologyNodes:    nodes,
		TopologyLinks:    links,
		PacketsDelivered: delivered,
		RunDuration:      runDuration,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// EventFired counts an executed clock event and moves the clock gauge.
func (c *SimCollector) EventFired(name string, at time.Duration) {
	if c == nil {
		return
	}
	c.EventsFired.WithLabelValues(name).Inc()
	c.ClockSeconds.Set(at.Seconds())
}

// EventsDropped counts events discarded at the horizon.
func (c *SimCollector) EventsDropped(count int) {
	if c == nil {
		return
	}
	c.DroppedEvents.Add(float64(count))
}

// ApplicationStarted tracks an application start.
func (c *SimCollector) ApplicationStarted(kind string) {
	if c == nil {
		return
	}
	c.AppsStarted.WithLabelValues(kind).Inc()
	c.AppsActive.Inc()
}

// ApplicationStopped tracks an application stop.
func (c *SimCollector) ApplicationStopped(string) {
	if c == nil {
		return
	}
	c.AppsActive.Dec()
}

// SetTopologyCounts records the size of the built dumbbell.
func (c *SimCollector) SetTopologyCounts(nodes, links int) {
	if c == nil {
		return
	}
	c.TopologyNodes.Set(float64(nodes))
	c.TopologyLinks.Set(float64(links))
}

// PacketDelivered counts one delivered packet.
func (c *SimCollector) PacketDelivered() {
	if c == nil {
		return
	}
	c.PacketsDelivered.Inc()
}

// ObserveRun records how long the clock ran in wall time.
func (c *SimCollector) ObserveRun(d time.Duration) {
	if c == nil {
		return
	}
	c.RunDuration.Observe(d.Seconds())
}
