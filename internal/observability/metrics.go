package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/congestion-twin/core"
)

// TwinCollector bundles Prometheus metrics for the congestion twin and
// provides a ready-to-use /metrics handler. It implements core.TickMetrics
// and core.IngestRecorder so the scheduler and the fusion adapter can drive
// it directly.
type TwinCollector struct {
	gatherer prometheus.Gatherer

	IngestTotal  *prometheus.CounterVec
	TickDuration prometheus.Histogram

	NetworkAvgCI       prometheus.Gauge
	NetworkTotalFlow   prometheus.Gauge
	NetworkLinks       prometheus.Gauge
	PricingSensitivity prometheus.Gauge

	BookingsTotal prometheus.Counter
	RevenueTotal  prometheus.Counter
}

// NewTwinCollector registers twin metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewTwinCollector(reg prometheus.Registerer) (*TwinCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ingest := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "twin_observations_total",
		Help: "Observations routed through the fusion adapter, labeled by source class and outcome.",
	}, []string{"source_class", "outcome"})
	ingest, err := registerCounterVec(reg, ingest, "twin_observations_total")
	if err != nil {
		return nil, err
	}

	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "twin_tick_duration_seconds",
		Help:    "Duration of one simulation tick's work.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
	tickDuration, err = registerHistogram(reg, tickDuration, "twin_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	avgCI, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "twin_network_avg_ci",
		Help: "Mean congestion index across all links.",
	}), "twin_network_avg_ci")
	if err != nil {
		return nil, err
	}
	totalFlow, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "twin_network_total_flow",
		Help: "Summed current flow across all links.",
	}), "twin_network_total_flow")
	if err != nil {
		return nil, err
	}
	links, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "twin_network_links",
		Help: "Number of links in the twin.",
	}), "twin_network_links")
	if err != nil {
		return nil, err
	}
	sensitivity, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "twin_pricing_sensitivity",
		Help: "Current adaptive pricing sensitivity factor.",
	}), "twin_pricing_sensitivity")
	if err != nil {
		return nil, err
	}

	bookings := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "twin_bookings_confirmed_total",
		Help: "Cumulative number of confirmed reservations.",
	})
	bookings, err = registerCounter(reg, bookings, "twin_bookings_confirmed_total")
	if err != nil {
		return nil, err
	}
	revenue := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "twin_revenue_total",
		Help: "Cumulative amount debited by confirmed reservations.",
	})
	revenue, err = registerCounter(reg, revenue, "twin_revenue_total")
	if err != nil {
		return nil, err
	}

	return &TwinCollector{
		gatherer:           gatherer,
		IngestTotal:        ingest,
		TickDuration:       tickDuration,
		NetworkAvgCI:       avgCI,
		NetworkTotalFlow:   totalFlow,
		NetworkLinks:       links,
		PricingSensitivity: sensitivity,
		BookingsTotal:      bookings,
		RevenueTotal:       revenue,
	}, nil
}

// RecordIngest satisfies core.IngestRecorder.
func (c *TwinCollector) RecordIngest(source string, _ core.MetricType, accepted bool) {
	if c == nil || c.IngestTotal == nil {
		return
	}
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	c.IngestTotal.WithLabelValues(core.ClassifySource(source), outcome).Inc()
}

// ObserveTickDuration satisfies core.TickMetrics.
func (c *TwinCollector) ObserveTickDuration(d time.Duration) {
	if c == nil || c.TickDuration == nil {
		return
	}
	c.TickDuration.Observe(d.Seconds())
}

// SetNetworkGauges satisfies core.TickMetrics.
func (c *TwinCollector) SetNetworkGauges(avgCI float64, totalFlow, links int) {
	if c == nil {
		return
	}
	if c.NetworkAvgCI != nil {
		c.NetworkAvgCI.Set(avgCI)
	}
	if c.NetworkTotalFlow != nil {
		c.NetworkTotalFlow.Set(float64(totalFlow))
	}
	if c.NetworkLinks != nil {
		c.NetworkLinks.Set(float64(links))
	}
}

// SetSensitivity satisfies core.TickMetrics.
func (c *TwinCollector) SetSensitivity(v float64) {
	if c == nil || c.PricingSensitivity == nil {
		return
	}
	c.PricingSensitivity.Set(v)
}

// RecordBooking counts a confirmed reservation and its receipt amount.
func (c *TwinCollector) RecordBooking(amount int) {
	if c == nil {
		return
	}
	if c.BookingsTotal != nil {
		c.BookingsTotal.Inc()
	}
	if c.RevenueTotal != nil {
		c.RevenueTotal.Add(float64(amount))
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *TwinCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *TwinCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
