// internal/metrics/collector.go
package metrics

import (
	"net/http"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rovshanmuradov/curvemarket/internal/curve"
)

// MetricType представляет тип метрики
type MetricType string

const (
	TradeCounterType     MetricType = "trade_counter"
	TradeSizeType        MetricType = "trade_size"
	TradeVolumeType      MetricType = "trade_volume"
	FeeVolumeType        MetricType = "fee_volume"
	LifecycleCounterType MetricType = "lifecycle_counter"
	MarketPriceType      MetricType = "market_price"
	IndexerErrorType     MetricType = "indexer_errors"
)

const namespace = "curvemarket"

// Collector управляет набором метрик. Each collector owns its registry so
// that tests and several simulations in one process do not collide.
type Collector struct {
	metrics  sync.Map
	registry *prometheus.Registry
}

// NewCollector создает новый экземпляр коллектора метрик
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}
	c.initializeMetrics()
	return c
}

func (c *Collector) initializeMetrics() {
	metricsMap := map[MetricType]prometheus.Collector{
		TradeCounterType: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_total",
				Help:      "Total number of executed trades",
			},
			[]string{"side", "venue"},
		),
		TradeSizeType: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "trade_size_eth",
				Help:      "ETH value of executed trades",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"side"},
		),
		TradeVolumeType: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trade_volume_eth_total",
				Help:      "Total ETH traded",
			},
			[]string{"side", "venue"},
		),
		FeeVolumeType: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fees_eth_total",
				Help:      "Total ETH collected as fees",
			},
		),
		LifecycleCounterType: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_events_total",
				Help:      "Registrations, deployments and graduations",
			},
			[]string{"event"},
		),
		MarketPriceType: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "market_price_eth",
				Help:      "Last traded marginal price per whole token",
			},
			[]string{"token"},
		),
		IndexerErrorType: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "indexer_errors_total",
				Help:      "Indexer operations that failed after retries",
			},
			[]string{"operation"},
		),
	}

	for metricType, metric := range metricsMap {
		c.metrics.Store(metricType, metric)
		c.registry.MustRegister(metric)
	}
}

// Registry returns the registry all metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Reset сбрасывает все метрики (полезно для тестирования)
func (c *Collector) Reset() {
	c.metrics.Range(func(_, value interface{}) bool {
		switch m := value.(type) {
		case *prometheus.CounterVec:
			m.Reset()
		case *prometheus.GaugeVec:
			m.Reset()
		case *prometheus.HistogramVec:
			m.Reset()
		}
		return true
	})
}

// RecordTrade records one executed trade. side is "buy" or "sell", venue the
// market type it executed on.
func (c *Collector) RecordTrade(side, venue string, ethWei *uint256.Int) {
	eth := curve.ToEther(ethWei).InexactFloat64()

	if v, ok := c.counterVec(TradeCounterType); ok {
		v.WithLabelValues(side, venue).Inc()
	}
	if v, ok := c.counterVec(TradeVolumeType); ok {
		v.WithLabelValues(side, venue).Add(eth)
	}
	if m, ok := c.metrics.Load(TradeSizeType); ok {
		if h, ok := m.(*prometheus.HistogramVec); ok {
			h.WithLabelValues(side).Observe(eth)
		}
	}
}

// RecordFees adds a buy's total fee.
func (c *Collector) RecordFees(feeWei *uint256.Int) {
	if m, ok := c.metrics.Load(FeeVolumeType); ok {
		if counter, ok := m.(prometheus.Counter); ok {
			counter.Add(curve.ToEther(feeWei).InexactFloat64())
		}
	}
}

// RecordLifecycle counts a registration, deployment or graduation.
func (c *Collector) RecordLifecycle(event string) {
	if v, ok := c.counterVec(LifecycleCounterType); ok {
		v.WithLabelValues(event).Inc()
	}
}

// SetPrice records the last marginal price of token.
func (c *Collector) SetPrice(token string, priceWei *uint256.Int) {
	if m, ok := c.metrics.Load(MarketPriceType); ok {
		if g, ok := m.(*prometheus.GaugeVec); ok {
			g.WithLabelValues(token).Set(curve.ToEther(priceWei).InexactFloat64())
		}
	}
}

// RecordIndexerError counts an operation the indexer gave up on.
func (c *Collector) RecordIndexerError(operation string) {
	if v, ok := c.counterVec(IndexerErrorType); ok {
		v.WithLabelValues(operation).Inc()
	}
}

func (c *Collector) counterVec(t MetricType) (*prometheus.CounterVec, bool) {
	m, ok := c.metrics.Load(t)
	if !ok {
		return nil, false
	}
	v, ok := m.(*prometheus.CounterVec)
	return v, ok
}
