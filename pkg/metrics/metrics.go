// Package metrics 提供 Prometheus helper，覆盖 HTTP 模板指标与期权业务指标
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数，按 method/path/status 维度
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时，按 method/path 维度
	HTTPRequestDuration *prometheus.HistogramVec

	// 业务指标
	SeriesCreatedTotal   prometheus.Counter
	OrdersPlacedTotal    prometheus.Counter
	OrdersCancelledTotal prometheus.Counter
	TradesBookedTotal    prometheus.Counter
	PositionsOpenedTotal prometheus.Counter
	ExercisesTotal       prometheus.Counter
	SettlementsTotal     prometheus.Counter
	MarginBreachesTotal  prometheus.Counter
	// 累计锁定抵押（计价单位）
	CollateralLocked prometheus.Gauge
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		SeriesCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "series_created_total",
			Help:      "Total option series created",
		}),
		OrdersPlacedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "orders_placed_total",
			Help:      "Total resting orders placed",
		}),
		OrdersCancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "orders_cancelled_total",
			Help:      "Total orders cancelled",
		}),
		TradesBookedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "trades_booked_total",
			Help:      "Total matched fills booked into positions",
		}),
		PositionsOpenedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "positions_opened_total",
			Help:      "Total long/short positions opened",
		}),
		ExercisesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "exercises_total",
			Help:      "Total early exercises",
		}),
		SettlementsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "settlements_total",
			Help:      "Total series settled",
		}),
		MarginBreachesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "margin_breaches_total",
			Help:      "Total accounts detected below maintenance margin",
		}),
		CollateralLocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "collateral_locked",
			Help:      "Collateral currently locked for short positions",
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SeriesCreatedTotal,
		m.OrdersPlacedTotal,
		m.OrdersCancelledTotal,
		m.TradesBookedTotal,
		m.PositionsOpenedTotal,
		m.ExercisesTotal,
		m.SettlementsTotal,
		m.MarginBreachesTotal,
		m.CollateralLocked,
	}

	for _, c := range collectors {
		if err := prometheus.DefaultRegisterer.Register(c); err != nil {
			return fmt.Errorf("register metric: %w", err)
		}
	}
	return nil
}

// Handler 返回 Prometheus 抓取端点处理器，由主服务挂载
func Handler() http.Handler {
	return promhttp.Handler()
}
