// Package metrics exports transfer telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for transfer operations.
type Observer interface {
	RecordOperation(op string, duration time.Duration, bytes int64, err error)
	RecordScan(examined int, found bool)
}

// PrometheusObserver exports operation latency, failures, transferred bytes
// and checksum scan effort.
type PrometheusObserver struct {
	duration     *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	scanExamined prometheus.Histogram
	scanResults  *prometheus.CounterVec
}

// NewPrometheusObserver registers the transfer metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "filedrop"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of transfer operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of failed transfer operations.",
		}, []string{"operation"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_bytes_total",
			Help:      "Cumulative payload size moved by successful operations.",
		}, []string{"operation"}),
		scanExamined: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checksum_scan_examined_keys",
			Help:      "Number of keys whose checksum tag was fetched per scan.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		scanResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checksum_scans_total",
			Help:      "Completed checksum scans by outcome.",
		}, []string{"result"}),
	}

	if err := register(reg, &o.duration); err != nil {
		return nil, err
	}
	if err := register(reg, &o.errors); err != nil {
		return nil, err
	}
	if err := register(reg, &o.bytes); err != nil {
		return nil, err
	}
	if err := register(reg, &o.scanExamined); err != nil {
		return nil, err
	}
	if err := register(reg, &o.scanResults); err != nil {
		return nil, err
	}

	return o, nil
}

// register adds *c to reg, swapping in the existing collector when an
// identical one was registered earlier.
func register[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	err := reg.Register(*c)
	if err == nil {
		return nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			*c = existing
			return nil
		}
	}
	return fmt.Errorf("register metric: %w", err)
}

// RecordOperation tracks the duration of op and either its failure or the
// number of bytes it moved.
func (o *PrometheusObserver) RecordOperation(op string, duration time.Duration, bytes int64, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		o.errors.WithLabelValues(op).Inc()
		return
	}
	if bytes > 0 {
		o.bytes.WithLabelValues(op).Add(float64(bytes))
	}
}

// RecordScan tracks how many tags a checksum scan fetched and whether it
// found a match.
func (o *PrometheusObserver) RecordScan(examined int, found bool) {
	if o == nil {
		return
	}
	o.scanExamined.Observe(float64(examined))
	result := "miss"
	if found {
		result = "hit"
	}
	o.scanResults.WithLabelValues(result).Inc()
}

type nopObserver struct{}

func (nopObserver) RecordOperation(string, time.Duration, int64, error) {}

func (nopObserver) RecordScan(int, bool) {}

// Nop returns an Observer that discards everything.
func Nop() Observer {
	return nopObserver{}
}

var _ Observer = (*PrometheusObserver)(nil)
