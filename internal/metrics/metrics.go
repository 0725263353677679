// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package metrics exposes remotesql traffic as Prometheus metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "remotesql"

// Collector records HTTP requests, dispatched commands and blob traffic.
// A nil *Collector is valid and records nothing.
type Collector struct {
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	commands  *prometheus.CounterVec
	blobBytes *prometheus.CounterVec
}

// New creates a new Collector.
func New() *Collector {
	return &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests sent to the server.",
			},
			[]string{"method", "code"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Time until response headers were received.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of dispatched commands by action and result.",
			},
			[]string{"action", "result"},
		),
		blobBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "blob",
				Name:      "bytes_total",
				Help:      "Total number of blob bytes transferred.",
			},
			[]string{"direction"},
		),
	}
}

// ObserveRequest records one HTTP round trip. Code 0 means no status was received.
func (c *Collector) ObserveRequest(method string, code int, d time.Duration) {
	if c == nil {
		return
	}

	c.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.durations.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveCommand records the outcome of one dispatched command.
func (c *Collector) ObserveCommand(action string, err error) {
	if c == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	c.commands.WithLabelValues(action, result).Inc()
}

// AddBlobBytes records n blob bytes moved in the given direction ("upload" or "download").
func (c *Collector) AddBlobBytes(direction string, n int64) {
	if c == nil || n <= 0 {
		return
	}

	c.blobBytes.WithLabelValues(direction).Add(float64(n))
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.durations.Describe(ch)
	c.commands.Describe(ch)
	c.blobBytes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.durations.Collect(ch)
	c.commands.Collect(ch)
	c.blobBytes.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Collector)(nil)
)
