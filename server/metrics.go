/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "echoring"

type metrics struct {
	registry    *prometheus.Registry
	active      atomic.Int64
	accepted    prometheus.Counter
	closed      prometheus.Counter
	echoed      prometheus.Counter
	writeErrors prometheus.Counter
	completions *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_accepted_total",
			Help:      "Accepted client connections.",
		}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_closed_total",
			Help:      "Client connections torn down.",
		}),
		echoed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_echoed_total",
			Help:      "Bytes written back to clients.",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "write_errors_total",
			Help:      "Writes that failed and closed their connection.",
		}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "completions_total",
			Help:      "Completions drained from the ring by tag kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.accepted,
		m.closed,
		m.echoed,
		m.writeErrors,
		m.completions,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Connections currently held by the event loop.",
		}, func() float64 {
			return float64(m.active.Load())
		}),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) opened() {
	m.accepted.Inc()
	m.active.Add(1)
}

func (m *metrics) released() {
	m.closed.Inc()
	m.active.Add(-1)
}
