/*
 * Copyright 2024 Department for International Trade
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package metrics exposes the sidecar's Prometheus counters and
// histograms: request volume, authorisation decisions, and refresh
// cycles.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series the sidecar emits.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	DecisionsTotal  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	UpstreamStatus  *prometheus.CounterVec
	RefreshTotal    *prometheus.CounterVec
	SnapshotVersion prometheus.Gauge
}

// New registers the sidecar's metric set against the default Prometheus
// registry, exposed on /metrics via promhttp.Handler().
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the sidecar's metric set against reg. Tests
// pass a fresh prometheus.NewRegistry() so repeated construction within
// the same process doesn't collide with the default registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_requests_total",
				Help: "Total number of inbound requests handled by the sidecar.",
			},
			[]string{"method"},
		),
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_decisions_total",
				Help: "Total number of authorisation decisions by outcome and reason.",
			},
			[]string{"outcome", "reason"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sidecar_request_duration_seconds",
				Help:    "End-to-end request handling duration, including upstream round trip.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		UpstreamStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_upstream_responses_total",
				Help: "Total number of responses returned by the origin, by status class.",
			},
			[]string{"status"},
		),
		RefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidecar_refresh_total",
				Help: "Total number of profile refresh cycles by outcome.",
			},
			[]string{"outcome"},
		),
		SnapshotVersion: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sidecar_snapshot_version",
				Help: "Version number of the currently-published authorisation snapshot.",
			},
		),
	}
}

// ObserveRequest records one completed request's outcome and duration.
func (m *Metrics) ObserveRequest(method, outcome string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method).Inc()
	m.RequestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveDecision records one authorisation decision.
func (m *Metrics) ObserveDecision(outcome, reason string) {
	m.DecisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// ObserveUpstreamStatus records the status class of an origin response,
// e.g. "2xx", "4xx", "502", "504".
func (m *Metrics) ObserveUpstreamStatus(status int) {
	m.UpstreamStatus.WithLabelValues(statusClass(status)).Inc()
}

// ObserveRefresh records one refresh cycle's outcome and the resulting
// snapshot version.
func (m *Metrics) ObserveRefresh(outcome string, version uint64) {
	m.RefreshTotal.WithLabelValues(outcome).Inc()
	m.SnapshotVersion.Set(float64(version))
}

func statusClass(status int) string {
	if status == http.StatusBadGateway || status == http.StatusGatewayTimeout {
		return strconv.Itoa(status)
	}
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
