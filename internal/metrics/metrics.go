/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes Prometheus counters for the gateway services. Every
// method is safe on a nil *Metrics so components can run without metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Upload results.
const (
	UploadSuccess          = "success"
	UploadFailure          = "failure"
	UploadPermanentFailure = "permanent_failure"
	UploadUnrecorded       = "unrecorded"
)

type Metrics struct {
	registry *prometheus.Registry

	DimseRequests *prometheus.CounterVec
	FindMatches   prometheus.Counter
	StoredBytes   prometheus.Counter
	Uploads       *prometheus.CounterVec
	UploadBackoff prometheus.Gauge
	Actions       *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.DimseRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dimse_requests_total",
		Help:      "DIMSE requests handled, by command and final status",
	}, []string{"command", "status"})

	m.FindMatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worklist_matches_total",
		Help:      "Worklist records returned to C-FIND queries",
	})

	m.StoredBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stored_bytes_total",
		Help:      "Bytes written to the instance store",
	})

	m.Uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Upload attempts by result",
	}, []string{"result"})

	m.UploadBackoff = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upload_backoff_seconds",
		Help:      "Current delay added to the upload poll interval",
	})

	m.Actions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_total",
		Help:      "Inbound actions by type and result status",
	}, []string{"action_type", "status"})

	for _, c := range []prometheus.Collector{m.DimseRequests, m.FindMatches, m.StoredBytes, m.Uploads, m.UploadBackoff, m.Actions} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register gateway metrics: %w", err)
		}
	}
	return m, nil
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDimse counts a completed DIMSE request.
func (m *Metrics) ObserveDimse(command, status string) {
	if m == nil {
		return
	}
	m.DimseRequests.WithLabelValues(command, status).Inc()
}

func (m *Metrics) AddFindMatches(n int) {
	if m == nil {
		return
	}
	m.FindMatches.Add(float64(n))
}

func (m *Metrics) AddStoredBytes(n int) {
	if m == nil {
		return
	}
	m.StoredBytes.Add(float64(n))
}

func (m *Metrics) ObserveUpload(result string) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) SetUploadBackoff(d time.Duration) {
	if m == nil {
		return
	}
	m.UploadBackoff.Set(d.Seconds())
}

func (m *Metrics) ObserveAction(actionType, status string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(actionType, status).Inc()
}
