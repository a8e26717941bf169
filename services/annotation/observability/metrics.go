// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the annotation
// service: change throughput by type and outcome, apply latency, broadcast
// fan-out, and live websocket session gauges. Metrics are exposed on the
// /metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace    = "annohub"
	annotationSubsystem = "annotation"
)

// Metrics holds all Prometheus instruments for the annotation service.
// Construct once per registry via NewMetrics; all operations are
// thread-safe via Prometheus's internal locking.
type Metrics struct {
	// ChangesTotal counts submitted changes.
	// Labels: type (change type name), status (applied, rejected, conflict)
	ChangesTotal *prometheus.CounterVec

	// ApplyDurationSeconds measures the full submit path: decode,
	// validate, transactional apply and log append.
	// Labels: type
	ApplyDurationSeconds *prometheus.HistogramVec

	// ValidationFailuresTotal counts vetoes by validator name and phase.
	// Labels: validation, phase (pre, post)
	ValidationFailuresTotal *prometheus.CounterVec

	// BroadcastsTotal counts messages fanned out to sessions.
	// Labels: kind (change, location, logout)
	BroadcastsTotal *prometheus.CounterVec

	// BroadcastDropsTotal counts messages dropped because a session's
	// send buffer was full.
	BroadcastDropsTotal prometheus.Counter

	// ActiveSessions tracks currently connected websocket sessions.
	// Labels: assembly
	ActiveSessions *prometheus.GaugeVec

	// CheckReportsTotal counts advisory findings produced.
	// Labels: check
	CheckReportsTotal *prometheus.CounterVec

	// MirrorExportsTotal counts flat-file mirror exports.
	// Labels: status (ok, error)
	MirrorExportsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all instruments with reg. Each caller
// passes its own prometheus.NewRegistry() so two service instances in one
// process never collide on registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: annotationSubsystem,
				Name:      "changes_total",
				Help:      "Submitted changes by type and outcome",
			},
			[]string{"type", "status"},
		),

		ApplyDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: annotationSubsystem,
				Name:      "apply_duration_seconds",
				Help:      "Latency of the full change submit path",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"type"},
		),

		ValidationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: annotationSubsystem,
				Name:      "validation_failures_total",
				Help:      "Validation vetoes by validator and phase",
			},
			[]string{"validation", "phase"},
		),

		BroadcastsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: annotationSubsystem,
				Name:      "broadcasts_total",
				Help:      "Messages fanned out to websocket sessions",
			},
			[]string{"kind"},
		),

		BroadcastDropsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: annotationSubsystem,
				Name:      "broadcast_drops_total",
				Help:      "Messages dropped due to a full session buffer",
			},
		),

		ActiveSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: annotationSubsystem,
				Name:      "active_sessions",
				Help:      "Currently connected websocket sessions",
			},
			[]string{"assembly"},
		),

		CheckReportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: annotationSubsystem,
				Name:      "check_reports_total",
				Help:      "Advisory check findings produced",
			},
			[]string{"check"},
		),

		MirrorExportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: annotationSubsystem,
				Name:      "mirror_exports_total",
				Help:      "Flat-file mirror exports by status",
			},
			[]string{"status"},
		),
	}
}

// RecordChange records a submit outcome for one change type.
func (m *Metrics) RecordChange(typeName, status string, seconds float64) {
	m.ChangesTotal.WithLabelValues(typeName, status).Inc()
	m.ApplyDurationSeconds.WithLabelValues(typeName).Observe(seconds)
}

// RecordValidationFailure records one validator veto.
func (m *Metrics) RecordValidationFailure(validation, phase string) {
	m.ValidationFailuresTotal.WithLabelValues(validation, phase).Inc()
}
