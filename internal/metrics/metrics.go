// Package metrics exposes Prometheus collectors for the support bot.
//
// All recording methods are safe to call on a nil *Metrics so components can
// run without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "supportbot"

// Metrics groups the bot's collectors.
type Metrics struct {
	InboundEvents     *prometheus.CounterVec
	TurnDuration      *prometheus.HistogramVec
	AssistantCalls    *prometheus.CounterVec
	AssistantDuration prometheus.Histogram
	AssistantRetries  prometheus.Counter
	ActionResults     *prometheus.CounterVec
	ConversationsEnd  *prometheus.CounterVec
	SurveyRatings     *prometheus.CounterVec
	Guarantees        prometheus.Counter
	DeliveryFailures  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound events by kind and routed handler.",
		}, []string{"kind", "route"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time to process one inbound event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		AssistantCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_calls_total",
			Help:      "Assistant exchanges by outcome (ok or the fallback category).",
		}, []string{"outcome"}),
		AssistantDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assistant_call_duration_seconds",
			Help:      "Assistant exchange latency including retries.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		AssistantRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_retries_total",
			Help:      "Retries issued after transient assistant errors.",
		}),
		ActionResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_results_total",
			Help:      "Assistant actions executed by command and result.",
		}, []string{"command", "result"}),
		ConversationsEnd: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_ended_total",
			Help:      "Conversations ended by reason.",
		}, []string{"reason"}),
		SurveyRatings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "survey_ratings_total",
			Help:      "Survey ratings received.",
		}, []string{"rating"}),
		Guarantees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guarantees_registered_total",
			Help:      "Guarantee claims registered.",
		}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Outbound actions the transport failed to deliver.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.InboundEvents, m.TurnDuration, m.AssistantCalls, m.AssistantDuration, m.AssistantRetries,
			m.ActionResults, m.ConversationsEnd, m.SurveyRatings, m.Guarantees, m.DeliveryFailures,
		)
	}
	return m
}

// RegisterActiveTimers exposes a gauge reading the current timer count.
func RegisterActiveTimers(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_timers",
		Help:      "Armed inactivity timers.",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) Inbound(kind, route string) {
	if m == nil {
		return
	}
	m.InboundEvents.WithLabelValues(kind, route).Inc()
}

func (m *Metrics) ObserveTurn(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) AssistantCall(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AssistantCalls.WithLabelValues(outcome).Inc()
	m.AssistantDuration.Observe(d.Seconds())
}

func (m *Metrics) AssistantRetry() {
	if m == nil {
		return
	}
	m.AssistantRetries.Inc()
}

func (m *Metrics) ActionResult(command string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.ActionResults.WithLabelValues(command, result).Inc()
}

func (m *Metrics) ConversationEnded(reason string) {
	if m == nil {
		return
	}
	m.ConversationsEnd.WithLabelValues(reason).Inc()
}

func (m *Metrics) SurveyRating(rating string) {
	if m == nil {
		return
	}
	m.SurveyRatings.WithLabelValues(rating).Inc()
}

func (m *Metrics) GuaranteeRegistered() {
	if m == nil {
		return
	}
	m.Guarantees.Inc()
}

func (m *Metrics) DeliveryFailed(kind string) {
	if m == nil {
		return
	}
	m.DeliveryFailures.WithLabelValues(kind).Inc()
}
