package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the chat collectors. A nil *Metrics records nothing.
type Metrics struct {
	turns       *prometheus.CounterVec
	generations *prometheus.CounterVec
	latency     prometheus.Histogram
	analyses    *prometheus.CounterVec
	images      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mycobot",
			Name:      "chat_turns_total",
			Help:      "Chat turns handled, by kind (text or image).",
		}, []string{"kind"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mycobot",
			Name:      "gemini_requests_total",
			Help:      "generateContent calls, by result kind.",
		}, []string{"result"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mycobot",
			Name:      "gemini_request_duration_seconds",
			Help:      "Latency of generateContent calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mycobot",
			Name:      "image_analyses_total",
			Help:      "Structured analyses extracted from image turns, by outcome.",
		}, []string{"outcome"}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mycobot",
			Name:      "image_encodes_total",
			Help:      "Image encode attempts, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.turns, m.generations, m.latency, m.analyses, m.images)
	}
	return m
}

func (m *Metrics) observeTurn(withImage bool) {
	if m == nil {
		return
	}
	kind := "text"
	if withImage {
		kind = "image"
	}
	m.turns.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeGeneration(kind ResultKind, took time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(kind.String()).Inc()
	m.latency.Observe(took.Seconds())
}

func (m *Metrics) observeAnalysis(parsed bool) {
	if m == nil {
		return
	}
	outcome := "none"
	if parsed {
		outcome = "parsed"
	}
	m.analyses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeImage(ok bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "encoded"
	}
	m.images.WithLabelValues(outcome).Inc()
}
