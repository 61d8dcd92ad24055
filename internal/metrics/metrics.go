// Package metrics exposes live tutoring session counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hwtutor/internal/domain"
)

// Recorder implements ports.SessionMetrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	SessionsActive    prometheus.Gauge
	SessionsTotal     *prometheus.CounterVec
	FramesTotal       *prometheus.CounterVec
	ChunksScheduled   prometheus.Counter
	ChunksDropped     *prometheus.CounterVec
	ScheduledAudio    prometheus.Counter
	Interruptions     prometheus.Counter
	CredentialPrompts prometheus.Counter
}

func NewRecorder(namespace string) *Recorder {
	if namespace == "" {
		namespace = "hwtutor"
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions_active",
			Help:      "Number of live tutoring sessions currently open",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_sessions_total",
			Help:      "Live tutoring sessions by end reason",
		}, []string{"reason"}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_total",
			Help:      "Captured microphone frames by outcome",
		}, []string{"outcome"}),
		ChunksScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_scheduled_total",
			Help:      "Inbound audio chunks scheduled for playback",
		}),
		ChunksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_dropped_total",
			Help:      "Inbound audio chunks dropped before playback",
		}, []string{"reason"}),
		ScheduledAudio: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_scheduled_seconds_total",
			Help:      "Seconds of audio scheduled for playback",
		}),
		Interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_interruptions_total",
			Help:      "Barge-in flushes of the playback timeline",
		}),
		CredentialPrompts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_prompts_total",
			Help:      "Times the credential selector was opened",
		}),
	}

	r.registry.MustRegister(
		r.SessionsActive,
		r.SessionsTotal,
		r.FramesTotal,
		r.ChunksScheduled,
		r.ChunksDropped,
		r.ScheduledAudio,
		r.Interruptions,
		r.CredentialPrompts,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) SessionStarted() {
	r.SessionsActive.Inc()
}

func (r *Recorder) SessionEnded(reason domain.SessionStateReason) {
	r.SessionsActive.Dec()
	r.SessionsTotal.WithLabelValues(string(reason)).Inc()
}

func (r *Recorder) FrameSent() {
	r.FramesTotal.WithLabelValues("sent").Inc()
}

func (r *Recorder) FrameDropped() {
	r.FramesTotal.WithLabelValues("dropped").Inc()
}

func (r *Recorder) ChunkScheduled(d time.Duration) {
	r.ChunksScheduled.Inc()
	r.ScheduledAudio.Add(d.Seconds())
}

func (r *Recorder) ChunkDropped(reason string) {
	r.ChunksDropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) Interrupted() {
	r.Interruptions.Inc()
}

func (r *Recorder) CredentialPrompted() {
	r.CredentialPrompts.Inc()
}
