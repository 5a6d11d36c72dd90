package preview

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qms-portal/docpreview/internal/models"
)

// PrometheusObserver exports attempt and session metrics.
type PrometheusObserver struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	sessions        *prometheus.CounterVec
}

// NewPrometheusObserver registers the preview metrics on reg, reusing
// collectors that are already registered.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "docpreview"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "viewer_attempts_total",
		Help:      "Render attempts by strategy and outcome.",
	}, []string{"strategy", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "viewer_attempt_duration_seconds",
		Help:      "Time from starting a render attempt to its outcome.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 8, 10, 15},
	}, []string{"strategy"})
	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "preview_sessions_total",
		Help:      "Preview sessions by terminal display mode.",
	}, []string{"mode"})

	var err error
	o := &PrometheusObserver{}
	if o.attempts, err = register(reg, attempts); err != nil {
		return nil, err
	}
	if o.attemptDuration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if o.sessions, err = register(reg, sessions); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register preview metric: %w", err)
	}
	return c, nil
}

// AttemptFinished records the attempt outcome and its duration.
func (o *PrometheusObserver) AttemptFinished(_ string, attempt models.ViewerAttempt) {
	if o == nil {
		return
	}
	o.attempts.WithLabelValues(attempt.Strategy, string(attempt.Outcome)).Inc()
	o.attemptDuration.WithLabelValues(attempt.Strategy).Observe(attempt.Duration.Seconds())
}

// SessionFinished counts the terminal display mode.
func (o *PrometheusObserver) SessionFinished(state models.PreviewState) {
	if o == nil {
		return
	}
	o.sessions.WithLabelValues(string(state.DisplayMode)).Inc()
}
