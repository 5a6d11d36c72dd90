package preview

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qms-portal/docpreview/internal/models"
)

func TestPrometheusObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)

	obs.AttemptFinished("u", models.ViewerAttempt{Strategy: StrategyDirect, Outcome: models.OutcomeTimeout, Duration: 15 * time.Second})
	obs.AttemptFinished("u", models.ViewerAttempt{Strategy: StrategyGoogleViewer, Outcome: models.OutcomeLoaded, Duration: time.Second})
	obs.SessionFinished(models.PreviewState{DisplayMode: models.DisplayRendered})

	assert.Equal(t, 1.0, testutil.ToFloat64(obs.attempts.WithLabelValues(StrategyDirect, "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.attempts.WithLabelValues(StrategyGoogleViewer, "loaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.sessions.WithLabelValues("rendered")))

	again, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)
	assert.Same(t, obs.attempts, again.attempts)
}

func TestNilPrometheusObserver(t *testing.T) {
	var obs *PrometheusObserver
	assert.NotPanics(t, func() {
		obs.AttemptFinished("u", models.ViewerAttempt{})
		obs.SessionFinished(models.PreviewState{})
	})
}
