package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollCount_Registered(t *testing.T) {
	PollCount.WithLabelValues("training", OutcomeSuccess).Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	found := false
	for _, f := range families {
		if f.GetName() == "jobwatch_polls_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHandler_ExposesCollectors(t *testing.T) {
	JobTransitionCount.WithLabelValues("training", "completed").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "jobwatch_job_transitions_total")
}
