package monitor

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesPipelineCounters(t *testing.T) {
	FramesSubmitted.Inc()
	CapturesTotal.WithLabelValues("ok").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "pipeline_frames_submitted_total")
	assert.Contains(t, body, `capture_total{result="ok"}`)
}

func TestCheckProcessInfo_CurrentProcess(t *testing.T) {
	GotPID()
	assert.NotPanics(t, CheckProcessInfo)
}
