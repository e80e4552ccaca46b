package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.TaskEnqueued()
		m.TaskProcessed(time.Millisecond, errors.New("boom"))
		m.Published("chat_exchange", nil)
		m.RequestTimedOut("auth.validate_token")
		m.SocketConnected()
		m.EmitDropped()
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TaskProcessed(time.Millisecond, nil)
	m.TaskProcessed(time.Millisecond, nil)
	m.TaskProcessed(time.Millisecond, errors.New("boom"))
	m.SetHaltedRooms(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasksProcessed.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksProcessed.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.haltedRooms))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SocketConnected()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "visper_relay_presence_connected_sockets 1")
}
