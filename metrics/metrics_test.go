package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TransactionCreated("uas_invite")
		m.Dropped("parse_error")
		m.DialogCreated("invite")
		m.Processed("registrar", time.Now())
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New("sipcore")
	m.TransactionCreated("uac_invite")
	m.TransactionCreated("uac_invite")
	m.TransactionRemoved()
	m.Dropped("unmatched_response")
	m.Request("REGISTER", 200)
	m.Request("INVITE", 486)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.txCreated.WithLabelValues("uac_invite")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.txActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("unmatched_response")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("REGISTER", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("INVITE", "4xx")))
}

func TestHandler(t *testing.T) {
	m := New("sipcore")
	m.DialogCreated("registration")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `sipcore_dialog_created_total{flow="registration"} 1`))
}
