package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordReservation("ok")
		m.RecordChainCall("mint", time.Second, errors.New("x"))
		m.AddBuffered(1)
		m.RecordSweep(nil)
	})
}

func TestMetrics_CountersAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordReservation("reserved")
	m.RecordReservation("reserved")
	m.RecordChainCall("mint_shares", 20*time.Millisecond, errors.New("timeout"))
	m.RecordEvent("AssetTransferred", "applied")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `test_store_reservations_total{outcome="reserved"} 2`))
	assert.True(t, strings.Contains(body, `test_chain_call_errors_total{op="mint_shares"} 1`))
	assert.True(t, strings.Contains(body, "test_reconciler_events_total"))
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics("dup", nil)
		NewMetrics("dup", nil)
	})
}
