package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordMessage(DirectionOut, "VALUE_BROADCAST_REQUEST")
	RecordProtocolViolation("tcp")
	RecordBroadcastPayload(128)

	before := testutil.ToFloat64(broadcastApplies.WithLabelValues(ResultError))
	RecordBroadcastApply(false)
	after := testutil.ToFloat64(broadcastApplies.WithLabelValues(ResultError))
	if after-before != 1 {
		t.Fatalf("expected apply error counter to advance by 1, got %v", after-before)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	RecordBroadcastForward(true)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pgasnet_broadcast_forwards_total") {
		t.Fatalf("expected broadcast forward metric in output")
	}
}
