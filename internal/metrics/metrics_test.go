package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.WindowOp("confirm", "ok")
	m.Transitioned("consumed", 3)
	m.StoreError("close")
	m.MapperTier(TierFields)
	m.RecordLogged()
	m.Archive("ok")
	if m.Handler() == nil {
		t.Error("nil Metrics should still return a handler")
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.WindowOp("confirm", "ok")
	m.WindowOp("confirm", "ok")
	m.Transitioned("accumulating", 4)
	m.Transitioned("accumulating", 0)
	m.MapperTier(TierRawInputStr)
	m.RecordLogged()

	if got := testutil.ToFloat64(m.windowOps.WithLabelValues("confirm", "ok")); got != 2 {
		t.Errorf("window ops = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.transitioned.WithLabelValues("accumulating")); got != 4 {
		t.Errorf("transitioned = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.recordsLogged); got != 1 {
		t.Errorf("records logged = %v, want 1", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.MapperTier(TierFields)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `memlog_mapper_conversions_total{tier="fields"} 1`) {
		t.Errorf("exposition missing mapper counter:\n%s", body)
	}
}
