package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/torutek/authkit"
)

type fakeSource struct {
	snapshot authkit.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authkit.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                     { return f.dropped }

func emptySnapshot() authkit.MetricsSnapshot {
	return authkit.MetricsSnapshot{
		Counters:      map[authkit.MetricID]uint64{},
		Histograms:    map[authkit.MetricID][]uint64{},
		HistogramSums: map[authkit.MetricID]time.Duration{},
	}
}

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: emptySnapshot()})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCountersAndHistogram(t *testing.T) {
	snap := emptySnapshot()
	snap.Counters[authkit.MetricNonceIssued] = 7
	snap.Counters[authkit.MetricNonceRedeemMiss] = 2
	snap.Histograms[authkit.MetricRedeemLatency] = []uint64{1, 2, 3, 4, 5, 6, 7, 8}
	snap.HistogramSums[authkit.MetricRedeemLatency] = 1500 * time.Millisecond

	out := NewPrometheusExporterFromSource(fakeSource{snapshot: snap, dropped: 2}).Render()

	for _, want := range []string{
		"# TYPE authkit_nonce_issued_total counter",
		"authkit_nonce_issued_total 7",
		"authkit_nonce_redeem_miss_total 2",
		"authkit_token_issued_total 0",
		"# TYPE authkit_nonce_redeem_latency_seconds histogram",
		"authkit_nonce_redeem_latency_seconds_bucket{le=\"0.001\"} 1",
		"authkit_nonce_redeem_latency_seconds_bucket{le=\"0.0025\"} 3",
		"authkit_nonce_redeem_latency_seconds_bucket{le=\"+Inf\"} 36",
		"authkit_nonce_redeem_latency_seconds_sum 1.5",
		"authkit_nonce_redeem_latency_seconds_count 36",
		"authkit_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "authkit_token_validate_latency_seconds") {
		t.Fatalf("histogram without samples map entry must be omitted, got:\n%s", out)
	}
}

func TestRenderFromEngine(t *testing.T) {
	cfg := authkit.DefaultConfig()
	cfg.JWT.Secret = strings.Repeat("k", 32)
	cfg.Cache.MemorySweepInterval = 0

	engine, err := authkit.New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	if _, err := engine.GenerateNonce(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("GenerateNonce failed: %v", err)
	}

	out := NewPrometheusExporter(engine).Render()
	if !strings.Contains(out, "authkit_nonce_issued_total 1") {
		t.Fatalf("expected issued counter from engine, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	snap := emptySnapshot()
	snap.Counters[authkit.MetricTokenIssued] = 1
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: snap})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "authkit_token_issued_total 1") {
		t.Fatalf("expected body to carry counters, got:\n%s", rec.Body.String())
	}
}

func TestNilExporterRendersEmpty(t *testing.T) {
	var exp *PrometheusExporter
	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}
