package authkit

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricNonceIssued)

	if got := m.Value(MetricNonceIssued); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("disabled metrics must snapshot empty")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricNonceIssued)
	m.Observe(MetricRedeemLatency, time.Millisecond)
	if m.Enabled() || m.LatencyEnabled() || m.Value(MetricNonceIssued) != 0 {
		t.Fatal("nil metrics must be inert")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricNonceRedeemed)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricNonceRedeemed); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		time.Millisecond,
		2500 * time.Microsecond,
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		700 * time.Millisecond,
	}

	var sum time.Duration
	for _, d := range observations {
		m.Observe(MetricRedeemLatency, d)
		sum += d
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricRedeemLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
	if snap.HistogramSums[MetricRedeemLatency] != sum {
		t.Fatalf("expected sum %v, got %v", sum, snap.HistogramSums[MetricRedeemLatency])
	}
}

func TestMetricsObserveIgnoresCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricNonceIssued, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricNonceIssued]; ok {
		t.Fatal("counter ids must not produce histograms")
	}
	if _, ok := snap.Counters[MetricRedeemLatency]; ok {
		t.Fatal("histogram ids must not appear as counters")
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricNonceIssued)
	m.Inc(MetricNonceRedeemMiss)
	m.Inc(MetricNonceRedeemMiss)
	m.Observe(MetricValidateLatency, 200*time.Microsecond)

	snap := m.Snapshot()

	if snap.Counters[MetricNonceIssued] != 1 {
		t.Fatalf("expected MetricNonceIssued=1 got %d", snap.Counters[MetricNonceIssued])
	}
	if snap.Counters[MetricNonceRedeemMiss] != 2 {
		t.Fatalf("expected MetricNonceRedeemMiss=2 got %d", snap.Counters[MetricNonceRedeemMiss])
	}
	if snap.Histograms[MetricValidateLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricValidateLatency][0])
	}
}
