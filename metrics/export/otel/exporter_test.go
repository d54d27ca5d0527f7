package otel

import (
	"context"
	"sync"
	"testing"

	authcore "github.com/finwise/authcore"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// fakeSource serves a mutable snapshot under lock so tests can race
// writes against collection.
type fakeSource struct {
	mu      sync.Mutex
	login   uint64
	buckets []uint64
	dropped uint64
}

func (f *fakeSource) MetricsSnapshot() authcore.MetricsSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return authcore.MetricsSnapshot{
		Counters: map[authcore.MetricID]uint64{
			authcore.MetricLoginSuccess: f.login,
		},
		Histograms: map[authcore.MetricID][]uint64{
			authcore.MetricValidateLatency: append([]uint64(nil), f.buckets...),
		},
	}
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

func (f *fakeSource) setLogin(v uint64) {
	f.mu.Lock()
	f.login = v
	f.mu.Unlock()
}

func newTestMeter(t *testing.T) (*sdkmetric.ManualReader, metric.Meter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return reader, provider.Meter("authcore-test")
}

// sumValue finds a Sum metric by name and returns its single data point.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string) (int64, bool) {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatalf("metric %s has unexpected shape %T", name, m.Data)
			}
			return sum.DataPoints[0].Value, true
		}
	}
	return 0, false
}

func TestCollectReportsCounterValues(t *testing.T) {
	reader, meter := newTestMeter(t)
	src := &fakeSource{
		login:   3,
		buckets: []uint64{1, 1, 1, 1, 1, 1, 1, 1},
		dropped: 1,
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	t.Cleanup(func() { _ = exp.Close() })

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if v, ok := sumValue(t, rm, "authcore_login_success_total"); !ok || v != 3 {
		t.Fatalf("login success counter = %d (found=%v), want 3", v, ok)
	}
	if v, ok := sumValue(t, rm, "authcore_audit_dropped_total"); !ok || v != 1 {
		t.Fatalf("audit dropped counter = %d (found=%v), want 1", v, ok)
	}
}

func TestCollectAfterCloseStops(t *testing.T) {
	reader, meter := newTestMeter(t)
	src := &fakeSource{login: 7}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if _, ok := sumValue(t, rm, "authcore_login_success_total"); ok {
		t.Fatal("unregistered exporter still observed values")
	}
}

func TestNilMeterAndSourceRejected(t *testing.T) {
	_, meter := newTestMeter(t)

	if _, err := NewExporterFromSource(nil, &fakeSource{}); err == nil {
		t.Fatal("expected error for nil meter")
	}
	if _, err := NewExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestConcurrentCollect(t *testing.T) {
	reader, meter := newTestMeter(t)
	src := &fakeSource{login: 1, buckets: []uint64{1, 0, 0, 0, 0, 0, 0, 0}}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	t.Cleanup(func() { _ = exp.Close() })

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.setLogin(v)
			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i))
	}
	wg.Wait()
}
