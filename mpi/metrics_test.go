package mpi

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/rocketbitz/mpi-go/native"
)

type metricRecorder struct {
	mu               sync.Mutex
	handleFreed      map[string]int
	requestCompleted int
	requestFailed    int
	callbackFailed   int
	fatalErrors      int
}

type metricSnapshot struct {
	handleFreed      map[string]int
	requestCompleted int
	requestFailed    int
	callbackFailed   int
	fatalErrors      int
}

func newMetricRecorder() *metricRecorder {
	return &metricRecorder{handleFreed: make(map[string]int)}
}

func (m *metricRecorder) HandleFreed(attrs map[string]string) {
	m.mu.Lock()
	m.handleFreed[attrs[labelKind]]++
	m.mu.Unlock()
}

func (m *metricRecorder) RequestCompleted(_ map[string]string) {
	m.mu.Lock()
	m.requestCompleted++
	m.mu.Unlock()
}

func (m *metricRecorder) RequestFailed(_ error, _ map[string]string) {
	m.mu.Lock()
	m.requestFailed++
	m.mu.Unlock()
}

func (m *metricRecorder) CallbackFailed(_ error, _ map[string]string) {
	m.mu.Lock()
	m.callbackFailed++
	m.mu.Unlock()
}

func (m *metricRecorder) FatalError(_ error, _ map[string]string) {
	m.mu.Lock()
	m.fatalErrors++
	m.mu.Unlock()
}

func (m *metricRecorder) Snapshot() metricSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	freed := make(map[string]int, len(m.handleFreed))
	for k, v := range m.handleFreed {
		freed[k] = v
	}
	return metricSnapshot{
		handleFreed:      freed,
		requestCompleted: m.requestCompleted,
		requestFailed:    m.requestFailed,
		callbackFailed:   m.callbackFailed,
		fatalErrors:      m.fatalErrors,
	}
}

func TestMetricHookLifecycle(t *testing.T) {
	metrics := newMetricRecorder()
	env, rt, _ := newTestEnv(t, Config{Metrics: metrics})

	dup, err := env.World().Dup()
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	dup.Release()
	dt, err := Vector(2, 1, 2, Float)
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if err := dt.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}

	r, raws := startRequests(t, rt, 2)
	_ = rt.CompleteRequest(raws[0], native.Status{})
	_ = rt.CompleteRequest(raws[1], native.Status{Err: native.ErrTruncate})
	if _, err := r.WaitAll(); err == nil {
		t.Fatal("WaitAll: expected failure")
	}

	snap := metrics.Snapshot()
	if snap.handleFreed["comm"] != 1 || snap.handleFreed["datatype"] != 1 {
		t.Fatalf("handles freed: %v", snap.handleFreed)
	}
	if snap.requestCompleted != 1 || snap.requestFailed != 1 {
		t.Fatalf("requests: completed=%d failed=%d", snap.requestCompleted, snap.requestFailed)
	}
}

func TestPrometheusMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("NewPrometheusMetrics: %v", err)
	}

	metrics.HandleFreed(map[string]string{labelKind: "comm"})
	metrics.RequestCompleted(map[string]string{labelOperation: "MPI_Wait", labelStatus: "ok"})
	metrics.RequestFailed(errors.New("fail"), map[string]string{labelOperation: "MPI_Wait", labelStatus: "error"})
	metrics.CallbackFailed(errors.New("copy"), map[string]string{labelKind: "comm", labelOperation: "copy"})
	metrics.FatalError(errors.New("fatal"), map[string]string{labelOperation: "MPI_Comm_free"})

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	cases := map[string]float64{
		"mpi_handles_freed_total":               1,
		"mpi_requests_completed_total":          1,
		"mpi_requests_failed_total":             1,
		"mpi_attribute_callback_failures_total": 1,
		"mpi_fatal_errors_total":                1,
	}
	for name, want := range cases {
		if got := findCounterValue(mfs, name); got != want {
			t.Fatalf("unexpected counter %s: got %v want %v", name, got, want)
		}
	}

	again, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	again.HandleFreed(map[string]string{labelKind: "comm"})
	mfs, _ = reg.Gather()
	if got := findCounterValue(mfs, "mpi_handles_freed_total"); got != 2 {
		t.Fatalf("re-registered counter not shared: %v", got)
	}
}

func TestPrometheusMetricsFromEnvironment(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("NewPrometheusMetrics: %v", err)
	}
	newTestEnv(t, Config{Metrics: metrics})
	info, err := NewInfo()
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}
	info.Release()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got := findCounterValue(mfs, "mpi_handles_freed_total"); got != 1 {
		t.Fatalf("handles freed: %v", got)
	}
}

func findCounterValue(mfs []*dto.MetricFamily, name string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range mf.Metric {
			sum += m.GetCounter().GetValue()
		}
		return sum
	}
	return 0
}

func TestOTelMetricsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewOTelMetrics(OTelMetricsOptions{MeterProvider: provider})
	if err != nil {
		t.Fatalf("NewOTelMetrics: %v", err)
	}

	metrics.HandleFreed(map[string]string{labelKind: "datatype"})
	metrics.RequestCompleted(map[string]string{labelOperation: "MPI_Waitall", labelStatus: "ok"})
	metrics.RequestFailed(errors.New("fail"), map[string]string{labelOperation: "MPI_Waitall", labelStatus: "error"})
	metrics.CallbackFailed(errors.New("copy"), map[string]string{labelKind: "comm", labelOperation: "copy"})
	metrics.FatalError(errors.New("fatal"), map[string]string{labelOperation: "MPI_Type_free"})

	ctx := context.Background()
	if err := provider.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	cases := map[string]float64{
		"mpi.handles.freed":              1,
		"mpi.requests.completed":         1,
		"mpi.requests.failed":            1,
		"mpi.attribute_callbacks.failed": 1,
		"mpi.fatal_errors":               1,
	}
	for name, want := range cases {
		if got := otelCounterValue(rm, name); got != want {
			t.Fatalf("unexpected counter %s: got %v want %v", name, got, want)
		}
	}

	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func otelCounterValue(rm metricdata.ResourceMetrics, name string) float64 {
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name != name {
				continue
			}
			switch data := metric.Data.(type) {
			case metricdata.Sum[int64]:
				var sum float64
				for _, dp := range data.DataPoints {
					sum += float64(dp.Value)
				}
				return sum
			}
		}
	}
	return 0
}

func TestFatalHandlerAndQuiet(t *testing.T) {
	logger, logs := newObservedLogger()
	rec := &fatalRecorder{}
	metrics := newMetricRecorder()
	rt := &fakeRuntime{}

	env, err := Init(Config{
		Runtime:      newFakeInitRuntime(rt),
		Logger:       logger,
		Quiet:        true,
		FatalHandler: rec.handle,
		Metrics:      metrics,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer func() { _ = env.Finalize() }()

	h := NewOwnedHandle(rt, native.KindFile, 12, Unowned)
	h.Release()

	fatals := rec.all()
	if len(fatals) != 1 || fatals[0].Op != "MPI_File_close" {
		t.Fatalf("fatals: %v", fatals)
	}
	if logs.FilterMessage("fatal mpi error").Len() != 1 {
		t.Fatal("fatal diagnostic not logged")
	}
	if metrics.Snapshot().fatalErrors != 1 {
		t.Fatalf("fatal metric: %d", metrics.Snapshot().fatalErrors)
	}
}

// fakeInitRuntime is a fakeRuntime that can host an Environment.
type fakeInitRuntime struct {
	*fakeRuntime
}

func newFakeInitRuntime(rt *fakeRuntime) *fakeInitRuntime {
	return &fakeInitRuntime{fakeRuntime: rt}
}

func (f *fakeInitRuntime) Init(required native.ThreadLevel) (native.ThreadLevel, native.Errno) {
	return required, native.Success
}

func (f *fakeInitRuntime) Finalize() native.Errno { return native.Success }

func (f *fakeInitRuntime) CommWorld() native.Handle { return 1 }

func (f *fakeInitRuntime) CommSelf() native.Handle { return 2 }
