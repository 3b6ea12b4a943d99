package mpi

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

var _ MetricHook = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements MetricHook using Prometheus counters.
type PrometheusMetrics struct {
	handleFreed      *prometheus.CounterVec
	requestCompleted *prometheus.CounterVec
	requestFailed    *prometheus.CounterVec
	callbackFailed   *prometheus.CounterVec
	fatalErrors      *prometheus.CounterVec
}

// NewPrometheusMetrics constructs a MetricHook backed by Prometheus counters.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string, keys []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		}, keys)
	}

	p := &PrometheusMetrics{
		handleFreed:      counter("mpi_handles_freed_total", "Number of native handles released through their owning wrapper", handleLabelKeys),
		requestCompleted: counter("mpi_requests_completed_total", "Number of requests completed without error", requestLabelKeys),
		requestFailed:    counter("mpi_requests_failed_total", "Number of requests completed with an error", requestLabelKeys),
		callbackFailed:   counter("mpi_attribute_callback_failures_total", "Number of attribute copy or delete closures that failed", callbackLabelKeys),
		fatalErrors:      counter("mpi_fatal_errors_total", "Number of fatal conditions raised", fatalLabelKeys),
	}

	var err error
	if p.handleFreed, err = registerCounterVec(reg, p.handleFreed); err != nil {
		return nil, err
	}
	if p.requestCompleted, err = registerCounterVec(reg, p.requestCompleted); err != nil {
		return nil, err
	}
	if p.requestFailed, err = registerCounterVec(reg, p.requestFailed); err != nil {
		return nil, err
	}
	if p.callbackFailed, err = registerCounterVec(reg, p.callbackFailed); err != nil {
		return nil, err
	}
	if p.fatalErrors, err = registerCounterVec(reg, p.fatalErrors); err != nil {
		return nil, err
	}
	return p, nil
}

var (
	handleLabelKeys   = []string{labelKind}
	requestLabelKeys  = []string{labelOperation, labelStatus}
	callbackLabelKeys = []string{labelKind, labelOperation}
	fatalLabelKeys    = []string{labelOperation}
)

func (p *PrometheusMetrics) HandleFreed(attrs map[string]string) {
	p.handleFreed.With(labels(attrs, handleLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) RequestCompleted(attrs map[string]string) {
	p.requestCompleted.With(labels(attrs, requestLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) RequestFailed(_ error, attrs map[string]string) {
	p.requestFailed.With(labels(attrs, requestLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) CallbackFailed(_ error, attrs map[string]string) {
	p.callbackFailed.With(labels(attrs, callbackLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) FatalError(_ error, attrs map[string]string) {
	p.fatalErrors.With(labels(attrs, fatalLabelKeys...)).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}

func labels(attrs map[string]string, keys ...string) prometheus.Labels {
	labs := make(prometheus.Labels, len(keys))
	for _, key := range keys {
		labs[key] = attrs[key]
	}
	return labs
}
