package mpi

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// hookSet carries the observability hooks of the active Environment.
type hookSet struct {
	logger  *zap.Logger
	metrics MetricHook
	tracer  Tracer
	quiet   bool
	fatal   func(*FatalError)
}

var (
	defaultHooks = &hookSet{logger: zap.NewNop()}
	activeHooks  atomic.Pointer[hookSet]
)

func hooks() *hookSet {
	if h := activeHooks.Load(); h != nil {
		return h
	}
	return defaultHooks
}

func newHookSet(cfg Config) *hookSet {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &hookSet{
		logger:  logger.Named("mpi"),
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		quiet:   cfg.Quiet,
		fatal:   cfg.FatalHandler,
	}
}

func debug(msg string, fields ...zap.Field) {
	hooks().logger.Debug(msg, fields...)
}
