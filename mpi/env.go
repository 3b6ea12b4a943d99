package mpi

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rocketbitz/mpi-go/native"
)

// Environment is an initialized runtime. At most one is active at a time.
type Environment struct {
	rt      native.Runtime
	level   ThreadLevel
	world   *Comm
	self    *Comm
	catalog *Catalog

	mu        sync.Mutex
	finalized bool
}

var (
	initMu  sync.Mutex
	current atomic.Pointer[Environment]
)

// Init initializes the runtime described by cfg and makes the resulting
// Environment current.
func Init(cfg Config) (*Environment, error) {
	initMu.Lock()
	defer initMu.Unlock()
	if current.Load() != nil {
		return nil, ErrAlreadyInitialized
	}

	h := newHookSet(cfg)
	activeHooks.Store(h)
	span := startSpan("mpi.Init", TraceAttribute{Key: "thread_level", Value: cfg.ThreadLevel.String()})

	env, err := initEnvironment(cfg)
	endSpan(span, err)
	if err != nil {
		activeHooks.Store(nil)
		return nil, err
	}
	current.Store(env)
	fields := []zap.Field{
		zap.String("runtime", RuntimeName),
		zap.Stringer("requested", cfg.ThreadLevel),
		zap.Stringer("provided", env.level),
	}
	if v, ok := env.rt.(libraryVersioner); ok {
		fields = append(fields, zap.String("library", v.LibraryVersion()))
	}
	h.logger.Debug("environment initialized", fields...)
	return env, nil
}

// libraryVersioner is implemented by runtimes that can name the MPI library
// they are linked against.
type libraryVersioner interface {
	LibraryVersion() string
}

func initEnvironment(cfg Config) (*Environment, error) {
	rt := cfg.Runtime
	if rt == nil {
		rt = defaultRuntime()
	}
	required := clampThreadLevel(cfg.ThreadLevel, perThreadPending)
	if required != cfg.ThreadLevel {
		hooks().logger.Warn("thread level capped: callback errors share one slot on this platform",
			zap.Stringer("requested", cfg.ThreadLevel), zap.Stringer("capped", required))
	}
	level, code := rt.Init(required)
	if err := native.ErrorFromStatus(code, "MPI_Init_thread"); err != nil {
		return nil, err
	}

	env := &Environment{
		rt:      rt,
		level:   level,
		world:   &Comm{h: NewOwnedHandle(rt, native.KindComm, rt.CommWorld(), Predefined)},
		self:    &Comm{h: NewOwnedHandle(rt, native.KindComm, rt.CommSelf(), Predefined)},
		catalog: NewCatalog(),
	}
	for alias, target := range cfg.DatatypeAliases {
		dt, err := env.catalog.FromName(target)
		if err == nil {
			err = env.catalog.Add(alias, dt)
		}
		if err != nil {
			_ = rt.Finalize()
			return nil, fmt.Errorf("mpi: datatype alias %q: %w", alias, err)
		}
	}
	return env, nil
}

// clampThreadLevel lowers ThreadMultiple to ThreadSerialized when pending
// callback errors cannot be kept apart per OS thread.
func clampThreadLevel(level ThreadLevel, perThread bool) ThreadLevel {
	if !perThread && level > ThreadSerialized {
		return ThreadSerialized
	}
	return level
}

// Current returns the active Environment.
func Current() (*Environment, error) {
	env := current.Load()
	if env == nil {
		return nil, ErrNotInitialized
	}
	return env, nil
}

func currentRuntime() (native.Runtime, error) {
	env, err := Current()
	if err != nil {
		return nil, err
	}
	return env.rt, nil
}

// Runtime returns the native runtime.
func (e *Environment) Runtime() native.Runtime { return e.rt }

// ThreadLevel returns the thread support level granted by the runtime.
func (e *Environment) ThreadLevel() ThreadLevel { return e.level }

// World returns the communicator spanning every process.
func (e *Environment) World() *Comm { return e.world }

// Self returns the communicator containing only the calling process.
func (e *Environment) Self() *Comm { return e.self }

// Catalog returns the datatype catalog.
func (e *Environment) Catalog() *Catalog { return e.catalog }

// Finalize releases the customized datatypes, shuts the runtime down and
// clears the current Environment. Keyvals still registered are reported.
// Later calls return nil.
func (e *Environment) Finalize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return nil
	}
	initMu.Lock()
	defer initMu.Unlock()

	log := hooks().logger
	span := startSpan("mpi.Finalize")

	err := e.catalog.ClearCustomized()
	spanAddEvent(span, "customized_cleared")

	if live := liveKeyvals(); len(live) > 0 {
		log.Warn("keyvals not freed before finalize", zap.Ints("keyvals", live))
	}

	e.world.Release()
	e.self.Release()
	err = multierr.Append(err, callWithCallbacks("MPI_Finalize", e.rt.Finalize))
	endSpan(span, err)

	e.finalized = true
	resetKeyvals()
	current.CompareAndSwap(e, nil)
	log.Debug("environment finalized", zap.Error(err))
	activeHooks.Store(nil)
	return err
}
