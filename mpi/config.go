package mpi

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rocketbitz/mpi-go/native"
)

// ThreadLevel re-exports the native thread support level.
type ThreadLevel = native.ThreadLevel

const (
	ThreadSingle     = native.ThreadSingle
	ThreadFunneled   = native.ThreadFunneled
	ThreadSerialized = native.ThreadSerialized
	ThreadMultiple   = native.ThreadMultiple
)

// Config controls Init behaviour.
type Config struct {
	// ThreadLevel is the thread support level requested from the runtime.
	// Outside linux, ThreadMultiple is requested as ThreadSerialized because
	// copy and operator closure errors are parked in a single slot shared by
	// every thread.
	ThreadLevel ThreadLevel
	// Quiet suppresses the stderr diagnostic printed for fatal errors. It
	// does not change whether the fatal handler runs.
	Quiet bool
	// DatatypeAliases registers extra catalog names, mapping alias to an
	// existing name.
	DatatypeAliases map[string]string
	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
	// Metrics receives lifecycle telemetry when set.
	Metrics MetricHook
	// Tracer wraps Init, Finalize, duplication and WaitAll in spans when set.
	Tracer Tracer
	// FatalHandler is called for fatal conditions. The default prints the
	// diagnostic and exits with status 1.
	FatalHandler func(*FatalError)
	// Runtime overrides the native runtime. Defaults to the runtime selected
	// by build tags.
	Runtime native.Runtime
}

type fileConfig struct {
	ThreadLevel     string            `yaml:"thread_level"`
	Quiet           bool              `yaml:"quiet"`
	DatatypeAliases map[string]string `yaml:"datatype_aliases"`
}

// LoadConfig reads a YAML configuration file. Hook fields (Logger, Metrics,
// Tracer, FatalHandler, Runtime) are left for the caller to set.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("mpi: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration document.
func ParseConfig(data []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("mpi: parse config: %w", err)
	}
	level, err := native.ParseThreadLevel(fc.ThreadLevel)
	if err != nil {
		return Config{}, fmt.Errorf("mpi: parse config: %w", err)
	}
	return Config{
		ThreadLevel:     level,
		Quiet:           fc.Quiet,
		DatatypeAliases: fc.DatatypeAliases,
	}, nil
}
