package mpi

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
)

// FatalError describes a condition the runtime cannot recover from, such as
// a failed free during release or a resource dropped while still live.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("mpi: fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

var fatalOverride atomic.Pointer[func(*FatalError)]

// SetFatalHandler replaces the process-wide fatal handler used when the
// active Environment does not configure one. It returns a function restoring
// the previous handler. A nil fn restores the default, which exits with
// status 1.
func SetFatalHandler(fn func(*FatalError)) (restore func()) {
	var prev *func(*FatalError)
	if fn == nil {
		prev = fatalOverride.Swap(nil)
	} else {
		prev = fatalOverride.Swap(&fn)
	}
	return func() {
		fatalOverride.Store(prev)
	}
}

func exitFatal(*FatalError) {
	os.Exit(1)
}

// fatal prints the diagnostic unless quiet and hands the error to the fatal
// handler. The default handler does not return.
func fatal(op string, err error) *FatalError {
	fe := &FatalError{Op: op, Err: err}
	h := hooks()
	if !h.quiet {
		fmt.Fprintln(os.Stderr, fe.Error())
	}
	h.logger.Error("fatal mpi error", zap.String("operation", op), zap.Error(err))
	if h.metrics != nil {
		h.metrics.FatalError(err, map[string]string{labelOperation: op})
	}

	handler := h.fatal
	if handler == nil {
		if p := fatalOverride.Load(); p != nil {
			handler = *p
		}
	}
	if handler == nil {
		handler = exitFatal
	}
	handler(fe)
	return fe
}
