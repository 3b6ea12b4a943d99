package mpi

import (
	"runtime"
	"sync"

	"github.com/rocketbitz/mpi-go/native"
)

// Errors raised by copy closures cannot cross the native call that invoked
// them. The trampoline parks them here keyed by OS thread, and the Go caller
// collects them as soon as the native call returns on the same thread.
var (
	pendingMu   sync.Mutex
	pendingErrs = make(map[int]error)
)

func setPending(err error) {
	tid := threadID()
	pendingMu.Lock()
	if _, ok := pendingErrs[tid]; !ok {
		pendingErrs[tid] = err
	}
	pendingMu.Unlock()
}

func takePending() error {
	tid := threadID()
	pendingMu.Lock()
	err := pendingErrs[tid]
	delete(pendingErrs, tid)
	pendingMu.Unlock()
	return err
}

// callWithCallbacks runs a native call that may invoke attribute closures
// and returns the first closure error, or the native status otherwise.
func callWithCallbacks(op string, call func() native.Errno) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	_ = takePending()
	code := call()
	if err := takePending(); err != nil {
		return err
	}
	return native.ErrorFromStatus(code, op)
}
