//go:build mpi && cgo

package capi

/*
#cgo !mpich pkg-config: ompi
#cgo mpich pkg-config: mpich
#include "capi.h"
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/rocketbitz/mpi-go/native"
)

type userOp struct {
	rt *Runtime
	fn native.UserOpFunc
	h  native.Handle
}

// opSlots binds the fixed C operator functions to Go callbacks. A slot is
// reserved by OpCreate and returned by Free or Finalize.
var (
	opMu    sync.Mutex
	opSlots [C.GOMPI_MAX_USER_OPS]*userOp
)

func reserveOpSlot(op *userOp) int {
	opMu.Lock()
	defer opMu.Unlock()
	for i, s := range opSlots {
		if s == nil {
			opSlots[i] = op
			return i
		}
	}
	return -1
}

func releaseOpSlot(rt *Runtime, h native.Handle) {
	opMu.Lock()
	defer opMu.Unlock()
	for i, s := range opSlots {
		if s != nil && s.rt == rt && (h == native.Null || s.h == h) {
			opSlots[i] = nil
		}
	}
}

//export goUserOp
func goUserOp(slot C.int, in, inout unsafe.Pointer, n C.int, dt C.MPI_Fint) {
	opMu.Lock()
	op := opSlots[int(slot)]
	opMu.Unlock()
	if op == nil {
		return
	}
	op.fn(in, inout, int(n), op.rt.handle(native.KindDatatype, dt))
}

// OpCreate binds fn to a free operator slot. At most GOMPI_MAX_USER_OPS
// operators may be live; creating another reports ErrNoMem.
func (r *Runtime) OpCreate(fn native.UserOpFunc, commute bool) (native.Handle, native.Errno) {
	if fn == nil {
		return native.Null, native.ErrArg
	}
	op := &userOp{rt: r, fn: fn}
	slot := reserveOpSlot(op)
	if slot < 0 {
		return native.Null, native.ErrNoMem
	}
	var c C.int
	if commute {
		c = 1
	}
	var out C.MPI_Fint
	if rc := C.gompi_op_create(C.int(slot), c, &out); rc != C.MPI_SUCCESS {
		opMu.Lock()
		opSlots[slot] = nil
		opMu.Unlock()
		return native.Null, errnoOf(rc)
	}
	h := r.handle(native.KindOp, out)
	opMu.Lock()
	op.h = h
	opMu.Unlock()
	return h, native.Success
}

func (r *Runtime) ReduceLocal(in, inout unsafe.Pointer, count int, dt, op native.Handle) native.Errno {
	return errnoOf(C.gompi_reduce_local(addr(in), addr(inout), C.int(count),
		r.fint(native.KindDatatype, dt), r.fint(native.KindOp, op)))
}
