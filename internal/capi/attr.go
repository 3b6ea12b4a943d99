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

	"github.com/rocketbitz/mpi-go/native"
)

type callbackKey struct {
	kind   native.Kind
	keyval int
}

type callbacks struct {
	rt       *Runtime
	copyFn   native.AttrCopyFunc
	deleteFn native.AttrDeleteFunc
}

// registry maps keyvals to their Go callbacks. Entries outlive FreeKeyval
// because attributes cached under a freed keyval keep their delete callback;
// they are dropped by Finalize.
var registry sync.Map

func dropCallbacks(rt *Runtime) {
	registry.Range(func(k, v any) bool {
		if v.(*callbacks).rt == rt {
			registry.Delete(k)
		}
		return true
	})
}

func lookupCallbacks(kind C.int, keyval C.int) *callbacks {
	v, ok := registry.Load(callbackKey{native.Kind(kind), int(keyval)})
	if !ok {
		return nil
	}
	return v.(*callbacks)
}

//export goAttrCopy
func goAttrCopy(kind C.int, old C.MPI_Fint, keyval C.int, extra, in C.uintptr_t, out *C.uintptr_t, flag *C.int) C.int {
	*out, *flag = 0, 0
	cb := lookupCallbacks(kind, keyval)
	if cb == nil || cb.copyFn == nil {
		return C.MPI_SUCCESS
	}
	k := native.Kind(kind)
	v, keep, code := cb.copyFn(k, cb.rt.handle(k, old), int(keyval), uintptr(extra), uintptr(in))
	if code != native.Success {
		return codeOf(code)
	}
	if keep {
		*out, *flag = C.uintptr_t(v), 1
	}
	return C.MPI_SUCCESS
}

//export goAttrDelete
func goAttrDelete(kind C.int, h C.MPI_Fint, keyval C.int, value, extra C.uintptr_t) C.int {
	cb := lookupCallbacks(kind, keyval)
	if cb == nil || cb.deleteFn == nil {
		return C.MPI_SUCCESS
	}
	k := native.Kind(kind)
	return codeOf(cb.deleteFn(k, cb.rt.handle(k, h), int(keyval), uintptr(value), uintptr(extra)))
}

func (r *Runtime) CreateKeyval(kind native.Kind, copyFn native.AttrCopyFunc, deleteFn native.AttrDeleteFunc, extra uintptr) (int, native.Errno) {
	var keyval C.int
	if rc := C.gompi_create_keyval(C.int(kind), C.uintptr_t(extra), &keyval); rc != C.MPI_SUCCESS {
		return 0, errnoOf(rc)
	}
	registry.Store(callbackKey{kind, int(keyval)}, &callbacks{rt: r, copyFn: copyFn, deleteFn: deleteFn})
	return int(keyval), native.Success
}

func (r *Runtime) FreeKeyval(kind native.Kind, keyval int) native.Errno {
	return errnoOf(C.gompi_free_keyval(C.int(kind), C.int(keyval)))
}

func (r *Runtime) SetAttr(kind native.Kind, h native.Handle, keyval int, value uintptr) native.Errno {
	return errnoOf(C.gompi_set_attr(C.int(kind), r.fint(kind, h), C.int(keyval), C.uintptr_t(value)))
}

func (r *Runtime) GetAttr(kind native.Kind, h native.Handle, keyval int) (uintptr, bool, native.Errno) {
	var value C.uintptr_t
	var flag C.int
	rc := C.gompi_get_attr(C.int(kind), r.fint(kind, h), C.int(keyval), &value, &flag)
	if rc != C.MPI_SUCCESS || flag == 0 {
		return 0, false, errnoOf(rc)
	}
	return uintptr(value), true, native.Success
}

func (r *Runtime) DeleteAttr(kind native.Kind, h native.Handle, keyval int) native.Errno {
	return errnoOf(C.gompi_delete_attr(C.int(kind), r.fint(kind, h), C.int(keyval)))
}
