//go:build mpi && cgo

package capi

/*
#cgo !mpich pkg-config: ompi
#cgo mpich pkg-config: mpich
#include <stdlib.h>
#include "capi.h"
*/
import "C"

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/rocketbitz/mpi-go/native"
)

type pinKey struct {
	kind native.Kind
	h    native.Handle
}

// Runtime is a native.Runtime backed by the linked MPI library. Go memory
// the library retains past a call (nonblocking buffers, window memory, RMA
// origins until the closing fence) stays pinned until the owning handle
// completes or is freed.
type Runtime struct {
	mu    sync.Mutex
	pins  map[pinKey]*runtime.Pinner
	rma   map[native.Handle][]*runtime.Pinner
	nulls [native.KindRequest + 1]C.MPI_Fint

	world native.Handle
	self  native.Handle
	types map[native.BasicType]native.Handle
	ops   map[native.BasicOp]native.Handle
}

var _ native.Runtime = (*Runtime)(nil)

// New returns a runtime bound to the linked library. The library is not
// initialized until Init.
func New() *Runtime {
	return &Runtime{
		pins:  make(map[pinKey]*runtime.Pinner),
		rma:   make(map[native.Handle][]*runtime.Pinner),
		types: make(map[native.BasicType]native.Handle),
		ops:   make(map[native.BasicOp]native.Handle),
	}
}

// handle encodes a Fortran handle. Null handles of every kind map to
// native.Null.
func (r *Runtime) handle(kind native.Kind, f C.MPI_Fint) native.Handle {
	if f == r.nulls[kind] {
		return native.Null
	}
	return native.Handle(uint32(f)) + 1
}

func (r *Runtime) fint(kind native.Kind, h native.Handle) C.MPI_Fint {
	if h == native.Null {
		return r.nulls[kind]
	}
	return C.MPI_Fint(int32(uint32(h - 1)))
}

// Init initializes the library, switches the predefined communicators to
// return errors, and resolves every predefined handle.
func (r *Runtime) Init(required native.ThreadLevel) (native.ThreadLevel, native.Errno) {
	if err := EnsureRuntimeAtLeast(MinimumVersion); err != nil {
		return native.ThreadSingle, native.ErrNotSupported
	}
	var provided C.int
	if rc := C.gompi_init(C.int(required), &provided); rc != C.MPI_SUCCESS {
		return native.ThreadSingle, native.ErrOther
	}
	for kind := native.KindComm; kind <= native.KindRequest; kind++ {
		r.nulls[kind] = C.gompi_null(C.int(kind))
	}
	r.world = r.handle(native.KindComm, C.gompi_comm_world())
	r.self = r.handle(native.KindComm, C.gompi_comm_self())
	for _, bt := range native.BasicTypes() {
		r.types[bt] = r.handle(native.KindDatatype, C.gompi_basic_type(C.int(bt)))
	}
	for op := native.OpSum; op <= native.OpReplace; op++ {
		r.ops[op] = r.handle(native.KindOp, C.gompi_basic_op(C.int(op)))
	}
	return native.ThreadLevel(provided), native.Success
}

// Finalize shuts the library down and drops every pin and callback.
func (r *Runtime) Finalize() native.Errno {
	code := errnoOf(C.gompi_finalize())
	r.mu.Lock()
	for k, p := range r.pins {
		p.Unpin()
		delete(r.pins, k)
	}
	for w, ps := range r.rma {
		for _, p := range ps {
			p.Unpin()
		}
		delete(r.rma, w)
	}
	r.mu.Unlock()
	dropCallbacks(r)
	releaseOpSlot(r, native.Null)
	return code
}

// LibraryVersion returns the vendor string of the linked library.
func (r *Runtime) LibraryVersion() string { return LibraryVersion() }

func (r *Runtime) CommWorld() native.Handle { return r.world }

func (r *Runtime) CommSelf() native.Handle { return r.self }

func (r *Runtime) BasicDatatype(t native.BasicType) native.Handle { return r.types[t] }

func (r *Runtime) BasicOp(op native.BasicOp) native.Handle { return r.ops[op] }

// pin pins every Go pointer in ptrs. Sentinels and nil are skipped.
func pin(ptrs ...unsafe.Pointer) *runtime.Pinner {
	p := new(runtime.Pinner)
	for _, ptr := range ptrs {
		if ptr == nil || ptr == native.Bottom || ptr == native.InPlace {
			continue
		}
		p.Pin(ptr)
	}
	return p
}

func (r *Runtime) keep(kind native.Kind, h native.Handle, p *runtime.Pinner) {
	if h == native.Null {
		p.Unpin()
		return
	}
	r.mu.Lock()
	if old, ok := r.pins[pinKey{kind, h}]; ok {
		old.Unpin()
	}
	r.pins[pinKey{kind, h}] = p
	r.mu.Unlock()
}

func (r *Runtime) unpin(kind native.Kind, h native.Handle) {
	r.mu.Lock()
	if p, ok := r.pins[pinKey{kind, h}]; ok {
		p.Unpin()
		delete(r.pins, pinKey{kind, h})
	}
	if kind == native.KindWin {
		for _, p := range r.rma[h] {
			p.Unpin()
		}
		delete(r.rma, h)
	}
	r.mu.Unlock()
}

// addr substitutes the library's sentinels for native.Bottom and
// native.InPlace.
func addr(p unsafe.Pointer) unsafe.Pointer {
	switch p {
	case native.Bottom:
		return C.gompi_bottom()
	case native.InPlace:
		return C.gompi_in_place()
	}
	return p
}

func (r *Runtime) Free(kind native.Kind, h native.Handle) native.Errno {
	if h == native.Null {
		return native.ErrArg
	}
	code := errnoOf(C.gompi_free(C.int(kind), r.fint(kind, h)))
	if code == native.Success {
		switch kind {
		case native.KindRequest, native.KindWin:
			r.unpin(kind, h)
		case native.KindOp:
			releaseOpSlot(r, h)
		}
	}
	return code
}

func (r *Runtime) SetName(kind native.Kind, h native.Handle, name string) native.Errno {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return errnoOf(C.gompi_set_name(C.int(kind), r.fint(kind, h), cname))
}

func (r *Runtime) Name(kind native.Kind, h native.Handle) (string, native.Errno) {
	var buf [C.MPI_MAX_OBJECT_NAME]C.char
	var n C.int
	if rc := C.gompi_get_name(C.int(kind), r.fint(kind, h), &buf[0], &n); rc != C.MPI_SUCCESS {
		return "", errnoOf(rc)
	}
	return C.GoStringN(&buf[0], n), native.Success
}

func (r *Runtime) CommDup(comm native.Handle) (native.Handle, native.Errno) {
	var out C.MPI_Fint
	rc := C.gompi_comm_dup(r.fint(native.KindComm, comm), &out)
	return r.handle(native.KindComm, out), errnoOf(rc)
}

func (r *Runtime) CommSplit(comm native.Handle, color, key int) (native.Handle, native.Errno) {
	var out C.MPI_Fint
	rc := C.gompi_comm_split(r.fint(native.KindComm, comm), C.int(color), C.int(key), &out)
	return r.handle(native.KindComm, out), errnoOf(rc)
}

func (r *Runtime) CommRank(comm native.Handle) (int, native.Errno) {
	var rank C.int
	rc := C.gompi_comm_rank(r.fint(native.KindComm, comm), &rank)
	return int(rank), errnoOf(rc)
}

func (r *Runtime) CommSize(comm native.Handle) (int, native.Errno) {
	var size C.int
	rc := C.gompi_comm_size(r.fint(native.KindComm, comm), &size)
	return int(size), errnoOf(rc)
}

func (r *Runtime) InfoCreate() (native.Handle, native.Errno) {
	var out C.MPI_Fint
	rc := C.gompi_info_create(&out)
	return r.handle(native.KindInfo, out), errnoOf(rc)
}

func (r *Runtime) InfoDup(info native.Handle) (native.Handle, native.Errno) {
	var out C.MPI_Fint
	rc := C.gompi_info_dup(r.fint(native.KindInfo, info), &out)
	return r.handle(native.KindInfo, out), errnoOf(rc)
}

func (r *Runtime) InfoSet(info native.Handle, key, value string) native.Errno {
	ckey, cval := C.CString(key), C.CString(value)
	defer C.free(unsafe.Pointer(ckey))
	defer C.free(unsafe.Pointer(cval))
	return errnoOf(C.gompi_info_set(r.fint(native.KindInfo, info), ckey, cval))
}

func (r *Runtime) InfoGet(info native.Handle, key string) (string, bool, native.Errno) {
	ckey := C.CString(key)
	defer C.free(unsafe.Pointer(ckey))
	var buf [C.MPI_MAX_INFO_VAL + 1]C.char
	var flag C.int
	rc := C.gompi_info_get(r.fint(native.KindInfo, info), ckey, &buf[0], C.int(len(buf)), &flag)
	if rc != C.MPI_SUCCESS || flag == 0 {
		return "", false, errnoOf(rc)
	}
	return C.GoString(&buf[0]), true, native.Success
}
