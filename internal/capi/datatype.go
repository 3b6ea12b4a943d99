//go:build mpi && cgo

package capi

/*
#cgo !mpich pkg-config: ompi
#cgo mpich pkg-config: mpich
#include "capi.h"
*/
import "C"

import "github.com/rocketbitz/mpi-go/native"

func (r *Runtime) newType(rc C.int, out C.MPI_Fint) (native.Handle, native.Errno) {
	if rc != C.MPI_SUCCESS {
		return native.Null, errnoOf(rc)
	}
	return r.handle(native.KindDatatype, out), native.Success
}

func (r *Runtime) TypeContiguous(count int, old native.Handle) (native.Handle, native.Errno) {
	var out C.MPI_Fint
	rc := C.gompi_type_contiguous(C.int(count), r.fint(native.KindDatatype, old), &out)
	return r.newType(rc, out)
}

func (r *Runtime) TypeVector(count, blocklen, stride int, old native.Handle) (native.Handle, native.Errno) {
	var out C.MPI_Fint
	rc := C.gompi_type_vector(C.int(count), C.int(blocklen), C.int(stride), r.fint(native.KindDatatype, old), &out)
	return r.newType(rc, out)
}

func (r *Runtime) TypeStruct(blocklens []int, displs []int64, types []native.Handle) (native.Handle, native.Errno) {
	n := len(types)
	if len(blocklens) != n || len(displs) != n {
		return native.Null, native.ErrArg
	}
	if n == 0 {
		return native.Null, native.ErrCount
	}
	cl := make([]C.int, n)
	cd := make([]C.longlong, n)
	ct := make([]C.MPI_Fint, n)
	for i := range types {
		cl[i] = C.int(blocklens[i])
		cd[i] = C.longlong(displs[i])
		ct[i] = r.fint(native.KindDatatype, types[i])
	}
	var out C.MPI_Fint
	rc := C.gompi_type_struct(C.int(n), &cl[0], &cd[0], &ct[0], &out)
	return r.newType(rc, out)
}

func (r *Runtime) TypeResized(old native.Handle, lb, extent int64) (native.Handle, native.Errno) {
	var out C.MPI_Fint
	rc := C.gompi_type_resized(r.fint(native.KindDatatype, old), C.longlong(lb), C.longlong(extent), &out)
	return r.newType(rc, out)
}

// TypeDup runs the copy callbacks of every attribute cached on old.
func (r *Runtime) TypeDup(old native.Handle) (native.Handle, native.Errno) {
	var out C.MPI_Fint
	rc := C.gompi_type_dup(r.fint(native.KindDatatype, old), &out)
	return r.newType(rc, out)
}

func (r *Runtime) TypeCommit(dt native.Handle) native.Errno {
	return errnoOf(C.gompi_type_commit(r.fint(native.KindDatatype, dt)))
}

func (r *Runtime) TypeSize(dt native.Handle) (int, native.Errno) {
	var size C.int
	rc := C.gompi_type_size(r.fint(native.KindDatatype, dt), &size)
	return int(size), errnoOf(rc)
}

func (r *Runtime) TypeExtent(dt native.Handle) (int64, int64, native.Errno) {
	var lb, extent C.longlong
	rc := C.gompi_type_extent(r.fint(native.KindDatatype, dt), &lb, &extent)
	return int64(lb), int64(extent), errnoOf(rc)
}
