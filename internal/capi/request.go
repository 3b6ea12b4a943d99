//go:build mpi && cgo

package capi

/*
#cgo !mpich pkg-config: ompi
#cgo mpich pkg-config: mpich
#include "capi.h"
*/
import "C"

import "github.com/rocketbitz/mpi-go/native"

// completed unpins the request when the library released it.
func (r *Runtime) completed(before native.Handle, after C.MPI_Fint) native.Handle {
	h := r.handle(native.KindRequest, after)
	if before != native.Null && h == native.Null {
		r.unpin(native.KindRequest, before)
	}
	return h
}

func (r *Runtime) Wait(req *native.Handle) (native.Status, native.Errno) {
	f := r.fint(native.KindRequest, *req)
	var st C.gompi_status
	rc := C.gompi_wait(&f, &st)
	*req = r.completed(*req, f)
	return r.status(st), errnoOf(rc)
}

func (r *Runtime) Test(req *native.Handle) (bool, native.Status, native.Errno) {
	f := r.fint(native.KindRequest, *req)
	var flag C.int
	var st C.gompi_status
	rc := C.gompi_test(&f, &flag, &st)
	*req = r.completed(*req, f)
	if flag == 0 {
		return false, native.EmptyStatus, errnoOf(rc)
	}
	return true, r.status(st), errnoOf(rc)
}

func (r *Runtime) RequestStatus(req native.Handle) (bool, native.Status, native.Errno) {
	var flag C.int
	var st C.gompi_status
	rc := C.gompi_request_get_status(r.fint(native.KindRequest, req), &flag, &st)
	if flag == 0 {
		return false, native.EmptyStatus, errnoOf(rc)
	}
	return true, r.status(st), errnoOf(rc)
}

func (r *Runtime) Cancel(req native.Handle) native.Errno {
	return errnoOf(C.gompi_cancel(r.fint(native.KindRequest, req)))
}

// requestArray converts reqs for a multi-completion call. The returned
// pointer is nil for an empty set.
func (r *Runtime) requestArray(reqs []native.Handle) ([]C.MPI_Fint, *C.MPI_Fint) {
	out := make([]C.MPI_Fint, len(reqs))
	for i, h := range reqs {
		out[i] = r.fint(native.KindRequest, h)
	}
	if len(out) == 0 {
		return out, nil
	}
	return out, &out[0]
}

func (r *Runtime) storeArray(reqs []native.Handle, fs []C.MPI_Fint) {
	for i := range reqs {
		reqs[i] = r.completed(reqs[i], fs[i])
	}
}

func statusArray(n int) ([]C.gompi_status, *C.gompi_status) {
	out := make([]C.gompi_status, n)
	if n == 0 {
		return out, nil
	}
	return out, &out[0]
}

func (r *Runtime) Waitany(reqs []native.Handle) (int, native.Status, native.Errno) {
	fs, p := r.requestArray(reqs)
	var idx C.int
	var st C.gompi_status
	rc := C.gompi_waitany(C.int(len(reqs)), p, &idx, &st)
	r.storeArray(reqs, fs)
	if int(idx) == native.Undefined {
		return native.Undefined, native.EmptyStatus, errnoOf(rc)
	}
	return int(idx), r.status(st), errnoOf(rc)
}

func (r *Runtime) Testany(reqs []native.Handle) (int, bool, native.Status, native.Errno) {
	fs, p := r.requestArray(reqs)
	var idx, flag C.int
	var st C.gompi_status
	rc := C.gompi_testany(C.int(len(reqs)), p, &idx, &flag, &st)
	r.storeArray(reqs, fs)
	if flag == 0 || int(idx) == native.Undefined {
		return native.Undefined, flag != 0, native.EmptyStatus, errnoOf(rc)
	}
	return int(idx), true, r.status(st), errnoOf(rc)
}

func (r *Runtime) copyStatuses(dst []native.Status, src []C.gompi_status) {
	for i := range src {
		if i < len(dst) {
			dst[i] = r.status(src[i])
		}
	}
}

func (r *Runtime) Waitall(reqs []native.Handle, statuses []native.Status) native.Errno {
	fs, p := r.requestArray(reqs)
	sts, sp := statusArray(len(reqs))
	rc := C.gompi_waitall(C.int(len(reqs)), p, sp)
	r.storeArray(reqs, fs)
	r.copyStatuses(statuses, sts)
	return errnoOf(rc)
}

func (r *Runtime) Testall(reqs []native.Handle, statuses []native.Status) (bool, native.Errno) {
	fs, p := r.requestArray(reqs)
	sts, sp := statusArray(len(reqs))
	var flag C.int
	rc := C.gompi_testall(C.int(len(reqs)), p, &flag, sp)
	r.storeArray(reqs, fs)
	if flag == 0 {
		return false, errnoOf(rc)
	}
	r.copyStatuses(statuses, sts)
	return true, errnoOf(rc)
}

type someCall func(n C.int, reqs *C.MPI_Fint, outcount *C.int, indices *C.int, sts *C.gompi_status) C.int

func (r *Runtime) some(call someCall, reqs []native.Handle, indices []int, statuses []native.Status) (int, native.Errno) {
	fs, p := r.requestArray(reqs)
	sts, sp := statusArray(len(reqs))
	idx := make([]C.int, len(reqs))
	var ip *C.int
	if len(idx) > 0 {
		ip = &idx[0]
	}
	var out C.int
	rc := call(C.int(len(reqs)), p, &out, ip, sp)
	r.storeArray(reqs, fs)
	n := int(out)
	if n == native.Undefined {
		return native.Undefined, errnoOf(rc)
	}
	for i := 0; i < n && i < len(indices); i++ {
		indices[i] = int(idx[i])
	}
	r.copyStatuses(statuses, sts[:n])
	return n, errnoOf(rc)
}

func (r *Runtime) Waitsome(reqs []native.Handle, indices []int, statuses []native.Status) (int, native.Errno) {
	return r.some(func(n C.int, q *C.MPI_Fint, o *C.int, i *C.int, s *C.gompi_status) C.int {
		return C.gompi_waitsome(n, q, o, i, s)
	}, reqs, indices, statuses)
}

func (r *Runtime) Testsome(reqs []native.Handle, indices []int, statuses []native.Status) (int, native.Errno) {
	return r.some(func(n C.int, q *C.MPI_Fint, o *C.int, i *C.int, s *C.gompi_status) C.int {
		return C.gompi_testsome(n, q, o, i, s)
	}, reqs, indices, statuses)
}
