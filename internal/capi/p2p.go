//go:build mpi && cgo

package capi

/*
#cgo !mpich pkg-config: ompi
#cgo mpich pkg-config: mpich
#include "capi.h"
*/
import "C"

import (
	"unsafe"

	"github.com/rocketbitz/mpi-go/native"
)

func (r *Runtime) status(s C.gompi_status) native.Status {
	return native.Status{
		Source:    int(s.source),
		Tag:       int(s.tag),
		Err:       errnoOf(s.error),
		Cancelled: s.cancelled != 0,
		Bytes:     int(s.bytes),
	}
}

func (r *Runtime) Send(buf unsafe.Pointer, count int, dt native.Handle, dest, tag int, comm native.Handle) native.Errno {
	return errnoOf(C.gompi_send(addr(buf), C.int(count), r.fint(native.KindDatatype, dt), C.int(dest), C.int(tag), r.fint(native.KindComm, comm)))
}

func (r *Runtime) Recv(buf unsafe.Pointer, count int, dt native.Handle, source, tag int, comm native.Handle) (native.Status, native.Errno) {
	var st C.gompi_status
	rc := C.gompi_recv(addr(buf), C.int(count), r.fint(native.KindDatatype, dt), C.int(source), C.int(tag), r.fint(native.KindComm, comm), &st)
	return r.status(st), errnoOf(rc)
}

type startFunc func(buf unsafe.Pointer, count C.int, dt C.MPI_Fint, peer, tag C.int, comm C.MPI_Fint, req *C.MPI_Fint) C.int

// post starts a request over buf and keeps buf pinned until the request
// completes or is freed.
func (r *Runtime) post(fn startFunc, buf unsafe.Pointer, count int, dt native.Handle, peer, tag int, comm native.Handle) (native.Handle, native.Errno) {
	p := pin(buf)
	var req C.MPI_Fint
	rc := fn(addr(buf), C.int(count), r.fint(native.KindDatatype, dt), C.int(peer), C.int(tag), r.fint(native.KindComm, comm), &req)
	if rc != C.MPI_SUCCESS {
		p.Unpin()
		return native.Null, errnoOf(rc)
	}
	h := r.handle(native.KindRequest, req)
	r.keep(native.KindRequest, h, p)
	return h, native.Success
}

func (r *Runtime) Isend(buf unsafe.Pointer, count int, dt native.Handle, dest, tag int, comm native.Handle) (native.Handle, native.Errno) {
	return r.post(func(b unsafe.Pointer, n C.int, d C.MPI_Fint, p, t C.int, c C.MPI_Fint, q *C.MPI_Fint) C.int {
		return C.gompi_isend(b, n, d, p, t, c, q)
	}, buf, count, dt, dest, tag, comm)
}

func (r *Runtime) Irecv(buf unsafe.Pointer, count int, dt native.Handle, source, tag int, comm native.Handle) (native.Handle, native.Errno) {
	return r.post(func(b unsafe.Pointer, n C.int, d C.MPI_Fint, p, t C.int, c C.MPI_Fint, q *C.MPI_Fint) C.int {
		return C.gompi_irecv(b, n, d, p, t, c, q)
	}, buf, count, dt, source, tag, comm)
}

func (r *Runtime) SendInit(buf unsafe.Pointer, count int, dt native.Handle, dest, tag int, comm native.Handle) (native.Handle, native.Errno) {
	return r.post(func(b unsafe.Pointer, n C.int, d C.MPI_Fint, p, t C.int, c C.MPI_Fint, q *C.MPI_Fint) C.int {
		return C.gompi_send_init(b, n, d, p, t, c, q)
	}, buf, count, dt, dest, tag, comm)
}

func (r *Runtime) RecvInit(buf unsafe.Pointer, count int, dt native.Handle, source, tag int, comm native.Handle) (native.Handle, native.Errno) {
	return r.post(func(b unsafe.Pointer, n C.int, d C.MPI_Fint, p, t C.int, c C.MPI_Fint, q *C.MPI_Fint) C.int {
		return C.gompi_recv_init(b, n, d, p, t, c, q)
	}, buf, count, dt, source, tag, comm)
}

func (r *Runtime) Start(req native.Handle) native.Errno {
	f := r.fint(native.KindRequest, req)
	return errnoOf(C.gompi_start(&f))
}

func (r *Runtime) Barrier(comm native.Handle) native.Errno {
	return errnoOf(C.gompi_barrier(r.fint(native.KindComm, comm)))
}

func (r *Runtime) Ibarrier(comm native.Handle) (native.Handle, native.Errno) {
	var req C.MPI_Fint
	rc := C.gompi_ibarrier(r.fint(native.KindComm, comm), &req)
	if rc != C.MPI_SUCCESS {
		return native.Null, errnoOf(rc)
	}
	return r.handle(native.KindRequest, req), native.Success
}

func (r *Runtime) Bcast(buf unsafe.Pointer, count int, dt native.Handle, root int, comm native.Handle) native.Errno {
	return errnoOf(C.gompi_bcast(addr(buf), C.int(count), r.fint(native.KindDatatype, dt), C.int(root), r.fint(native.KindComm, comm)))
}

func (r *Runtime) Allreduce(sendbuf, recvbuf unsafe.Pointer, count int, dt, op, comm native.Handle) native.Errno {
	return errnoOf(C.gompi_allreduce(addr(sendbuf), addr(recvbuf), C.int(count),
		r.fint(native.KindDatatype, dt), r.fint(native.KindOp, op), r.fint(native.KindComm, comm)))
}

// WinCreate keeps base pinned until the window is freed.
func (r *Runtime) WinCreate(base unsafe.Pointer, size int64, dispUnit int, info, comm native.Handle) (native.Handle, native.Errno) {
	p := pin(base)
	var out C.MPI_Fint
	rc := C.gompi_win_create(base, C.longlong(size), C.int(dispUnit), r.fint(native.KindInfo, info), r.fint(native.KindComm, comm), &out)
	if rc != C.MPI_SUCCESS {
		p.Unpin()
		return native.Null, errnoOf(rc)
	}
	h := r.handle(native.KindWin, out)
	r.keep(native.KindWin, h, p)
	return h, native.Success
}

// rma issues a one-sided transfer. The origin buffer stays pinned until the
// next fence on win.
func (r *Runtime) rma(put bool, origin unsafe.Pointer, count int, dt native.Handle, target int, disp int64, tcount int, tdt native.Handle, win native.Handle) native.Errno {
	p := pin(origin)
	var rc C.int
	if put {
		rc = C.gompi_put(addr(origin), C.int(count), r.fint(native.KindDatatype, dt), C.int(target), C.longlong(disp),
			C.int(tcount), r.fint(native.KindDatatype, tdt), r.fint(native.KindWin, win))
	} else {
		rc = C.gompi_get(addr(origin), C.int(count), r.fint(native.KindDatatype, dt), C.int(target), C.longlong(disp),
			C.int(tcount), r.fint(native.KindDatatype, tdt), r.fint(native.KindWin, win))
	}
	if rc != C.MPI_SUCCESS {
		p.Unpin()
		return errnoOf(rc)
	}
	r.mu.Lock()
	r.rma[win] = append(r.rma[win], p)
	r.mu.Unlock()
	return native.Success
}

func (r *Runtime) Put(origin unsafe.Pointer, count int, dt native.Handle, target int, disp int64, tcount int, tdt native.Handle, win native.Handle) native.Errno {
	return r.rma(true, origin, count, dt, target, disp, tcount, tdt, win)
}

func (r *Runtime) Get(origin unsafe.Pointer, count int, dt native.Handle, target int, disp int64, tcount int, tdt native.Handle, win native.Handle) native.Errno {
	return r.rma(false, origin, count, dt, target, disp, tcount, tdt, win)
}

// WinFence completes every transfer of the epoch and releases their origin
// buffers.
func (r *Runtime) WinFence(assert int, win native.Handle) native.Errno {
	rc := C.gompi_win_fence(C.int(assert), r.fint(native.KindWin, win))
	if rc != C.MPI_SUCCESS {
		return errnoOf(rc)
	}
	r.mu.Lock()
	for _, p := range r.rma[win] {
		p.Unpin()
	}
	delete(r.rma, win)
	r.mu.Unlock()
	return native.Success
}
