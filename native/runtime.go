// Package native defines the boundary between the Go bindings and an MPI
// runtime. A Runtime exposes exactly one create and one free entry point per
// resource kind, the data-movement calls that consume (address, count,
// datatype) triplets, request completion, and attribute caching. Every call
// reports an Errno; callers check it immediately with ErrorFromStatus.
package native

import "unsafe"

// AttrCopyFunc is the fixed callback a runtime invokes for every attribute
// cached on a resource that is being duplicated. Returning keep=false skips
// the attribute; a non-success code aborts the duplication.
type AttrCopyFunc func(kind Kind, old Handle, keyval int, extra, value uintptr) (out uintptr, keep bool, code Errno)

// AttrDeleteFunc is the fixed callback a runtime invokes when an attribute is
// deleted, overwritten, or its resource is freed.
type AttrDeleteFunc func(kind Kind, h Handle, keyval int, value, extra uintptr) Errno

// UserOpFunc is the callback a runtime invokes for a user-defined operator.
// It combines count elements of dt from in into inout.
type UserOpFunc func(in, inout unsafe.Pointer, count int, dt Handle)

// Runtime is implemented by MPI runtimes.
type Runtime interface {
	Init(required ThreadLevel) (ThreadLevel, Errno)
	Finalize() Errno

	CommWorld() Handle
	CommSelf() Handle
	BasicDatatype(t BasicType) Handle
	BasicOp(op BasicOp) Handle
	OpCreate(fn UserOpFunc, commute bool) (Handle, Errno)

	// Free releases any non-predefined handle of the given kind.
	Free(kind Kind, h Handle) Errno
	SetName(kind Kind, h Handle, name string) Errno
	Name(kind Kind, h Handle) (string, Errno)

	CommDup(comm Handle) (Handle, Errno)
	CommSplit(comm Handle, color, key int) (Handle, Errno)
	CommRank(comm Handle) (int, Errno)
	CommSize(comm Handle) (int, Errno)

	TypeContiguous(count int, old Handle) (Handle, Errno)
	TypeVector(count, blocklen, stride int, old Handle) (Handle, Errno)
	TypeStruct(blocklens []int, displs []int64, types []Handle) (Handle, Errno)
	TypeResized(old Handle, lb, extent int64) (Handle, Errno)
	TypeDup(old Handle) (Handle, Errno)
	TypeCommit(dt Handle) Errno
	TypeSize(dt Handle) (int, Errno)
	TypeExtent(dt Handle) (lb, extent int64, code Errno)

	InfoCreate() (Handle, Errno)
	InfoDup(info Handle) (Handle, Errno)
	InfoSet(info Handle, key, value string) Errno
	InfoGet(info Handle, key string) (string, bool, Errno)

	Send(buf unsafe.Pointer, count int, dt Handle, dest, tag int, comm Handle) Errno
	Recv(buf unsafe.Pointer, count int, dt Handle, source, tag int, comm Handle) (Status, Errno)
	Isend(buf unsafe.Pointer, count int, dt Handle, dest, tag int, comm Handle) (Handle, Errno)
	Irecv(buf unsafe.Pointer, count int, dt Handle, source, tag int, comm Handle) (Handle, Errno)
	SendInit(buf unsafe.Pointer, count int, dt Handle, dest, tag int, comm Handle) (Handle, Errno)
	RecvInit(buf unsafe.Pointer, count int, dt Handle, source, tag int, comm Handle) (Handle, Errno)
	Start(req Handle) Errno

	Barrier(comm Handle) Errno
	Ibarrier(comm Handle) (Handle, Errno)
	Bcast(buf unsafe.Pointer, count int, dt Handle, root int, comm Handle) Errno
	Allreduce(sendbuf, recvbuf unsafe.Pointer, count int, dt, op, comm Handle) Errno
	// ReduceLocal computes inout = in op inout elementwise on the caller.
	ReduceLocal(in, inout unsafe.Pointer, count int, dt, op Handle) Errno

	// Wait and Test set *req to Null when a one-shot request completes and
	// leave persistent requests allocated but inactive.
	Wait(req *Handle) (Status, Errno)
	Test(req *Handle) (bool, Status, Errno)
	RequestStatus(req Handle) (bool, Status, Errno)
	Cancel(req Handle) Errno
	Waitany(reqs []Handle) (int, Status, Errno)
	Testany(reqs []Handle) (int, bool, Status, Errno)
	Waitall(reqs []Handle, statuses []Status) Errno
	Testall(reqs []Handle, statuses []Status) (bool, Errno)
	Waitsome(reqs []Handle, indices []int, statuses []Status) (int, Errno)
	Testsome(reqs []Handle, indices []int, statuses []Status) (int, Errno)

	CreateKeyval(kind Kind, copyFn AttrCopyFunc, deleteFn AttrDeleteFunc, extra uintptr) (int, Errno)
	FreeKeyval(kind Kind, keyval int) Errno
	SetAttr(kind Kind, h Handle, keyval int, value uintptr) Errno
	GetAttr(kind Kind, h Handle, keyval int) (uintptr, bool, Errno)
	DeleteAttr(kind Kind, h Handle, keyval int) Errno

	WinCreate(base unsafe.Pointer, size int64, dispUnit int, info, comm Handle) (Handle, Errno)
	Put(origin unsafe.Pointer, count int, dt Handle, target int, disp int64, tcount int, tdt Handle, win Handle) Errno
	Get(origin unsafe.Pointer, count int, dt Handle, target int, disp int64, tcount int, tdt Handle, win Handle) Errno
	WinFence(assert int, win Handle) Errno
}
