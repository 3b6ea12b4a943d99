package loopback

import (
	"unsafe"

	"github.com/rocketbitz/mpi-go/native"
)

type message struct {
	comm   native.Handle
	source int
	tag    int
	data   []byte
}

type reqKind uint8

const (
	reqSend reqKind = iota + 1
	reqRecv
	reqBarrier
	reqGeneric
)

type request struct {
	handle     native.Handle
	kind       reqKind
	persistent bool
	active     bool
	complete   bool
	status     native.Status

	buf   unsafe.Pointer
	count int
	dtype *typeInfo
	peer  int
	tag   int
	comm  native.Handle
}

func (q *request) matches(msg *message) bool {
	if q.comm != msg.comm {
		return false
	}
	if q.peer != native.AnySource && q.peer != msg.source {
		return false
	}
	return q.tag == native.AnyTag || q.tag == msg.tag
}

// fill copies msg into the receive buffer and records the status. Payloads
// larger than the buffer are truncated and flagged with ErrTruncate.
func (q *request) fill(msg *message) {
	data := msg.data
	code := native.Success
	if capacity := q.count * q.dtype.size; len(data) > capacity {
		data = data[:capacity]
		code = native.ErrTruncate
	}
	n := 0
	if len(data) > 0 {
		n = q.dtype.unpack(q.buf, q.count, data)
	}
	q.status = native.Status{Source: msg.source, Tag: msg.tag, Err: code, Bytes: n}
	q.complete = true
}

type p2pArgs struct {
	buf   unsafe.Pointer
	count int
	dt    native.Handle
	peer  int
	tag   int
	comm  native.Handle
}

// validateLocked checks a point-to-point argument list and resolves the
// datatype. Receives accept AnySource and AnyTag.
func (r *Runtime) validateLocked(a p2pArgs, recv bool) (*typeInfo, native.Errno) {
	if code := r.checkLocked(); code != native.Success {
		return nil, code
	}
	if _, code := r.lookupLocked(native.KindComm, a.comm); code != native.Success {
		return nil, code
	}
	info, code := r.typeLocked(a.dt)
	if code != native.Success {
		return nil, code
	}
	if a.count < 0 {
		return nil, native.ErrCount
	}
	if a.count > 0 && info.size > 0 && a.buf == nil {
		return nil, native.ErrBuffer
	}
	switch {
	case a.peer == native.ProcNull || a.peer == 0:
	case recv && a.peer == native.AnySource:
	default:
		return nil, native.ErrRank
	}
	if a.tag < 0 && !(recv && a.tag == native.AnyTag) {
		return nil, native.ErrTag
	}
	return info, native.Success
}

func (r *Runtime) deliverLocked(msg *message) {
	for i, q := range r.pending {
		if q.matches(msg) {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			q.fill(msg)
			r.cond.Broadcast()
			return
		}
	}
	r.mailbox = append(r.mailbox, msg)
	r.cond.Broadcast()
}

func (r *Runtime) takeLocked(q *request) bool {
	for i, msg := range r.mailbox {
		if q.matches(msg) {
			r.mailbox = append(r.mailbox[:i], r.mailbox[i+1:]...)
			q.fill(msg)
			return true
		}
	}
	return false
}

func (r *Runtime) dropPendingLocked(q *request) {
	for i, p := range r.pending {
		if p == q {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

func (r *Runtime) sendLocked(info *typeInfo, a p2pArgs) {
	if a.peer == native.ProcNull {
		return
	}
	r.deliverLocked(&message{comm: a.comm, source: 0, tag: a.tag, data: info.pack(a.buf, a.count)})
}

// postRecvLocked tries to match a receive against queued messages and parks
// it otherwise.
func (r *Runtime) postRecvLocked(q *request) {
	if q.peer == native.ProcNull {
		q.status = native.Status{Source: native.ProcNull, Tag: native.AnyTag}
		q.complete = true
		return
	}
	if !r.takeLocked(q) {
		r.pending = append(r.pending, q)
	}
}

func (r *Runtime) Send(buf unsafe.Pointer, count int, dt native.Handle, dest, tag int, comm native.Handle) native.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := p2pArgs{buf: buf, count: count, dt: dt, peer: dest, tag: tag, comm: comm}
	info, code := r.validateLocked(a, false)
	if code != native.Success {
		return code
	}
	r.sendLocked(info, a)
	return native.Success
}

// Recv blocks until a matching message is queued.
func (r *Runtime) Recv(buf unsafe.Pointer, count int, dt native.Handle, source, tag int, comm native.Handle) (native.Status, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := p2pArgs{buf: buf, count: count, dt: dt, peer: source, tag: tag, comm: comm}
	info, code := r.validateLocked(a, true)
	if code != native.Success {
		return native.EmptyStatus, code
	}
	q := &request{kind: reqRecv, buf: buf, count: count, dtype: info, peer: source, tag: tag, comm: comm}
	if source == native.ProcNull {
		return native.Status{Source: native.ProcNull, Tag: native.AnyTag}, native.Success
	}
	for !r.takeLocked(q) {
		if r.finalized {
			return native.EmptyStatus, native.ErrOther
		}
		r.cond.Wait()
	}
	return q.status, q.status.Err
}

func (r *Runtime) Isend(buf unsafe.Pointer, count int, dt native.Handle, dest, tag int, comm native.Handle) (native.Handle, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := p2pArgs{buf: buf, count: count, dt: dt, peer: dest, tag: tag, comm: comm}
	info, code := r.validateLocked(a, false)
	if code != native.Success {
		return native.Null, code
	}
	r.sendLocked(info, a)
	q := &request{kind: reqSend, active: true, complete: true, status: native.Status{Source: native.AnySource, Tag: native.AnyTag}}
	return r.newRequestLocked(q), native.Success
}

func (r *Runtime) Irecv(buf unsafe.Pointer, count int, dt native.Handle, source, tag int, comm native.Handle) (native.Handle, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := p2pArgs{buf: buf, count: count, dt: dt, peer: source, tag: tag, comm: comm}
	info, code := r.validateLocked(a, true)
	if code != native.Success {
		return native.Null, code
	}
	q := &request{kind: reqRecv, active: true, buf: buf, count: count, dtype: info, peer: source, tag: tag, comm: comm}
	h := r.newRequestLocked(q)
	r.postRecvLocked(q)
	return h, native.Success
}

func (r *Runtime) SendInit(buf unsafe.Pointer, count int, dt native.Handle, dest, tag int, comm native.Handle) (native.Handle, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := p2pArgs{buf: buf, count: count, dt: dt, peer: dest, tag: tag, comm: comm}
	info, code := r.validateLocked(a, false)
	if code != native.Success {
		return native.Null, code
	}
	q := &request{kind: reqSend, persistent: true, buf: buf, count: count, dtype: info, peer: dest, tag: tag, comm: comm}
	return r.newRequestLocked(q), native.Success
}

func (r *Runtime) RecvInit(buf unsafe.Pointer, count int, dt native.Handle, source, tag int, comm native.Handle) (native.Handle, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := p2pArgs{buf: buf, count: count, dt: dt, peer: source, tag: tag, comm: comm}
	info, code := r.validateLocked(a, true)
	if code != native.Success {
		return native.Null, code
	}
	q := &request{kind: reqRecv, persistent: true, buf: buf, count: count, dtype: info, peer: source, tag: tag, comm: comm}
	return r.newRequestLocked(q), native.Success
}

// Start activates an inactive persistent request.
func (r *Runtime) Start(req native.Handle) native.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return code
	}
	obj, code := r.lookupLocked(native.KindRequest, req)
	if code != native.Success {
		return code
	}
	q := obj.req
	if !q.persistent || q.active {
		return native.ErrRequest
	}
	q.active = true
	q.complete = false
	q.status = native.EmptyStatus
	switch q.kind {
	case reqSend:
		r.sendLocked(q.dtype, p2pArgs{buf: q.buf, count: q.count, peer: q.peer, tag: q.tag, comm: q.comm})
		q.complete = true
	case reqRecv:
		r.postRecvLocked(q)
	}
	return native.Success
}

func (r *Runtime) Barrier(comm native.Handle) native.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return code
	}
	_, code := r.lookupLocked(native.KindComm, comm)
	return code
}

func (r *Runtime) Ibarrier(comm native.Handle) (native.Handle, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Null, code
	}
	if _, code := r.lookupLocked(native.KindComm, comm); code != native.Success {
		return native.Null, code
	}
	q := &request{kind: reqBarrier, active: true, complete: true, status: native.Status{Source: native.AnySource, Tag: native.AnyTag}}
	return r.newRequestLocked(q), native.Success
}

// Bcast is the identity on a single rank.
func (r *Runtime) Bcast(buf unsafe.Pointer, count int, dt native.Handle, root int, comm native.Handle) native.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return code
	}
	if _, code := r.lookupLocked(native.KindComm, comm); code != native.Success {
		return code
	}
	if _, code := r.typeLocked(dt); code != native.Success {
		return code
	}
	if root != 0 {
		return native.ErrRoot
	}
	if count < 0 {
		return native.ErrCount
	}
	return native.Success
}

// Allreduce over a single rank copies sendbuf into recvbuf.
func (r *Runtime) Allreduce(sendbuf, recvbuf unsafe.Pointer, count int, dt, op, comm native.Handle) native.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return code
	}
	if _, code := r.lookupLocked(native.KindComm, comm); code != native.Success {
		return code
	}
	if _, code := r.lookupLocked(native.KindOp, op); code != native.Success {
		return code
	}
	info, code := r.typeLocked(dt)
	if code != native.Success {
		return code
	}
	if count < 0 {
		return native.ErrCount
	}
	if recvbuf == native.InPlace || (count > 0 && recvbuf == nil) {
		return native.ErrBuffer
	}
	if sendbuf == native.InPlace || count == 0 {
		return native.Success
	}
	if sendbuf == nil {
		return native.ErrBuffer
	}
	info.unpack(recvbuf, count, info.pack(sendbuf, count))
	return native.Success
}
