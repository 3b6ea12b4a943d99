package mpi

import (
	"unsafe"

	"github.com/rocketbitz/mpi-go/native"
)

// Comm is a communicator. World and Self are obtained from the Environment;
// communicators built by Dup or Split are freed by their last Release.
type Comm struct {
	h OwnedHandle
}

func (c *Comm) resolve() (native.Runtime, native.Handle, error) {
	if c == nil {
		return nil, native.Null, ErrInvalidHandle{"communicator"}
	}
	raw := c.h.Raw()
	if raw == native.Null {
		return nil, native.Null, ErrInvalidHandle{"communicator"}
	}
	return c.h.Runtime(), raw, nil
}

// Raw returns the native handle.
func (c *Comm) Raw() native.Handle {
	if c == nil {
		return native.Null
	}
	return c.h.Raw()
}

// Handle exposes the underlying OwnedHandle.
func (c *Comm) Handle() *OwnedHandle {
	if c == nil {
		return nil
	}
	return &c.h
}

// Rank returns the rank of the calling process.
func (c *Comm) Rank() (int, error) {
	rt, raw, err := c.resolve()
	if err != nil {
		return 0, err
	}
	rank, code := rt.CommRank(raw)
	return rank, native.ErrorFromStatus(code, "MPI_Comm_rank")
}

// Size returns the number of processes in the communicator.
func (c *Comm) Size() (int, error) {
	rt, raw, err := c.resolve()
	if err != nil {
		return 0, err
	}
	size, code := rt.CommSize(raw)
	return size, native.ErrorFromStatus(code, "MPI_Comm_size")
}

// Dup duplicates the communicator, running the copy closure of every
// attribute cached on it. A failing copy closure is returned as a
// *CallbackError and no communicator is created.
func (c *Comm) Dup() (*Comm, error) {
	rt, raw, err := c.resolve()
	if err != nil {
		return nil, err
	}
	span := startSpan("mpi.Comm.Dup")
	var dup native.Handle
	err = callWithCallbacks("MPI_Comm_dup", func() native.Errno {
		var code native.Errno
		dup, code = rt.CommDup(raw)
		return code
	})
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	return &Comm{h: NewOwnedHandle(rt, native.KindComm, dup, Owned)}, nil
}

// Split partitions the communicator by color, ordering ranks by key. A
// process passing native.Undefined as color receives a nil Comm.
func (c *Comm) Split(color, key int) (*Comm, error) {
	rt, raw, err := c.resolve()
	if err != nil {
		return nil, err
	}
	h, code := rt.CommSplit(raw, color, key)
	if err := native.ErrorFromStatus(code, "MPI_Comm_split"); err != nil {
		return nil, err
	}
	if h == native.Null {
		return nil, nil
	}
	return &Comm{h: NewOwnedHandle(rt, native.KindComm, h, Owned)}, nil
}

// Name returns the communicator name.
func (c *Comm) Name() (string, error) {
	rt, raw, err := c.resolve()
	if err != nil {
		return "", err
	}
	name, code := rt.Name(native.KindComm, raw)
	return name, native.ErrorFromStatus(code, "MPI_Comm_get_name")
}

// SetName records a communicator name.
func (c *Comm) SetName(name string) error {
	rt, raw, err := c.resolve()
	if err != nil {
		return err
	}
	return native.ErrorFromStatus(rt.SetName(native.KindComm, raw, name), "MPI_Comm_set_name")
}

// Clone returns a new reference to the same communicator.
func (c *Comm) Clone() *Comm {
	if c == nil {
		return nil
	}
	return &Comm{h: c.h.Clone()}
}

// Free releases the communicator now. Other references observe Null.
func (c *Comm) Free() error {
	if c == nil {
		return nil
	}
	return c.h.Free()
}

// Release drops this reference; the last reference frees the communicator.
func (c *Comm) Release() {
	if c == nil {
		return
	}
	c.h.Release()
}

// Send transfers buf to dest and blocks until the buffer may be reused.
func (c *Comm) Send(buf Buffer, dest, tag int) error {
	rt, raw, err := c.resolve()
	if err != nil {
		return err
	}
	addr, count, dt, err := buf.nativeArgs(rt)
	if err != nil {
		return err
	}
	return native.ErrorFromStatus(rt.Send(addr, count, dt, dest, tag, raw), "MPI_Send")
}

// Recv blocks until a message matching source and tag arrives in buf.
func (c *Comm) Recv(buf Buffer, source, tag int) (Status, error) {
	rt, raw, err := c.resolve()
	if err != nil {
		return emptyStatus(), err
	}
	addr, count, dt, err := buf.nativeArgs(rt)
	if err != nil {
		return emptyStatus(), err
	}
	st, code := rt.Recv(addr, count, dt, source, tag, raw)
	return newStatus(st), native.ErrorFromStatus(code, "MPI_Recv")
}

type postFunc func(addr unsafe.Pointer, count int, dt native.Handle, peer, tag int, comm native.Handle) (native.Handle, native.Errno)

func (c *Comm) post(op string, buf Buffer, peer, tag int, persistent bool, pick func(native.Runtime) postFunc) (*Requests, error) {
	rt, raw, err := c.resolve()
	if err != nil {
		return nil, err
	}
	addr, count, dt, err := buf.nativeArgs(rt)
	if err != nil {
		return nil, err
	}
	req, code := pick(rt)(addr, count, dt, peer, tag, raw)
	if err := native.ErrorFromStatus(code, op); err != nil {
		return nil, err
	}
	return newRequests(rt, req, persistent), nil
}

// Isend starts a send and returns a set holding its request.
func (c *Comm) Isend(buf Buffer, dest, tag int) (*Requests, error) {
	return c.post("MPI_Isend", buf, dest, tag, false, func(rt native.Runtime) postFunc { return rt.Isend })
}

// Irecv starts a receive and returns a set holding its request.
func (c *Comm) Irecv(buf Buffer, source, tag int) (*Requests, error) {
	return c.post("MPI_Irecv", buf, source, tag, false, func(rt native.Runtime) postFunc { return rt.Irecv })
}

// SendInit creates an inactive persistent send request.
func (c *Comm) SendInit(buf Buffer, dest, tag int) (*Requests, error) {
	return c.post("MPI_Send_init", buf, dest, tag, true, func(rt native.Runtime) postFunc { return rt.SendInit })
}

// RecvInit creates an inactive persistent receive request.
func (c *Comm) RecvInit(buf Buffer, source, tag int) (*Requests, error) {
	return c.post("MPI_Recv_init", buf, source, tag, true, func(rt native.Runtime) postFunc { return rt.RecvInit })
}

// Barrier blocks until every process reaches it.
func (c *Comm) Barrier() error {
	rt, raw, err := c.resolve()
	if err != nil {
		return err
	}
	return native.ErrorFromStatus(rt.Barrier(raw), "MPI_Barrier")
}

// Ibarrier starts a barrier and returns a set holding its request.
func (c *Comm) Ibarrier() (*Requests, error) {
	rt, raw, err := c.resolve()
	if err != nil {
		return nil, err
	}
	req, code := rt.Ibarrier(raw)
	if err := native.ErrorFromStatus(code, "MPI_Ibarrier"); err != nil {
		return nil, err
	}
	return newRequests(rt, req, false), nil
}

// Bcast broadcasts buf from root to every process.
func (c *Comm) Bcast(buf Buffer, root int) error {
	rt, raw, err := c.resolve()
	if err != nil {
		return err
	}
	addr, count, dt, err := buf.nativeArgs(rt)
	if err != nil {
		return err
	}
	return native.ErrorFromStatus(rt.Bcast(addr, count, dt, root, raw), "MPI_Bcast")
}

// Allreduce combines send from every process with op and stores the result
// in recv. send may be InPlace, in which case recv supplies the input. A
// failing user operator is returned as an *OpError.
func (c *Comm) Allreduce(send, recv Buffer, op *Op) error {
	if send.IsInPlace() && recv.IsInPlace() {
		return ErrInPlaceConflict
	}
	if recv.IsInPlace() {
		return native.ErrBuffer.WithOp("MPI_Allreduce")
	}
	rt, raw, err := c.resolve()
	if err != nil {
		return err
	}
	raddr, count, dt, err := recv.nativeArgs(rt)
	if err != nil {
		return err
	}
	saddr := native.InPlace
	if !send.IsInPlace() {
		if send.relative {
			return ErrRelativeBuffer
		}
		saddr = send.addr
	}
	opRaw, err := op.rawIn(rt)
	if err != nil {
		return err
	}
	return callWithCallbacks("MPI_Allreduce", func() native.Errno {
		return rt.Allreduce(saddr, raddr, count, dt, opRaw, raw)
	})
}

// SetAttr caches value on the communicator under kv.
func (c *Comm) SetAttr(kv *Keyval, value any) error {
	rt, raw, err := c.resolve()
	if err != nil {
		return err
	}
	return setAttr(rt, native.KindComm, raw, kv, value)
}

// GetAttr returns the value cached under kv and whether it is set.
func (c *Comm) GetAttr(kv *Keyval) (any, bool, error) {
	rt, raw, err := c.resolve()
	if err != nil {
		return nil, false, err
	}
	return getAttr(rt, native.KindComm, raw, kv)
}

// DeleteAttr removes the value cached under kv, running its delete closure.
func (c *Comm) DeleteAttr(kv *Keyval) error {
	rt, raw, err := c.resolve()
	if err != nil {
		return err
	}
	return deleteAttr(rt, native.KindComm, raw, kv)
}
