package mpi

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rocketbitz/mpi-go/native"
)

// Ownership decides what happens to a native handle when its last
// reference is released.
type Ownership uint8

const (
	// Owned handles are freed by the last Release. A failed free is fatal.
	Owned Ownership = iota
	// Unowned handles must be freed explicitly with Free before the last
	// Release; reaching release with a live value is fatal.
	Unowned
	// Predefined handles are never freed.
	Predefined
)

func (o Ownership) String() string {
	switch o {
	case Owned:
		return "owned"
	case Unowned:
		return "unowned"
	case Predefined:
		return "predefined"
	default:
		return "ownership"
	}
}

type handleCore struct {
	rt   native.Runtime
	kind native.Kind
	own  Ownership
	raw  atomic.Uintptr
	refs atomic.Int64
}

// OwnedHandle is a reference-counted reference to one native handle. Copies
// made with Clone share the handle; the last Release frees it according to
// its Ownership. Assigning an OwnedHandle by value does not add a
// reference; use Clone or Move.
//
// The zero value refers to nothing.
type OwnedHandle struct {
	core *handleCore
}

// NewOwnedHandle wraps raw with a single reference.
func NewOwnedHandle(rt native.Runtime, kind native.Kind, raw native.Handle, own Ownership) OwnedHandle {
	core := &handleCore{rt: rt, kind: kind, own: own}
	core.raw.Store(uintptr(raw))
	core.refs.Store(1)
	return OwnedHandle{core: core}
}

// Raw returns the native value, or Null when the handle refers to nothing.
func (h *OwnedHandle) Raw() native.Handle {
	if h == nil || h.core == nil {
		return native.Null
	}
	return native.Handle(h.core.raw.Load())
}

// HasReferenced reports whether h still holds a reference to a shared core.
func (h *OwnedHandle) HasReferenced() bool {
	return h != nil && h.core != nil
}

// Kind returns the resource kind of the referenced handle.
func (h *OwnedHandle) Kind() native.Kind {
	if h == nil || h.core == nil {
		return 0
	}
	return h.core.kind
}

// Ownership returns the release policy of the referenced handle.
func (h *OwnedHandle) Ownership() Ownership {
	if h == nil || h.core == nil {
		return Predefined
	}
	return h.core.own
}

// Owns reports whether releasing the last reference frees the handle.
func (h *OwnedHandle) Owns() bool {
	return h.HasReferenced() && h.core.own == Owned
}

// Runtime returns the runtime the handle belongs to.
func (h *OwnedHandle) Runtime() native.Runtime {
	if h == nil || h.core == nil {
		return nil
	}
	return h.core.rt
}

// Clone returns a new reference to the same native handle.
func (h *OwnedHandle) Clone() OwnedHandle {
	if h == nil || h.core == nil {
		return OwnedHandle{}
	}
	h.core.refs.Add(1)
	return OwnedHandle{core: h.core}
}

// Move transfers h's reference to the returned handle. h refers to nothing
// afterwards and its Raw value is Null.
func (h *OwnedHandle) Move() OwnedHandle {
	if h == nil {
		return OwnedHandle{}
	}
	out := OwnedHandle{core: h.core}
	h.core = nil
	return out
}

// Release drops h's reference. Releasing the last reference frees the native
// handle when it is Owned and reports a fatal error when an Unowned handle is
// still live. Release on a handle that refers to nothing is a no-op.
func (h *OwnedHandle) Release() {
	if h == nil || h.core == nil {
		return
	}
	core := h.core
	h.core = nil
	if core.refs.Add(-1) > 0 {
		return
	}
	core.destroy()
}

// Free releases the native handle now and downgrades every reference to
// Null. Later calls are no-ops. Predefined handles are left untouched.
func (h *OwnedHandle) Free() error {
	if h == nil || h.core == nil {
		return nil
	}
	core := h.core
	if core.own == Predefined {
		return nil
	}
	raw := native.Handle(core.raw.Swap(0))
	if raw == native.Null {
		return nil
	}
	if err := native.ErrorFromStatus(core.rt.Free(core.kind, raw), freeOp(core.kind)); err != nil {
		core.raw.CompareAndSwap(0, uintptr(raw))
		return err
	}
	debug("handle freed", zap.Stringer("kind", core.kind), zap.Uint64("raw", uint64(raw)))
	metricHandleFreed(core.kind.String())
	return nil
}

func (c *handleCore) destroy() {
	raw := native.Handle(c.raw.Swap(0))
	if raw == native.Null {
		return
	}
	switch c.own {
	case Predefined:
		return
	case Unowned:
		fatal(freeOp(c.kind), ErrObjectNotFreed)
		return
	}
	if err := native.ErrorFromStatus(c.rt.Free(c.kind, raw), freeOp(c.kind)); err != nil {
		fatal(freeOp(c.kind), err)
		return
	}
	debug("handle released", zap.Stringer("kind", c.kind), zap.Uint64("raw", uint64(raw)))
	metricHandleFreed(c.kind.String())
}

func freeOp(kind native.Kind) string {
	switch kind {
	case native.KindComm:
		return "MPI_Comm_free"
	case native.KindDatatype:
		return "MPI_Type_free"
	case native.KindOp:
		return "MPI_Op_free"
	case native.KindInfo:
		return "MPI_Info_free"
	case native.KindWin:
		return "MPI_Win_free"
	case native.KindFile:
		return "MPI_File_close"
	case native.KindRequest:
		return "MPI_Request_free"
	default:
		return "free"
	}
}
