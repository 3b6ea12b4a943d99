package mpi

import (
	"fmt"
	"unsafe"

	"github.com/rocketbitz/mpi-go/native"
)

// Win is an RMA window over memory owned by the caller. Windows are freed
// collectively, so a Win must be freed with Free before its last Release.
type Win struct {
	h        OwnedHandle
	dispUnit int
}

// NewWin exposes mem to one-sided operations on comm. Displacements are
// counted in elements of T. info may be nil.
func NewWin[T Basic](comm *Comm, mem []T, info *Info) (*Win, error) {
	rt, raw, err := comm.resolve()
	if err != nil {
		return nil, err
	}
	infoRaw, err := info.rawOrNull()
	if err != nil {
		return nil, err
	}
	var zero T
	unit := int(unsafe.Sizeof(zero))
	size := int64(len(mem) * unit)
	h, code := rt.WinCreate(unsafe.Pointer(unsafe.SliceData(mem)), size, unit, infoRaw, raw)
	if err := native.ErrorFromStatus(code, "MPI_Win_create"); err != nil {
		return nil, err
	}
	return &Win{h: NewOwnedHandle(rt, native.KindWin, h, Unowned), dispUnit: unit}, nil
}

func (w *Win) resolve() (native.Runtime, native.Handle, error) {
	if w == nil || w.h.Raw() == native.Null {
		return nil, native.Null, ErrInvalidHandle{"window"}
	}
	return w.h.Runtime(), w.h.Raw(), nil
}

// Raw returns the native handle.
func (w *Win) Raw() native.Handle {
	if w == nil {
		return native.Null
	}
	return w.h.Raw()
}

// DispUnit returns the size in bytes of one displacement unit.
func (w *Win) DispUnit() int {
	if w == nil {
		return 0
	}
	return w.dispUnit
}

type rmaFunc func(origin unsafe.Pointer, count int, dt native.Handle, target int, disp int64, tcount int, tdt native.Handle, win native.Handle) native.Errno

func (w *Win) transfer(op string, origin Buffer, target int, dst Buffer, pick func(native.Runtime) rmaFunc) error {
	if !dst.relative {
		return fmt.Errorf("%s: %w", op, ErrNotDisplacement)
	}
	rt, raw, err := w.resolve()
	if err != nil {
		return err
	}
	addr, count, dt, err := origin.nativeArgs(rt)
	if err != nil {
		return err
	}
	tdt, err := dst.dt.rawIn(rt)
	if err != nil {
		return err
	}
	return native.ErrorFromStatus(pick(rt)(addr, count, dt, target, dst.disp, dst.count, tdt, raw), op)
}

// Put writes origin into the window of target at the displacement described
// by dst, which must be built with Displacement.
func (w *Win) Put(origin Buffer, target int, dst Buffer) error {
	return w.transfer("MPI_Put", origin, target, dst, func(rt native.Runtime) rmaFunc { return rt.Put })
}

// Get reads from the window of target at the displacement described by src
// into origin.
func (w *Win) Get(origin Buffer, target int, src Buffer) error {
	return w.transfer("MPI_Get", origin, target, src, func(rt native.Runtime) rmaFunc { return rt.Get })
}

// Fence closes the current access epoch and opens the next one.
func (w *Win) Fence(assert int) error {
	rt, raw, err := w.resolve()
	if err != nil {
		return err
	}
	return native.ErrorFromStatus(rt.WinFence(assert, raw), "MPI_Win_fence")
}

// Free collectively releases the window. Later calls are no-ops.
func (w *Win) Free() error {
	if w == nil {
		return nil
	}
	return w.h.Free()
}

// Release drops this reference. Releasing the last reference of a window
// that was not freed is fatal.
func (w *Win) Release() {
	if w == nil {
		return
	}
	w.h.Release()
}

// SetAttr caches value on the window under kv.
func (w *Win) SetAttr(kv *Keyval, value any) error {
	rt, raw, err := w.resolve()
	if err != nil {
		return err
	}
	return setAttr(rt, native.KindWin, raw, kv, value)
}

// GetAttr returns the value cached under kv and whether it is set.
func (w *Win) GetAttr(kv *Keyval) (any, bool, error) {
	rt, raw, err := w.resolve()
	if err != nil {
		return nil, false, err
	}
	return getAttr(rt, native.KindWin, raw, kv)
}

// DeleteAttr removes the value cached under kv, running its delete closure.
func (w *Win) DeleteAttr(kv *Keyval) error {
	rt, raw, err := w.resolve()
	if err != nil {
		return err
	}
	return deleteAttr(rt, native.KindWin, raw, kv)
}
