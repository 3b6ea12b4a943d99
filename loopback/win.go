package loopback

import (
	"unsafe"

	"github.com/rocketbitz/mpi-go/native"
)

type window struct {
	base     unsafe.Pointer
	size     int64
	dispUnit int
	epochs   int
}

func (r *Runtime) WinCreate(base unsafe.Pointer, size int64, dispUnit int, info, comm native.Handle) (native.Handle, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Null, code
	}
	if _, code := r.lookupLocked(native.KindComm, comm); code != native.Success {
		return native.Null, code
	}
	if info != native.Null {
		if _, code := r.lookupLocked(native.KindInfo, info); code != native.Success {
			return native.Null, code
		}
	}
	if size < 0 || dispUnit <= 0 {
		return native.Null, native.ErrArg
	}
	if size > 0 && base == nil {
		return native.Null, native.ErrBuffer
	}
	w := &window{base: base, size: size, dispUnit: dispUnit}
	return r.allocLocked(&object{kind: native.KindWin, win: w}), native.Success
}

type rmaArgs struct {
	origin  unsafe.Pointer
	count   int
	dt      native.Handle
	target  int
	disp    int64
	tcount  int
	tdt     native.Handle
	winHndl native.Handle
}

// resolveLocked validates an RMA call and returns the origin and target type
// maps together with the target address inside the window.
func (r *Runtime) resolveLocked(a rmaArgs) (origin, target *typeInfo, addr unsafe.Pointer, code native.Errno) {
	if code := r.checkLocked(); code != native.Success {
		return nil, nil, nil, code
	}
	obj, code := r.lookupLocked(native.KindWin, a.winHndl)
	if code != native.Success {
		return nil, nil, nil, code
	}
	if origin, code = r.typeLocked(a.dt); code != native.Success {
		return nil, nil, nil, code
	}
	if target, code = r.typeLocked(a.tdt); code != native.Success {
		return nil, nil, nil, code
	}
	if a.count < 0 || a.tcount < 0 {
		return nil, nil, nil, native.ErrCount
	}
	if a.target != 0 {
		return nil, nil, nil, native.ErrRank
	}
	if a.count*origin.size != a.tcount*target.size {
		return nil, nil, nil, native.ErrTruncate
	}
	w := obj.win
	off := a.disp * int64(w.dispUnit)
	lo, hi := target.span(a.tcount)
	if a.tcount > 0 && (off+lo < 0 || off+hi > w.size) {
		return nil, nil, nil, native.ErrRMARange
	}
	return origin, target, unsafe.Add(w.base, int(off)), native.Success
}

// Put writes into the window immediately; fences only delimit epochs.
func (r *Runtime) Put(origin unsafe.Pointer, count int, dt native.Handle, target int, disp int64, tcount int, tdt native.Handle, win native.Handle) native.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, dst, addr, code := r.resolveLocked(rmaArgs{origin, count, dt, target, disp, tcount, tdt, win})
	if code != native.Success {
		return code
	}
	if count > 0 {
		dst.unpack(addr, tcount, src.pack(origin, count))
	}
	return native.Success
}

func (r *Runtime) Get(origin unsafe.Pointer, count int, dt native.Handle, target int, disp int64, tcount int, tdt native.Handle, win native.Handle) native.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	dst, src, addr, code := r.resolveLocked(rmaArgs{origin, count, dt, target, disp, tcount, tdt, win})
	if code != native.Success {
		return code
	}
	if count > 0 {
		dst.unpack(origin, count, src.pack(addr, tcount))
	}
	return native.Success
}

func (r *Runtime) WinFence(assert int, win native.Handle) native.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return code
	}
	obj, code := r.lookupLocked(native.KindWin, win)
	if code != native.Success {
		return code
	}
	obj.win.epochs++
	return native.Success
}

// Epochs returns the number of fences completed on win.
func (r *Runtime) Epochs(win native.Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, code := r.lookupLocked(native.KindWin, win)
	if code != native.Success {
		return 0
	}
	return obj.win.epochs
}
