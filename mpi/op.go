package mpi

import (
	"fmt"
	"unsafe"

	"go.uber.org/zap"

	"github.com/rocketbitz/mpi-go/native"
)

// OpFunc combines in into inout elementwise, inout[i] = in[i] op inout[i].
// Both buffers share one count and datatype. A returned error or a panic is
// reported by the reduction that ran the operator.
type OpFunc func(in, inout Buffer) error

// Op is a reduction operator. The predefined operators are package
// variables; user operators are created with NewOp and freed by their last
// Release.
type Op struct {
	basic   native.BasicOp
	h       OwnedHandle
	commute bool
}

// Predefined reduction operators.
var (
	Sum     = &Op{basic: native.OpSum, commute: true}
	Prod    = &Op{basic: native.OpProd, commute: true}
	Max     = &Op{basic: native.OpMax, commute: true}
	Min     = &Op{basic: native.OpMin, commute: true}
	Land    = &Op{basic: native.OpLand, commute: true}
	Lor     = &Op{basic: native.OpLor, commute: true}
	Band    = &Op{basic: native.OpBand, commute: true}
	Bor     = &Op{basic: native.OpBor, commute: true}
	Replace = &Op{basic: native.OpReplace, commute: true}
)

// NewOp registers fn as a reduction operator. commute declares that the
// operation may be applied in any order; every operator must be associative.
func NewOp(fn OpFunc, commute bool) (*Op, error) {
	if fn == nil {
		return nil, native.ErrArg.WithOp("MPI_Op_create")
	}
	rt, err := currentRuntime()
	if err != nil {
		return nil, err
	}
	raw, code := rt.OpCreate(func(in, inout unsafe.Pointer, count int, dt native.Handle) {
		runOp(rt, fn, in, inout, count, dt)
	}, commute)
	if err := native.ErrorFromStatus(code, "MPI_Op_create"); err != nil {
		return nil, err
	}
	debug("op created", zap.Uint64("raw", uint64(raw)), zap.Bool("commute", commute))
	return &Op{h: NewOwnedHandle(rt, native.KindOp, raw, Owned), commute: commute}, nil
}

// runOp invokes a user operator from inside a reduction. Failures cannot be
// returned through the native call, so they are parked for
// callWithCallbacks.
func runOp(rt native.Runtime, fn OpFunc, in, inout unsafe.Pointer, count int, raw native.Handle) {
	dt := borrowedDatatype(rt, raw)
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("operator panicked: %v", r)
			}
		}()
		err = fn(NewBuffer(in, count, dt), NewBuffer(inout, count, dt))
	}()
	if err != nil {
		oerr := &OpError{Err: err}
		metricCallbackFailed(native.KindOp.String(), "reduce", oerr)
		setPending(oerr)
	}
}

func (o *Op) runtime() (native.Runtime, error) {
	if o == nil {
		return nil, ErrInvalidHandle{"op"}
	}
	if o.basic != native.OpInvalid {
		return currentRuntime()
	}
	if rt := o.h.Runtime(); rt != nil {
		return rt, nil
	}
	return nil, ErrInvalidHandle{"op"}
}

func (o *Op) rawIn(rt native.Runtime) (native.Handle, error) {
	if o == nil {
		return native.Null, ErrInvalidHandle{"op"}
	}
	if o.basic != native.OpInvalid {
		return rt.BasicOp(o.basic), nil
	}
	raw := o.h.Raw()
	if raw == native.Null {
		return native.Null, ErrInvalidHandle{"op"}
	}
	return raw, nil
}

// IsPredefined reports whether o is one of the predefined operators.
func (o *Op) IsPredefined() bool {
	return o != nil && o.basic != native.OpInvalid
}

// Commutative reports whether o was declared commutative.
func (o *Op) Commutative() bool {
	return o != nil && o.commute
}

// Raw returns the native handle.
func (o *Op) Raw() native.Handle {
	rt, err := o.runtime()
	if err != nil {
		return native.Null
	}
	raw, err := o.rawIn(rt)
	if err != nil {
		return native.Null
	}
	return raw
}

// ReduceLocal computes inout = in op inout on the calling process. The
// count and datatype of inout apply to both buffers.
func (o *Op) ReduceLocal(in, inout Buffer) error {
	rt, err := o.runtime()
	if err != nil {
		return err
	}
	if in.IsInPlace() || inout.IsInPlace() {
		return native.ErrBuffer.WithOp("MPI_Reduce_local")
	}
	if in.relative {
		return ErrRelativeBuffer
	}
	addr, count, dt, err := inout.nativeArgs(rt)
	if err != nil {
		return err
	}
	if in.count != count {
		return fmt.Errorf("%w: input has %d elements, output %d", native.ErrCount.WithOp("MPI_Reduce_local"), in.count, count)
	}
	raw, err := o.rawIn(rt)
	if err != nil {
		return err
	}
	return callWithCallbacks("MPI_Reduce_local", func() native.Errno {
		return rt.ReduceLocal(in.addr, addr, count, dt, raw)
	})
}

// Clone returns a new reference to the same operator.
func (o *Op) Clone() *Op {
	if o == nil || o.IsPredefined() {
		return o
	}
	return &Op{h: o.h.Clone(), commute: o.commute}
}

// Free releases a user operator now. Other references observe Null.
// Predefined operators are left untouched.
func (o *Op) Free() error {
	if o == nil || o.IsPredefined() {
		return nil
	}
	return o.h.Free()
}

// Release drops this reference; the last reference frees a user operator.
func (o *Op) Release() {
	if o == nil || o.IsPredefined() {
		return
	}
	o.h.Release()
}

func (o *Op) String() string {
	if o == nil {
		return native.OpInvalid.String()
	}
	if o.IsPredefined() {
		return o.basic.String()
	}
	return fmt.Sprintf("op(%#x)", uintptr(o.h.Raw()))
}
