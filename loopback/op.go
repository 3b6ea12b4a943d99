package loopback

import (
	"unsafe"

	"github.com/rocketbitz/mpi-go/native"
)

// OpCreate registers a user-defined operator.
func (r *Runtime) OpCreate(fn native.UserOpFunc, commute bool) (native.Handle, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Null, code
	}
	if fn == nil {
		return native.Null, native.ErrArg
	}
	return r.allocLocked(&object{kind: native.KindOp, userOp: fn, commute: commute}), native.Success
}

// Commutative reports whether op was created as commutative. Predefined
// operators are commutative.
func (r *Runtime) Commutative(op native.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, code := r.lookupLocked(native.KindOp, op)
	if code != native.Success {
		return false
	}
	return obj.predefined || obj.commute
}

// ReduceLocal applies op elementwise. User operators run without the
// runtime lock held; predefined operators need a predefined datatype.
func (r *Runtime) ReduceLocal(in, inout unsafe.Pointer, count int, dt, op native.Handle) native.Errno {
	r.mu.Lock()
	if code := r.checkLocked(); code != native.Success {
		r.mu.Unlock()
		return code
	}
	obj, code := r.lookupLocked(native.KindOp, op)
	if code != native.Success {
		r.mu.Unlock()
		return code
	}
	info, code := r.typeLocked(dt)
	if code != native.Success {
		r.mu.Unlock()
		return code
	}
	fn, basic := obj.userOp, obj.op
	r.mu.Unlock()

	if count < 0 {
		return native.ErrCount
	}
	if count == 0 {
		return native.Success
	}
	if in == nil || inout == nil || in == native.InPlace || inout == native.InPlace {
		return native.ErrBuffer
	}
	if fn != nil {
		fn(in, inout, count, dt)
		return native.Success
	}
	return reduceBasic(basic, info.basic, in, inout, count)
}

func views[T any](in, inout unsafe.Pointer, n int) ([]T, []T) {
	return unsafe.Slice((*T)(in), n), unsafe.Slice((*T)(inout), n)
}

func reduceBasic(op native.BasicOp, bt native.BasicType, in, inout unsafe.Pointer, n int) native.Errno {
	switch bt {
	case native.TypeChar, native.TypeSignedChar, native.TypeInt8:
		a, b := views[int8](in, inout, n)
		return reduceInts(op, a, b)
	case native.TypeUnsignedChar, native.TypeUint8, native.TypeByte:
		a, b := views[uint8](in, inout, n)
		return reduceInts(op, a, b)
	case native.TypeShort, native.TypeInt16:
		a, b := views[int16](in, inout, n)
		return reduceInts(op, a, b)
	case native.TypeUnsignedShort, native.TypeUint16:
		a, b := views[uint16](in, inout, n)
		return reduceInts(op, a, b)
	case native.TypeInt, native.TypeInt32, native.TypeWChar:
		a, b := views[int32](in, inout, n)
		return reduceInts(op, a, b)
	case native.TypeUnsigned, native.TypeUint32:
		a, b := views[uint32](in, inout, n)
		return reduceInts(op, a, b)
	case native.TypeLong, native.TypeLongLong, native.TypeInt64:
		a, b := views[int64](in, inout, n)
		return reduceInts(op, a, b)
	case native.TypeUnsignedLong, native.TypeUnsignedLongLong, native.TypeUint64:
		a, b := views[uint64](in, inout, n)
		return reduceInts(op, a, b)
	case native.TypeFloat:
		a, b := views[float32](in, inout, n)
		return reduceFloats(op, a, b)
	case native.TypeDouble:
		a, b := views[float64](in, inout, n)
		return reduceFloats(op, a, b)
	case native.TypeCFloatComplex:
		a, b := views[complex64](in, inout, n)
		return reduceComplex(op, a, b)
	case native.TypeCDoubleComplex:
		a, b := views[complex128](in, inout, n)
		return reduceComplex(op, a, b)
	case native.TypeCBool:
		a, b := views[bool](in, inout, n)
		return reduceBools(op, a, b)
	default:
		return native.ErrOp
	}
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func truth[T integer](v bool) T {
	if v {
		return 1
	}
	return 0
}

func reduceInts[T integer](op native.BasicOp, in, inout []T) native.Errno {
	for i, a := range in {
		b := inout[i]
		switch op {
		case native.OpSum:
			inout[i] = a + b
		case native.OpProd:
			inout[i] = a * b
		case native.OpMax:
			inout[i] = max(a, b)
		case native.OpMin:
			inout[i] = min(a, b)
		case native.OpLand:
			inout[i] = truth[T](a != 0 && b != 0)
		case native.OpLor:
			inout[i] = truth[T](a != 0 || b != 0)
		case native.OpBand:
			inout[i] = a & b
		case native.OpBor:
			inout[i] = a | b
		case native.OpReplace:
			inout[i] = a
		default:
			return native.ErrOp
		}
	}
	return native.Success
}

func reduceFloats[T ~float32 | ~float64](op native.BasicOp, in, inout []T) native.Errno {
	for i, a := range in {
		b := inout[i]
		switch op {
		case native.OpSum:
			inout[i] = a + b
		case native.OpProd:
			inout[i] = a * b
		case native.OpMax:
			inout[i] = max(a, b)
		case native.OpMin:
			inout[i] = min(a, b)
		case native.OpReplace:
			inout[i] = a
		default:
			return native.ErrOp
		}
	}
	return native.Success
}

func reduceComplex[T ~complex64 | ~complex128](op native.BasicOp, in, inout []T) native.Errno {
	for i, a := range in {
		switch op {
		case native.OpSum:
			inout[i] = a + inout[i]
		case native.OpProd:
			inout[i] = a * inout[i]
		case native.OpReplace:
			inout[i] = a
		default:
			return native.ErrOp
		}
	}
	return native.Success
}

func reduceBools(op native.BasicOp, in, inout []bool) native.Errno {
	for i, a := range in {
		switch op {
		case native.OpLand:
			inout[i] = a && inout[i]
		case native.OpLor:
			inout[i] = a || inout[i]
		case native.OpReplace:
			inout[i] = a
		default:
			return native.ErrOp
		}
	}
	return native.Success
}
