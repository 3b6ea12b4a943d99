package mpi

import (
	"fmt"

	"github.com/rocketbitz/mpi-go/native"
)

// Datatype describes the memory layout of one buffer element. Predefined
// datatypes are package variables; derived datatypes are built with
// Contiguous, Vector, Struct, Resized or Dup and are freed by their last
// Release.
type Datatype struct {
	h     OwnedHandle
	basic native.BasicType
}

// Predefined datatypes.
var (
	Char             = &Datatype{basic: native.TypeChar}
	SignedChar       = &Datatype{basic: native.TypeSignedChar}
	UnsignedChar     = &Datatype{basic: native.TypeUnsignedChar}
	Short            = &Datatype{basic: native.TypeShort}
	UnsignedShort    = &Datatype{basic: native.TypeUnsignedShort}
	Int              = &Datatype{basic: native.TypeInt}
	Unsigned         = &Datatype{basic: native.TypeUnsigned}
	Long             = &Datatype{basic: native.TypeLong}
	UnsignedLong     = &Datatype{basic: native.TypeUnsignedLong}
	LongLong         = &Datatype{basic: native.TypeLongLong}
	UnsignedLongLong = &Datatype{basic: native.TypeUnsignedLongLong}
	Float            = &Datatype{basic: native.TypeFloat}
	Double           = &Datatype{basic: native.TypeDouble}
	WChar            = &Datatype{basic: native.TypeWChar}
	Int8             = &Datatype{basic: native.TypeInt8}
	Int16            = &Datatype{basic: native.TypeInt16}
	Int32            = &Datatype{basic: native.TypeInt32}
	Int64            = &Datatype{basic: native.TypeInt64}
	Uint8            = &Datatype{basic: native.TypeUint8}
	Uint16           = &Datatype{basic: native.TypeUint16}
	Uint32           = &Datatype{basic: native.TypeUint32}
	Uint64           = &Datatype{basic: native.TypeUint64}
	CBool            = &Datatype{basic: native.TypeCBool}
	Complex64        = &Datatype{basic: native.TypeCFloatComplex}
	Complex128       = &Datatype{basic: native.TypeCDoubleComplex}
	Byte             = &Datatype{basic: native.TypeByte}
	Packed           = &Datatype{basic: native.TypePacked}
)

var predefinedTypes = func() map[native.BasicType]*Datatype {
	out := make(map[native.BasicType]*Datatype)
	for _, dt := range []*Datatype{
		Char, SignedChar, UnsignedChar, Short, UnsignedShort, Int, Unsigned, Long, UnsignedLong,
		LongLong, UnsignedLongLong, Float, Double, WChar, Int8, Int16, Int32, Int64, Uint8, Uint16,
		Uint32, Uint64, CBool, Complex64, Complex128, Byte, Packed,
	} {
		out[dt.basic] = dt
	}
	return out
}()

// PredefinedDatatype returns the package variable for a basic type.
func PredefinedDatatype(t native.BasicType) (*Datatype, bool) {
	dt, ok := predefinedTypes[t]
	return dt, ok
}

func newDerived(rt native.Runtime, raw native.Handle) *Datatype {
	return &Datatype{h: NewOwnedHandle(rt, native.KindDatatype, raw, Owned)}
}

// borrowedDatatype describes a handle the runtime passes to a callback.
// Predefined handles map to their package variable; anything else is wrapped
// without taking ownership.
func borrowedDatatype(rt native.Runtime, raw native.Handle) *Datatype {
	for bt, dt := range predefinedTypes {
		if rt.BasicDatatype(bt) == raw {
			return dt
		}
	}
	return &Datatype{h: NewOwnedHandle(rt, native.KindDatatype, raw, Predefined)}
}

// IsPredefined reports whether d is one of the predefined datatypes.
func (d *Datatype) IsPredefined() bool {
	return d != nil && d.basic.Valid()
}

// BasicType returns the basic type of a predefined datatype, or TypeInvalid.
func (d *Datatype) BasicType() native.BasicType {
	if d == nil {
		return native.TypeInvalid
	}
	return d.basic
}

func (d *Datatype) runtime() (native.Runtime, error) {
	if d == nil {
		return nil, ErrInvalidHandle{"datatype"}
	}
	if d.basic.Valid() {
		return currentRuntime()
	}
	if rt := d.h.Runtime(); rt != nil {
		return rt, nil
	}
	return nil, ErrInvalidHandle{"datatype"}
}

// rawIn resolves d against rt.
func (d *Datatype) rawIn(rt native.Runtime) (native.Handle, error) {
	if d == nil {
		return native.Null, ErrInvalidHandle{"datatype"}
	}
	if d.basic.Valid() {
		return rt.BasicDatatype(d.basic), nil
	}
	raw := d.h.Raw()
	if raw == native.Null {
		return native.Null, ErrInvalidHandle{"datatype"}
	}
	return raw, nil
}

func (d *Datatype) resolve() (native.Runtime, native.Handle, error) {
	rt, err := d.runtime()
	if err != nil {
		return nil, native.Null, err
	}
	raw, err := d.rawIn(rt)
	return rt, raw, err
}

// Raw returns the native handle. Predefined datatypes resolve against the
// active Environment and report Null when none is active.
func (d *Datatype) Raw() native.Handle {
	_, raw, err := d.resolve()
	if err != nil {
		return native.Null
	}
	return raw
}

func (d *Datatype) String() string {
	if d == nil {
		return "<nil datatype>"
	}
	if d.basic.Valid() {
		return d.basic.String()
	}
	return fmt.Sprintf("datatype(%#x)", uintptr(d.h.Raw()))
}

// Contiguous builds a datatype of count consecutive old elements.
func Contiguous(count int, old *Datatype) (*Datatype, error) {
	rt, raw, err := old.resolve()
	if err != nil {
		return nil, err
	}
	h, code := rt.TypeContiguous(count, raw)
	if err := native.ErrorFromStatus(code, "MPI_Type_contiguous"); err != nil {
		return nil, err
	}
	return newDerived(rt, h), nil
}

// Vector builds count blocks of blocklen old elements, stride elements apart.
func Vector(count, blocklen, stride int, old *Datatype) (*Datatype, error) {
	rt, raw, err := old.resolve()
	if err != nil {
		return nil, err
	}
	h, code := rt.TypeVector(count, blocklen, stride, raw)
	if err := native.ErrorFromStatus(code, "MPI_Type_vector"); err != nil {
		return nil, err
	}
	return newDerived(rt, h), nil
}

// Struct builds a datatype from blocks of member types at byte displacements.
func Struct(blocklens []int, displs []int64, types []*Datatype) (*Datatype, error) {
	if len(types) == 0 {
		return nil, native.ErrCount.WithOp("MPI_Type_create_struct")
	}
	rt, err := types[0].runtime()
	if err != nil {
		return nil, err
	}
	raws := make([]native.Handle, len(types))
	for i, t := range types {
		if raws[i], err = t.rawIn(rt); err != nil {
			return nil, err
		}
	}
	h, code := rt.TypeStruct(blocklens, displs, raws)
	if err := native.ErrorFromStatus(code, "MPI_Type_create_struct"); err != nil {
		return nil, err
	}
	return newDerived(rt, h), nil
}

// Resized copies old with a new lower bound and extent.
func Resized(old *Datatype, lb, extent int64) (*Datatype, error) {
	rt, raw, err := old.resolve()
	if err != nil {
		return nil, err
	}
	h, code := rt.TypeResized(raw, lb, extent)
	if err := native.ErrorFromStatus(code, "MPI_Type_create_resized"); err != nil {
		return nil, err
	}
	return newDerived(rt, h), nil
}

// Dup duplicates d, running the copy closure of every attribute cached on
// it. A failing copy closure is returned as a *CallbackError.
func (d *Datatype) Dup() (*Datatype, error) {
	rt, raw, err := d.resolve()
	if err != nil {
		return nil, err
	}
	span := startSpan("mpi.Datatype.Dup", TraceAttribute{Key: "datatype", Value: d.String()})
	var dup native.Handle
	err = callWithCallbacks("MPI_Type_dup", func() native.Errno {
		var code native.Errno
		dup, code = rt.TypeDup(raw)
		return code
	})
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	return newDerived(rt, dup), nil
}

// Commit prepares a derived datatype for communication. It is a no-op for
// predefined datatypes.
func (d *Datatype) Commit() error {
	if d.IsPredefined() {
		return nil
	}
	rt, raw, err := d.resolve()
	if err != nil {
		return err
	}
	return native.ErrorFromStatus(rt.TypeCommit(raw), "MPI_Type_commit")
}

// Size returns the number of data bytes in one element.
func (d *Datatype) Size() (int, error) {
	if d.IsPredefined() {
		return d.basic.Size(), nil
	}
	rt, raw, err := d.resolve()
	if err != nil {
		return 0, err
	}
	size, code := rt.TypeSize(raw)
	return size, native.ErrorFromStatus(code, "MPI_Type_size")
}

// Extent returns the lower bound and extent of one element.
func (d *Datatype) Extent() (lb, extent int64, err error) {
	rt, raw, err := d.resolve()
	if err != nil {
		return 0, 0, err
	}
	lb, extent, code := rt.TypeExtent(raw)
	return lb, extent, native.ErrorFromStatus(code, "MPI_Type_get_extent")
}

// Name returns the name recorded by the runtime.
func (d *Datatype) Name() (string, error) {
	rt, raw, err := d.resolve()
	if err != nil {
		return "", err
	}
	name, code := rt.Name(native.KindDatatype, raw)
	return name, native.ErrorFromStatus(code, "MPI_Type_get_name")
}

// SetName records a name for d.
func (d *Datatype) SetName(name string) error {
	rt, raw, err := d.resolve()
	if err != nil {
		return err
	}
	return native.ErrorFromStatus(rt.SetName(native.KindDatatype, raw, name), "MPI_Type_set_name")
}

// Clone returns a new reference to the same datatype. Predefined datatypes
// return themselves.
func (d *Datatype) Clone() *Datatype {
	if d == nil || d.basic.Valid() {
		return d
	}
	return &Datatype{h: d.h.Clone()}
}

// Free releases a derived datatype immediately. Other references observe a
// Null handle. It is a no-op for predefined datatypes.
func (d *Datatype) Free() error {
	if d == nil || d.basic.Valid() {
		return nil
	}
	return d.h.Free()
}

// Release drops this reference; the last reference frees the datatype.
func (d *Datatype) Release() {
	if d == nil || d.basic.Valid() {
		return
	}
	d.h.Release()
}

// SetAttr caches value on d under kv.
func (d *Datatype) SetAttr(kv *Keyval, value any) error {
	rt, raw, err := d.resolve()
	if err != nil {
		return err
	}
	return setAttr(rt, native.KindDatatype, raw, kv, value)
}

// GetAttr returns the value cached under kv and whether it is set.
func (d *Datatype) GetAttr(kv *Keyval) (any, bool, error) {
	rt, raw, err := d.resolve()
	if err != nil {
		return nil, false, err
	}
	return getAttr(rt, native.KindDatatype, raw, kv)
}

// DeleteAttr removes the value cached under kv, running its delete closure.
func (d *Datatype) DeleteAttr(kv *Keyval) error {
	rt, raw, err := d.resolve()
	if err != nil {
		return err
	}
	return deleteAttr(rt, native.KindDatatype, raw, kv)
}
