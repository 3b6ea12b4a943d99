package mpi

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/rocketbitz/mpi-go/native"
)

// Basic is the set of Go element types with a predefined datatype. Types
// outside it have no Of, SliceOf or PtrLen instantiation.
type Basic interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint |
		~float32 | ~float64 | ~complex64 | ~complex128 | ~bool
}

// Buffer is an (address, count, datatype) triplet. It never owns the memory
// it describes and copies preserve the triplet verbatim. A count of zero is
// a valid empty transfer. A Displacement buffer has no address; its offset is
// held in disp and only RMA target arguments accept it.
type Buffer struct {
	addr     unsafe.Pointer
	disp     int64
	relative bool
	count    int
	dt       *Datatype
}

// NewBuffer describes count dt elements starting at addr.
func NewBuffer(addr unsafe.Pointer, count int, dt *Datatype) Buffer {
	return Buffer{addr: addr, count: count, dt: dt}
}

// NamedBuffer resolves the datatype by name through the active catalog.
func NamedBuffer(addr unsafe.Pointer, count int, name string) (Buffer, error) {
	env, err := Current()
	if err != nil {
		return Buffer{}, err
	}
	dt, err := env.catalog.FromName(name)
	if err != nil {
		return Buffer{}, err
	}
	return NewBuffer(addr, count, dt), nil
}

// Of describes a single scalar.
func Of[T Basic](v *T) Buffer {
	return Buffer{addr: unsafe.Pointer(v), count: 1, dt: basicFor[T]()}
}

// SliceOf describes the elements of s. Arrays are passed as arr[:].
func SliceOf[T Basic](s []T) Buffer {
	return Buffer{addr: unsafe.Pointer(unsafe.SliceData(s)), count: len(s), dt: basicFor[T]()}
}

// PtrLen describes n consecutive elements starting at p.
func PtrLen[T Basic](p *T, n int) Buffer {
	return Buffer{addr: unsafe.Pointer(p), count: n, dt: basicFor[T]()}
}

// Displacement describes count dt elements at disp displacement units from
// the start of an RMA window. It carries no address.
func Displacement(disp int64, count int, dt *Datatype) Buffer {
	return Buffer{disp: disp, relative: true, count: count, dt: dt}
}

// AtBottom describes count dt elements addressed absolutely by dt itself.
func AtBottom(count int, dt *Datatype) Buffer {
	return Buffer{addr: native.Bottom, count: count, dt: dt}
}

// InPlace marks the send side of a collective as aliasing the receive side.
var InPlace = Buffer{addr: native.InPlace}

// Addr returns the address. Displacement buffers return nil.
func (b Buffer) Addr() unsafe.Pointer { return b.addr }

// Count returns the element count.
func (b Buffer) Count() int { return b.count }

// Datatype returns the element datatype.
func (b Buffer) Datatype() *Datatype { return b.dt }

// Disp returns the displacement of a Displacement buffer.
func (b Buffer) Disp() int64 { return b.disp }

// IsRelative reports whether b was built with Displacement.
func (b Buffer) IsRelative() bool { return b.relative }

// IsInPlace reports whether b is the InPlace sentinel.
func (b Buffer) IsInPlace() bool { return b.addr == native.InPlace }

// Triplet returns the three components of b.
func (b Buffer) Triplet() (unsafe.Pointer, int, *Datatype) {
	return b.addr, b.count, b.dt
}

// nativeArgs resolves b for a data-movement call on rt.
func (b Buffer) nativeArgs(rt native.Runtime) (unsafe.Pointer, int, native.Handle, error) {
	if b.relative {
		return nil, 0, native.Null, ErrRelativeBuffer
	}
	raw, err := b.dt.rawIn(rt)
	if err != nil {
		return nil, 0, native.Null, err
	}
	return b.addr, b.count, raw, nil
}

func basicFor[T Basic]() *Datatype {
	var zero T
	dt, _ := datatypeForKind(reflect.TypeOf(zero).Kind())
	return dt
}

func datatypeForKind(k reflect.Kind) (*Datatype, bool) {
	var bt native.BasicType
	switch k {
	case reflect.Int8:
		bt = native.TypeInt8
	case reflect.Int16:
		bt = native.TypeInt16
	case reflect.Int32:
		bt = native.TypeInt32
	case reflect.Int64:
		bt = native.TypeInt64
	case reflect.Int:
		bt = goIntType
	case reflect.Uint8:
		bt = native.TypeUint8
	case reflect.Uint16:
		bt = native.TypeUint16
	case reflect.Uint32:
		bt = native.TypeUint32
	case reflect.Uint64:
		bt = native.TypeUint64
	case reflect.Uint:
		bt = goUintType
	case reflect.Float32:
		bt = native.TypeFloat
	case reflect.Float64:
		bt = native.TypeDouble
	case reflect.Complex64:
		bt = native.TypeCFloatComplex
	case reflect.Complex128:
		bt = native.TypeCDoubleComplex
	case reflect.Bool:
		bt = native.TypeCBool
	default:
		return nil, false
	}
	return predefinedTypes[bt], true
}

// ValueOf describes v, which must be a pointer to a value or a slice. Basic
// elements map onto predefined datatypes; arrays and structs get derived
// datatypes that are built once per Go type and released by
// Environment.Finalize.
func ValueOf(v any) (Buffer, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return Buffer{}, fmt.Errorf("%w: nil pointer", ErrUnsupportedType)
		}
		elem := rv.Type().Elem()
		if elem.Kind() == reflect.Array {
			if dt, ok := datatypeForKind(elem.Elem().Kind()); ok {
				return NewBuffer(rv.UnsafePointer(), elem.Len(), dt), nil
			}
		}
		dt, err := datatypeOf(elem)
		if err != nil {
			return Buffer{}, err
		}
		return NewBuffer(rv.UnsafePointer(), 1, dt), nil
	case reflect.Slice:
		dt, err := datatypeOf(rv.Type().Elem())
		if err != nil {
			return Buffer{}, err
		}
		return NewBuffer(rv.UnsafePointer(), rv.Len(), dt), nil
	default:
		return Buffer{}, fmt.Errorf("%w: %T is not a pointer or slice", ErrUnsupportedType, v)
	}
}

// DatatypeOf returns the datatype describing one Go value of type t.
func DatatypeOf(t reflect.Type) (*Datatype, error) {
	return datatypeOf(t)
}

func datatypeOf(t reflect.Type) (*Datatype, error) {
	if dt, ok := datatypeForKind(t.Kind()); ok {
		return dt, nil
	}
	switch t.Kind() {
	case reflect.Array, reflect.Struct:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}

	env, err := Current()
	if err != nil {
		return nil, err
	}
	if dt, ok := env.catalog.typeFor(t); ok {
		return dt, nil
	}
	dt, err := buildDatatype(t)
	if err != nil {
		return nil, err
	}
	return env.catalog.storeType(t, dt), nil
}

func buildDatatype(t reflect.Type) (*Datatype, error) {
	var dt *Datatype
	switch t.Kind() {
	case reflect.Array:
		elem, err := datatypeOf(t.Elem())
		if err != nil {
			return nil, err
		}
		if dt, err = Contiguous(t.Len(), elem); err != nil {
			return nil, err
		}
	case reflect.Struct:
		n := t.NumField()
		blocklens := make([]int, 0, n)
		displs := make([]int64, 0, n)
		types := make([]*Datatype, 0, n)
		for i := 0; i < n; i++ {
			f := t.Field(i)
			if f.Type.Size() == 0 {
				continue
			}
			member, err := datatypeOf(f.Type)
			if err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", t, f.Name, err)
			}
			blocklens = append(blocklens, 1)
			displs = append(displs, int64(f.Offset))
			types = append(types, member)
		}
		if len(types) == 0 {
			return nil, fmt.Errorf("%w: %s has no sized fields", ErrUnsupportedType, t)
		}
		inner, err := Struct(blocklens, displs, types)
		if err != nil {
			return nil, err
		}
		dt, err = Resized(inner, 0, int64(t.Size()))
		inner.Release()
		if err != nil {
			return nil, err
		}
	}
	if err := dt.Commit(); err != nil {
		dt.Release()
		return nil, err
	}
	return dt, nil
}
