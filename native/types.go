package native

import (
	"fmt"
	"strings"
	"unsafe"
)

// Kind identifies the class of a native resource.
type Kind uint8

const (
	KindComm Kind = iota + 1
	KindDatatype
	KindOp
	KindInfo
	KindWin
	KindFile
	KindRequest
)

func (k Kind) String() string {
	switch k {
	case KindComm:
		return "comm"
	case KindDatatype:
		return "datatype"
	case KindOp:
		return "op"
	case KindInfo:
		return "info"
	case KindWin:
		return "win"
	case KindFile:
		return "file"
	case KindRequest:
		return "request"
	default:
		return "resource"
	}
}

// Handle is an opaque native handle value. Null is the canonical null value
// for every resource kind.
type Handle uintptr

// Null is the null handle.
const Null Handle = 0

// Special rank, tag and index values.
const (
	AnySource = -1
	AnyTag    = -1
	ProcNull  = -2
	Undefined = -32766
)

var (
	bottomMarker  byte
	inPlaceMarker byte
)

// Bottom and InPlace are sentinel buffer addresses. Runtimes compare buffer
// pointers against them and substitute their own constants.
var (
	Bottom  = unsafe.Pointer(&bottomMarker)
	InPlace = unsafe.Pointer(&inPlaceMarker)
)

// ThreadLevel is the thread support level negotiated at initialization.
type ThreadLevel int

const (
	ThreadSingle ThreadLevel = iota
	ThreadFunneled
	ThreadSerialized
	ThreadMultiple
)

func (l ThreadLevel) String() string {
	switch l {
	case ThreadSingle:
		return "single"
	case ThreadFunneled:
		return "funneled"
	case ThreadSerialized:
		return "serialized"
	case ThreadMultiple:
		return "multiple"
	default:
		return fmt.Sprintf("thread-level(%d)", int(l))
	}
}

// ParseThreadLevel converts a level name as produced by ThreadLevel.String.
func ParseThreadLevel(s string) (ThreadLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single":
		return ThreadSingle, nil
	case "funneled":
		return ThreadFunneled, nil
	case "serialized":
		return ThreadSerialized, nil
	case "multiple":
		return ThreadMultiple, nil
	}
	return ThreadSingle, fmt.Errorf("unknown thread level %q", s)
}

// BasicType enumerates the predefined datatypes.
type BasicType uint8

const (
	TypeInvalid BasicType = iota
	TypeChar
	TypeSignedChar
	TypeUnsignedChar
	TypeShort
	TypeUnsignedShort
	TypeInt
	TypeUnsigned
	TypeLong
	TypeUnsignedLong
	TypeLongLong
	TypeUnsignedLongLong
	TypeFloat
	TypeDouble
	TypeWChar
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeCBool
	TypeCFloatComplex
	TypeCDoubleComplex
	TypeByte
	TypePacked
	typeCount
)

var basicTypeInfo = [typeCount]struct {
	name string
	size int
}{
	TypeInvalid:          {"invalid", 0},
	TypeChar:             {"MPI_CHAR", 1},
	TypeSignedChar:       {"MPI_SIGNED_CHAR", 1},
	TypeUnsignedChar:     {"MPI_UNSIGNED_CHAR", 1},
	TypeShort:            {"MPI_SHORT", 2},
	TypeUnsignedShort:    {"MPI_UNSIGNED_SHORT", 2},
	TypeInt:              {"MPI_INT", 4},
	TypeUnsigned:         {"MPI_UNSIGNED", 4},
	TypeLong:             {"MPI_LONG", 8},
	TypeUnsignedLong:     {"MPI_UNSIGNED_LONG", 8},
	TypeLongLong:         {"MPI_LONG_LONG", 8},
	TypeUnsignedLongLong: {"MPI_UNSIGNED_LONG_LONG", 8},
	TypeFloat:            {"MPI_FLOAT", 4},
	TypeDouble:           {"MPI_DOUBLE", 8},
	TypeWChar:            {"MPI_WCHAR", 4},
	TypeInt8:             {"MPI_INT8_T", 1},
	TypeInt16:            {"MPI_INT16_T", 2},
	TypeInt32:            {"MPI_INT32_T", 4},
	TypeInt64:            {"MPI_INT64_T", 8},
	TypeUint8:            {"MPI_UINT8_T", 1},
	TypeUint16:           {"MPI_UINT16_T", 2},
	TypeUint32:           {"MPI_UINT32_T", 4},
	TypeUint64:           {"MPI_UINT64_T", 8},
	TypeCBool:            {"MPI_C_BOOL", 1},
	TypeCFloatComplex:    {"MPI_C_FLOAT_COMPLEX", 8},
	TypeCDoubleComplex:   {"MPI_C_DOUBLE_COMPLEX", 16},
	TypeByte:             {"MPI_BYTE", 1},
	TypePacked:           {"MPI_PACKED", 1},
}

// BasicTypes returns every valid predefined datatype.
func BasicTypes() []BasicType {
	out := make([]BasicType, 0, typeCount-1)
	for t := TypeChar; t < typeCount; t++ {
		out = append(out, t)
	}
	return out
}

// Valid reports whether t names a predefined datatype.
func (t BasicType) Valid() bool {
	return t > TypeInvalid && t < typeCount
}

// Size returns the size in bytes of one element. The C type sizes assume an
// LP64 platform.
func (t BasicType) Size() int {
	if !t.Valid() {
		return 0
	}
	return basicTypeInfo[t].size
}

func (t BasicType) String() string {
	if t >= typeCount {
		return fmt.Sprintf("basic-type(%d)", int(t))
	}
	return basicTypeInfo[t].name
}

// BasicOp enumerates the predefined reduction operators.
type BasicOp uint8

const (
	OpInvalid BasicOp = iota
	OpSum
	OpProd
	OpMax
	OpMin
	OpLand
	OpLor
	OpBand
	OpBor
	OpReplace
)

func (o BasicOp) String() string {
	switch o {
	case OpSum:
		return "MPI_SUM"
	case OpProd:
		return "MPI_PROD"
	case OpMax:
		return "MPI_MAX"
	case OpMin:
		return "MPI_MIN"
	case OpLand:
		return "MPI_LAND"
	case OpLor:
		return "MPI_LOR"
	case OpBand:
		return "MPI_BAND"
	case OpBor:
		return "MPI_BOR"
	case OpReplace:
		return "MPI_REPLACE"
	default:
		return "MPI_OP_NULL"
	}
}

// Status describes a completed operation. Bytes is the received payload size
// in bytes; callers divide by the datatype size to obtain an element count.
type Status struct {
	Source    int
	Tag       int
	Err       Errno
	Cancelled bool
	Bytes     int
}

// EmptyStatus is the status returned for null or inactive requests.
var EmptyStatus = Status{Source: AnySource, Tag: AnyTag}
