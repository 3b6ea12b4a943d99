package mpi

import (
	"errors"
	"reflect"
	"testing"
	"unsafe"

	"github.com/rocketbitz/mpi-go/native"
)

func TestBufferShapesAgree(t *testing.T) {
	newTestEnv(t, Config{})

	arr := [3]int32{1, 2, 3}
	vec := []int32{1, 2, 3}

	fromValue, err := ValueOf(&arr)
	if err != nil {
		t.Fatalf("ValueOf array: %v", err)
	}
	fromSlice, err := ValueOf(vec)
	if err != nil {
		t.Fatalf("ValueOf slice: %v", err)
	}
	named, err := NamedBuffer(unsafe.Pointer(&arr[0]), 3, "int32_t")
	if err != nil {
		t.Fatalf("NamedBuffer: %v", err)
	}

	shapes := map[string]Buffer{
		"array":    SliceOf(arr[:]),
		"slice":    SliceOf(vec),
		"ptrlen":   PtrLen(&vec[0], len(vec)),
		"triplet":  NewBuffer(unsafe.Pointer(&vec[0]), 3, Int32),
		"valueof":  fromValue,
		"valueofs": fromSlice,
		"named":    named,
	}
	for name, b := range shapes {
		addr, count, dt := b.Triplet()
		if count != 3 || dt != Int32 {
			t.Fatalf("%s: count=%d dt=%v want 3 %v", name, count, dt, Int32)
		}
		got := unsafe.Slice((*int32)(addr), count)
		if got[0] != 1 || got[1] != 2 || got[2] != 3 {
			t.Fatalf("%s: data %v", name, got)
		}
	}

	x := 4.5
	s := Of(&x)
	if s.Count() != 1 || s.Datatype() != Double || s.Addr() != unsafe.Pointer(&x) {
		t.Fatalf("scalar buffer: %+v", s)
	}
	var n int
	if Of(&n).Datatype().BasicType() != goIntType {
		t.Fatalf("Go int mapped to %v", Of(&n).Datatype())
	}
}

func TestBufferCopyPreservesTriplet(t *testing.T) {
	data := []float64{1, 2}
	b := SliceOf(data)
	c := b
	a1, n1, d1 := b.Triplet()
	a2, n2, d2 := c.Triplet()
	if a1 != a2 || n1 != n2 || d1 != d2 {
		t.Fatal("copy changed the triplet")
	}
}

func TestNamedBufferUnknownName(t *testing.T) {
	env, _, _ := newTestEnv(t, Config{})
	before := len(env.Catalog().Names())
	var x int32
	_, err := NamedBuffer(unsafe.Pointer(&x), 1, "not_a_real_type")
	if !errors.Is(err, ErrDatatypeNotFound) {
		t.Fatalf("NamedBuffer: got %v want ErrDatatypeNotFound", err)
	}
	if after := len(env.Catalog().Names()); after != before {
		t.Fatalf("catalog changed: %d -> %d names", before, after)
	}
}

func TestEmptyBufferTransfer(t *testing.T) {
	env, _, _ := newTestEnv(t, Config{})
	world := env.World()
	if err := world.Send(SliceOf([]float64(nil)), 0, 3); err != nil {
		t.Fatalf("Send empty: %v", err)
	}
	st, err := world.Recv(SliceOf([]float64(nil)), 0, 3)
	if err != nil {
		t.Fatalf("Recv empty: %v", err)
	}
	count, err := st.Count(Double)
	if err != nil || count != 0 {
		t.Fatalf("Count: %d, %v", count, err)
	}
}

func TestDisplacementBuffer(t *testing.T) {
	env, _, _ := newTestEnv(t, Config{})
	b := Displacement(16, 2, Double)
	if !b.IsRelative() || b.Disp() != 16 || b.Addr() != nil {
		t.Fatalf("displacement buffer: %+v", b)
	}
	if err := env.World().Send(b, 0, 0); !errors.Is(err, ErrRelativeBuffer) {
		t.Fatalf("Send displacement: got %v want ErrRelativeBuffer", err)
	}
	if !InPlace.IsInPlace() || b.IsInPlace() {
		t.Fatal("InPlace sentinel misreported")
	}
	if AtBottom(1, Int).Addr() != native.Bottom {
		t.Fatal("AtBottom address is not Bottom")
	}
}

type particle struct {
	X, Y float64
	ID   int32
}

func TestValueOfStruct(t *testing.T) {
	env, rt, _ := newTestEnv(t, Config{})

	in := particle{X: 1.5, Y: -2, ID: 7}
	b, err := ValueOf(&in)
	if err != nil {
		t.Fatalf("ValueOf: %v", err)
	}
	if b.Count() != 1 || b.Datatype().IsPredefined() {
		t.Fatalf("struct buffer: count=%d dt=%v", b.Count(), b.Datatype())
	}
	size, err := b.Datatype().Size()
	if err != nil || size != 20 {
		t.Fatalf("Size: %d, %v want 20", size, err)
	}
	_, extent, err := b.Datatype().Extent()
	if err != nil || extent != int64(unsafe.Sizeof(in)) {
		t.Fatalf("Extent: %d, %v want %d", extent, err, unsafe.Sizeof(in))
	}

	again, err := DatatypeOf(reflect.TypeOf(particle{}))
	if err != nil || again != b.Datatype() {
		t.Fatalf("DatatypeOf: %v, %v want cached %v", again, err, b.Datatype())
	}
	if env.Catalog().CustomizedLen() != 1 {
		t.Fatalf("customized: %d", env.Catalog().CustomizedLen())
	}

	if err := env.World().Send(b, 0, 1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var out particle
	ob, err := ValueOf(&out)
	if err != nil {
		t.Fatalf("ValueOf out: %v", err)
	}
	if _, err := env.World().Recv(ob, 0, 1); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if out != in {
		t.Fatalf("received %+v want %+v", out, in)
	}

	if err := env.Catalog().ClearCustomized(); err != nil {
		t.Fatalf("ClearCustomized: %v", err)
	}
	if got := rt.Live(native.KindDatatype); got != 0 {
		t.Fatalf("datatypes left: %d", got)
	}
}

func TestValueOfNestedArray(t *testing.T) {
	env, _, _ := newTestEnv(t, Config{})
	grid := [][2]float32{{1, 2}, {3, 4}, {5, 6}}
	b, err := ValueOf(grid)
	if err != nil {
		t.Fatalf("ValueOf: %v", err)
	}
	if b.Count() != 3 {
		t.Fatalf("count: %d", b.Count())
	}
	size, err := b.Datatype().Size()
	if err != nil || size != 8 {
		t.Fatalf("Size: %d, %v want 8", size, err)
	}
	if err := env.World().Send(b, 0, 2); err != nil {
		t.Fatalf("Send: %v", err)
	}
	out := make([][2]float32, 3)
	ob, _ := ValueOf(out)
	if _, err := env.World().Recv(ob, 0, 2); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !reflect.DeepEqual(out, grid) {
		t.Fatalf("received %v want %v", out, grid)
	}
}

func TestValueOfUnsupported(t *testing.T) {
	newTestEnv(t, Config{})
	cases := map[string]any{
		"not pointer": 42,
		"map":         &map[string]int{},
		"nil pointer": (*particle)(nil),
		"string":      []string{"a"},
	}
	for name, v := range cases {
		if _, err := ValueOf(v); !errors.Is(err, ErrUnsupportedType) {
			t.Fatalf("%s: got %v want ErrUnsupportedType", name, err)
		}
	}
}
