package mpi

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/rocketbitz/mpi-go/loopback"
	"github.com/rocketbitz/mpi-go/native"
)

func int32s(b Buffer) []int32 {
	return unsafe.Slice((*int32)(b.Addr()), b.Count())
}

func TestNewOpReduceLocalFreesOnce(t *testing.T) {
	var freed []native.Handle
	env, rt, rec := newTestEnv(t, Config{}, loopback.WithFreeHook(func(kind native.Kind, h native.Handle) {
		if kind == native.KindOp {
			freed = append(freed, h)
		}
	}))

	calls := 0
	op, err := NewOp(func(in, inout Buffer) error {
		calls++
		if in.Datatype() != Int32 || inout.Datatype() != Int32 {
			t.Errorf("operator saw datatypes %v, %v", in.Datatype(), inout.Datatype())
		}
		src, dst := int32s(in), int32s(inout)
		for i := range dst {
			dst[i] = src[i]*10 + dst[i]
		}
		return nil
	}, false)
	if err != nil {
		t.Fatalf("NewOp: %v", err)
	}
	if op.IsPredefined() || op.Commutative() {
		t.Fatalf("user op flags: predefined=%v commute=%v", op.IsPredefined(), op.Commutative())
	}
	raw := op.Raw()
	if raw == native.Null || rt.Live(native.KindOp) != 1 {
		t.Fatalf("op not created: raw=%v live=%d", raw, rt.Live(native.KindOp))
	}

	in := []int32{1, 2, 3}
	inout := []int32{4, 5, 6}
	if err := op.ReduceLocal(SliceOf(in), SliceOf(inout)); err != nil {
		t.Fatalf("ReduceLocal: %v", err)
	}
	if calls != 1 || inout[0] != 14 || inout[1] != 25 || inout[2] != 36 {
		t.Fatalf("reduce result: calls=%d inout=%v", calls, inout)
	}

	out := make([]int32, 3)
	if err := env.World().Allreduce(SliceOf(in), SliceOf(out), op); err != nil {
		t.Fatalf("Allreduce with user op: %v", err)
	}
	if out[0] != 1 || out[2] != 3 {
		t.Fatalf("single-rank Allreduce result: %v", out)
	}

	clone := op.Clone()
	op.Release()
	if len(freed) != 0 {
		t.Fatalf("op freed while a clone is live: %v", freed)
	}
	clone.Release()
	if len(freed) != 1 || freed[0] != raw {
		t.Fatalf("freed handles: %v want [%v]", freed, raw)
	}
	if rt.Live(native.KindOp) != 0 {
		t.Fatalf("live ops after release: %d", rt.Live(native.KindOp))
	}
	if got := rec.all(); len(got) != 0 {
		t.Fatalf("unexpected fatal errors: %v", got)
	}
}

func TestOpClosureFailures(t *testing.T) {
	newTestEnv(t, Config{})
	boom := errors.New("boom")

	failing, err := NewOp(func(Buffer, Buffer) error { return boom }, true)
	if err != nil {
		t.Fatalf("NewOp: %v", err)
	}
	defer failing.Release()
	a, b := []int32{1}, []int32{2}
	err = failing.ReduceLocal(SliceOf(a), SliceOf(b))
	var oerr *OpError
	if !errors.As(err, &oerr) || !errors.Is(err, boom) {
		t.Fatalf("ReduceLocal error: got %v want *OpError wrapping boom", err)
	}

	panicking, err := NewOp(func(Buffer, Buffer) error { panic("bad element") }, true)
	if err != nil {
		t.Fatalf("NewOp: %v", err)
	}
	defer panicking.Release()
	if err := panicking.ReduceLocal(SliceOf(a), SliceOf(b)); !errors.As(err, &oerr) {
		t.Fatalf("panicking operator: got %v want *OpError", err)
	}

	if err := failing.ReduceLocal(SliceOf(a), SliceOf([]int32{1, 2})); !errors.Is(err, native.ErrCount) {
		t.Fatalf("count mismatch: got %v want ErrCount", err)
	}
	if _, err := NewOp(nil, true); !errors.Is(err, native.ErrArg) {
		t.Fatalf("nil operator: got %v want ErrArg", err)
	}
}

func TestPredefinedOpReduceLocal(t *testing.T) {
	newTestEnv(t, Config{})

	in := []float64{1.5, -2}
	inout := []float64{2, 3}
	if err := Sum.ReduceLocal(SliceOf(in), SliceOf(inout)); err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if inout[0] != 3.5 || inout[1] != 1 {
		t.Fatalf("Sum result: %v", inout)
	}

	a := []int32{7, -1}
	b := []int32{3, 4}
	if err := Max.ReduceLocal(SliceOf(a), SliceOf(b)); err != nil {
		t.Fatalf("Max: %v", err)
	}
	if b[0] != 7 || b[1] != 4 {
		t.Fatalf("Max result: %v", b)
	}

	if err := Land.ReduceLocal(SliceOf(in), SliceOf(inout)); !errors.Is(err, native.ErrOp) {
		t.Fatalf("Land on double: got %v want ErrOp", err)
	}
	if err := Sum.Free(); err != nil {
		t.Fatalf("Free on predefined op: %v", err)
	}
	if !Sum.IsPredefined() || Sum.Raw() == native.Null {
		t.Fatal("predefined op changed by Free")
	}
}
