package mpi

import (
	"errors"
	"strings"
	"testing"

	"github.com/rocketbitz/mpi-go/native"
)

type counted struct {
	copied bool
}

func TestKeyvalCopyDeleteCounter(t *testing.T) {
	env, _, _ := newTestEnv(t, Config{})
	counter := 0
	kv, err := NewKeyval(native.KindComm,
		func(_ native.Kind, _ native.Handle, _, _ any) (any, bool, error) {
			counter++
			return &counted{copied: true}, true, nil
		},
		func(_ native.Kind, _ native.Handle, value, _ any) error {
			if value.(*counted).copied {
				counter--
			}
			return nil
		}, nil)
	if err != nil {
		t.Fatalf("NewKeyval: %v", err)
	}
	t.Cleanup(func() { _ = kv.Free() })

	comm, err := env.World().Dup()
	if err != nil {
		t.Fatalf("Dup world: %v", err)
	}
	if err := comm.SetAttr(kv, &counted{}); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	dup, err := comm.Dup()
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	if counter != 1 {
		t.Fatalf("counter after Dup: got %d want 1", counter)
	}
	v, found, err := dup.GetAttr(kv)
	if err != nil || !found || !v.(*counted).copied {
		t.Fatalf("GetAttr on dup: %v %v %v", v, found, err)
	}

	comm.Release()
	dup.Release()
	if counter != 0 {
		t.Fatalf("counter after release: got %d want 0", counter)
	}
	if n := liveValues(); n != 0 {
		t.Fatalf("attribute values leaked: %d", n)
	}
}

func TestKeyvalCopyErrorAbortsDup(t *testing.T) {
	metrics := newMetricRecorder()
	env, rt, _ := newTestEnv(t, Config{Metrics: metrics})

	boom := errors.New("boom")
	kv, err := NewKeyval(native.KindComm,
		func(native.Kind, native.Handle, any, any) (any, bool, error) { return nil, false, boom },
		nil, nil)
	if err != nil {
		t.Fatalf("NewKeyval: %v", err)
	}
	t.Cleanup(func() { _ = kv.Free() })

	comm, err := env.World().Dup()
	if err != nil {
		t.Fatalf("Dup world: %v", err)
	}
	defer comm.Release()
	if err := comm.SetAttr(kv, "payload"); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	before := rt.Live(native.KindComm)

	dup, err := comm.Dup()
	var cerr *CallbackError
	if !errors.As(err, &cerr) || !errors.Is(err, boom) {
		t.Fatalf("Dup: got %v want CallbackError wrapping boom", err)
	}
	if cerr.Keyval != kv.ID() || cerr.Kind != native.KindComm {
		t.Fatalf("CallbackError: %+v", cerr)
	}
	if dup != nil {
		t.Fatal("Dup returned a communicator on failure")
	}
	if rt.Live(native.KindComm) != before {
		t.Fatal("failed Dup leaked a communicator")
	}
	if metrics.Snapshot().callbackFailed != 1 {
		t.Fatalf("callback failures: %d", metrics.Snapshot().callbackFailed)
	}
	if takePending() != nil {
		t.Fatal("pending error slot not drained")
	}
}

func TestKeyvalCopyPanicIsRecovered(t *testing.T) {
	newTestEnv(t, Config{})
	kv, err := NewKeyval(native.KindDatatype,
		func(native.Kind, native.Handle, any, any) (any, bool, error) { panic("copy exploded") },
		nil, nil)
	if err != nil {
		t.Fatalf("NewKeyval: %v", err)
	}
	t.Cleanup(func() { _ = kv.Free() })

	dt, err := Contiguous(2, Int)
	if err != nil {
		t.Fatalf("Contiguous: %v", err)
	}
	defer dt.Release()
	if err := dt.SetAttr(kv, 1); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	_, err = dt.Dup()
	var cerr *CallbackError
	if !errors.As(err, &cerr) || !strings.Contains(err.Error(), "copy exploded") {
		t.Fatalf("Dup: got %v", err)
	}
}

func TestKeyvalNullAndDupCopy(t *testing.T) {
	env, _, _ := newTestEnv(t, Config{})
	shared, err := NewKeyval(native.KindComm, DupCopy, NullDelete, nil)
	if err != nil {
		t.Fatalf("NewKeyval: %v", err)
	}
	dropped, err := NewKeyval(native.KindComm, NullCopy, nil, nil)
	if err != nil {
		t.Fatalf("NewKeyval: %v", err)
	}
	t.Cleanup(func() {
		_ = shared.Free()
		_ = dropped.Free()
	})

	comm, err := env.World().Dup()
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	defer comm.Release()
	_ = comm.SetAttr(shared, "kept")
	_ = comm.SetAttr(dropped, "dropped")

	dup, err := comm.Dup()
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	defer dup.Release()

	if v, found, _ := dup.GetAttr(shared); !found || v != "kept" {
		t.Fatalf("DupCopy attribute: %v %v", v, found)
	}
	if _, found, err := dup.GetAttr(dropped); found || err != nil {
		t.Fatalf("NullCopy attribute copied: found=%v err=%v", found, err)
	}
}

func TestKeyvalGetDeleteAndKind(t *testing.T) {
	env, _, _ := newTestEnv(t, Config{})
	deleted := 0
	kv, err := NewKeyval(native.KindComm, nil, func(native.Kind, native.Handle, any, any) error {
		deleted++
		return nil
	}, "extra")
	if err != nil {
		t.Fatalf("NewKeyval: %v", err)
	}
	t.Cleanup(func() { _ = kv.Free() })
	world := env.World()

	if _, found, err := world.GetAttr(kv); found || err != nil {
		t.Fatalf("GetAttr unset: found=%v err=%v", found, err)
	}
	if err := world.SetAttr(kv, 1); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if err := world.SetAttr(kv, 2); err != nil {
		t.Fatalf("SetAttr overwrite: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("overwrite did not delete the old value: %d", deleted)
	}
	if v, _, _ := world.GetAttr(kv); v != 2 {
		t.Fatalf("GetAttr: %v", v)
	}
	if err := world.DeleteAttr(kv); err != nil {
		t.Fatalf("DeleteAttr: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("delete count: %d", deleted)
	}

	dt, err := Contiguous(1, Double)
	if err != nil {
		t.Fatalf("Contiguous: %v", err)
	}
	defer dt.Release()
	if err := dt.SetAttr(kv, 3); !errors.Is(err, ErrKeyvalKind) {
		t.Fatalf("SetAttr on datatype: got %v want ErrKeyvalKind", err)
	}
}

func TestKeyvalFreedKeepsDeleteClosure(t *testing.T) {
	env, _, _ := newTestEnv(t, Config{})
	deleted := 0
	kv, err := NewKeyval(native.KindComm, nil, func(native.Kind, native.Handle, any, any) error {
		deleted++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("NewKeyval: %v", err)
	}
	comm, err := env.World().Dup()
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	if err := comm.SetAttr(kv, "v"); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if err := kv.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := kv.Free(); err != nil {
		t.Fatalf("second Free: %v", err)
	}
	if err := comm.SetAttr(kv, "w"); !errors.Is(err, ErrKeyvalFreed) {
		t.Fatalf("SetAttr after Free: got %v want ErrKeyvalFreed", err)
	}
	comm.Release()
	if deleted != 1 {
		t.Fatalf("delete closure after keyval free: %d calls", deleted)
	}
}

func TestKeyvalDeleteFailureIsFatal(t *testing.T) {
	env, _, rec := newTestEnv(t, Config{})
	kv, err := NewKeyval(native.KindComm, nil, func(native.Kind, native.Handle, any, any) error {
		return errors.New("cannot release")
	}, nil)
	if err != nil {
		t.Fatalf("NewKeyval: %v", err)
	}
	t.Cleanup(func() { _ = kv.Free() })

	world := env.World()
	if err := world.SetAttr(kv, 1); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if err := world.DeleteAttr(kv); err == nil {
		t.Fatal("DeleteAttr succeeded despite failing closure")
	}
	fatals := rec.all()
	if len(fatals) != 1 || fatals[0].Op != "MPI_Comm_delete_attr" {
		t.Fatalf("fatals: %v", fatals)
	}
	var cerr *CallbackError
	if !errors.As(fatals[0], &cerr) {
		t.Fatalf("fatal does not wrap CallbackError: %v", fatals[0])
	}
}

func TestKeyvalSelfAttributesDeletedAtFinalize(t *testing.T) {
	env, _, _ := newTestEnv(t, Config{})
	var order []int
	mk := func(tag int) *Keyval {
		kv, err := NewKeyval(native.KindComm, nil, func(native.Kind, native.Handle, any, any) error {
			order = append(order, tag)
			return nil
		}, nil)
		if err != nil {
			t.Fatalf("NewKeyval: %v", err)
		}
		return kv
	}
	first, second := mk(1), mk(2)
	_ = env.Self().SetAttr(first, nil)
	_ = env.Self().SetAttr(second, nil)
	_ = first.Free()
	_ = second.Free()

	if err := env.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("delete order: %v want [2 1]", order)
	}
}

func TestWinAndDatatypeAttributes(t *testing.T) {
	env, _, _ := newTestEnv(t, Config{})
	kv, err := NewKeyval(native.KindWin, DupCopy, nil, nil)
	if err != nil {
		t.Fatalf("NewKeyval: %v", err)
	}
	t.Cleanup(func() { _ = kv.Free() })

	mem := make([]int32, 4)
	win, err := NewWin(env.World(), mem, nil)
	if err != nil {
		t.Fatalf("NewWin: %v", err)
	}
	if err := win.SetAttr(kv, "window"); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if v, found, err := win.GetAttr(kv); err != nil || !found || v != "window" {
		t.Fatalf("GetAttr: %v %v %v", v, found, err)
	}
	if err := win.DeleteAttr(kv); err != nil {
		t.Fatalf("DeleteAttr: %v", err)
	}
	if err := win.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	win.Release()
}
