package mpi

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rocketbitz/mpi-go/native"
)

// CopyFunc is invoked for every attribute cached on a resource being
// duplicated. Returning keep=false leaves the attribute off the duplicate.
// A non-nil error aborts the duplication and is returned by Dup.
type CopyFunc func(kind native.Kind, old native.Handle, value, extra any) (out any, keep bool, err error)

// DeleteFunc is invoked when an attribute is deleted, overwritten, or its
// resource is freed. A non-nil error is fatal.
type DeleteFunc func(kind native.Kind, h native.Handle, value, extra any) error

var (
	// NullCopy never copies the attribute to the duplicate.
	NullCopy CopyFunc = func(native.Kind, native.Handle, any, any) (any, bool, error) {
		return nil, false, nil
	}
	// DupCopy shares the attribute value with the duplicate.
	DupCopy CopyFunc = func(_ native.Kind, _ native.Handle, value, _ any) (any, bool, error) {
		return value, true, nil
	}
	// NullDelete does nothing.
	NullDelete DeleteFunc = func(native.Kind, native.Handle, any, any) error {
		return nil
	}
)

type keyvalEntry struct {
	id       int
	kind     native.Kind
	copyFn   CopyFunc
	deleteFn DeleteFunc
	extra    any
	freed    bool
}

var (
	keyvalMu sync.Mutex
	keyvals  = make(map[int]*keyvalEntry)
)

func lookupKeyval(id int) *keyvalEntry {
	keyvalMu.Lock()
	defer keyvalMu.Unlock()
	return keyvals[id]
}

// Keyval is a registered attribute key for one resource kind.
type Keyval struct {
	entry *keyvalEntry
	rt    native.Runtime
}

// NewKeyval registers copy and delete closures for attributes of the given
// kind (KindComm, KindDatatype or KindWin). Nil closures behave like
// NullCopy and NullDelete.
func NewKeyval(kind native.Kind, copyFn CopyFunc, deleteFn DeleteFunc, extra any) (*Keyval, error) {
	rt, err := currentRuntime()
	if err != nil {
		return nil, err
	}
	id, code := rt.CreateKeyval(kind, copyTrampoline, deleteTrampoline, 0)
	if err := native.ErrorFromStatus(code, createKeyvalOp(kind)); err != nil {
		return nil, err
	}
	entry := &keyvalEntry{id: id, kind: kind, copyFn: copyFn, deleteFn: deleteFn, extra: extra}
	keyvalMu.Lock()
	keyvals[id] = entry
	keyvalMu.Unlock()
	debug("keyval created", zap.Int("keyval", id), zap.Stringer("kind", kind))
	return &Keyval{entry: entry, rt: rt}, nil
}

// ID returns the native keyval.
func (k *Keyval) ID() int {
	if k == nil {
		return 0
	}
	return k.entry.id
}

// Kind returns the resource kind the keyval applies to.
func (k *Keyval) Kind() native.Kind {
	if k == nil {
		return 0
	}
	return k.entry.kind
}

// Free releases the keyval. Attributes already cached under it keep their
// delete closure until they are removed. Later calls are no-ops.
func (k *Keyval) Free() error {
	if k == nil {
		return nil
	}
	keyvalMu.Lock()
	if k.entry.freed {
		keyvalMu.Unlock()
		return nil
	}
	k.entry.freed = true
	keyvalMu.Unlock()

	if err := native.ErrorFromStatus(k.rt.FreeKeyval(k.entry.kind, k.entry.id), freeKeyvalOp(k.entry.kind)); err != nil {
		keyvalMu.Lock()
		k.entry.freed = false
		keyvalMu.Unlock()
		return err
	}
	debug("keyval freed", zap.Int("keyval", k.entry.id))
	return nil
}

func (k *Keyval) check(kind native.Kind) error {
	if k == nil || k.entry == nil {
		return ErrInvalidHandle{"keyval"}
	}
	keyvalMu.Lock()
	freed := k.entry.freed
	keyvalMu.Unlock()
	if freed {
		return ErrKeyvalFreed
	}
	if k.entry.kind != kind {
		return fmt.Errorf("%w: keyval %d is for %s, not %s", ErrKeyvalKind, k.entry.id, k.entry.kind, kind)
	}
	return nil
}

// liveKeyvals returns every registered keyval that was not freed.
func liveKeyvals() []int {
	keyvalMu.Lock()
	defer keyvalMu.Unlock()
	var out []int
	for id, e := range keyvals {
		if !e.freed {
			out = append(out, id)
		}
	}
	return out
}

func resetKeyvals() {
	keyvalMu.Lock()
	keyvals = make(map[int]*keyvalEntry)
	keyvalMu.Unlock()
	resetValues()
}

func setAttr(rt native.Runtime, kind native.Kind, raw native.Handle, kv *Keyval, value any) error {
	if err := kv.check(kind); err != nil {
		return err
	}
	id := storeValue(value)
	if err := native.ErrorFromStatus(rt.SetAttr(kind, raw, kv.entry.id, id), setAttrOp(kind)); err != nil {
		dropValue(id)
		return err
	}
	return nil
}

func getAttr(rt native.Runtime, kind native.Kind, raw native.Handle, kv *Keyval) (any, bool, error) {
	if err := kv.check(kind); err != nil {
		return nil, false, err
	}
	id, found, code := rt.GetAttr(kind, raw, kv.entry.id)
	if err := native.ErrorFromStatus(code, getAttrOp(kind)); err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return loadValue(id), true, nil
}

func deleteAttr(rt native.Runtime, kind native.Kind, raw native.Handle, kv *Keyval) error {
	if kv == nil || kv.entry == nil {
		return ErrInvalidHandle{"keyval"}
	}
	if kv.entry.kind != kind {
		return fmt.Errorf("%w: keyval %d is for %s, not %s", ErrKeyvalKind, kv.entry.id, kv.entry.kind, kind)
	}
	return native.ErrorFromStatus(rt.DeleteAttr(kind, raw, kv.entry.id), deleteAttrOp(kind))
}

// copyTrampoline is the single copy callback registered for every keyval.
// Closure errors and panics are parked for callWithCallbacks and reported
// to the runtime as ErrOther.
func copyTrampoline(kind native.Kind, old native.Handle, keyval int, _ uintptr, value uintptr) (out uintptr, keep bool, code native.Errno) {
	entry := lookupKeyval(keyval)
	if entry == nil || entry.copyFn == nil {
		return 0, false, native.Success
	}
	defer func() {
		if r := recover(); r != nil {
			err := &CallbackError{Keyval: keyval, Kind: kind, Err: fmt.Errorf("copy closure panicked: %v", r)}
			metricCallbackFailed(kind.String(), "copy", err)
			setPending(err)
			out, keep, code = 0, false, native.ErrOther
		}
	}()

	nv, keep, err := entry.copyFn(kind, old, loadValue(value), entry.extra)
	if err != nil {
		cerr := &CallbackError{Keyval: keyval, Kind: kind, Err: err}
		metricCallbackFailed(kind.String(), "copy", cerr)
		setPending(cerr)
		return 0, false, native.ErrOther
	}
	if !keep {
		return 0, false, native.Success
	}
	return storeValue(nv), true, native.Success
}

// deleteTrampoline is the single delete callback registered for every
// keyval. Closure failures are fatal.
func deleteTrampoline(kind native.Kind, h native.Handle, keyval int, value, _ uintptr) native.Errno {
	entry := lookupKeyval(keyval)
	if entry == nil {
		dropValue(value)
		return native.Success
	}
	var err error
	if entry.deleteFn != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("delete closure panicked: %v", r)
				}
			}()
			err = entry.deleteFn(kind, h, loadValue(value), entry.extra)
		}()
	}
	if err != nil {
		cerr := &CallbackError{Keyval: keyval, Kind: kind, Err: err}
		metricCallbackFailed(kind.String(), "delete", cerr)
		fatal(deleteAttrOp(kind), cerr)
		return native.ErrOther
	}
	dropValue(value)
	return native.Success
}

func createKeyvalOp(kind native.Kind) string { return kindOp(kind, "create_keyval") }
func freeKeyvalOp(kind native.Kind) string   { return kindOp(kind, "free_keyval") }
func setAttrOp(kind native.Kind) string      { return kindOp(kind, "set_attr") }
func getAttrOp(kind native.Kind) string      { return kindOp(kind, "get_attr") }
func deleteAttrOp(kind native.Kind) string   { return kindOp(kind, "delete_attr") }

func kindOp(kind native.Kind, suffix string) string {
	switch kind {
	case native.KindComm:
		return "MPI_Comm_" + suffix
	case native.KindDatatype:
		return "MPI_Type_" + suffix
	case native.KindWin:
		return "MPI_Win_" + suffix
	default:
		return "MPI_" + kind.String() + "_" + suffix
	}
}
