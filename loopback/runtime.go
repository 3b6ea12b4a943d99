// Package loopback implements native.Runtime in Go for a single process that
// acts as rank 0 of a world of size one. Messages sent to rank 0 are queued
// and matched by later receives, requests complete in process, and attribute
// callbacks fire exactly where an MPI library would fire them. It is the
// default runtime when the bindings are built without the mpi tag and the
// runtime every unit test runs against.
package loopback

import (
	"sort"
	"sync"

	"github.com/rocketbitz/mpi-go/native"
)

// Runtime is an in-process native.Runtime.
type Runtime struct {
	mu   sync.Mutex
	cond *sync.Cond

	initialized bool
	finalized   bool
	level       native.ThreadLevel

	nextHandle native.Handle
	objects    map[native.Handle]*object

	world      native.Handle
	self       native.Handle
	basicTypes map[native.BasicType]native.Handle
	basicOps   map[native.BasicOp]native.Handle

	nextKeyval int
	keyvals    map[int]*keyval

	mailbox []*message
	pending []*request

	onFree func(kind native.Kind, h native.Handle)
}

var _ native.Runtime = (*Runtime)(nil)

// Option configures a Runtime.
type Option func(*Runtime)

// WithFreeHook registers a function invoked after every successful Free.
func WithFreeHook(fn func(kind native.Kind, h native.Handle)) Option {
	return func(r *Runtime) {
		r.onFree = fn
	}
}

type object struct {
	kind       native.Kind
	predefined bool
	name       string
	attrs      map[int]uintptr
	dtype      *typeInfo
	op         native.BasicOp
	userOp     native.UserOpFunc
	commute    bool
	info       map[string]string
	win        *window
	req        *request
}

// New constructs a Runtime with every predefined handle allocated.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		objects:    make(map[native.Handle]*object),
		basicTypes: make(map[native.BasicType]native.Handle),
		basicOps:   make(map[native.BasicOp]native.Handle),
		keyvals:    make(map[int]*keyval),
		nextKeyval: 100,
	}
	r.cond = sync.NewCond(&r.mu)

	r.world = r.allocLocked(&object{kind: native.KindComm, predefined: true, name: "MPI_COMM_WORLD"})
	r.self = r.allocLocked(&object{kind: native.KindComm, predefined: true, name: "MPI_COMM_SELF"})
	for _, bt := range native.BasicTypes() {
		r.basicTypes[bt] = r.allocLocked(&object{kind: native.KindDatatype, predefined: true, name: bt.String(), dtype: basicInfo(bt)})
	}
	for op := native.OpSum; op <= native.OpReplace; op++ {
		r.basicOps[op] = r.allocLocked(&object{kind: native.KindOp, predefined: true, name: op.String(), op: op})
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init marks the runtime initialized. Every thread level is supported.
func (r *Runtime) Init(required native.ThreadLevel) (native.ThreadLevel, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized || r.finalized {
		return native.ThreadSingle, native.ErrOther
	}
	if required < native.ThreadSingle {
		required = native.ThreadSingle
	}
	if required > native.ThreadMultiple {
		required = native.ThreadMultiple
	}
	r.initialized = true
	r.level = required
	return required, native.Success
}

// Finalize deletes the attributes cached on MPI_COMM_SELF, highest keyval
// first, and shuts the runtime down. Every later call fails.
func (r *Runtime) Finalize() native.Errno {
	r.mu.Lock()
	if code := r.checkLocked(); code != native.Success {
		r.mu.Unlock()
		return code
	}
	attrs := r.objects[r.self].sortedAttrs()
	r.mu.Unlock()

	for i := len(attrs) - 1; i >= 0; i-- {
		if code := r.deleteAttr(native.KindComm, r.self, attrs[i]); code != native.Success {
			return code
		}
	}

	r.mu.Lock()
	r.finalized = true
	r.cond.Broadcast()
	r.mu.Unlock()
	return native.Success
}

// ThreadLevel reports the level granted by Init.
func (r *Runtime) ThreadLevel() native.ThreadLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// LibraryVersion names the runtime in environment diagnostics.
func (r *Runtime) LibraryVersion() string { return "loopback (single rank)" }

// Finalized reports whether Finalize completed.
func (r *Runtime) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

func (r *Runtime) CommWorld() native.Handle { return r.world }

func (r *Runtime) CommSelf() native.Handle { return r.self }

func (r *Runtime) BasicDatatype(t native.BasicType) native.Handle {
	return r.basicTypes[t]
}

func (r *Runtime) BasicOp(op native.BasicOp) native.Handle {
	return r.basicOps[op]
}

// Live returns the number of non-predefined objects of the given kind.
func (r *Runtime) Live(kind native.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, obj := range r.objects {
		if obj.kind == kind && !obj.predefined {
			n++
		}
	}
	return n
}

// Free releases a handle after deleting every attribute cached on it.
func (r *Runtime) Free(kind native.Kind, h native.Handle) native.Errno {
	r.mu.Lock()
	if code := r.checkLocked(); code != native.Success {
		r.mu.Unlock()
		return code
	}
	obj, code := r.lookupLocked(kind, h)
	if code != native.Success {
		r.mu.Unlock()
		return code
	}
	if obj.predefined {
		r.mu.Unlock()
		return errFor(kind)
	}
	attrs := obj.sortedAttrs()
	r.mu.Unlock()

	for _, keyval := range attrs {
		if code := r.deleteAttr(kind, h, keyval); code != native.Success {
			return code
		}
	}

	r.mu.Lock()
	if obj.req != nil {
		r.dropPendingLocked(obj.req)
	}
	delete(r.objects, h)
	hook := r.onFree
	r.mu.Unlock()

	if hook != nil {
		hook(kind, h)
	}
	return native.Success
}

func (r *Runtime) SetName(kind native.Kind, h native.Handle, name string) native.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return code
	}
	obj, code := r.lookupLocked(kind, h)
	if code != native.Success {
		return code
	}
	obj.name = name
	return native.Success
}

func (r *Runtime) Name(kind native.Kind, h native.Handle) (string, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return "", code
	}
	obj, code := r.lookupLocked(kind, h)
	if code != native.Success {
		return "", code
	}
	return obj.name, native.Success
}

func (r *Runtime) CommDup(comm native.Handle) (native.Handle, native.Errno) {
	r.mu.Lock()
	if code := r.checkLocked(); code != native.Success {
		r.mu.Unlock()
		return native.Null, code
	}
	if _, code := r.lookupLocked(native.KindComm, comm); code != native.Success {
		r.mu.Unlock()
		return native.Null, code
	}
	dup := r.allocLocked(&object{kind: native.KindComm})
	r.mu.Unlock()

	if code := r.copyAttrs(native.KindComm, comm, dup); code != native.Success {
		return native.Null, code
	}
	return dup, native.Success
}

func (r *Runtime) CommSplit(comm native.Handle, color, key int) (native.Handle, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Null, code
	}
	if _, code := r.lookupLocked(native.KindComm, comm); code != native.Success {
		return native.Null, code
	}
	if color == native.Undefined {
		return native.Null, native.Success
	}
	if color < 0 {
		return native.Null, native.ErrArg
	}
	return r.allocLocked(&object{kind: native.KindComm}), native.Success
}

func (r *Runtime) CommRank(comm native.Handle) (int, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return 0, code
	}
	if _, code := r.lookupLocked(native.KindComm, comm); code != native.Success {
		return 0, code
	}
	return 0, native.Success
}

func (r *Runtime) CommSize(comm native.Handle) (int, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return 0, code
	}
	if _, code := r.lookupLocked(native.KindComm, comm); code != native.Success {
		return 0, code
	}
	return 1, native.Success
}

func (r *Runtime) InfoCreate() (native.Handle, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Null, code
	}
	return r.allocLocked(&object{kind: native.KindInfo, info: make(map[string]string)}), native.Success
}

func (r *Runtime) InfoDup(info native.Handle) (native.Handle, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Null, code
	}
	obj, code := r.lookupLocked(native.KindInfo, info)
	if code != native.Success {
		return native.Null, code
	}
	entries := make(map[string]string, len(obj.info))
	for k, v := range obj.info {
		entries[k] = v
	}
	return r.allocLocked(&object{kind: native.KindInfo, info: entries}), native.Success
}

func (r *Runtime) InfoSet(info native.Handle, key, value string) native.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return code
	}
	obj, code := r.lookupLocked(native.KindInfo, info)
	if code != native.Success {
		return code
	}
	if key == "" {
		return native.ErrInfoKey
	}
	obj.info[key] = value
	return native.Success
}

func (r *Runtime) InfoGet(info native.Handle, key string) (string, bool, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return "", false, code
	}
	obj, code := r.lookupLocked(native.KindInfo, info)
	if code != native.Success {
		return "", false, code
	}
	v, ok := obj.info[key]
	return v, ok, native.Success
}

func (r *Runtime) checkLocked() native.Errno {
	if !r.initialized || r.finalized {
		return native.ErrOther
	}
	return native.Success
}

func (r *Runtime) allocLocked(obj *object) native.Handle {
	r.nextHandle++
	h := r.nextHandle
	if obj.attrs == nil {
		obj.attrs = make(map[int]uintptr)
	}
	r.objects[h] = obj
	return h
}

func (r *Runtime) lookupLocked(kind native.Kind, h native.Handle) (*object, native.Errno) {
	if h == native.Null {
		return nil, errFor(kind)
	}
	obj, ok := r.objects[h]
	if !ok || obj.kind != kind {
		return nil, errFor(kind)
	}
	return obj, native.Success
}

func (o *object) sortedAttrs() []int {
	if o == nil || len(o.attrs) == 0 {
		return nil
	}
	keys := make([]int, 0, len(o.attrs))
	for k := range o.attrs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func errFor(kind native.Kind) native.Errno {
	switch kind {
	case native.KindComm:
		return native.ErrComm
	case native.KindDatatype:
		return native.ErrType
	case native.KindOp:
		return native.ErrOp
	case native.KindInfo:
		return native.ErrInfo
	case native.KindWin:
		return native.ErrWin
	case native.KindFile:
		return native.ErrFile
	case native.KindRequest:
		return native.ErrRequest
	default:
		return native.ErrArg
	}
}
