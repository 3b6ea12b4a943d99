package mpi

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/rocketbitz/mpi-go/native"
)

type slot struct {
	raw        native.Handle
	persistent bool
	owns       bool
}

// Requests is an ordered set of pending operations. Every nonblocking call
// returns a set of size one; sets can be merged with Put and split with Get
// before a multi-completion call. A Requests value must not be used from more
// than one goroutine at a time.
//
// Completing a one-shot request sets its slot to native.Null. Persistent
// requests keep their handle and become inactive until restarted.
type Requests struct {
	rt    native.Runtime
	slots []slot
}

func newRequests(rt native.Runtime, raw native.Handle, persistent bool) *Requests {
	return &Requests{rt: rt, slots: []slot{{raw: raw, persistent: persistent, owns: true}}}
}

// WrapRequests adopts native requests obtained outside the package. The set
// owns them: persistent requests are freed by Close.
func WrapRequests(rt native.Runtime, persistent bool, raws ...native.Handle) *Requests {
	return wrapRequests(rt, persistent, true, raws)
}

// BorrowRequests wraps native requests without taking ownership. Close
// treats any borrowed request that is still non-null as a leak.
func BorrowRequests(rt native.Runtime, persistent bool, raws ...native.Handle) *Requests {
	return wrapRequests(rt, persistent, false, raws)
}

func wrapRequests(rt native.Runtime, persistent, owns bool, raws []native.Handle) *Requests {
	r := &Requests{rt: rt, slots: make([]slot, len(raws))}
	for i, raw := range raws {
		r.slots[i] = slot{raw: raw, persistent: persistent, owns: owns}
	}
	return r
}

// Len returns the number of slots, including null ones.
func (r *Requests) Len() int {
	if r == nil {
		return 0
	}
	return len(r.slots)
}

// Raw returns the native request held in slot i.
func (r *Requests) Raw(i int) (native.Handle, error) {
	s, err := r.slot(i)
	if err != nil {
		return native.Null, err
	}
	return s.raw, nil
}

// Persistent reports whether slot i holds a persistent request.
func (r *Requests) Persistent(i int) (bool, error) {
	s, err := r.slot(i)
	if err != nil {
		return false, err
	}
	return s.persistent, nil
}

func (r *Requests) slot(i int) (*slot, error) {
	if r == nil || i < 0 || i >= len(r.slots) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, r.Len())
	}
	return &r.slots[i], nil
}

func (r *Requests) runtime() (native.Runtime, error) {
	if r == nil || r.rt == nil {
		return nil, ErrInvalidHandle{"request set"}
	}
	return r.rt, nil
}

// Put moves every slot of other to the end of r, leaving other empty.
func (r *Requests) Put(other *Requests) {
	if r == nil || other == nil || other == r {
		return
	}
	if r.rt == nil {
		r.rt = other.rt
	}
	r.slots = append(r.slots, other.slots...)
	other.slots = nil
}

// Get removes slot i into a new set. The last slot moves into the hole, so
// the order of the remaining slots is not preserved.
func (r *Requests) Get(i int) (*Requests, error) {
	return r.GetRange(i, i+1)
}

// GetRange removes slots [begin, end) into a new set, filling the hole from
// the tail of r.
func (r *Requests) GetRange(begin, end int) (*Requests, error) {
	if r == nil {
		return nil, ErrInvalidHandle{"request set"}
	}
	n := r.Len()
	if begin < 0 || end > n || begin > end {
		return nil, fmt.Errorf("%w: [%d, %d) of %d", ErrIndexOutOfRange, begin, end, n)
	}
	out := &Requests{rt: r.rt, slots: append([]slot(nil), r.slots[begin:end]...)}
	width := end - begin
	moved := min(width, n-end)
	for k := 0; k < moved; k++ {
		r.slots[begin+k] = r.slots[n-1-k]
	}
	clear(r.slots[n-width:])
	r.slots = r.slots[:n-width]
	return out, nil
}

// Start activates the persistent request in slot i.
func (r *Requests) Start(i int) error {
	s, err := r.slot(i)
	if err != nil {
		return err
	}
	if !s.persistent {
		return fmt.Errorf("MPI_Start: slot %d: %w", i, ErrNotPersistent)
	}
	return native.ErrorFromStatus(r.rt.Start(s.raw), "MPI_Start")
}

// StartAll activates every persistent request. No request is started when
// the set holds a one-shot request.
func (r *Requests) StartAll() error {
	rt, err := r.runtime()
	if err != nil {
		return err
	}
	for i, s := range r.slots {
		if !s.persistent {
			return fmt.Errorf("MPI_Startall: slot %d: %w", i, ErrNotPersistent)
		}
	}
	for _, s := range r.slots {
		if err := native.ErrorFromStatus(rt.Start(s.raw), "MPI_Startall"); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until the request in slot i completes.
func (r *Requests) Wait(i int) (Status, error) {
	s, err := r.slot(i)
	if err != nil {
		return emptyStatus(), err
	}
	st, code := r.rt.Wait(&s.raw)
	err = native.ErrorFromStatus(code, "MPI_Wait")
	metricRequest("MPI_Wait", err)
	return newStatus(st), err
}

// WaitContext polls slot i until it completes or ctx is done.
func (r *Requests) WaitContext(ctx context.Context, i int) (Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return emptyStatus(), ctx.Err()
		default:
		}
		done, st, err := r.Test(i)
		if err != nil || done {
			return st, err
		}
		time.Sleep(time.Millisecond)
	}
}

// Test completes slot i if it is done. A null or inactive slot reports done
// with an empty status.
func (r *Requests) Test(i int) (bool, Status, error) {
	s, err := r.slot(i)
	if err != nil {
		return false, emptyStatus(), err
	}
	done, st, code := r.rt.Test(&s.raw)
	err = native.ErrorFromStatus(code, "MPI_Test")
	if done || err != nil {
		metricRequest("MPI_Test", err)
	}
	return done, newStatus(st), err
}

// Status inspects slot i without completing it.
func (r *Requests) Status(i int) (bool, Status, error) {
	s, err := r.slot(i)
	if err != nil {
		return false, emptyStatus(), err
	}
	done, st, code := r.rt.RequestStatus(s.raw)
	return done, newStatus(st), native.ErrorFromStatus(code, "MPI_Request_get_status")
}

// Cancel asks the runtime to cancel slot i. The request must still be
// completed; Status.WasCancelled reports whether the cancellation took effect.
func (r *Requests) Cancel(i int) error {
	s, err := r.slot(i)
	if err != nil {
		return err
	}
	return native.ErrorFromStatus(r.rt.Cancel(s.raw), "MPI_Cancel")
}

// Free releases the request in slot i. A one-shot request must be null or
// complete; a persistent request may be freed in any state. Freeing an
// incomplete one-shot request is fatal.
func (r *Requests) Free(i int) error {
	s, err := r.slot(i)
	if err != nil {
		return err
	}
	return r.freeSlot(s)
}

func (r *Requests) freeSlot(s *slot) error {
	if s.raw == native.Null {
		return nil
	}
	if !s.persistent {
		done, _, code := r.rt.RequestStatus(s.raw)
		if err := native.ErrorFromStatus(code, "MPI_Request_get_status"); err != nil {
			return err
		}
		if !done {
			return fatal("MPI_Request_free", fmt.Errorf("active request %#x: %w", uintptr(s.raw), ErrObjectNotFreed))
		}
	}
	if err := native.ErrorFromStatus(r.rt.Free(native.KindRequest, s.raw), "MPI_Request_free"); err != nil {
		return fatal("MPI_Request_free", err)
	}
	s.raw = native.Null
	metricHandleFreed(native.KindRequest.String())
	return nil
}

func (r *Requests) handles() []native.Handle {
	raws := make([]native.Handle, len(r.slots))
	for i, s := range r.slots {
		raws[i] = s.raw
	}
	return raws
}

func (r *Requests) store(raws []native.Handle) {
	for i := range r.slots {
		r.slots[i].raw = raws[i]
	}
}

// WaitAny blocks until one active request completes and returns its index.
// The index is native.Undefined when no slot is active.
func (r *Requests) WaitAny() (int, Status, error) {
	rt, err := r.runtime()
	if err != nil {
		return native.Undefined, emptyStatus(), err
	}
	raws := r.handles()
	idx, st, code := rt.Waitany(raws)
	r.store(raws)
	err = native.ErrorFromStatus(code, "MPI_Waitany")
	if idx != native.Undefined {
		metricRequest("MPI_Waitany", err)
	}
	return idx, newStatus(st), err
}

// TestAny completes one finished request if there is one. done is true with
// index native.Undefined when no slot is active.
func (r *Requests) TestAny() (idx int, done bool, st Status, err error) {
	rt, err := r.runtime()
	if err != nil {
		return native.Undefined, false, emptyStatus(), err
	}
	raws := r.handles()
	idx, done, raw, code := rt.Testany(raws)
	r.store(raws)
	err = native.ErrorFromStatus(code, "MPI_Testany")
	if idx != native.Undefined {
		metricRequest("MPI_Testany", err)
	}
	return idx, done, newStatus(raw), err
}

// WaitAll blocks until every request completes. When some requests fail the
// first failure is returned as a *StatusError together with every status.
func (r *Requests) WaitAll() ([]Status, error) {
	rt, err := r.runtime()
	if err != nil {
		return nil, err
	}
	span := startSpan("mpi.Requests.WaitAll", TraceAttribute{Key: "requests", Value: len(r.slots)})
	raws := r.handles()
	raw := make([]native.Status, len(raws))
	code := rt.Waitall(raws, raw)
	r.store(raws)
	statuses := wrapStatuses(raw)
	err = statusError("MPI_Waitall", code, statuses, nil)
	endSpan(span, err)
	return statuses, err
}

// TestAll completes every request if all of them are done. Otherwise no
// request is completed and the returned statuses are nil.
func (r *Requests) TestAll() (bool, []Status, error) {
	rt, err := r.runtime()
	if err != nil {
		return false, nil, err
	}
	raws := r.handles()
	raw := make([]native.Status, len(raws))
	done, code := rt.Testall(raws, raw)
	r.store(raws)
	if !done && code == native.Success {
		return false, nil, nil
	}
	statuses := wrapStatuses(raw)
	return done, statuses, statusError("MPI_Testall", code, statuses, nil)
}

// WaitSome blocks until at least one request completes and returns the slot
// indices that completed with their statuses. indices is nil when no slot is
// active.
func (r *Requests) WaitSome() ([]int, []Status, error) {
	return r.some("MPI_Waitsome", func(rt native.Runtime, raws []native.Handle, idx []int, st []native.Status) (int, native.Errno) {
		return rt.Waitsome(raws, idx, st)
	})
}

// TestSome completes every request that is done. It returns an empty slice
// when none completed and nil when no slot is active.
func (r *Requests) TestSome() ([]int, []Status, error) {
	return r.some("MPI_Testsome", func(rt native.Runtime, raws []native.Handle, idx []int, st []native.Status) (int, native.Errno) {
		return rt.Testsome(raws, idx, st)
	})
}

type someFunc func(rt native.Runtime, raws []native.Handle, indices []int, statuses []native.Status) (int, native.Errno)

func (r *Requests) some(op string, call someFunc) ([]int, []Status, error) {
	rt, err := r.runtime()
	if err != nil {
		return nil, nil, err
	}
	raws := r.handles()
	indices := make([]int, len(raws))
	raw := make([]native.Status, len(raws))
	n, code := call(rt, raws, indices, raw)
	r.store(raws)
	if n == native.Undefined {
		return nil, nil, native.ErrorFromStatus(code, op)
	}
	indices = indices[:n]
	statuses := wrapStatuses(raw[:n])
	return indices, statuses, statusError(op, code, statuses, indices)
}

// Close releases the set. Owned persistent requests are freed; any other
// non-null slot is a leaked operation and is fatal.
func (r *Requests) Close() error {
	if r == nil {
		return nil
	}
	var err error
	for i := range r.slots {
		s := &r.slots[i]
		if s.raw == native.Null {
			continue
		}
		if s.persistent && s.owns {
			err = multierr.Append(err, r.freeSlot(s))
			continue
		}
		err = multierr.Append(err, fatal("Requests.Close", fmt.Errorf("slot %d request %#x: %w", i, uintptr(s.raw), ErrObjectNotFreed)))
	}
	r.slots = nil
	return err
}

func wrapStatuses(raw []native.Status) []Status {
	out := make([]Status, len(raw))
	for i, st := range raw {
		out[i] = newStatus(st)
	}
	return out
}

// statusError converts a multi-completion code, resolving ErrInStatus to the
// first failing status, and records one metric per completed request.
func statusError(op string, code native.Errno, statuses []Status, indices []int) error {
	var err error
	if code == native.ErrInStatus {
		err = firstStatusError(statuses, indices)
	} else {
		err = native.ErrorFromStatus(code, op)
	}
	for _, st := range statuses {
		if st.raw.Err == native.ErrPending {
			continue
		}
		metricRequest(op, st.Err())
	}
	return err
}
