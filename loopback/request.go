package loopback

import (
	"fmt"

	"github.com/rocketbitz/mpi-go/native"
)

func (r *Runtime) newRequestLocked(q *request) native.Handle {
	h := r.allocLocked(&object{kind: native.KindRequest, req: q})
	q.handle = h
	return h
}

// activeLocked resolves a request handle. Null handles and inactive
// persistent requests report ok=false.
func (r *Runtime) activeLocked(h native.Handle) (*request, bool, native.Errno) {
	if h == native.Null {
		return nil, false, native.Success
	}
	obj, code := r.lookupLocked(native.KindRequest, h)
	if code != native.Success {
		return nil, false, code
	}
	if !obj.req.active {
		return nil, false, native.Success
	}
	return obj.req, true, native.Success
}

// finishLocked consumes a completed request. One-shot requests are released
// and *h set to Null; persistent requests become inactive.
func (r *Runtime) finishLocked(h *native.Handle, q *request) native.Status {
	st := q.status
	if q.persistent {
		q.active = false
		q.complete = false
		return st
	}
	delete(r.objects, *h)
	*h = native.Null
	return st
}

func (r *Runtime) Wait(req *native.Handle) (native.Status, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.EmptyStatus, code
	}
	q, ok, code := r.activeLocked(*req)
	if code != native.Success || !ok {
		return native.EmptyStatus, code
	}
	for !q.complete {
		if r.finalized {
			return native.EmptyStatus, native.ErrOther
		}
		r.cond.Wait()
	}
	st := r.finishLocked(req, q)
	return st, st.Err
}

func (r *Runtime) Test(req *native.Handle) (bool, native.Status, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return false, native.EmptyStatus, code
	}
	q, ok, code := r.activeLocked(*req)
	if code != native.Success {
		return false, native.EmptyStatus, code
	}
	if !ok {
		return true, native.EmptyStatus, native.Success
	}
	if !q.complete {
		return false, native.EmptyStatus, native.Success
	}
	st := r.finishLocked(req, q)
	return true, st, st.Err
}

// RequestStatus reports completion without consuming the request.
func (r *Runtime) RequestStatus(req native.Handle) (bool, native.Status, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return false, native.EmptyStatus, code
	}
	q, ok, code := r.activeLocked(req)
	if code != native.Success {
		return false, native.EmptyStatus, code
	}
	if !ok {
		return true, native.EmptyStatus, native.Success
	}
	if !q.complete {
		return false, native.EmptyStatus, native.Success
	}
	return true, q.status, native.Success
}

// Cancel withdraws a pending receive. Requests that already completed are
// unaffected.
func (r *Runtime) Cancel(req native.Handle) native.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return code
	}
	q, ok, code := r.activeLocked(req)
	if code != native.Success || !ok || q.complete {
		return code
	}
	r.dropPendingLocked(q)
	q.status = native.Status{Source: native.AnySource, Tag: native.AnyTag, Cancelled: true}
	q.complete = true
	r.cond.Broadcast()
	return native.Success
}

// scanLocked returns the index of the first completed request in reqs, or
// Undefined when none completed. all reports whether every entry is null or
// inactive.
func (r *Runtime) scanLocked(reqs []native.Handle) (idx int, all bool, code native.Errno) {
	all = true
	for i, h := range reqs {
		q, ok, code := r.activeLocked(h)
		if code != native.Success {
			return native.Undefined, false, code
		}
		if !ok {
			continue
		}
		all = false
		if q.complete {
			return i, false, native.Success
		}
	}
	return native.Undefined, all, native.Success
}

func (r *Runtime) Waitany(reqs []native.Handle) (int, native.Status, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Undefined, native.EmptyStatus, code
	}
	for {
		idx, none, code := r.scanLocked(reqs)
		if code != native.Success {
			return native.Undefined, native.EmptyStatus, code
		}
		if none {
			return native.Undefined, native.EmptyStatus, native.Success
		}
		if idx != native.Undefined {
			q := r.objects[reqs[idx]].req
			st := r.finishLocked(&reqs[idx], q)
			return idx, st, st.Err
		}
		if r.finalized {
			return native.Undefined, native.EmptyStatus, native.ErrOther
		}
		r.cond.Wait()
	}
}

func (r *Runtime) Testany(reqs []native.Handle) (int, bool, native.Status, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Undefined, false, native.EmptyStatus, code
	}
	idx, none, code := r.scanLocked(reqs)
	if code != native.Success {
		return native.Undefined, false, native.EmptyStatus, code
	}
	if none {
		return native.Undefined, true, native.EmptyStatus, native.Success
	}
	if idx == native.Undefined {
		return native.Undefined, false, native.EmptyStatus, native.Success
	}
	q := r.objects[reqs[idx]].req
	st := r.finishLocked(&reqs[idx], q)
	return idx, true, st, st.Err
}

// allCompleteLocked reports whether every active request in reqs completed.
func (r *Runtime) allCompleteLocked(reqs []native.Handle) (bool, native.Errno) {
	for _, h := range reqs {
		q, ok, code := r.activeLocked(h)
		if code != native.Success {
			return false, code
		}
		if ok && !q.complete {
			return false, native.Success
		}
	}
	return true, native.Success
}

// collectLocked finishes every active request in reqs and fills statuses.
// It reports ErrInStatus when any status carries an error.
func (r *Runtime) collectLocked(reqs []native.Handle, statuses []native.Status) native.Errno {
	result := native.Success
	for i := range reqs {
		st := native.EmptyStatus
		if q, ok, _ := r.activeLocked(reqs[i]); ok {
			st = r.finishLocked(&reqs[i], q)
		}
		if i < len(statuses) {
			statuses[i] = st
		}
		if st.Err != native.Success {
			result = native.ErrInStatus
		}
	}
	return result
}

func (r *Runtime) Waitall(reqs []native.Handle, statuses []native.Status) native.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return code
	}
	for {
		done, code := r.allCompleteLocked(reqs)
		if code != native.Success {
			return code
		}
		if done {
			return r.collectLocked(reqs, statuses)
		}
		if r.finalized {
			return native.ErrOther
		}
		r.cond.Wait()
	}
}

func (r *Runtime) Testall(reqs []native.Handle, statuses []native.Status) (bool, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return false, code
	}
	done, code := r.allCompleteLocked(reqs)
	if code != native.Success || !done {
		return false, code
	}
	return true, r.collectLocked(reqs, statuses)
}

// someLocked finishes every completed request, recording their positions in
// indices. It returns Undefined when every request is null or inactive.
func (r *Runtime) someLocked(reqs []native.Handle, indices []int, statuses []native.Status) (int, native.Errno) {
	n := 0
	live := false
	result := native.Success
	for i := range reqs {
		q, ok, code := r.activeLocked(reqs[i])
		if code != native.Success {
			return native.Undefined, code
		}
		if !ok {
			continue
		}
		live = true
		if !q.complete {
			continue
		}
		st := r.finishLocked(&reqs[i], q)
		if n < len(indices) {
			indices[n] = i
		}
		if n < len(statuses) {
			statuses[n] = st
		}
		if st.Err != native.Success {
			result = native.ErrInStatus
		}
		n++
	}
	if !live {
		return native.Undefined, native.Success
	}
	return n, result
}

func (r *Runtime) Waitsome(reqs []native.Handle, indices []int, statuses []native.Status) (int, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Undefined, code
	}
	for {
		n, code := r.someLocked(reqs, indices, statuses)
		if n != 0 || code != native.Success {
			return n, code
		}
		if r.finalized {
			return native.Undefined, native.ErrOther
		}
		r.cond.Wait()
	}
}

func (r *Runtime) Testsome(reqs []native.Handle, indices []int, statuses []native.Status) (int, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Undefined, code
	}
	return r.someLocked(reqs, indices, statuses)
}

// StartRequest allocates an active request that completes only when
// CompleteRequest is called. Tests use it to drive completion order.
func (r *Runtime) StartRequest() (native.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Null, native.ErrorFromStatus(code, "StartRequest")
	}
	q := &request{kind: reqGeneric, active: true, status: native.EmptyStatus}
	return r.newRequestLocked(q), nil
}

// CompleteRequest completes a request created by StartRequest with st.
func (r *Runtime) CompleteRequest(h native.Handle, st native.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, code := r.lookupLocked(native.KindRequest, h)
	if code != native.Success {
		return native.ErrorFromStatus(code, "CompleteRequest")
	}
	q := obj.req
	if q.kind != reqGeneric {
		return fmt.Errorf("CompleteRequest: request %#x was not created by StartRequest", uintptr(h))
	}
	if q.complete {
		return fmt.Errorf("CompleteRequest: request %#x already complete", uintptr(h))
	}
	q.status = st
	q.complete = true
	r.cond.Broadcast()
	return nil
}
