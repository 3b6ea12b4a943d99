package loopback

import "github.com/rocketbitz/mpi-go/native"

type keyval struct {
	kind     native.Kind
	copyFn   native.AttrCopyFunc
	deleteFn native.AttrDeleteFunc
	extra    uintptr
	freed    bool
}

func attributable(kind native.Kind) bool {
	switch kind {
	case native.KindComm, native.KindDatatype, native.KindWin:
		return true
	}
	return false
}

func (r *Runtime) CreateKeyval(kind native.Kind, copyFn native.AttrCopyFunc, deleteFn native.AttrDeleteFunc, extra uintptr) (int, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return 0, code
	}
	if !attributable(kind) {
		return 0, native.ErrArg
	}
	r.nextKeyval++
	id := r.nextKeyval
	r.keyvals[id] = &keyval{kind: kind, copyFn: copyFn, deleteFn: deleteFn, extra: extra}
	return id, native.Success
}

// FreeKeyval marks the keyval freed. Attributes already cached under it keep
// their delete callback until they are removed.
func (r *Runtime) FreeKeyval(kind native.Kind, id int) native.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return code
	}
	kv, ok := r.keyvals[id]
	if !ok || kv.kind != kind || kv.freed {
		return native.ErrKeyval
	}
	kv.freed = true
	return native.Success
}

func (r *Runtime) SetAttr(kind native.Kind, h native.Handle, id int, value uintptr) native.Errno {
	r.mu.Lock()
	if code := r.checkLocked(); code != native.Success {
		r.mu.Unlock()
		return code
	}
	kv, ok := r.keyvals[id]
	if !ok || kv.kind != kind || kv.freed {
		r.mu.Unlock()
		return native.ErrKeyval
	}
	obj, code := r.lookupLocked(kind, h)
	if code != native.Success {
		r.mu.Unlock()
		return code
	}
	_, had := obj.attrs[id]
	r.mu.Unlock()

	if had {
		if code := r.deleteAttr(kind, h, id); code != native.Success {
			return code
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	obj, code = r.lookupLocked(kind, h)
	if code != native.Success {
		return code
	}
	obj.attrs[id] = value
	return native.Success
}

func (r *Runtime) GetAttr(kind native.Kind, h native.Handle, id int) (uintptr, bool, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return 0, false, code
	}
	kv, ok := r.keyvals[id]
	if !ok || kv.kind != kind || kv.freed {
		return 0, false, native.ErrKeyval
	}
	obj, code := r.lookupLocked(kind, h)
	if code != native.Success {
		return 0, false, code
	}
	v, found := obj.attrs[id]
	return v, found, native.Success
}

// DeleteAttr removes an attribute; deleting an attribute that is not set is
// a no-op.
func (r *Runtime) DeleteAttr(kind native.Kind, h native.Handle, id int) native.Errno {
	r.mu.Lock()
	if code := r.checkLocked(); code != native.Success {
		r.mu.Unlock()
		return code
	}
	kv, ok := r.keyvals[id]
	if !ok || kv.kind != kind {
		r.mu.Unlock()
		return native.ErrKeyval
	}
	obj, code := r.lookupLocked(kind, h)
	if code != native.Success {
		r.mu.Unlock()
		return code
	}
	_, had := obj.attrs[id]
	r.mu.Unlock()
	if !had {
		return native.Success
	}
	return r.deleteAttr(kind, h, id)
}

// deleteAttr invokes the delete callback without holding the lock, so the
// callback may call back into the runtime, then drops the attribute.
func (r *Runtime) deleteAttr(kind native.Kind, h native.Handle, id int) native.Errno {
	r.mu.Lock()
	obj, ok := r.objects[h]
	if !ok {
		r.mu.Unlock()
		return errFor(kind)
	}
	value, had := obj.attrs[id]
	kv := r.keyvals[id]
	r.mu.Unlock()
	if !had {
		return native.Success
	}

	if kv != nil && kv.deleteFn != nil {
		if code := kv.deleteFn(kind, h, id, value, kv.extra); code != native.Success {
			return code
		}
	}

	r.mu.Lock()
	delete(obj.attrs, id)
	r.mu.Unlock()
	return native.Success
}

// copyAttrs runs the copy callback of every attribute on src and caches the
// results on dst. On failure the attributes already copied are deleted and
// dst is discarded.
func (r *Runtime) copyAttrs(kind native.Kind, src, dst native.Handle) native.Errno {
	r.mu.Lock()
	srcObj := r.objects[src]
	keys := srcObj.sortedAttrs()
	values := make([]uintptr, len(keys))
	kvs := make([]*keyval, len(keys))
	for i, k := range keys {
		values[i] = srcObj.attrs[k]
		kvs[i] = r.keyvals[k]
	}
	r.mu.Unlock()

	for i, k := range keys {
		kv := kvs[i]
		if kv == nil || kv.copyFn == nil {
			continue
		}
		out, keep, code := kv.copyFn(kind, src, k, kv.extra, values[i])
		if code != native.Success {
			r.discard(kind, dst)
			return code
		}
		if !keep {
			continue
		}
		r.mu.Lock()
		r.objects[dst].attrs[k] = out
		r.mu.Unlock()
	}
	return native.Success
}

func (r *Runtime) discard(kind native.Kind, h native.Handle) {
	r.mu.Lock()
	keys := r.objects[h].sortedAttrs()
	r.mu.Unlock()
	for _, k := range keys {
		_ = r.deleteAttr(kind, h, k)
	}
	r.mu.Lock()
	delete(r.objects, h)
	r.mu.Unlock()
}
