package loopback

import (
	"unsafe"

	"github.com/rocketbitz/mpi-go/native"
)

// block is a run of n contiguous bytes at offset off from the element start.
type block struct {
	off int64
	n   int
}

// typeInfo is the flattened type map of a datatype.
type typeInfo struct {
	basic     native.BasicType
	size      int
	lb        int64
	extent    int64
	blocks    []block
	committed bool
}

func basicInfo(t native.BasicType) *typeInfo {
	size := t.Size()
	return &typeInfo{
		basic:     t,
		size:      size,
		extent:    int64(size),
		blocks:    []block{{off: 0, n: size}},
		committed: true,
	}
}

func (t *typeInfo) clone() *typeInfo {
	out := *t
	out.blocks = append([]block(nil), t.blocks...)
	return &out
}

func appendShifted(dst []block, src []block, shift int64) []block {
	for _, b := range src {
		b.off += shift
		if n := len(dst); n > 0 && dst[n-1].off+int64(dst[n-1].n) == b.off {
			dst[n-1].n += b.n
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// span returns the lowest and one-past-highest byte touched by count
// consecutive elements.
func (t *typeInfo) span(count int) (lo, hi int64) {
	if count <= 0 || len(t.blocks) == 0 {
		return 0, 0
	}
	first := true
	for _, b := range t.blocks {
		start := b.off
		end := b.off + int64(b.n)
		if count > 1 {
			last := int64(count-1) * t.extent
			if last < 0 {
				start += last
			} else {
				end += last
			}
		}
		if first || start < lo {
			lo = start
		}
		if first || end > hi {
			hi = end
		}
		first = false
	}
	return lo, hi
}

func (t *typeInfo) pack(addr unsafe.Pointer, count int) []byte {
	if count <= 0 || t.size == 0 {
		return nil
	}
	out := make([]byte, 0, count*t.size)
	for i := 0; i < count; i++ {
		base := int64(i) * t.extent
		for _, b := range t.blocks {
			src := unsafe.Slice((*byte)(unsafe.Add(addr, int(base+b.off))), b.n)
			out = append(out, src...)
		}
	}
	return out
}

// unpack scatters data into count elements at addr and returns the number of
// bytes written. It stops early when data runs out.
func (t *typeInfo) unpack(addr unsafe.Pointer, count int, data []byte) int {
	written := 0
	for i := 0; i < count && written < len(data); i++ {
		base := int64(i) * t.extent
		for _, b := range t.blocks {
			if written >= len(data) {
				break
			}
			n := b.n
			if rest := len(data) - written; n > rest {
				n = rest
			}
			dst := unsafe.Slice((*byte)(unsafe.Add(addr, int(base+b.off))), n)
			copy(dst, data[written:written+n])
			written += n
		}
	}
	return written
}

func (r *Runtime) typeLocked(h native.Handle) (*typeInfo, native.Errno) {
	obj, code := r.lookupLocked(native.KindDatatype, h)
	if code != native.Success {
		return nil, code
	}
	return obj.dtype, native.Success
}

func (r *Runtime) newTypeLocked(info *typeInfo) native.Handle {
	return r.allocLocked(&object{kind: native.KindDatatype, dtype: info})
}

func (r *Runtime) TypeContiguous(count int, old native.Handle) (native.Handle, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Null, code
	}
	if count < 0 {
		return native.Null, native.ErrCount
	}
	base, code := r.typeLocked(old)
	if code != native.Success {
		return native.Null, code
	}
	info := &typeInfo{size: count * base.size}
	for i := 0; i < count; i++ {
		info.blocks = appendShifted(info.blocks, base.blocks, int64(i)*base.extent)
	}
	if count > 0 {
		info.lb = base.lb
		info.extent = int64(count) * base.extent
	}
	return r.newTypeLocked(info), native.Success
}

func (r *Runtime) TypeVector(count, blocklen, stride int, old native.Handle) (native.Handle, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Null, code
	}
	if count < 0 || blocklen < 0 {
		return native.Null, native.ErrCount
	}
	base, code := r.typeLocked(old)
	if code != native.Success {
		return native.Null, code
	}
	info := &typeInfo{size: count * blocklen * base.size}
	first := true
	var lb, ub int64
	for i := 0; i < count; i++ {
		start := int64(i*stride) * base.extent
		for j := 0; j < blocklen; j++ {
			info.blocks = appendShifted(info.blocks, base.blocks, start+int64(j)*base.extent)
		}
		lo := start + base.lb
		hi := lo + int64(blocklen)*base.extent
		if first || lo < lb {
			lb = lo
		}
		if first || hi > ub {
			ub = hi
		}
		first = false
	}
	info.lb = lb
	info.extent = ub - lb
	return r.newTypeLocked(info), native.Success
}

func (r *Runtime) TypeStruct(blocklens []int, displs []int64, types []native.Handle) (native.Handle, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Null, code
	}
	if len(blocklens) != len(displs) || len(blocklens) != len(types) {
		return native.Null, native.ErrArg
	}
	info := &typeInfo{}
	first := true
	var lb, ub int64
	for k := range types {
		if blocklens[k] < 0 {
			return native.Null, native.ErrCount
		}
		member, code := r.typeLocked(types[k])
		if code != native.Success {
			return native.Null, code
		}
		for j := 0; j < blocklens[k]; j++ {
			info.blocks = appendShifted(info.blocks, member.blocks, displs[k]+int64(j)*member.extent)
		}
		info.size += blocklens[k] * member.size
		lo := displs[k] + member.lb
		hi := lo + int64(blocklens[k])*member.extent
		if first || lo < lb {
			lb = lo
		}
		if first || hi > ub {
			ub = hi
		}
		first = false
	}
	info.lb = lb
	info.extent = ub - lb
	return r.newTypeLocked(info), native.Success
}

func (r *Runtime) TypeResized(old native.Handle, lb, extent int64) (native.Handle, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return native.Null, code
	}
	base, code := r.typeLocked(old)
	if code != native.Success {
		return native.Null, code
	}
	if extent < 0 {
		return native.Null, native.ErrArg
	}
	info := base.clone()
	info.basic = native.TypeInvalid
	info.committed = false
	info.lb = lb
	info.extent = extent
	return r.newTypeLocked(info), native.Success
}

func (r *Runtime) TypeDup(old native.Handle) (native.Handle, native.Errno) {
	r.mu.Lock()
	if code := r.checkLocked(); code != native.Success {
		r.mu.Unlock()
		return native.Null, code
	}
	base, code := r.typeLocked(old)
	if code != native.Success {
		r.mu.Unlock()
		return native.Null, code
	}
	info := base.clone()
	info.basic = native.TypeInvalid
	dup := r.newTypeLocked(info)
	r.mu.Unlock()

	if code := r.copyAttrs(native.KindDatatype, old, dup); code != native.Success {
		return native.Null, code
	}
	return dup, native.Success
}

func (r *Runtime) TypeCommit(dt native.Handle) native.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return code
	}
	info, code := r.typeLocked(dt)
	if code != native.Success {
		return code
	}
	info.committed = true
	return native.Success
}

func (r *Runtime) TypeSize(dt native.Handle) (int, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return 0, code
	}
	info, code := r.typeLocked(dt)
	if code != native.Success {
		return 0, code
	}
	return info.size, native.Success
}

func (r *Runtime) TypeExtent(dt native.Handle) (int64, int64, native.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := r.checkLocked(); code != native.Success {
		return 0, 0, code
	}
	info, code := r.typeLocked(dt)
	if code != native.Success {
		return 0, 0, code
	}
	return info.lb, info.extent, native.Success
}
