package loopback

import (
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/rocketbitz/mpi-go/native"
)

func newRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	r := New(opts...)
	level, code := r.Init(native.ThreadMultiple)
	require.Equal(t, native.Success, code)
	require.Equal(t, native.ThreadMultiple, level)
	t.Cleanup(func() {
		if !r.Finalized() {
			_ = r.Finalize()
		}
	})
	return r
}

func ptr[T any](s []T) unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(s))
}

func TestInitFinalizeLifecycle(t *testing.T) {
	r := New()
	_, code := r.CommRank(r.CommWorld())
	require.Equal(t, native.ErrOther, code, "calls before Init must fail")

	_, code = r.Init(native.ThreadSingle)
	require.Equal(t, native.Success, code)
	_, code = r.Init(native.ThreadSingle)
	require.Equal(t, native.ErrOther, code)

	require.Equal(t, native.Success, r.Finalize())
	require.True(t, r.Finalized())
	require.Equal(t, native.ErrOther, r.Finalize())
}

func TestFinalizeDeletesSelfAttributesInReverseOrder(t *testing.T) {
	r := newRuntime(t)
	var order []int
	del := func(kind native.Kind, h native.Handle, keyval int, value, extra uintptr) native.Errno {
		order = append(order, keyval)
		return native.Success
	}
	first, code := r.CreateKeyval(native.KindComm, nil, del, 0)
	require.Equal(t, native.Success, code)
	second, code := r.CreateKeyval(native.KindComm, nil, del, 0)
	require.Equal(t, native.Success, code)

	require.Equal(t, native.Success, r.SetAttr(native.KindComm, r.CommSelf(), first, 1))
	require.Equal(t, native.Success, r.SetAttr(native.KindComm, r.CommSelf(), second, 2))
	require.Equal(t, native.Success, r.Finalize())
	require.Equal(t, []int{second, first}, order)
}

func TestFreeRejectsPredefinedAndStaleHandles(t *testing.T) {
	var freed []native.Handle
	r := newRuntime(t, WithFreeHook(func(kind native.Kind, h native.Handle) {
		freed = append(freed, h)
	}))

	require.Equal(t, native.ErrComm, r.Free(native.KindComm, r.CommWorld()))
	require.Equal(t, native.ErrType, r.Free(native.KindDatatype, r.BasicDatatype(native.TypeInt32)))

	dup, code := r.CommDup(r.CommWorld())
	require.Equal(t, native.Success, code)
	require.Equal(t, 1, r.Live(native.KindComm))
	require.Equal(t, native.Success, r.Free(native.KindComm, dup))
	require.Equal(t, native.ErrComm, r.Free(native.KindComm, dup))
	require.Equal(t, []native.Handle{dup}, freed)
	require.Zero(t, r.Live(native.KindComm))
}

func TestCommSplitUndefinedColor(t *testing.T) {
	r := newRuntime(t)
	h, code := r.CommSplit(r.CommWorld(), native.Undefined, 0)
	require.Equal(t, native.Success, code)
	require.Equal(t, native.Null, h)

	h, code = r.CommSplit(r.CommWorld(), 3, 0)
	require.Equal(t, native.Success, code)
	require.NotEqual(t, native.Null, h)
	size, code := r.CommSize(h)
	require.Equal(t, native.Success, code)
	require.Equal(t, 1, size)
}

func TestNames(t *testing.T) {
	r := newRuntime(t)
	name, code := r.Name(native.KindComm, r.CommWorld())
	require.Equal(t, native.Success, code)
	require.Equal(t, "MPI_COMM_WORLD", name)

	require.Equal(t, native.Success, r.SetName(native.KindComm, r.CommWorld(), "world"))
	name, _ = r.Name(native.KindComm, r.CommWorld())
	require.Equal(t, "world", name)
}

func TestInfo(t *testing.T) {
	r := newRuntime(t)
	info, code := r.InfoCreate()
	require.Equal(t, native.Success, code)
	require.Equal(t, native.Success, r.InfoSet(info, "no_locks", "true"))
	require.Equal(t, native.ErrInfoKey, r.InfoSet(info, "", "x"))

	dup, code := r.InfoDup(info)
	require.Equal(t, native.Success, code)
	v, ok, code := r.InfoGet(dup, "no_locks")
	require.Equal(t, native.Success, code)
	require.True(t, ok)
	require.Equal(t, "true", v)

	_, ok, _ = r.InfoGet(dup, "missing")
	require.False(t, ok)
}

func TestDatatypeLayouts(t *testing.T) {
	r := newRuntime(t)
	i32 := r.BasicDatatype(native.TypeInt32)

	vec, code := r.TypeVector(3, 1, 2, i32)
	require.Equal(t, native.Success, code)
	size, _ := r.TypeSize(vec)
	require.Equal(t, 12, size)
	lb, extent, _ := r.TypeExtent(vec)
	require.Equal(t, int64(0), lb)
	require.Equal(t, int64(20), extent)

	contig, code := r.TypeContiguous(4, i32)
	require.Equal(t, native.Success, code)
	_, extent, _ = r.TypeExtent(contig)
	require.Equal(t, int64(16), extent)

	resized, code := r.TypeResized(i32, 0, 8)
	require.Equal(t, native.Success, code)
	size, _ = r.TypeSize(resized)
	require.Equal(t, 4, size)
	_, extent, _ = r.TypeExtent(resized)
	require.Equal(t, int64(8), extent)

	st, code := r.TypeStruct([]int{1, 1}, []int64{0, 8}, []native.Handle{i32, r.BasicDatatype(native.TypeDouble)})
	require.Equal(t, native.Success, code)
	size, _ = r.TypeSize(st)
	require.Equal(t, 12, size)
	_, extent, _ = r.TypeExtent(st)
	require.Equal(t, int64(16), extent)

	_, code = r.TypeStruct([]int{1}, []int64{0, 4}, []native.Handle{i32})
	require.Equal(t, native.ErrArg, code)
	_, code = r.TypeContiguous(-1, i32)
	require.Equal(t, native.ErrCount, code)
}

func TestSendRecvStridedRoundTrip(t *testing.T) {
	r := newRuntime(t)
	i32 := r.BasicDatatype(native.TypeInt32)
	vec, _ := r.TypeVector(3, 1, 2, i32)
	require.Equal(t, native.Success, r.TypeCommit(vec))

	src := []int32{1, -1, 2, -1, 3}
	require.Equal(t, native.Success, r.Send(ptr(src), 1, vec, 0, 7, r.CommWorld()))

	dst := make([]int32, 3)
	st, code := r.Recv(ptr(dst), 3, i32, native.AnySource, 7, r.CommWorld())
	require.Equal(t, native.Success, code)
	require.Equal(t, []int32{1, 2, 3}, dst)
	require.Equal(t, 0, st.Source)
	require.Equal(t, 7, st.Tag)
	require.Equal(t, 12, st.Bytes)
}

func TestRecvTruncates(t *testing.T) {
	r := newRuntime(t)
	i32 := r.BasicDatatype(native.TypeInt32)
	src := []int32{1, 2, 3, 4}
	require.Equal(t, native.Success, r.Send(ptr(src), 4, i32, 0, 1, r.CommWorld()))

	dst := make([]int32, 2)
	st, code := r.Recv(ptr(dst), 2, i32, 0, 1, r.CommWorld())
	require.Equal(t, native.ErrTruncate, code)
	require.Equal(t, native.ErrTruncate, st.Err)
	require.Equal(t, []int32{1, 2}, dst)
}

func TestSendArgumentValidation(t *testing.T) {
	r := newRuntime(t)
	i32 := r.BasicDatatype(native.TypeInt32)
	buf := []int32{1}
	require.Equal(t, native.ErrRank, r.Send(ptr(buf), 1, i32, 1, 0, r.CommWorld()))
	require.Equal(t, native.ErrTag, r.Send(ptr(buf), 1, i32, 0, -5, r.CommWorld()))
	require.Equal(t, native.ErrCount, r.Send(ptr(buf), -1, i32, 0, 0, r.CommWorld()))
	require.Equal(t, native.ErrComm, r.Send(ptr(buf), 1, i32, 0, 0, native.Null))
	require.Equal(t, native.ErrType, r.Send(ptr(buf), 1, native.Null, 0, 0, r.CommWorld()))
	require.Equal(t, native.Success, r.Send(ptr(buf), 1, i32, native.ProcNull, 0, r.CommWorld()))
}

func TestIrecvCompletesOnLaterSend(t *testing.T) {
	r := newRuntime(t)
	i32 := r.BasicDatatype(native.TypeInt32)
	dst := make([]int32, 1)
	req, code := r.Irecv(ptr(dst), 1, i32, 0, 3, r.CommWorld())
	require.Equal(t, native.Success, code)

	done, _, code := r.Test(&req)
	require.Equal(t, native.Success, code)
	require.False(t, done)

	src := []int32{42}
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = r.Send(ptr(src), 1, i32, 0, 3, r.CommWorld())
	}()
	st, code := r.Wait(&req)
	require.Equal(t, native.Success, code)
	require.Equal(t, native.Null, req)
	require.Equal(t, int32(42), dst[0])
	require.Equal(t, 3, st.Tag)
	require.Zero(t, r.Live(native.KindRequest))
}

func TestPersistentRequestsStayAllocated(t *testing.T) {
	r := newRuntime(t)
	i32 := r.BasicDatatype(native.TypeInt32)
	src := []int32{5}
	dst := make([]int32, 1)

	send, code := r.SendInit(ptr(src), 1, i32, 0, 9, r.CommWorld())
	require.Equal(t, native.Success, code)
	recv, code := r.RecvInit(ptr(dst), 1, i32, 0, 9, r.CommWorld())
	require.Equal(t, native.Success, code)

	for round := int32(0); round < 2; round++ {
		src[0] = 5 + round
		require.Equal(t, native.Success, r.Start(recv))
		require.Equal(t, native.ErrRequest, r.Start(recv), "starting an active request must fail")
		require.Equal(t, native.Success, r.Start(send))
		reqs := []native.Handle{send, recv}
		require.Equal(t, native.Success, r.Waitall(reqs, make([]native.Status, 2)))
		require.Equal(t, []native.Handle{send, recv}, reqs)
		require.Equal(t, 5+round, dst[0])
	}

	// Inactive persistent requests complete immediately with an empty status.
	st, code := r.Wait(&recv)
	require.Equal(t, native.Success, code)
	require.Equal(t, native.EmptyStatus, st)

	require.Equal(t, native.Success, r.Free(native.KindRequest, send))
	require.Equal(t, native.Success, r.Free(native.KindRequest, recv))
	require.Zero(t, r.Live(native.KindRequest))
}

func TestCancelPendingReceive(t *testing.T) {
	r := newRuntime(t)
	i32 := r.BasicDatatype(native.TypeInt32)
	dst := make([]int32, 1)
	req, _ := r.Irecv(ptr(dst), 1, i32, 0, 1, r.CommWorld())
	require.Equal(t, native.Success, r.Cancel(req))
	st, code := r.Wait(&req)
	require.Equal(t, native.Success, code)
	require.True(t, st.Cancelled)

	// A message sent after cancellation stays queued.
	src := []int32{8}
	require.Equal(t, native.Success, r.Send(ptr(src), 1, i32, 0, 1, r.CommWorld()))
	_, code = r.Recv(ptr(dst), 1, i32, 0, 1, r.CommWorld())
	require.Equal(t, native.Success, code)
	require.Equal(t, int32(8), dst[0])
}

func TestWaitanyAndSome(t *testing.T) {
	r := newRuntime(t)
	a, err := r.StartRequest()
	require.NoError(t, err)
	b, err := r.StartRequest()
	require.NoError(t, err)
	reqs := []native.Handle{a, native.Null, b}

	idx, done, _, code := r.Testany(reqs)
	require.Equal(t, native.Success, code)
	require.False(t, done)
	require.Equal(t, native.Undefined, idx)

	require.NoError(t, r.CompleteRequest(b, native.Status{Source: 0, Tag: 4}))
	idx, st, code := r.Waitany(reqs)
	require.Equal(t, native.Success, code)
	require.Equal(t, 2, idx)
	require.Equal(t, 4, st.Tag)
	require.Equal(t, native.Null, reqs[2])

	require.NoError(t, r.CompleteRequest(a, native.Status{Err: native.ErrTruncate}))
	indices := make([]int, 3)
	statuses := make([]native.Status, 3)
	n, code := r.Waitsome(reqs, indices, statuses)
	require.Equal(t, native.ErrInStatus, code)
	require.Equal(t, 1, n)
	require.Equal(t, 0, indices[0])
	require.Equal(t, native.ErrTruncate, statuses[0].Err)

	n, code = r.Testsome(reqs, indices, statuses)
	require.Equal(t, native.Success, code)
	require.Equal(t, native.Undefined, n)

	idx, st, code = r.Waitany(reqs)
	require.Equal(t, native.Success, code)
	require.Equal(t, native.Undefined, idx)
	require.Equal(t, native.EmptyStatus, st)
}

func TestCompleteRequestRejectsForeignRequests(t *testing.T) {
	r := newRuntime(t)
	req, code := r.Ibarrier(r.CommWorld())
	require.Equal(t, native.Success, code)
	require.Error(t, r.CompleteRequest(req, native.EmptyStatus))

	h, err := r.StartRequest()
	require.NoError(t, err)
	require.NoError(t, r.CompleteRequest(h, native.EmptyStatus))
	require.Error(t, r.CompleteRequest(h, native.EmptyStatus))
}

func TestCollectives(t *testing.T) {
	r := newRuntime(t)
	f64 := r.BasicDatatype(native.TypeDouble)
	sum := r.BasicOp(native.OpSum)

	require.Equal(t, native.Success, r.Barrier(r.CommWorld()))
	buf := []float64{1.5}
	require.Equal(t, native.Success, r.Bcast(ptr(buf), 1, f64, 0, r.CommWorld()))
	require.Equal(t, native.ErrRoot, r.Bcast(ptr(buf), 1, f64, 2, r.CommWorld()))

	out := make([]float64, 1)
	require.Equal(t, native.Success, r.Allreduce(ptr(buf), ptr(out), 1, f64, sum, r.CommWorld()))
	require.Equal(t, 1.5, out[0])
	require.Equal(t, native.Success, r.Allreduce(native.InPlace, ptr(out), 1, f64, sum, r.CommWorld()))
	require.Equal(t, native.ErrBuffer, r.Allreduce(native.InPlace, native.InPlace, 1, f64, sum, r.CommWorld()))
	require.Equal(t, native.ErrOp, r.Allreduce(ptr(buf), ptr(out), 1, f64, native.Null, r.CommWorld()))
}

func TestWindowPutGet(t *testing.T) {
	r := newRuntime(t)
	i64 := r.BasicDatatype(native.TypeInt64)
	mem := make([]int64, 4)
	win, code := r.WinCreate(ptr(mem), 32, 8, native.Null, r.CommWorld())
	require.Equal(t, native.Success, code)

	require.Equal(t, native.Success, r.WinFence(0, win))
	val := []int64{11, 12}
	require.Equal(t, native.Success, r.Put(ptr(val), 2, i64, 0, 1, 2, i64, win))
	require.Equal(t, []int64{0, 11, 12, 0}, mem)

	out := make([]int64, 1)
	require.Equal(t, native.Success, r.Get(ptr(out), 1, i64, 0, 2, 1, i64, win))
	require.Equal(t, int64(12), out[0])
	require.Equal(t, native.Success, r.WinFence(0, win))
	require.Equal(t, 2, r.Epochs(win))

	require.Equal(t, native.ErrRMARange, r.Put(ptr(val), 2, i64, 0, 3, 2, i64, win))
	require.Equal(t, native.ErrTruncate, r.Put(ptr(val), 2, i64, 0, 0, 1, i64, win))
	require.Equal(t, native.ErrRank, r.Get(ptr(out), 1, i64, 1, 0, 1, i64, win))
	require.Equal(t, native.Success, r.Free(native.KindWin, win))
}
