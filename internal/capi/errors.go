//go:build mpi && cgo

package capi

/*
#cgo !mpich pkg-config: ompi
#cgo mpich pkg-config: mpich
#include <mpi.h>
*/
import "C"

import (
	"github.com/rocketbitz/mpi-go/native"
)

// errorClasses maps MPI error classes onto native.Errno. The list covers the
// classes the bindings expect to surface; anything else reports ErrUnknown.
var errorClasses = []struct {
	class C.int
	errno native.Errno
}{
	{C.MPI_SUCCESS, native.Success},
	{C.MPI_ERR_BUFFER, native.ErrBuffer},
	{C.MPI_ERR_COUNT, native.ErrCount},
	{C.MPI_ERR_TYPE, native.ErrType},
	{C.MPI_ERR_TAG, native.ErrTag},
	{C.MPI_ERR_COMM, native.ErrComm},
	{C.MPI_ERR_RANK, native.ErrRank},
	{C.MPI_ERR_REQUEST, native.ErrRequest},
	{C.MPI_ERR_ROOT, native.ErrRoot},
	{C.MPI_ERR_GROUP, native.ErrGroup},
	{C.MPI_ERR_OP, native.ErrOp},
	{C.MPI_ERR_TOPOLOGY, native.ErrTopology},
	{C.MPI_ERR_DIMS, native.ErrDims},
	{C.MPI_ERR_ARG, native.ErrArg},
	{C.MPI_ERR_UNKNOWN, native.ErrUnknown},
	{C.MPI_ERR_TRUNCATE, native.ErrTruncate},
	{C.MPI_ERR_OTHER, native.ErrOther},
	{C.MPI_ERR_INTERN, native.ErrIntern},
	{C.MPI_ERR_IN_STATUS, native.ErrInStatus},
	{C.MPI_ERR_PENDING, native.ErrPending},
	{C.MPI_ERR_KEYVAL, native.ErrKeyval},
	{C.MPI_ERR_NO_MEM, native.ErrNoMem},
	{C.MPI_ERR_WIN, native.ErrWin},
	{C.MPI_ERR_INFO_KEY, native.ErrInfoKey},
	{C.MPI_ERR_RMA_RANGE, native.ErrRMARange},
	{C.MPI_ERR_UNSUPPORTED_OPERATION, native.ErrNotSupported},
	{C.MPI_ERR_FILE, native.ErrFile},
	{C.MPI_ERR_INFO, native.ErrInfo},
}

// errnoOf converts an MPI return code into its native error class.
func errnoOf(rc C.int) native.Errno {
	if rc == C.MPI_SUCCESS {
		return native.Success
	}
	var class C.int
	if C.MPI_Error_class(rc, &class) != C.MPI_SUCCESS {
		return native.ErrUnknown
	}
	for _, e := range errorClasses {
		if e.class == class {
			return e.errno
		}
	}
	return native.ErrUnknown
}

// codeOf converts a native error class back into an MPI error class, for
// values returned to the library from callbacks.
func codeOf(e native.Errno) C.int {
	for _, c := range errorClasses {
		if c.errno == e {
			return c.class
		}
	}
	return C.MPI_ERR_OTHER
}
