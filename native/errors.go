package native

import "fmt"

// Errno represents an MPI error class. Runtimes translate their native error
// codes into these classes so the Go layer can match on them with errors.Is.
type Errno int32

// Error classes mirrored from the MPI standard. The numeric values are local
// to this package; runtimes map their own constants onto them.
const (
	Success         Errno = 0
	ErrBuffer       Errno = 1
	ErrCount        Errno = 2
	ErrType         Errno = 3
	ErrTag          Errno = 4
	ErrComm         Errno = 5
	ErrRank         Errno = 6
	ErrRequest      Errno = 7
	ErrRoot         Errno = 8
	ErrGroup        Errno = 9
	ErrOp           Errno = 10
	ErrTopology     Errno = 11
	ErrDims         Errno = 12
	ErrArg          Errno = 13
	ErrUnknown      Errno = 14
	ErrTruncate     Errno = 15
	ErrOther        Errno = 16
	ErrIntern       Errno = 17
	ErrInStatus     Errno = 18
	ErrPending      Errno = 19
	ErrKeyval       Errno = 20
	ErrNoMem        Errno = 21
	ErrWin          Errno = 22
	ErrInfoKey      Errno = 23
	ErrRMARange     Errno = 24
	ErrNotSupported Errno = 25
	ErrFile         Errno = 26
	ErrInfo         Errno = 27
)

var errnoText = map[Errno]string{
	Success:         "success",
	ErrBuffer:       "invalid buffer pointer",
	ErrCount:        "invalid count argument",
	ErrType:         "invalid datatype",
	ErrTag:          "invalid tag",
	ErrComm:         "invalid communicator",
	ErrRank:         "invalid rank",
	ErrRequest:      "invalid request",
	ErrRoot:         "invalid root",
	ErrGroup:        "invalid group",
	ErrOp:           "invalid reduce operation",
	ErrTopology:     "invalid topology",
	ErrDims:         "invalid dimension argument",
	ErrArg:          "invalid argument",
	ErrUnknown:      "unknown error",
	ErrTruncate:     "message truncated",
	ErrOther:        "other error",
	ErrIntern:       "internal error",
	ErrInStatus:     "error code is in status",
	ErrPending:      "pending request",
	ErrKeyval:       "invalid keyval",
	ErrNoMem:        "out of memory",
	ErrWin:          "invalid window",
	ErrInfoKey:      "invalid info key",
	ErrRMARange:     "target memory is not part of the window",
	ErrNotSupported: "operation not supported",
	ErrFile:         "invalid file handle",
	ErrInfo:         "invalid info object",
}

// Error implements the error interface.
func (e Errno) Error() string {
	return e.String()
}

// String returns the human-readable message for the error class.
func (e Errno) String() string {
	if msg, ok := errnoText[e]; ok {
		return msg
	}
	return fmt.Sprintf("mpi error class %d", int32(e))
}

// WithOp adds operation context to the provided Errno.
func (e Errno) WithOp(op string) error {
	if op == "" {
		return e
	}
	return fmt.Errorf("%s: %w", op, e)
}

// ErrorFromStatus converts a runtime status into a Go error carrying the
// operation that produced it. Success maps to nil.
func ErrorFromStatus(code Errno, op string) error {
	if code == Success {
		return nil
	}
	return code.WithOp(op)
}

// MustSucceed panics if the status represents an error. Intended for tests or
// bootstrapping code paths where failure is fatal.
func MustSucceed(code Errno, op string) {
	if err := ErrorFromStatus(code, op); err != nil {
		panic(err)
	}
}
