package mpi

import (
	"errors"
	"fmt"

	"github.com/rocketbitz/mpi-go/native"
)

var (
	// ErrNotInitialized indicates that no Environment is active.
	ErrNotInitialized = errors.New("mpi: environment not initialized")
	// ErrAlreadyInitialized indicates that Init was called while an Environment is active.
	ErrAlreadyInitialized = errors.New("mpi: environment already initialized")
	// ErrDatatypeNotFound indicates that a datatype name is not registered in the catalog.
	ErrDatatypeNotFound = errors.New("mpi: datatype not found")
	// ErrDatatypeExists indicates that a datatype name is already registered in the catalog.
	ErrDatatypeExists = errors.New("mpi: datatype name already registered")
	// ErrInPlaceConflict indicates that both buffers of a collective are InPlace.
	ErrInPlaceConflict = errors.New("mpi: send and receive buffers are both in place")
	// ErrRelativeBuffer indicates that a displacement buffer was passed where an address is required.
	ErrRelativeBuffer = errors.New("mpi: displacement buffer used as an address")
	// ErrNotDisplacement indicates that an RMA target buffer is not a displacement.
	ErrNotDisplacement = errors.New("mpi: RMA target must be a displacement buffer")
	// ErrKeyvalFreed indicates that a keyval was used after Free.
	ErrKeyvalFreed = errors.New("mpi: keyval already freed")
	// ErrKeyvalKind indicates that a keyval was used on a resource of another kind.
	ErrKeyvalKind = errors.New("mpi: keyval belongs to another resource kind")
	// ErrUnsupportedType indicates that a Go type has no datatype mapping.
	ErrUnsupportedType = errors.New("mpi: Go type has no datatype mapping")
	// ErrIndexOutOfRange indicates that a request index is outside the set.
	ErrIndexOutOfRange = errors.New("mpi: request index out of range")
	// ErrNotPersistent indicates that Start was called on a one-shot request.
	ErrNotPersistent = errors.New("mpi: request is not persistent")
	// ErrObjectNotFreed indicates that a resource requiring an explicit free reached release un-freed.
	ErrObjectNotFreed = errors.New("mpi: object not freed")
)

// Errno re-exports the native error class type.
type Errno = native.Errno

// ErrInvalidHandle reports use of a nil, released or freed resource.
type ErrInvalidHandle struct {
	Resource string
}

func (e ErrInvalidHandle) Error() string {
	return "invalid or freed " + e.Resource + " handle"
}

// StatusError surfaces the first failing status of a multi-completion call.
// The full status slice is returned alongside it.
type StatusError struct {
	Index  int
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mpi: request %d failed: %s", e.Index, e.Status.raw.Err)
}

// Unwrap allows errors.Is to match the native error class.
func (e *StatusError) Unwrap() error {
	return e.Status.raw.Err
}

// CallbackError wraps a failure raised by an attribute copy or delete closure.
type CallbackError struct {
	Keyval int
	Kind   native.Kind
	Err    error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("mpi: %s attribute callback for keyval %d: %v", e.Kind, e.Keyval, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// OpError wraps a failure raised by a user operator during a reduction.
type OpError struct {
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("mpi: user operator: %v", e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// firstStatusError inspects statuses after an ErrInStatus completion code.
// ErrPending marks requests that neither failed nor completed and is skipped.
func firstStatusError(statuses []Status, indices []int) error {
	for i, st := range statuses {
		if st.raw.Err == native.Success || st.raw.Err == native.ErrPending {
			continue
		}
		idx := i
		if indices != nil {
			idx = indices[i]
		}
		return &StatusError{Index: idx, Status: st}
	}
	return native.ErrInStatus
}
