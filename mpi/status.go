package mpi

import "github.com/rocketbitz/mpi-go/native"

// Status describes a completed receive or request.
type Status struct {
	raw native.Status
}

func newStatus(raw native.Status) Status {
	return Status{raw: raw}
}

func emptyStatus() Status {
	return Status{raw: native.EmptyStatus}
}

// Source returns the rank that sent the message.
func (s Status) Source() int { return s.raw.Source }

// Tag returns the message tag.
func (s Status) Tag() int { return s.raw.Tag }

// Err returns the error recorded in the status, or nil.
func (s Status) Err() error {
	if s.raw.Err == native.Success {
		return nil
	}
	return s.raw.Err
}

// WasCancelled reports whether the operation was cancelled before it took
// effect.
func (s Status) WasCancelled() bool { return s.raw.Cancelled }

// Count returns the number of dt elements received, or native.Undefined when
// the payload is not a whole number of elements.
func (s Status) Count(dt *Datatype) (int, error) {
	size, err := dt.Size()
	if err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, nil
	}
	if s.raw.Bytes%size != 0 {
		return native.Undefined, nil
	}
	return s.raw.Bytes / size, nil
}

// Raw exposes the native status.
func (s Status) Raw() native.Status { return s.raw }
