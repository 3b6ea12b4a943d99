package mpi

import "github.com/rocketbitz/mpi-go/native"

// Info is a set of string hints passed to window creation.
type Info struct {
	h OwnedHandle
}

// NewInfo creates an empty Info.
func NewInfo() (*Info, error) {
	rt, err := currentRuntime()
	if err != nil {
		return nil, err
	}
	h, code := rt.InfoCreate()
	if err := native.ErrorFromStatus(code, "MPI_Info_create"); err != nil {
		return nil, err
	}
	return &Info{h: NewOwnedHandle(rt, native.KindInfo, h, Owned)}, nil
}

func (i *Info) resolve() (native.Runtime, native.Handle, error) {
	if i == nil || i.h.Raw() == native.Null {
		return nil, native.Null, ErrInvalidHandle{"info"}
	}
	return i.h.Runtime(), i.h.Raw(), nil
}

// rawOrNull maps a nil Info to the null handle.
func (i *Info) rawOrNull() (native.Handle, error) {
	if i == nil {
		return native.Null, nil
	}
	_, raw, err := i.resolve()
	return raw, err
}

// Set stores value under key.
func (i *Info) Set(key, value string) error {
	rt, raw, err := i.resolve()
	if err != nil {
		return err
	}
	return native.ErrorFromStatus(rt.InfoSet(raw, key, value), "MPI_Info_set")
}

// Get returns the value stored under key and whether it is present.
func (i *Info) Get(key string) (string, bool, error) {
	rt, raw, err := i.resolve()
	if err != nil {
		return "", false, err
	}
	v, ok, code := rt.InfoGet(raw, key)
	return v, ok, native.ErrorFromStatus(code, "MPI_Info_get")
}

// Dup copies every entry into a new Info.
func (i *Info) Dup() (*Info, error) {
	rt, raw, err := i.resolve()
	if err != nil {
		return nil, err
	}
	h, code := rt.InfoDup(raw)
	if err := native.ErrorFromStatus(code, "MPI_Info_dup"); err != nil {
		return nil, err
	}
	return &Info{h: NewOwnedHandle(rt, native.KindInfo, h, Owned)}, nil
}

// Raw returns the native handle.
func (i *Info) Raw() native.Handle {
	if i == nil {
		return native.Null
	}
	return i.h.Raw()
}

// Free releases the Info now.
func (i *Info) Free() error {
	if i == nil {
		return nil
	}
	return i.h.Free()
}

// Release drops this reference.
func (i *Info) Release() {
	if i == nil {
		return
	}
	i.h.Release()
}
