//go:build mpi && cgo

package capi

import "fmt"

/*
#cgo !mpich pkg-config: ompi
#cgo mpich pkg-config: mpich
#include "capi.h"

static inline int mpi_build_version_major(void) {
    return MPI_VERSION;
}

static inline int mpi_build_version_minor(void) {
    return MPI_SUBVERSION;
}
*/
import "C"

// Version represents an MPI standard version.
type Version struct {
	Major uint
	Minor uint
}

// MinimumVersion is the oldest standard the bindings rely on. Ibarrier and
// the C99 fixed-width datatypes arrived in MPI 3.0.
var MinimumVersion = Version{Major: 3, Minor: 0}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compare returns -1 if v < other, 0 if equal, and 1 if v > other.
func (v Version) Compare(other Version) int {
	switch {
	case v.Major < other.Major:
		return -1
	case v.Major > other.Major:
		return 1
	case v.Minor < other.Minor:
		return -1
	case v.Minor > other.Minor:
		return 1
	default:
		return 0
	}
}

// RuntimeVersion queries the standard version reported by the linked
// library. It may be called before Init.
func RuntimeVersion() Version {
	var major, minor C.int
	C.gompi_version(&major, &minor)
	return Version{Major: uint(major), Minor: uint(minor)}
}

// BuildVersion reports the standard version encoded in the headers used at
// compile time. This can diverge from RuntimeVersion when linked against a
// different library release at runtime.
func BuildVersion() Version {
	return Version{
		Major: uint(C.mpi_build_version_major()),
		Minor: uint(C.mpi_build_version_minor()),
	}
}

// LibraryVersion returns the vendor string of the linked library.
func LibraryVersion() string {
	var buf [C.MPI_MAX_LIBRARY_VERSION_STRING]C.char
	var n C.int
	if C.gompi_library_version(&buf[0], &n) != C.MPI_SUCCESS {
		return ""
	}
	return C.GoStringN(&buf[0], n)
}

// EnsureRuntimeAtLeast validates that the linked library implements at least
// the provided version.
func EnsureRuntimeAtLeast(minimum Version) error {
	runtime := RuntimeVersion()
	if runtime.Compare(minimum) < 0 {
		return fmt.Errorf("mpi runtime %s is older than required %s", runtime, minimum)
	}
	return nil
}

// EnsureRuntimeCompatible ensures the runtime version matches or exceeds the
// headers' minor version within the same major release.
func EnsureRuntimeCompatible() error {
	build := BuildVersion()
	runtime := RuntimeVersion()

	if runtime.Major != build.Major {
		return fmt.Errorf("mpi major version mismatch: runtime %s, headers %s", runtime, build)
	}
	if runtime.Minor < build.Minor {
		return fmt.Errorf("mpi runtime %s predates header minor version %s", runtime, build)
	}
	return nil
}
