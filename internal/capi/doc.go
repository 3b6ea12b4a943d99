// Package capi implements native.Runtime on top of a C MPI library. It is
// compiled only with the mpi build tag and cgo enabled; the library is found
// through pkg-config (ompi by default, mpich with the mpich tag).
//
// Every MPI handle crosses the cgo boundary as its Fortran integer so the Go
// side never depends on how a library represents MPI_Comm and friends.
package capi
