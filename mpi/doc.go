// Package mpi is a resource-safe Go binding for MPI.
//
// Every native object (communicator, datatype, info, window, request) is held
// through an OwnedHandle whose last Release frees it according to its
// Ownership. Buffers are (address, count, datatype) triplets built from Go
// slices, scalars, reflected values or catalog names. Requests are collected
// in a Requests set that forwards the whole wait/test family, and attributes
// are cached on communicators, datatypes and windows through Keyvals whose
// copy and delete closures run when the runtime duplicates or frees the
// object.
//
// Init selects the runtime: the C library when built with the mpi tag and
// cgo, the in-process loopback runtime otherwise.
//
//	env, err := mpi.Init(mpi.Config{ThreadLevel: mpi.ThreadFunneled})
//	if err != nil {
//		return err
//	}
//	defer env.Finalize()
//
//	sum := make([]float64, 3)
//	err = env.World().Allreduce(mpi.SliceOf(local), mpi.SliceOf(sum), mpi.Sum)
package mpi
