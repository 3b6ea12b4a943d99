//go:build linux

package mpi

import "golang.org/x/sys/unix"

// perThreadPending reports whether threadID distinguishes OS threads.
const perThreadPending = true

func threadID() int {
	return unix.Gettid()
}
