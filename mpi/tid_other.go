//go:build !linux

package mpi

// perThreadPending reports whether threadID distinguishes OS threads.
const perThreadPending = false

// threadID has no portable implementation outside linux. Every thread
// shares one pending slot, so Init caps the thread level at
// ThreadSerialized.
func threadID() int {
	return 0
}
