//go:build !(mpi && cgo)

package mpi

import (
	"github.com/rocketbitz/mpi-go/loopback"
	"github.com/rocketbitz/mpi-go/native"
)

// RuntimeName identifies the runtime compiled into the package.
const RuntimeName = "loopback"

func defaultRuntime() native.Runtime {
	return loopback.New()
}
