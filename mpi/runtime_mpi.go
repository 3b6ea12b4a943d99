//go:build mpi && cgo

package mpi

import (
	"github.com/rocketbitz/mpi-go/internal/capi"
	"github.com/rocketbitz/mpi-go/native"
)

// RuntimeName identifies the runtime compiled into the package.
const RuntimeName = "mpi"

func defaultRuntime() native.Runtime {
	return capi.New()
}
