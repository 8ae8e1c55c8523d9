//go:build !linux

package cpu

import (
	"runtime"

	"github.com/pkg/errors"
)

// ErrUnsupported is returned by PinProcess on platforms without per-process
// affinity control.
var ErrUnsupported = errors.New("cpu affinity is not supported on " + runtime.GOOS)

// PinProcess is not available on this platform.
func PinProcess(pid, core int) error {
	return ErrUnsupported
}

// NumCPU returns the number of logical CPUs.
func NumCPU() int {
	return runtime.NumCPU()
}
