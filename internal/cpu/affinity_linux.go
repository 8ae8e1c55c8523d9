//go:build linux

package cpu

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PinProcess restricts every thread of process pid to a single CPU. core is an
// index into the CPUs the calling process may run on and wraps around, so worker
// i can be pinned with PinProcess(pid, i) regardless of the machine size.
//
// Threads the process creates later inherit the mask from their parent thread.
func PinProcess(pid, core int) error {
	allowed, err := allowedCPUs()
	if err != nil {
		return err
	}

	var mask unix.CPUSet
	mask.Zero()
	mask.Set(allowed[wrap(core, len(allowed))])
	return setProcessMask(pid, &mask)
}

// NumCPU returns the number of CPUs the calling process may run on.
func NumCPU() int {
	allowed, err := allowedCPUs()
	if err != nil || len(allowed) == 0 {
		return 1
	}
	return len(allowed)
}

func allowedCPUs() ([]int, error) {
	var current unix.CPUSet
	if err := unix.SchedGetaffinity(0, &current); err != nil {
		return nil, errors.Wrap(err, "reading cpu affinity")
	}

	cpus := make([]int, 0, current.Count())
	for i := 0; len(cpus) < current.Count() && i < 1024; i++ {
		if current.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	if len(cpus) == 0 {
		return nil, errors.New("no cpus available to this process")
	}
	return cpus, nil
}

func setProcessMask(pid int, mask *unix.CPUSet) error {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		// No procfs: the main thread is the best we can do.
		return errors.Wrapf(unix.SchedSetaffinity(pid, mask), "pinning pid %d", pid)
	}

	for _, entry := range entries {
		tid, convErr := strconv.Atoi(entry.Name())
		if convErr != nil {
			continue
		}
		if err := unix.SchedSetaffinity(tid, mask); err != nil && !errors.Is(err, unix.ESRCH) {
			return errors.Wrapf(err, "pinning thread %d of pid %d", tid, pid)
		}
	}
	return nil
}

func wrap(i, n int) int {
	return ((i % n) + n) % n
}
