// Package signals translates OS signals into supervisor and broker
// actions, per spec.md §4.4. Handlers only set flags or push onto
// mutex-protected sets; all real work (forking, closing sockets,
// mutating min/max server counts) happens back in the broker loop's
// signal-check step, via Dispatcher.Drain.
//
// Grounded on ChuLiYu-raft-recovery/internal/cli.go's
// signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM) shape,
// extended to spec.md's full table (QUIT, HUP, CHLD, PIPE, TTIN, TTOU).
package signals

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ShutdownKind distinguishes INT/TERM from QUIT for observability, per
// spec.md's table ("Same as TERM but marked kind quit").
type ShutdownKind int

const (
	ShutdownNone ShutdownKind = iota
	ShutdownTerm
	ShutdownQuit
)

func (k ShutdownKind) String() string {
	switch k {
	case ShutdownTerm:
		return "term"
	case ShutdownQuit:
		return "quit"
	default:
		return "none"
	}
}

// Event is a snapshot of everything that happened since the last Drain.
type Event struct {
	ShutdownRequested bool
	ShutdownKind      ShutdownKind
	RestartRequested  bool
	ReapedPIDs        []int
	// ScaleDelta is the net effect of TTIN (+1) and TTOU (-1) signals
	// received since the last Drain; applied to both min_servers and
	// max_servers by the caller.
	ScaleDelta int
}

// Dispatcher owns the OS signal channel and the flags/sets its handler
// goroutine populates.
type Dispatcher struct {
	sigCh chan os.Signal

	mu                sync.Mutex
	shutdownRequested bool
	shutdownKind      ShutdownKind
	restartRequested  bool
	reapedPIDs        []int
	scaleDelta        int
}

// New creates a Dispatcher. Call Start to begin receiving signals.
func New() *Dispatcher {
	return &Dispatcher{
		sigCh: make(chan os.Signal, 32),
	}
}

// Start registers for spec.md's full signal table and begins
// dispatching in a background goroutine. It does not block.
func (d *Dispatcher) Start() {
	signal.Notify(d.sigCh,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		syscall.SIGHUP,
		syscall.SIGCHLD,
		syscall.SIGPIPE,
		syscall.SIGTTIN,
		syscall.SIGTTOU,
	)
	go d.loop()
}

// Stop unregisters the signal channel.
func (d *Dispatcher) Stop() {
	signal.Stop(d.sigCh)
}

func (d *Dispatcher) loop() {
	for sig := range d.sigCh {
		switch sig {
		case syscall.SIGINT, syscall.SIGTERM:
			d.mu.Lock()
			d.shutdownRequested = true
			d.shutdownKind = ShutdownTerm
			d.mu.Unlock()
		case syscall.SIGQUIT:
			d.mu.Lock()
			d.shutdownRequested = true
			d.shutdownKind = ShutdownQuit
			d.mu.Unlock()
		case syscall.SIGHUP:
			d.mu.Lock()
			d.restartRequested = true
			d.mu.Unlock()
		case syscall.SIGCHLD:
			d.reapChildren()
		case syscall.SIGPIPE:
			// Ignored per spec.md; a write to a peer that has gone
			// away is handled as a normal send failure, not a signal.
		case syscall.SIGTTIN:
			d.mu.Lock()
			d.scaleDelta++
			d.mu.Unlock()
		case syscall.SIGTTOU:
			d.mu.Lock()
			d.scaleDelta--
			d.mu.Unlock()
		}
	}
}

// reapChildren performs the non-blocking WNOHANG reap loop and records
// every pid collected. The supervisor deletes the corresponding child
// records and scrubs the idle queue on the next Drain.
func (d *Dispatcher) reapChildren() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		d.mu.Lock()
		d.reapedPIDs = append(d.reapedPIDs, pid)
		d.mu.Unlock()
	}
}

// InjectReapedPID records pid as reaped without going through a real
// SIGCHLD delivery, for tests that exercise the supervisor's reap path
// without forking real processes.
func (d *Dispatcher) InjectReapedPID(pid int) {
	d.mu.Lock()
	d.reapedPIDs = append(d.reapedPIDs, pid)
	d.mu.Unlock()
}

// Drain returns everything pending since the last Drain and clears the
// transient fields (reaped pids, scale delta, restart request). The
// shutdown flag is sticky: once requested it stays set so the broker
// loop can finish its drain-and-exit sequence across many iterations.
func (d *Dispatcher) Drain() Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	ev := Event{
		ShutdownRequested: d.shutdownRequested,
		ShutdownKind:      d.shutdownKind,
		RestartRequested:  d.restartRequested,
		ReapedPIDs:        d.reapedPIDs,
		ScaleDelta:        d.scaleDelta,
	}
	d.restartRequested = false
	d.reapedPIDs = nil
	d.scaleDelta = 0
	return ev
}
