// Package worker implements the child process's request-serving loop,
// per spec.md §4.2: connect, announce readiness, serve requests until a
// request cap or shutdown signal, then disconnect cleanly.
//
// Grounded on ColDog-messaging/server.go's worker goroutine (connect,
// loop on recv/handle/send) generalized from an in-process DEALER
// worker into a REQ-socket child process that reports its own status
// out of band, per spec.md's status-channel design.
package worker

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ido50/Net-Server-ZMQ/internal/app"
	"github.com/ido50/Net-Server-ZMQ/internal/procname"
	"github.com/ido50/Net-Server-ZMQ/internal/transport"
)

const (
	statusByteWaiting    = 'W'
	statusByteProcessing = 'P'
	statusByteExiting    = 'X'
)

// pollInterval bounds how long the serve loop blocks waiting for a
// request before it re-checks the shutdown flag, so a worker idling
// between requests still notices TERM/HUP promptly instead of hanging
// until the next request arrives (which under lazy pirate retries may
// be a long time, or never).
const pollInterval = 200 * time.Millisecond

// Identity derives the worker identity spec.md's frames carry: every
// worker's own pid, so the broker's idle queue and the supervisor's
// child table agree on identity without a separate registration step.
func Identity(pid int) []byte {
	return []byte(fmt.Sprintf("child_%d", pid))
}

// Config configures one worker run.
type Config struct {
	BackendPort int
	BackendAddr string
	StatusAddr  string
	Context     transport.Context
	App         app.Handler
	Logger      *zap.SugaredLogger
	// MaxRequests caps how many requests this worker serves before
	// exiting to be replaced by a fresh process; zero means unbounded.
	MaxRequests int
}

// Runtime serves requests for one worker process's lifetime.
type Runtime struct {
	cfg      Config
	identity []byte

	mu       sync.Mutex
	stopping bool
}

// New builds a Runtime for the calling process's own pid.
func New(cfg Config) *Runtime {
	return &Runtime{cfg: cfg, identity: Identity(os.Getpid())}
}

func (r *Runtime) requestStop() {
	r.mu.Lock()
	r.stopping = true
	r.mu.Unlock()
}

func (r *Runtime) stopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

// Serve connects to the broker and status sockets, announces readiness,
// and serves requests until MaxRequests is reached or a socket error
// signals the broker (or the process) has gone away. It always returns
// nil on a clean exit; transport setup failures are returned as errors
// so the caller can set a non-zero exit status.
func (r *Runtime) Serve() error {
	procname.SetWorker(r.cfg.BackendPort)

	sock, err := r.cfg.Context.NewSocket(transport.WorkerRequest)
	if err != nil {
		return fmt.Errorf("worker: create socket: %w", err)
	}
	defer sock.Close()

	if err := sock.SetIdentity(r.identity); err != nil {
		return fmt.Errorf("worker: set identity: %w", err)
	}
	if err := sock.SetLinger(0); err != nil {
		return fmt.Errorf("worker: set linger: %w", err)
	}
	if err := sock.Connect(r.cfg.BackendAddr); err != nil {
		return fmt.Errorf("worker: connect backend: %w", err)
	}

	status, err := r.statusSocket()
	if err != nil {
		return err
	}
	if status != nil {
		defer status.Close()
	}

	// TERM (graceful shutdown) and HUP (restart-all rollout) both mean
	// the same thing to a worker: finish the request in flight, if any,
	// then run the clean shutdown sequence below rather than dying to
	// the default disposition mid-request, per spec.md §4.2's shutdown
	// ordering ("close the socket and destroy the context, in that
	// order ... this is not optional").
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			r.requestStop()
		}
	}()

	if err := sock.SendMultipart([][]byte{{transport.ReadySentinel}}); err != nil {
		return fmt.Errorf("worker: send ready: %w", err)
	}
	r.reportStatus(status, statusByteWaiting)

	served := 0
	for {
		if r.stopRequested() {
			r.cfg.Logger.Infow("worker: shutdown signal received, exiting", "served", served)
			r.reportStatus(status, statusByteExiting)
			return nil
		}

		ready, err := sock.HasPollIn(pollInterval)
		if err != nil {
			r.cfg.Logger.Warnw("worker: poll error, exiting", "error", err)
			return nil
		}
		if !ready {
			continue
		}

		frames, err := sock.RecvMultipart()
		if err != nil {
			r.cfg.Logger.Warnw("worker: recv error, exiting", "error", err)
			return nil
		}
		if len(frames) != 3 || len(frames[1]) != 0 {
			r.cfg.Logger.Warnw("worker: malformed request, dropping", "frames", len(frames))
			continue
		}
		clientID, payload := frames[0], frames[2]

		r.reportStatus(status, statusByteProcessing)
		result, err := r.cfg.App(payload)
		if err != nil {
			r.cfg.Logger.Warnw("worker: application handler error", "error", err)
			result = []byte("error: " + err.Error())
		}

		if err := sock.SendMultipart([][]byte{clientID, {}, result}); err != nil {
			r.cfg.Logger.Warnw("worker: send reply failed, exiting", "error", err)
			return nil
		}

		served++
		if r.cfg.MaxRequests > 0 && served >= r.cfg.MaxRequests {
			r.cfg.Logger.Infow("worker: request cap reached, exiting", "served", served)
			r.reportStatus(status, statusByteExiting)
			return nil
		}
		// A signal that arrived mid-request is honored now, after the
		// reply above was already sent, never before.
		if r.stopRequested() {
			r.cfg.Logger.Infow("worker: shutdown signal received, exiting", "served", served)
			r.reportStatus(status, statusByteExiting)
			return nil
		}
		r.reportStatus(status, statusByteWaiting)
	}
}

func (r *Runtime) statusSocket() (transport.Socket, error) {
	if r.cfg.StatusAddr == "" {
		return nil, nil
	}
	sock, err := r.cfg.Context.NewSocket(transport.Push)
	if err != nil {
		return nil, fmt.Errorf("worker: create status socket: %w", err)
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, fmt.Errorf("worker: set status linger: %w", err)
	}
	if err := sock.Connect(r.cfg.StatusAddr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("worker: connect status: %w", err)
	}
	return sock, nil
}

func (r *Runtime) reportStatus(status transport.Socket, b byte) {
	if status == nil {
		return
	}
	pid := strconv.Itoa(os.Getpid())
	if err := status.SendMultipart([][]byte{[]byte(pid), {b}}); err != nil {
		r.cfg.Logger.Debugw("worker: status report failed", "error", err)
	}
}
