// Package broker implements the two-socket routing state machine: the
// single-threaded dispatch loop that pairs frontend requests with idle
// workers and routes replies back, per spec.md §4.1.
//
// Grounded on ColDog-messaging/server.go's serve/worker shape (bind
// frontend, bind backend, loop on recv/send), generalized from an
// in-process DEALER proxy into the explicit poll-and-route state
// machine spec.md describes, with counters shaped like
// ChuLiYu-raft-recovery/internal/metrics.
package broker

import (
	"time"

	"go.uber.org/zap"

	"github.com/ido50/Net-Server-ZMQ/internal/metrics"
	"github.com/ido50/Net-Server-ZMQ/internal/transport"
)

// Housekeeper is the supervisor-shaped dependency the broker loop drives
// from its idle branch and its per-iteration signal check. Defined here
// so internal/broker never imports internal/supervisor — the dependency
// runs the other way, keeping the routing core ignorant of process
// lifecycle concerns.
type Housekeeper interface {
	// CheckSignals applies any pending signal-driven action (HUP
	// restart-all, TTIN/TTOU rescale, shutdown request, deleting reaped
	// children and pruning their identities from the idle queue) and
	// reports whether the broker should stop accepting new frontend
	// work. Called once per loop iteration.
	CheckSignals() (shuttingDown bool)
	// Housekeep maintains the target worker count by forking or
	// stopping workers. Called only when neither socket has a message
	// waiting and no shutdown is in progress.
	Housekeep()
	// DrainComplete reports whether a shutdown in progress may
	// terminate the loop now (all workers exited, or the grace period
	// elapsed).
	DrainComplete() bool
	// FatalError reports a runtime-fatal condition discovered during
	// housekeeping (persistent fork failure), if any. A non-nil result
	// ends the routing loop with that error instead of continuing.
	FatalError() error
}

// Config configures one Router.
type Config struct {
	Frontend    transport.Socket
	Backend     transport.Socket
	IdleQueue   *IdleQueue
	Housekeeper Housekeeper
	Logger      *zap.SugaredLogger
	Metrics     *metrics.Collector
	// PollInterval bounds how long the backend poll blocks when the
	// frontend has no idle worker to dispatch to, so housekeeping runs
	// at roughly this cadence even under no traffic.
	PollInterval time.Duration
	// MalformedBurst caps how many malformed frontend frames from one
	// client identity within a 10s window are logged/counted before
	// further frames from that identity are silently dropped until the
	// window rolls over, per SPEC_FULL.md supplement 5.
	MalformedBurst int
}

// Router owns the frontend/backend sockets and the idle-worker queue.
type Router struct {
	frontend transport.Socket
	backend  transport.Socket
	idle     *IdleQueue
	house    Housekeeper
	log      *zap.SugaredLogger
	metrics  *metrics.Collector
	poll     time.Duration

	malformedBurst  int
	malformedWindow time.Duration
	malformedSeen   map[string]*malformedWindow
}

// malformedWindow tracks one client identity's malformed-frame count
// within the current rolling window; the count resets once the window
// elapses so a client is only ever muted for as long as it is actively
// misbehaving, per SPEC_FULL.md supplement 5's "within a 10s window".
type malformedWindow struct {
	count       int
	windowStart time.Time
}

// NewRouter builds a Router ready to Run.
func NewRouter(cfg Config) *Router {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	burst := cfg.MalformedBurst
	if burst <= 0 {
		burst = 50
	}
	idle := cfg.IdleQueue
	if idle == nil {
		idle = NewIdleQueue()
	}
	return &Router{
		frontend:        cfg.Frontend,
		backend:         cfg.Backend,
		idle:            idle,
		house:           cfg.Housekeeper,
		log:             cfg.Logger,
		metrics:         cfg.Metrics,
		poll:            poll,
		malformedBurst:  burst,
		malformedWindow: 10 * time.Second,
		malformedSeen:   make(map[string]*malformedWindow),
	}
}

// IdleQueue exposes the router's idle-worker queue for introspection
// (tests, the status endpoint).
func (r *Router) IdleQueue() *IdleQueue { return r.idle }

// Run executes the dispatch loop until shutdown drains and completes,
// or a runtime-fatal condition (persistent fork failure) is reported by
// the Housekeeper. It returns nil on a clean shutdown; transport
// failures while running are logged and swallowed per spec.md §7 kind
// 4 — the loop keeps running.
func (r *Router) Run() error {
	for {
		shuttingDown := r.house.CheckSignals()

		if shuttingDown && r.house.DrainComplete() {
			r.log.Info("broker: drain complete, exiting loop")
			return nil
		}

		if !shuttingDown && r.idle.Len() > 0 {
			if ready, err := r.frontend.HasPollIn(0); err != nil {
				r.log.Warnw("broker: frontend poll error", "error", err)
			} else if ready {
				r.dispatchOne()
				continue
			}
		}

		if ready, err := r.backend.HasPollIn(r.poll); err != nil {
			r.log.Warnw("broker: backend poll error", "error", err)
		} else if ready {
			r.receiveOne()
			continue
		}

		if !shuttingDown {
			r.house.Housekeep()
			if err := r.house.FatalError(); err != nil {
				r.log.Errorw("broker: fatal condition reported by housekeeper, exiting", "error", err)
				return err
			}
		}
	}
}

// dispatchOne implements loop step 2: pop the head idle worker and
// forward one frontend request to it.
func (r *Router) dispatchOne() {
	frames, err := r.frontend.RecvMultipart()
	if err != nil {
		r.log.Warnw("broker: frontend recv error", "error", err)
		return
	}

	if !validClientFrame(frames) {
		r.dropMalformed(frames)
		return
	}
	clientID, payload := frames[0], frames[2]

	workerID, ok := r.idle.Pop()
	if !ok {
		// Lost the race between Len()>0 and Pop(); nothing to do but
		// wait for the next iteration. Should not happen since the
		// broker is single-threaded, but guards against future
		// concurrency changes.
		r.log.Warnw("broker: idle queue emptied between check and pop")
		return
	}

	started := time.Now()
	out := [][]byte{workerID, {}, clientID, {}, payload}
	if err := r.backend.SendMultipart(out); err != nil {
		r.log.Warnw("broker: backend send failed, dropping request", "worker", string(workerID), "error", err)
		if r.metrics != nil {
			r.metrics.RecordDropped("undeliverable")
		}
		return
	}
	if r.metrics != nil {
		r.metrics.RecordDispatch(time.Since(started).Seconds())
	}
}

// validClientFrame checks spec.md §4.1's frontend malformed-message
// rule: fewer than 3 frames, or a non-empty delimiter frame.
func validClientFrame(frames [][]byte) bool {
	return len(frames) >= 3 && len(frames[1]) == 0
}

func (r *Router) dropMalformed(frames [][]byte) {
	var identity string
	if len(frames) > 0 {
		identity = string(frames[0])
	}

	now := time.Now()
	w, ok := r.malformedSeen[identity]
	if !ok || now.Sub(w.windowStart) > r.malformedWindow {
		w = &malformedWindow{windowStart: now}
		r.malformedSeen[identity] = w
	}
	w.count++
	if w.count > r.malformedBurst {
		// Soft cap: stop even logging this identity's malformed frames
		// until the window rolls over, bounding log volume under a
		// sustained malformed-frame burst without muting it forever.
		return
	}
	r.log.Warnw("broker: dropping malformed frontend message", "frames", len(frames), "identity", identity)
	if r.metrics != nil {
		r.metrics.RecordDropped("malformed")
	}
}

// receiveOne implements loop step 3: receive one backend message,
// enqueue the sending worker as idle, and either note a READY check-in
// or forward a reply to the originating client.
func (r *Router) receiveOne() {
	frames, err := r.backend.RecvMultipart()
	if err != nil {
		r.log.Warnw("broker: backend recv error", "error", err)
		return
	}
	if len(frames) < 3 {
		r.log.Warnw("broker: malformed backend message", "frames", len(frames))
		if r.metrics != nil {
			r.metrics.RecordDropped("malformed")
		}
		return
	}

	workerID := frames[0]
	// The worker is idle because every worker message — READY or
	// reply — is sent immediately before the worker returns to its
	// own receive.
	r.idle.Push(workerID)

	if len(frames[2]) == 1 && frames[2][0] == transport.ReadySentinel {
		r.log.Debugw("broker: worker ready", "worker", string(workerID))
		return
	}

	if len(frames) < 5 {
		r.log.Warnw("broker: malformed backend reply", "worker", string(workerID), "frames", len(frames))
		if r.metrics != nil {
			r.metrics.RecordDropped("malformed")
		}
		return
	}
	clientID, delim, result := frames[2], frames[3], frames[4]
	if len(delim) != 0 {
		r.log.Warnw("broker: malformed backend reply delimiter", "worker", string(workerID))
		if r.metrics != nil {
			r.metrics.RecordDropped("malformed")
		}
		return
	}

	if err := r.frontend.SendMultipart([][]byte{clientID, {}, result}); err != nil {
		r.log.Warnw("broker: frontend send failed, dropping reply", "client", string(clientID), "error", err)
		if r.metrics != nil {
			r.metrics.RecordDropped("undeliverable")
		}
		return
	}
	if r.metrics != nil {
		r.metrics.RecordReply()
	}
}
