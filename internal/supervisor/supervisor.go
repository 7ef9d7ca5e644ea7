package supervisor

import (
	"fmt"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ido50/Net-Server-ZMQ/internal/broker"
	"github.com/ido50/Net-Server-ZMQ/internal/metrics"
	"github.com/ido50/Net-Server-ZMQ/internal/signals"
	"github.com/ido50/Net-Server-ZMQ/internal/transport"
)

// statusByte values are the single-byte payloads workers push on the
// status socket to report a lifecycle transition. Kept as single bytes
// rather than a string protocol to match the READY sentinel's spirit on
// the backend socket.
const (
	statusByteWaiting    = 'W'
	statusByteProcessing = 'P'
	statusByteExiting    = 'X'
)

// Config wires a Supervisor to its collaborators. All fields are
// required except Metrics, which may be nil to disable metrics, and
// DrainTimeout, which defaults to 5s.
type Config struct {
	Launcher     Launcher
	IdleQueue    *broker.IdleQueue
	StatusSocket transport.Socket
	Signals      *signals.Dispatcher
	Logger       *zap.SugaredLogger
	Metrics      *metrics.Collector

	BackendPort     int
	MinServers      int
	MaxServers      int
	MinSpareServers int
	MaxSpareServers int
	DrainTimeout    time.Duration
}

// backoffState tracks consecutive fork failures so retries back off
// exponentially instead of hot-looping against a broken environment
// (out of file descriptors, exec permission denied, and so on), per
// SPEC_FULL.md supplement 3.
type backoffState struct {
	attempts  int
	nextRetry time.Time
}

// Supervisor forks and reaps worker children, tracks their lifecycle in
// a ChildTable, and implements broker.Housekeeper so the routing loop
// can drive it without knowing anything about processes.
//
// Grounded on childtable.go/process.go in this package plus
// ChuLiYu-raft-recovery's SIGHUP-triggered reload shape for the restart
// path; the scaling and spare-server bookkeeping is new work directly
// off spec.md §4.3 since no example repo preforks with a spare-server
// band.
type Supervisor struct {
	cfg   Config
	table *ChildTable

	mu            sync.Mutex
	minServers    int
	maxServers    int
	generation    string
	shuttingDown  bool
	shutdownKind  signals.ShutdownKind
	drainStart    time.Time
	drainSignaled bool
	backoff       backoffState
	drainTimeout  time.Duration
	fatalErr      error
}

// maxForkAttempts bounds how many consecutive fork failures are treated
// as transient (out of file descriptors, a momentary exec permission
// glitch) before the supervisor gives up and escalates to fatal, per
// spec.md §7 kind 3 ("persistent (fatal)").
const maxForkAttempts = 10

// New builds a Supervisor. It does not fork anything until Housekeep is
// first called.
func New(cfg Config) *Supervisor {
	drainTimeout := cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Second
	}
	return &Supervisor{
		cfg:          cfg,
		table:        NewChildTable(),
		minServers:   cfg.MinServers,
		maxServers:   cfg.MaxServers,
		generation:   uuid.NewString(),
		drainTimeout: drainTimeout,
	}
}

// Table exposes the child table for introspection (tests).
func (s *Supervisor) Table() *ChildTable { return s.table }

// CheckSignals implements broker.Housekeeper. It drains the signal
// dispatcher, applies restart/rescale/reap actions, drains any pending
// worker status reports, and reports whether the broker should stop
// accepting new frontend work.
func (s *Supervisor) CheckSignals() bool {
	s.pollStatus()

	ev := s.cfg.Signals.Drain()

	s.mu.Lock()
	if ev.ScaleDelta != 0 {
		s.minServers += ev.ScaleDelta
		s.maxServers += ev.ScaleDelta
		if s.minServers < 0 {
			s.minServers = 0
		}
		if s.maxServers < s.minServers {
			s.maxServers = s.minServers
		}
		s.cfg.Logger.Infow("supervisor: rescaled", "min_servers", s.minServers, "max_servers", s.maxServers)
	}
	if ev.ShutdownRequested && !s.shuttingDown {
		s.shuttingDown = true
		s.shutdownKind = ev.ShutdownKind
		s.drainStart = time.Now()
		s.cfg.Logger.Infow("supervisor: shutdown requested", "kind", ev.ShutdownKind.String())
	}
	shuttingDown := s.shuttingDown
	s.mu.Unlock()

	for _, pid := range ev.ReapedPIDs {
		if rec := s.table.Delete(pid); rec != nil {
			s.cfg.IdleQueue.Remove(rec.Identity)
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.RecordReap()
			}
			s.cfg.Logger.Infow("supervisor: reaped worker", "pid", pid, "generation", rec.Generation)
		}
	}

	if ev.RestartRequested {
		s.restartAll()
	}

	// Force-signaling every child the instant shutdown is requested
	// would kill a worker mid-request. Wait for the bounded drain: all
	// live workers back to idle, or the grace period elapsed, per
	// spec.md §5's cancellation model and SPEC_FULL.md supplement 1.
	// Router.Run already stops polling the frontend once shuttingDown
	// is true; backend replies keep flowing until this fires.
	if shuttingDown && !s.drainSignaled {
		idle := s.cfg.IdleQueue.Len()
		total := s.table.Count()
		if total == 0 || idle >= total || s.DrainComplete() {
			s.cfg.Logger.Infow("supervisor: drain condition met, signaling workers to exit", "idle", idle, "total", total)
			s.signalAll(syscall.SIGTERM)
			s.mu.Lock()
			s.drainSignaled = true
			s.mu.Unlock()
		}
	}

	return shuttingDown
}

// DrainComplete implements broker.Housekeeper: a shutdown may terminate
// the loop once every worker has been reaped, or the drain grace period
// has elapsed and stragglers are abandoned.
func (s *Supervisor) DrainComplete() bool {
	if s.table.Count() == 0 {
		return true
	}
	s.mu.Lock()
	elapsed := time.Since(s.drainStart)
	s.mu.Unlock()
	if elapsed > s.drainTimeout {
		s.cfg.Logger.Warnw("supervisor: drain timeout elapsed, abandoning stragglers", "remaining", s.table.Count())
		return true
	}
	return false
}

// Housekeep implements broker.Housekeeper: maintain the target worker
// count by forking or politely stopping one child per call, per
// spec.md §4.3.
func (s *Supervisor) Housekeep() {
	s.mu.Lock()
	minServers, maxServers := s.minServers, s.maxServers
	s.mu.Unlock()

	total := s.table.Count()
	// spec.md §4.3 defines spare as the waiting count; StatusStarting is
	// folded in here so a burst of just-forked, not-yet-READY workers
	// counts against max_spare_servers too, instead of triggering another
	// fork before the first batch even finishes connecting.
	spare := s.table.CountStatus(StatusWaiting) + s.table.CountStatus(StatusStarting)

	switch {
	case total < minServers:
		s.forkOne()
	case spare < s.cfg.MinSpareServers && total < maxServers:
		s.forkOne()
	case spare > s.cfg.MaxSpareServers:
		s.stopOneIdle()
	}
}

func (s *Supervisor) forkOne() {
	s.mu.Lock()
	if !s.backoff.nextRetry.IsZero() && time.Now().Before(s.backoff.nextRetry) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	proc, err := s.cfg.Launcher.Launch(s.cfg.BackendPort, s.currentGeneration())
	if err != nil {
		s.recordForkFailure(err)
		return
	}

	s.mu.Lock()
	s.backoff = backoffState{}
	s.mu.Unlock()

	s.table.Add(proc.Pid(), s.currentGeneration(), time.Now())
	s.table.SetIdentity(proc.Pid(), []byte(fmt.Sprintf("child_%d", proc.Pid())))
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordFork()
	}
	s.cfg.Logger.Infow("supervisor: forked worker", "pid", proc.Pid())
}

func (s *Supervisor) recordForkFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.backoff.attempts++
	if s.backoff.attempts > maxForkAttempts {
		s.cfg.Logger.Errorw("supervisor: fork failed repeatedly, treating as fatal", "attempts", s.backoff.attempts, "error", err)
		if s.fatalErr == nil {
			s.fatalErr = fmt.Errorf("supervisor: persistent fork failure after %d attempts: %w", s.backoff.attempts, err)
		}
		return
	}

	s.cfg.Logger.Warnw("supervisor: fork failed, backing off", "attempt", s.backoff.attempts, "error", err)

	delay := 100 * time.Millisecond << uint(s.backoff.attempts-1)
	const maxDelay = 5 * time.Second
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	s.backoff.nextRetry = time.Now().Add(delay)
}

// FatalError implements broker.Housekeeper: non-nil once fork failures
// have crossed maxForkAttempts, meaning the environment looks broken
// rather than momentarily strained and the process should exit fatally
// instead of retrying forever at zero workers.
func (s *Supervisor) FatalError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}

// stopOneIdle politely stops one waiting child so it exits before its
// next request, keeping the spare pool from overshooting
// max_spare_servers.
func (s *Supervisor) stopOneIdle() {
	for _, rec := range s.table.Snapshot() {
		if rec.Status != StatusWaiting {
			continue
		}
		live, err := confirmLive(rec.Pid, rec.StartedAt)
		if err != nil {
			s.cfg.Logger.Warnw("supervisor: could not confirm idle worker is live", "pid", rec.Pid, "error", err)
		}
		if !live {
			// Already gone, or the pid was recycled onto an unrelated
			// process before we got here; drop the stale record now
			// instead of waiting for the SIGCHLD that may never come
			// for a pid that isn't actually our child anymore.
			s.table.Delete(rec.Pid)
			s.cfg.IdleQueue.Remove(rec.Identity)
			continue
		}
		s.table.Transition(rec.Pid, StatusExiting)
		if err := syscall.Kill(rec.Pid, syscall.SIGTERM); err != nil {
			s.cfg.Logger.Warnw("supervisor: failed to signal idle worker", "pid", rec.Pid, "error", err)
		}
		return
	}
}

func (s *Supervisor) signalAll(sig syscall.Signal) {
	for _, pid := range s.table.Pids() {
		_ = syscall.Kill(pid, sig)
	}
}

// restartAll bumps the generation and asks every current child to exit
// after finishing its current request; Housekeep replaces them with
// fresh workers on the new generation as the reap events land. Sends
// HUP, not TERM, per spec.md §4.4's signal table ("send HUP to each;
// they exit after the current request"). Grounded on
// ChuLiYu-raft-recovery's config reload path, which likewise treats HUP
// as "start clean, let old work drain out" rather than mutating live
// state in place.
func (s *Supervisor) restartAll() {
	s.mu.Lock()
	s.generation = uuid.NewString()
	gen := s.generation
	s.mu.Unlock()

	s.cfg.Logger.Infow("supervisor: restart requested, rolling to new generation", "generation", gen)
	s.signalAll(syscall.SIGHUP)
}

func (s *Supervisor) currentGeneration() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// pollStatus drains every status report currently queued, bounded so a
// flood of reports cannot starve the broker loop's own poll.
func (s *Supervisor) pollStatus() {
	const maxPerTick = 64
	for i := 0; i < maxPerTick; i++ {
		ready, err := s.cfg.StatusSocket.HasPollIn(0)
		if err != nil {
			s.cfg.Logger.Warnw("supervisor: status poll error", "error", err)
			return
		}
		if !ready {
			return
		}
		frames, err := s.cfg.StatusSocket.RecvMultipart()
		if err != nil {
			s.cfg.Logger.Warnw("supervisor: status recv error", "error", err)
			return
		}
		s.handleStatus(frames)
	}
}

func (s *Supervisor) handleStatus(frames [][]byte) {
	if len(frames) < 2 || len(frames[1]) != 1 {
		s.cfg.Logger.Warnw("supervisor: malformed status report", "frames", len(frames))
		return
	}
	pid, err := strconv.Atoi(string(frames[0]))
	if err != nil {
		s.cfg.Logger.Warnw("supervisor: malformed status pid", "raw", string(frames[0]))
		return
	}

	var status Status
	switch frames[1][0] {
	case statusByteWaiting:
		status = StatusWaiting
	case statusByteProcessing:
		status = StatusProcessing
	case statusByteExiting:
		status = StatusExiting
	default:
		s.cfg.Logger.Warnw("supervisor: unknown status byte", "pid", pid, "byte", frames[1][0])
		return
	}
	s.table.Transition(pid, status)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetWorkerGauges(s.table.CountStatus(StatusWaiting), s.table.CountStatus(StatusProcessing))
	}
}
