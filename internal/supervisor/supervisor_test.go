package supervisor_test

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ido50/Net-Server-ZMQ/internal/broker"
	"github.com/ido50/Net-Server-ZMQ/internal/signals"
	"github.com/ido50/Net-Server-ZMQ/internal/supervisor"
	"github.com/ido50/Net-Server-ZMQ/internal/transport"
	"github.com/ido50/Net-Server-ZMQ/internal/transport/inproc"
)

// fakeProcess and fakeLauncher let tests fork without touching the OS
// process table.
type fakeProcess struct {
	pid int
}

func (p *fakeProcess) Pid() int                    { return p.pid }
func (p *fakeProcess) Signal(syscall.Signal) error { return nil }
func (p *fakeProcess) Wait() error                 { return nil }

type fakeLauncher struct {
	mu         sync.Mutex
	nextPid    int
	failNext   bool
	failAlways bool
	launched   int
}

func (l *fakeLauncher) Launch(backendPort int, generation string) (supervisor.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched++
	if l.failAlways {
		return nil, errors.New("fake launch failure")
	}
	if l.failNext {
		l.failNext = false
		return nil, errors.New("fake launch failure")
	}
	l.nextPid++
	return &fakeProcess{pid: l.nextPid}, nil
}

func newTestSupervisor(t *testing.T, launcher supervisor.Launcher, min, max, minSpare, maxSpare int) (*supervisor.Supervisor, *signals.Dispatcher) {
	t.Helper()
	inproc.Reset()
	ctx := inproc.NewContext()
	statusSocket, err := ctx.NewSocket(transport.Pull)
	require.NoError(t, err)
	require.NoError(t, statusSocket.Bind("inproc://status"))

	dispatcher := signals.New()
	logger := zap.NewNop().Sugar()

	sup := supervisor.New(supervisor.Config{
		Launcher:        launcher,
		IdleQueue:       broker.NewIdleQueue(),
		StatusSocket:    statusSocket,
		Signals:         dispatcher,
		Logger:          logger,
		BackendPort:     5000,
		MinServers:      min,
		MaxServers:      max,
		MinSpareServers: minSpare,
		MaxSpareServers: maxSpare,
		DrainTimeout:    50 * time.Millisecond,
	})
	return sup, dispatcher
}

func TestSupervisorForksUpToMinServers(t *testing.T) {
	launcher := &fakeLauncher{}
	sup, _ := newTestSupervisor(t, launcher, 3, 5, 1, 2)

	for i := 0; i < 3; i++ {
		sup.Housekeep()
	}
	assert.Equal(t, 3, sup.Table().Count())
}

func TestSupervisorStopsAtMaxServers(t *testing.T) {
	launcher := &fakeLauncher{}
	sup, _ := newTestSupervisor(t, launcher, 0, 2, 5, 5)

	for i := 0; i < 10; i++ {
		sup.Housekeep()
	}
	assert.LessOrEqual(t, sup.Table().Count(), 2)
}

func TestSupervisorForkFailureBacksOff(t *testing.T) {
	launcher := &fakeLauncher{failNext: true}
	sup, _ := newTestSupervisor(t, launcher, 1, 1, 0, 1)

	sup.Housekeep()
	assert.Equal(t, 0, sup.Table().Count())
	assert.Equal(t, 1, launcher.launched)

	// Immediately calling again should be suppressed by the backoff
	// window rather than retried instantly.
	sup.Housekeep()
	assert.Equal(t, 1, launcher.launched)
}

func TestSupervisorReapScrubsIdleQueue(t *testing.T) {
	launcher := &fakeLauncher{}
	idle := broker.NewIdleQueue()
	inproc.Reset()
	ctx := inproc.NewContext()
	statusSocket, err := ctx.NewSocket(transport.Pull)
	require.NoError(t, err)
	require.NoError(t, statusSocket.Bind("inproc://status2"))

	dispatcher := signals.New()
	logger := zap.NewNop().Sugar()
	sup := supervisor.New(supervisor.Config{
		Launcher:     launcher,
		IdleQueue:    idle,
		StatusSocket: statusSocket,
		Signals:      dispatcher,
		Logger:       logger,
		BackendPort:  5000,
		MinServers:   1,
		MaxServers:   1,
	})

	sup.Housekeep()
	require.Equal(t, 1, sup.Table().Count())
	pid := sup.Table().Pids()[0]
	idle.Push([]byte(fmt.Sprintf("child_%d", pid)))

	dispatcher.InjectReapedPID(pid)
	sup.CheckSignals()

	assert.Equal(t, 0, sup.Table().Count())
	assert.Equal(t, 0, idle.Len())
}

func TestSupervisorDrainCompleteWhenEmpty(t *testing.T) {
	sup, _ := newTestSupervisor(t, &fakeLauncher{}, 0, 1, 0, 1)
	assert.True(t, sup.DrainComplete())
}
