package broker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ido50/Net-Server-ZMQ/internal/broker"
	"github.com/ido50/Net-Server-ZMQ/internal/transport"
	"github.com/ido50/Net-Server-ZMQ/internal/transport/inproc"
)

var errFatalTest = errors.New("fatal condition")

// stubHousekeeper is a no-op broker.Housekeeper: CheckSignals never
// requests shutdown, Housekeep does nothing. Adequate for exercising
// the dispatch/receive paths in isolation from process supervision.
type stubHousekeeper struct {
	housekeepCalls int
}

func (h *stubHousekeeper) CheckSignals() bool  { return false }
func (h *stubHousekeeper) Housekeep()          { h.housekeepCalls++ }
func (h *stubHousekeeper) DrainComplete() bool { return true }
func (h *stubHousekeeper) FatalError() error   { return nil }

// fatalHousekeeper reports a fatal condition on its first Housekeep
// call, exercising Router.Run's exit-with-error path.
type fatalHousekeeper struct {
	err error
}

func (h *fatalHousekeeper) CheckSignals() bool  { return false }
func (h *fatalHousekeeper) Housekeep()          {}
func (h *fatalHousekeeper) DrainComplete() bool { return false }
func (h *fatalHousekeeper) FatalError() error   { return h.err }

func TestRouterRunReturnsFatalError(t *testing.T) {
	inproc.Reset()
	ctx := inproc.NewContext()

	frontend, err := ctx.NewSocket(transport.Router)
	require.NoError(t, err)
	require.NoError(t, frontend.Bind("inproc://frontend-fatal"))

	backend, err := ctx.NewSocket(transport.Router)
	require.NoError(t, err)
	require.NoError(t, backend.Bind("inproc://backend-fatal"))

	house := &fatalHousekeeper{err: errFatalTest}
	r := broker.NewRouter(broker.Config{
		Frontend:     frontend,
		Backend:      backend,
		Housekeeper:  house,
		Logger:       zap.NewNop().Sugar(),
		PollInterval: time.Millisecond,
	})

	require.Equal(t, errFatalTest, r.Run())
}

func newTestRouter(t *testing.T) (*broker.Router, transport.Socket, transport.Socket) {
	t.Helper()
	inproc.Reset()
	ctx := inproc.NewContext()

	frontend, err := ctx.NewSocket(transport.Router)
	require.NoError(t, err)
	require.NoError(t, frontend.Bind("inproc://frontend"))

	backend, err := ctx.NewSocket(transport.Router)
	require.NoError(t, err)
	require.NoError(t, backend.Bind("inproc://backend"))

	logger := zap.NewNop().Sugar()
	r := broker.NewRouter(broker.Config{
		Frontend:     frontend,
		Backend:      backend,
		Housekeeper:  &stubHousekeeper{},
		Logger:       logger,
		PollInterval: 10 * time.Millisecond,
	})
	return r, frontend, backend
}

func newTestClient(t *testing.T, identity string) transport.Socket {
	t.Helper()
	ctx := inproc.NewContext()
	client, err := ctx.NewSocket(transport.WorkerRequest)
	require.NoError(t, err)
	require.NoError(t, client.SetIdentity([]byte(identity)))
	require.NoError(t, client.Connect("inproc://frontend"))
	return client
}

func newTestWorker(t *testing.T, identity string) transport.Socket {
	t.Helper()
	ctx := inproc.NewContext()
	worker, err := ctx.NewSocket(transport.WorkerRequest)
	require.NoError(t, err)
	require.NoError(t, worker.SetIdentity([]byte(identity)))
	require.NoError(t, worker.Connect("inproc://backend"))
	return worker
}

// TestRouterReadyThenDispatch exercises the full round trip: a worker
// announces READY, a client sends a request, the router pairs them and
// forwards the reply back to the client.
func TestRouterReadyThenDispatch(t *testing.T) {
	r, _, _ := newTestRouter(t)
	worker := newTestWorker(t, "worker-1")
	client := newTestClient(t, "client-1")

	require.NoError(t, worker.SendMultipart([][]byte{{transport.ReadySentinel}}))

	go r.Run()

	require.NoError(t, client.SendMultipart([][]byte{[]byte("hello")}))

	reqFrames, err := worker.RecvMultipart()
	require.NoError(t, err)
	require.Len(t, reqFrames, 3)
	require.Equal(t, "client-1", string(reqFrames[0]))
	require.Equal(t, "hello", string(reqFrames[2]))

	require.NoError(t, worker.SendMultipart([][]byte{reqFrames[0], {}, []byte("world")}))

	replyFrames, err := client.RecvMultipart()
	require.NoError(t, err)
	require.Len(t, replyFrames, 1)
	require.Equal(t, "world", string(replyFrames[0]))
}

// TestRouterEnqueuesReadyWorker checks that a bare READY announcement,
// with no request following it, still lands the worker in the idle
// queue.
func TestRouterEnqueuesReadyWorker(t *testing.T) {
	r, _, _ := newTestRouter(t)
	worker := newTestWorker(t, "worker-1")
	require.NoError(t, worker.SendMultipart([][]byte{{transport.ReadySentinel}}))

	go r.Run()

	require.Eventually(t, func() bool {
		return r.IdleQueue().Len() == 1
	}, time.Second, time.Millisecond)
}
