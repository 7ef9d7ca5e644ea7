package worker_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ido50/Net-Server-ZMQ/internal/app"
	"github.com/ido50/Net-Server-ZMQ/internal/transport"
	"github.com/ido50/Net-Server-ZMQ/internal/transport/inproc"
	"github.com/ido50/Net-Server-ZMQ/internal/worker"
)

// TestRuntimeServesUntilRequestCap binds a fake ROUTER standing in for
// the broker's backend socket, drives one worker through its READY
// handshake and a fixed number of requests, and checks it exits on its
// own once MaxRequests is reached.
func TestRuntimeServesUntilRequestCap(t *testing.T) {
	inproc.Reset()
	ctx := inproc.NewContext()

	backend, err := ctx.NewSocket(transport.Router)
	require.NoError(t, err)
	require.NoError(t, backend.Bind("inproc://backend"))

	status, err := ctx.NewSocket(transport.Pull)
	require.NoError(t, err)
	require.NoError(t, status.Bind("inproc://status"))

	rt := worker.New(worker.Config{
		BackendAddr: "inproc://backend",
		StatusAddr:  "inproc://status",
		Context:     ctx,
		App:         app.Echo,
		Logger:      zap.NewNop().Sugar(),
		MaxRequests: 2,
	})

	done := make(chan error, 1)
	go func() { done <- rt.Serve() }()

	readyFrames, err := backend.RecvMultipart()
	require.NoError(t, err)
	require.Len(t, readyFrames, 3)
	require.Empty(t, readyFrames[1])
	require.Equal(t, transport.ReadySentinel, readyFrames[2][0])
	workerID := readyFrames[0]

	for i := 0; i < 2; i++ {
		require.NoError(t, backend.SendMultipart([][]byte{workerID, {}, []byte("client"), {}, []byte("ping")}))
		reply, err := backend.RecvMultipart()
		require.NoError(t, err)
		require.Len(t, reply, 5)
		require.Equal(t, "ping", string(reply[4]))
	}

	require.NoError(t, <-done)
}

func TestIdentityFormat(t *testing.T) {
	require.Equal(t, "child_42", string(worker.Identity(42)))
}
