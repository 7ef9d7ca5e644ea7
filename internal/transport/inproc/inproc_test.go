package inproc_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ido50/Net-Server-ZMQ/internal/transport"
	"github.com/ido50/Net-Server-ZMQ/internal/transport/inproc"
)

func TestReqSocketEnvelopeRoundTrip(t *testing.T) {
	inproc.Reset()
	ctx := inproc.NewContext()

	router, err := ctx.NewSocket(transport.Router)
	require.NoError(t, err)
	require.NoError(t, router.Bind("inproc://r"))

	req, err := ctx.NewSocket(transport.WorkerRequest)
	require.NoError(t, err)
	require.NoError(t, req.SetIdentity([]byte("peer-a")))
	require.NoError(t, req.Connect("inproc://r"))

	require.NoError(t, req.SendMultipart([][]byte{[]byte("hello")}))

	frames, err := router.RecvMultipart()
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("peer-a"), {}, []byte("hello")}, frames)

	require.NoError(t, router.SendMultipart([][]byte{[]byte("peer-a"), {}, []byte("world")}))

	reply, err := req.RecvMultipart()
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("world")}, reply)
}

func TestHasPollInDoesNotConsume(t *testing.T) {
	inproc.Reset()
	ctx := inproc.NewContext()

	router, err := ctx.NewSocket(transport.Router)
	require.NoError(t, err)
	require.NoError(t, router.Bind("inproc://poll"))

	req, err := ctx.NewSocket(transport.WorkerRequest)
	require.NoError(t, err)
	require.NoError(t, req.SetIdentity([]byte("peer-b")))
	require.NoError(t, req.Connect("inproc://poll"))
	require.NoError(t, req.SendMultipart([][]byte{[]byte("ping")}))

	ready, err := router.HasPollIn(time.Second)
	require.NoError(t, err)
	require.True(t, ready)

	// Polling again must still report ready without dropping the
	// message, and Recv must return the same message exactly once.
	ready, err = router.HasPollIn(0)
	require.NoError(t, err)
	require.True(t, ready)

	frames, err := router.RecvMultipart()
	require.NoError(t, err)
	require.Equal(t, "ping", string(frames[2]))

	ready, err = router.HasPollIn(50 * time.Millisecond)
	require.NoError(t, err)
	require.False(t, ready)
}

func TestPushPullFanIn(t *testing.T) {
	inproc.Reset()
	ctx := inproc.NewContext()

	pull, err := ctx.NewSocket(transport.Pull)
	require.NoError(t, err)
	require.NoError(t, pull.Bind("inproc://status"))

	pushA, err := ctx.NewSocket(transport.Push)
	require.NoError(t, err)
	require.NoError(t, pushA.Connect("inproc://status"))

	pushB, err := ctx.NewSocket(transport.Push)
	require.NoError(t, err)
	require.NoError(t, pushB.Connect("inproc://status"))

	require.NoError(t, pushA.SendMultipart([][]byte{[]byte("1"), []byte("W")}))
	require.NoError(t, pushB.SendMultipart([][]byte{[]byte("2"), []byte("W")}))

	first, err := pull.RecvMultipart()
	require.NoError(t, err)
	second, err := pull.RecvMultipart()
	require.NoError(t, err)

	got := map[string]bool{string(first[0]): true, string(second[0]): true}
	require.True(t, got["1"] && got["2"])
}
