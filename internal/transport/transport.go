// Package transport defines the Messaging Port contract: the small
// capability the broker, worker, and supervisor depend on instead of
// importing a ZeroMQ binding directly.
package transport

import (
	"errors"
	"time"
)

// ReadySentinel is the single byte a worker sends to announce it is
// idle and available for work.
const ReadySentinel = byte(0x01)

// ErrClosed is returned by the inproc fake's receive calls when the
// socket's inbox channel has been closed.
var ErrClosed = errors.New("transport: socket closed")

// SocketType selects the ZeroMQ socket role a Context creates.
type SocketType int

const (
	// Router is a peer-addressable socket: inbound messages carry the
	// sender identity as frame 0, outbound messages are addressed by
	// placing the target identity in frame 0.
	Router SocketType = iota
	// WorkerRequest is a REQ-style socket: send and recv strictly
	// alternate, and the caller sets its own identity before connect.
	WorkerRequest
	// Push is a fire-and-forget sender, used for the status channel.
	Push
	// Pull is the receive side of the status channel.
	Pull
)

// Context creates sockets confined to one process. A Context must never
// be shared across a fork; each worker process creates its own.
type Context interface {
	NewSocket(t SocketType) (Socket, error)
	// Close destroys the context. Must be called after all of the
	// context's sockets are closed, or background I/O threads leak.
	Close() error
}

// Socket is a multipart message socket. Implementations are not safe
// for concurrent Send/Recv calls (ZeroMQ sockets are not thread-safe);
// each socket is used from a single goroutine.
type Socket interface {
	SetIdentity(id []byte) error
	SetLinger(d time.Duration) error
	Bind(endpoint string) error
	Connect(endpoint string) error
	// HasPollIn reports whether a message is readable within timeout
	// without consuming it. A timeout of 0 polls without blocking.
	HasPollIn(timeout time.Duration) (bool, error)
	RecvMultipart() ([][]byte, error)
	SendMultipart(parts [][]byte) error
	Close() error
}
