// Package zmq implements the transport.Context/transport.Socket
// contract over github.com/pebbe/zmq4. This is the real transport used
// in production; internal/transport/inproc provides a fake for tests.
//
// Grounded on ColDog-messaging/messenger.go and server.go: a shared
// *zmq.Context, ROUTER sockets bound with context.NewSocket(zmq.ROUTER),
// and RecvMessageBytes/SendMessage for framing.
package zmq

import (
	"fmt"
	"time"

	zmq4 "github.com/pebbe/zmq4"

	"github.com/ido50/Net-Server-ZMQ/internal/transport"
)

// NewContext creates a fresh ZeroMQ context. Must be called after fork,
// never inherited from a parent process — an inherited context is
// undefined behavior once the parent's I/O threads are gone.
func NewContext() (transport.Context, error) {
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("zmq: new context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

// Context wraps a *zmq4.Context.
type Context struct {
	ctx *zmq4.Context
}

func (c *Context) NewSocket(t transport.SocketType) (transport.Socket, error) {
	var zt zmq4.Type
	switch t {
	case transport.Router:
		zt = zmq4.ROUTER
	case transport.WorkerRequest:
		zt = zmq4.REQ
	case transport.Push:
		zt = zmq4.PUSH
	case transport.Pull:
		zt = zmq4.PULL
	default:
		return nil, fmt.Errorf("zmq: unknown socket type %d", t)
	}

	sock, err := c.ctx.NewSocket(zt)
	if err != nil {
		return nil, fmt.Errorf("zmq: new socket: %w", err)
	}
	return &Socket{sock: sock}, nil
}

func (c *Context) Close() error {
	return c.ctx.Term()
}

// Socket wraps a *zmq4.Socket.
type Socket struct {
	sock *zmq4.Socket
}

func (s *Socket) SetIdentity(id []byte) error {
	return s.sock.SetIdentity(string(id))
}

func (s *Socket) SetLinger(d time.Duration) error {
	return s.sock.SetLinger(d)
}

func (s *Socket) Bind(endpoint string) error {
	return s.sock.Bind(endpoint)
}

func (s *Socket) Connect(endpoint string) error {
	return s.sock.Connect(endpoint)
}

func (s *Socket) HasPollIn(timeout time.Duration) (bool, error) {
	poller := zmq4.NewPoller()
	poller.Add(s.sock, zmq4.POLLIN)

	polled, err := poller.Poll(timeout)
	if err != nil {
		return false, fmt.Errorf("zmq: poll: %w", err)
	}
	return len(polled) > 0, nil
}

func (s *Socket) RecvMultipart() ([][]byte, error) {
	parts, err := s.sock.RecvMessageBytes(0)
	if err != nil {
		return nil, fmt.Errorf("zmq: recv: %w", err)
	}
	return parts, nil
}

func (s *Socket) SendMultipart(parts [][]byte) error {
	frames := make([]interface{}, len(parts))
	for i, p := range parts {
		frames[i] = p
	}
	if _, err := s.sock.SendMessage(frames...); err != nil {
		return fmt.Errorf("zmq: send: %w", err)
	}
	return nil
}

func (s *Socket) Close() error {
	return s.sock.Close()
}
