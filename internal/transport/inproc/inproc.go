// Package inproc is an in-memory implementation of the transport
// contract, used by broker/worker/supervisor tests so the routing state
// machine can be exercised without a real ZeroMQ socket.
//
// It reproduces the one behavior tests actually depend on: a REQ-style
// socket implicitly wraps its application frames in one empty envelope
// frame on send and strips it on receive, and a ROUTER socket prepends
// the sender's identity on receive and strips the target identity on
// send. Everything else (real ZeroMQ options, multi-hop proxies) is out
// of scope for this fake.
package inproc

import (
	"fmt"
	"sync"
	"time"

	"github.com/ido50/Net-Server-ZMQ/internal/transport"
)

type message struct {
	fromID []byte
	frames [][]byte
}

type routerEndpoint struct {
	inbox chan message

	mu    sync.Mutex
	peers map[string]chan message
}

var registry = struct {
	mu    sync.Mutex
	binds map[string]*routerEndpoint
}{binds: make(map[string]*routerEndpoint)}

// pullRegistry holds Pull sockets' inboxes separately from router
// binds: PUSH/PULL carry no identity envelope at all, unlike
// ROUTER/REQ, so they need their own unaddressed fan-in bind table.
var pullRegistry = struct {
	mu    sync.Mutex
	binds map[string]chan message
}{binds: make(map[string]chan message)}

// Reset clears all bound endpoints. Tests call this between cases so
// addresses can be reused.
func Reset() {
	registry.mu.Lock()
	registry.binds = make(map[string]*routerEndpoint)
	registry.mu.Unlock()

	pullRegistry.mu.Lock()
	pullRegistry.binds = make(map[string]chan message)
	pullRegistry.mu.Unlock()
}

// NewContext returns a transport.Context backed by the in-memory fake.
func NewContext() transport.Context {
	return &Context{}
}

// Context is a no-op grouping; the fake has no per-context resources
// beyond the sockets it creates.
type Context struct{}

func (c *Context) NewSocket(t transport.SocketType) (transport.Socket, error) {
	switch t {
	case transport.Router:
		return &routerSocket{inbox: make(chan message, 1024)}, nil
	case transport.WorkerRequest:
		return &reqSocket{inbox: make(chan message, 1024)}, nil
	case transport.Pull:
		return &pullSocket{inbox: make(chan message, 1024)}, nil
	case transport.Push:
		return &pushSocket{}, nil
	default:
		return nil, fmt.Errorf("inproc: unknown socket type %d", t)
	}
}

func (c *Context) Close() error { return nil }

// peekable buffers at most one already-drained message so HasPollIn can
// report readiness without consuming it out of order.
type peekable struct {
	mu     sync.Mutex
	peeked *message
}

func (p *peekable) pollIn(inbox chan message, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	if p.peeked != nil {
		p.mu.Unlock()
		return true, nil
	}
	p.mu.Unlock()

	select {
	case m := <-inbox:
		p.mu.Lock()
		p.peeked = &m
		p.mu.Unlock()
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

func (p *peekable) recv(inbox chan message) (message, bool) {
	p.mu.Lock()
	if p.peeked != nil {
		m := *p.peeked
		p.peeked = nil
		p.mu.Unlock()
		return m, true
	}
	p.mu.Unlock()

	m, ok := <-inbox
	return m, ok
}

type routerSocket struct {
	addr string
	inbox chan message
	ep    *routerEndpoint
	peek  peekable
}

func (s *routerSocket) SetIdentity(id []byte) error     { return nil }
func (s *routerSocket) SetLinger(d time.Duration) error { return nil }
func (s *routerSocket) Connect(endpoint string) error {
	return fmt.Errorf("inproc: router sockets bind, they do not connect")
}

func (s *routerSocket) Bind(endpoint string) error {
	ep := &routerEndpoint{inbox: s.inbox, peers: make(map[string]chan message)}
	registry.mu.Lock()
	registry.binds[endpoint] = ep
	registry.mu.Unlock()
	s.addr = endpoint
	s.ep = ep
	return nil
}

func (s *routerSocket) HasPollIn(timeout time.Duration) (bool, error) {
	return s.peek.pollIn(s.inbox, timeout)
}

func (s *routerSocket) RecvMultipart() ([][]byte, error) {
	m, ok := s.peek.recv(s.inbox)
	if !ok {
		return nil, transport.ErrClosed
	}
	return append([][]byte{m.fromID}, m.frames...), nil
}

func (s *routerSocket) SendMultipart(parts [][]byte) error {
	if len(parts) < 1 {
		return fmt.Errorf("inproc: router send requires an identity frame")
	}
	target := string(parts[0])
	s.ep.mu.Lock()
	peerInbox, ok := s.ep.peers[target]
	s.ep.mu.Unlock()
	if !ok {
		return fmt.Errorf("inproc: no peer with identity %q", target)
	}
	peerInbox <- message{frames: parts[1:]}
	return nil
}

func (s *routerSocket) Close() error {
	registry.mu.Lock()
	delete(registry.binds, s.addr)
	registry.mu.Unlock()
	return nil
}

// reqSocket implements the worker-side request role (also reused by test
// clients, which have the same send/recv/identity shape).
type reqSocket struct {
	identity []byte
	inbox    chan message
	target   *routerEndpoint
	peek     peekable
}

func (s *reqSocket) SetIdentity(id []byte) error {
	s.identity = append([]byte(nil), id...)
	return nil
}

func (s *reqSocket) SetLinger(d time.Duration) error { return nil }
func (s *reqSocket) Bind(endpoint string) error {
	return fmt.Errorf("inproc: request sockets connect, they do not bind")
}

func (s *reqSocket) Connect(endpoint string) error {
	registry.mu.Lock()
	ep, ok := registry.binds[endpoint]
	registry.mu.Unlock()
	if !ok {
		return fmt.Errorf("inproc: no router bound at %q", endpoint)
	}
	if len(s.identity) == 0 {
		return fmt.Errorf("inproc: identity must be set before connect")
	}
	ep.mu.Lock()
	ep.peers[string(s.identity)] = s.inbox
	ep.mu.Unlock()
	s.target = ep
	return nil
}

func (s *reqSocket) HasPollIn(timeout time.Duration) (bool, error) {
	return s.peek.pollIn(s.inbox, timeout)
}

func (s *reqSocket) RecvMultipart() ([][]byte, error) {
	m, ok := s.peek.recv(s.inbox)
	if !ok {
		return nil, transport.ErrClosed
	}
	frames := m.frames
	if len(frames) > 0 && len(frames[0]) == 0 {
		frames = frames[1:]
	}
	return frames, nil
}

func (s *reqSocket) SendMultipart(parts [][]byte) error {
	if s.target == nil {
		return fmt.Errorf("inproc: send before connect")
	}
	wire := make([][]byte, 0, len(parts)+1)
	wire = append(wire, []byte{})
	wire = append(wire, parts...)
	s.target.inbox <- message{fromID: append([]byte(nil), s.identity...), frames: wire}
	return nil
}

func (s *reqSocket) Close() error { return nil }

// pullSocket is the bind side of an unaddressed fan-in channel: any
// number of pushSockets may connect and send frames verbatim, with no
// identity or envelope framing.
type pullSocket struct {
	addr  string
	inbox chan message
	peek  peekable
}

func (s *pullSocket) SetIdentity(id []byte) error     { return nil }
func (s *pullSocket) SetLinger(d time.Duration) error { return nil }
func (s *pullSocket) Connect(endpoint string) error {
	return fmt.Errorf("inproc: pull sockets bind, they do not connect")
}

func (s *pullSocket) Bind(endpoint string) error {
	pullRegistry.mu.Lock()
	pullRegistry.binds[endpoint] = s.inbox
	pullRegistry.mu.Unlock()
	s.addr = endpoint
	return nil
}

func (s *pullSocket) HasPollIn(timeout time.Duration) (bool, error) {
	return s.peek.pollIn(s.inbox, timeout)
}

func (s *pullSocket) RecvMultipart() ([][]byte, error) {
	m, ok := s.peek.recv(s.inbox)
	if !ok {
		return nil, transport.ErrClosed
	}
	return m.frames, nil
}

func (s *pullSocket) SendMultipart(parts [][]byte) error {
	return fmt.Errorf("inproc: pull sockets do not send")
}

func (s *pullSocket) Close() error {
	pullRegistry.mu.Lock()
	delete(pullRegistry.binds, s.addr)
	pullRegistry.mu.Unlock()
	return nil
}

// pushSocket is the connect side of the fan-in channel.
type pushSocket struct {
	target chan message
}

func (s *pushSocket) SetIdentity(id []byte) error     { return nil }
func (s *pushSocket) SetLinger(d time.Duration) error { return nil }
func (s *pushSocket) Bind(endpoint string) error {
	return fmt.Errorf("inproc: push sockets connect, they do not bind")
}

func (s *pushSocket) Connect(endpoint string) error {
	pullRegistry.mu.Lock()
	inbox, ok := pullRegistry.binds[endpoint]
	pullRegistry.mu.Unlock()
	if !ok {
		return fmt.Errorf("inproc: no pull socket bound at %q", endpoint)
	}
	s.target = inbox
	return nil
}

func (s *pushSocket) HasPollIn(timeout time.Duration) (bool, error) {
	return false, fmt.Errorf("inproc: push sockets do not receive")
}

func (s *pushSocket) RecvMultipart() ([][]byte, error) {
	return nil, fmt.Errorf("inproc: push sockets do not receive")
}

func (s *pushSocket) SendMultipart(parts [][]byte) error {
	if s.target == nil {
		return fmt.Errorf("inproc: send before connect")
	}
	s.target <- message{frames: parts}
	return nil
}

func (s *pushSocket) Close() error { return nil }
