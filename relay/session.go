package relay

import (
	"net"

	"github.com/cyberinferno/go-chat-relay/protocol"
)

// SessionState tracks where a session is in its lifecycle. The only legal
// progression is Unregistered -> Registered -> Closed; Closed is terminal.
type SessionState uint8

const (
	// StateUnregistered is the initial state; only a username registration
	// frame is accepted.
	StateUnregistered SessionState = iota
	// StateRegistered means a username is set; chat frames are relayed.
	StateRegistered
	// StateClosed is terminal; the socket is closed and no further frames
	// from the session are processed.
	StateClosed
)

// String returns a human-readable name for the session state.
func (s SessionState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the server-side state of one accepted connection: the socket,
// the peer address captured at accept time, the username once registered,
// and the receive buffer assembling frames from the byte stream.
//
// All session fields are owned by the hub goroutine. The only exceptions are
// conn, which the session's read goroutine also uses, and id, which is
// immutable after creation.
type Session struct {
	id       uint64 // monotonic connection id, unique across slot reuse
	slot     int
	conn     net.Conn
	addr     protocol.Addr
	username string
	state    SessionState
	buf      *protocol.FrameBuffer
}

// newSession wraps an accepted connection, capturing the peer address.
func newSession(id uint64, conn net.Conn) *Session {
	addr, _ := conn.RemoteAddr().(*net.TCPAddr)
	return &Session{
		id:    id,
		slot:  -1,
		conn:  conn,
		addr:  protocol.AddrFromTCP(addr),
		state: StateUnregistered,
		buf:   protocol.NewFrameBuffer(),
	}
}

// ID returns the session's connection id. Slot indexes are reused as clients
// come and go; the id is what log lines and stale-event checks key on.
func (s *Session) ID() uint64 {
	return s.id
}

// Addr returns the peer address captured at accept time.
func (s *Session) Addr() protocol.Addr {
	return s.addr
}

// Username returns the registered username, or "" while unregistered.
func (s *Session) Username() string {
	return s.username
}

// State returns the session's lifecycle state.
func (s *Session) State() SessionState {
	return s.state
}
