// Package relay implements the group-chat relay server core: a fixed-capacity
// session table, a broadcast engine, and a single-goroutine event hub that
// drives accept, frame assembly, the per-session lifecycle state machine, and
// fan-out.
package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-chat-relay/logger"
	"github.com/cyberinferno/go-chat-relay/protocol"
)

// readChunkSize is how much a session's read goroutine pulls off the socket
// per read. Smaller than BufferCap so a single chunk can always drain into
// the frame buffer across at most two Fill passes.
const readChunkSize = 512

// Hub events. Read goroutines and the accept loop produce them; the hub
// goroutine is the sole consumer. Data and close events carry the connection
// id so the hub can drop events that outlived their session's slot.
type (
	acceptEvent struct {
		conn net.Conn
	}

	dataEvent struct {
		slot int
		id   uint64
		data []byte
	}

	closeEvent struct {
		slot int
		id   uint64
		err  error
	}
)

// Server is the chat relay. One hub goroutine owns the session table, every
// session's frame buffer and lifecycle state, and all broadcast writes; it
// is fed by an accept goroutine and one read goroutine per connection over a
// single events channel. Serial dispatch through the hub is what guarantees
// that two frames from the same origin are observed in order by every
// recipient.
//
// Known concurrency-model limitation: broadcast writes are blocking, so one
// slow reader stalls the hub and with it the whole relay. There is no
// backpressure beyond the peers' TCP buffers; this is an accepted ceiling of
// the design, not something the server works around.
type Server struct {
	cfg      Config
	log      logger.Logger
	listener net.Listener
	table    *SessionTable
	bcast    *Broadcaster

	running atomic.Bool
	connSeq atomic.Uint64
	events  chan any
	done    chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup
}

// NewServer creates a relay server with the given configuration. Call Start
// to bind and serve.
//
// Parameters:
//   - cfg: Server settings; validated on Start
//   - log: Structured logger for server events
//
// Returns:
//   - A Server ready to Start
func NewServer(cfg Config, log logger.Logger) *Server {
	table := NewSessionTable(cfg.MaxSessions)
	return &Server{
		cfg:     cfg,
		log:     log,
		table:   table,
		bcast:   NewBroadcaster(table, log),
		events:  make(chan any, 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start validates the configuration, binds the listener, and launches the
// accept loop and the hub. It is safe to call only when the server is not
// already running.
//
// Returns:
//   - An error if the configuration is invalid, the server is already
//     running, or listening fails
func (s *Server) Start() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.running.Load() {
		return errors.New("relay: server already running")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("relay: failed to listen on %s: %w", s.cfg.Addr, err)
	}

	s.listener = ln
	s.running.Store(true)

	s.log.Info("relay server started",
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "max_sessions", Value: s.cfg.MaxSessions})

	go s.acceptLoop()
	go s.run()

	return nil
}

// Stop performs an orderly shutdown: it stops accepting, signals the hub,
// and waits for the hub to close every session socket and release every
// slot. Safe to call when the server is not running.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	_ = s.listener.Close()
	close(s.done)
	<-s.stopped
	s.wg.Wait()

	s.log.Info("relay server stopped")
}

// Addr returns the listener's address, useful when Start was given ":0".
//
// Returns:
//   - The bound address, or nil if the server never started
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// SessionCount returns the number of live sessions. Approximate while the
// hub is processing events; exact once the server is stopped.
func (s *Server) SessionCount() int {
	return s.table.Count()
}

// acceptLoop accepts connections and hands them to the hub. Slot assignment
// happens on the hub so the table has a single owner.
func (s *Server) acceptLoop() {
	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}

			s.log.Error("accept error", logger.Field{Key: "error", Value: err})
			continue
		}

		select {
		case s.events <- acceptEvent{conn: conn}:
		case <-s.done:
			_ = conn.Close()
			return
		}
	}
}

// run is the hub loop. The ticker bounds the wait so housekeeping and the
// stop signal are observed even when no traffic arrives.
func (s *Server) run() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			s.closeAll()
			return
		case ev := <-s.events:
			switch ev := ev.(type) {
			case acceptEvent:
				s.handleAccept(ev.conn)
			case dataEvent:
				s.handleData(ev)
			case closeEvent:
				s.handleClose(ev)
			}
		case <-ticker.C:
			s.log.Debug("housekeeping",
				logger.Field{Key: "sessions", Value: s.table.Count()})
		}
	}
}

// handleAccept places the connection in the table or rejects it outright
// when every slot is occupied.
func (s *Server) handleAccept(conn net.Conn) {
	sess := newSession(s.connSeq.Add(1), conn)

	slot, err := s.table.Acquire(sess)
	if err != nil {
		s.log.Warn("session table full, rejecting connection",
			logger.Field{Key: "peer", Value: sess.addr.String()})
		_ = conn.Close()
		return
	}

	s.log.Info("client connected",
		logger.Field{Key: "conn_id", Value: sess.id},
		logger.Field{Key: "peer", Value: sess.addr.String()},
		logger.Field{Key: "slot", Value: slot})

	s.wg.Add(1)
	go s.readLoop(sess.id, slot, conn)
}

// readLoop pulls bytes off one connection and forwards them to the hub. It
// owns nothing but the conn handle; all protocol state stays on the hub.
func (s *Server) readLoop(id uint64, slot int, conn net.Conn) {
	defer s.wg.Done()

	chunk := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			data := make([]byte, n)
			copy(data, chunk[:n])

			select {
			case s.events <- dataEvent{slot: slot, id: id, data: data}:
			case <-s.done:
				return
			}
		}

		if err != nil {
			select {
			case s.events <- closeEvent{slot: slot, id: id, err: err}:
			case <-s.done:
			}

			return
		}
	}
}

// handleData feeds received bytes through the session's frame buffer and
// dispatches every complete frame. A buffer that fills without a terminator
// is a fatal framing violation for the session.
func (s *Server) handleData(ev dataEvent) {
	sess := s.table.Lookup(ev.slot, ev.id)
	if sess == nil {
		// Session already torn down; drop bytes queued before closure.
		return
	}

	data := ev.data
	for {
		n := sess.buf.Fill(data)
		data = data[n:]

		for {
			raw, ok := sess.buf.Next()
			if !ok {
				break
			}

			s.dispatch(sess, raw)
			if sess.state == StateClosed {
				return
			}
		}

		if sess.buf.Full() {
			s.teardown(sess, "receive buffer overflow without terminator")
			return
		}
		if len(data) == 0 {
			return
		}
	}
}

// handleClose reacts to the read goroutine's exit: EOF is an orderly peer
// close, anything else a socket error. Either way the session closes.
func (s *Server) handleClose(ev closeEvent) {
	sess := s.table.Lookup(ev.slot, ev.id)
	if sess == nil {
		return
	}

	if errors.Is(ev.err, io.EOF) {
		s.teardown(sess, "peer closed connection")
		return
	}

	s.log.Warn("session read error",
		logger.Field{Key: "conn_id", Value: sess.id},
		logger.Field{Key: "error", Value: ev.err})
	s.teardown(sess, "read error")
}

// dispatch runs one inbound frame through the lifecycle state machine.
func (s *Server) dispatch(sess *Session, raw []byte) {
	f, _, err := protocol.DecodeRequest(raw)
	if err != nil {
		s.log.Warn("malformed frame",
			logger.Field{Key: "conn_id", Value: sess.id},
			logger.Field{Key: "error", Value: err})
		s.teardown(sess, "protocol violation")
		return
	}

	switch f.Kind {
	case protocol.KindUsername:
		s.register(sess, f.Username)
	case protocol.KindChat:
		if sess.state != StateRegistered {
			s.log.Debug("chat from unregistered session ignored",
				logger.Field{Key: "conn_id", Value: sess.id})
			return
		}

		// Re-stamp with the sender's captured address and registered
		// username, then relay to everyone including the sender.
		s.bcast.Broadcast(protocol.Frame{
			Kind:     protocol.KindChat,
			Addr:     sess.addr,
			Username: sess.username,
			Message:  f.Message,
		}, NoExclusion)

		s.log.Debug("chat relayed",
			logger.Field{Key: "conn_id", Value: sess.id},
			logger.Field{Key: "username", Value: sess.username})
	case protocol.KindDisconnect:
		s.teardown(sess, "client requested disconnect")
	}
}

// register handles a username registration frame. Registration is
// set-at-most-once: a second attempt leaves username and state untouched.
func (s *Server) register(sess *Session, username string) {
	if sess.state != StateUnregistered {
		s.log.Debug("duplicate registration ignored",
			logger.Field{Key: "conn_id", Value: sess.id},
			logger.Field{Key: "username", Value: sess.username})
		return
	}

	sess.username = username
	sess.state = StateRegistered

	s.log.Info("username registered",
		logger.Field{Key: "conn_id", Value: sess.id},
		logger.Field{Key: "peer", Value: sess.addr.String()},
		logger.Field{Key: "username", Value: username})

	// Join notices go to every session, the fresh registrant included.
	s.bcast.Broadcast(protocol.Frame{
		Kind:     protocol.KindJoin,
		Addr:     sess.addr,
		Username: username,
	}, NoExclusion)
}

// teardown closes a session: the socket closes exactly once, the slot is
// released, and a disconnect notice carrying the captured address and
// username goes to the remaining sessions if the session had registered.
// Releasing the slot before broadcasting keeps the departing connection out
// of the fan-out.
func (s *Server) teardown(sess *Session, reason string) {
	if sess.state == StateClosed {
		return
	}

	wasRegistered := sess.state == StateRegistered
	addr, username := sess.addr, sess.username
	slot := sess.slot

	sess.state = StateClosed
	_ = sess.conn.Close()
	s.table.Release(slot)

	s.log.Info("client disconnected",
		logger.Field{Key: "conn_id", Value: sess.id},
		logger.Field{Key: "peer", Value: addr.String()},
		logger.Field{Key: "username", Value: username},
		logger.Field{Key: "reason", Value: reason})

	if wasRegistered {
		s.bcast.Broadcast(protocol.Frame{
			Kind:     protocol.KindDisconnect,
			Addr:     addr,
			Username: username,
		}, NoExclusion)
	}
}

// closeAll tears the whole table down on shutdown. No disconnect notices go
// out; every socket is closing anyway.
func (s *Server) closeAll() {
	var slots []int
	s.table.ForEachOccupied(func(sess *Session) bool {
		sess.state = StateClosed
		_ = sess.conn.Close()
		slots = append(slots, sess.slot)
		return true
	})

	for _, slot := range slots {
		s.table.Release(slot)
	}
}
