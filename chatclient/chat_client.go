// Package chatclient provides an event-driven client for the group-chat wire
// protocol. Callers register handlers for chat, join, and leave events, then
// Connect; the client dials, registers the username, and delivers decoded
// server frames to the handlers from its read loop. A roster of currently
// present usernames is maintained from join/leave traffic.
package chatclient

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/cyberinferno/go-chat-relay/protocol"
)

// ChatEvent is delivered for every relayed chat message, including the
// client's own messages echoed back by the server.
type ChatEvent struct {
	From      string        // Sender's username
	Addr      protocol.Addr // Sender's address as stamped by the server
	Message   string        // Message body
	Timestamp time.Time     // When the frame was decoded
}

// PresenceEvent is delivered when a peer joins or leaves the chat.
type PresenceEvent struct {
	Username  string        // The peer's username
	Addr      protocol.Addr // The peer's address as stamped by the server
	Timestamp time.Time     // When the frame was decoded
}

// ChatHandler is called for each chat message. Handlers run on the client's
// read goroutine; they must not block for long.
type ChatHandler func(event ChatEvent)

// PresenceHandler is called for each join or leave notice. Handlers run on
// the client's read goroutine; they must not block for long.
type PresenceHandler func(event PresenceEvent)

// ErrorHandler is called when the connection fails or the server stream
// turns undecodable. After an error event the client is closed.
type ErrorHandler func(err error)

// Config holds settings for a chat client.
type Config struct {
	// Address is the relay server's "host:port".
	Address string
	// Username is registered immediately after connecting; 1-31 bytes.
	Username string
	// DialTimeout caps connection establishment; 0 means no timeout.
	DialTimeout time.Duration
	// WriteTimeout caps each send; 0 means no timeout.
	WriteTimeout time.Duration
}

// Client is an event-driven chat client. It is safe for concurrent use:
// SendChat may be called from any goroutine while the read loop delivers
// events.
type Client struct {
	cfg Config

	mu         sync.RWMutex
	conn       net.Conn
	closed     bool
	onChat     ChatHandler
	onJoin     PresenceHandler
	onLeave    PresenceHandler
	onError    ErrorHandler
	roster     map[string]struct{}
	rosterLock sync.RWMutex

	wg sync.WaitGroup
}

// New creates a chat client with the given configuration. Register handlers
// before calling Connect.
//
// Parameters:
//   - cfg: Connection settings and the username to register
//
// Returns:
//   - A Client ready to Connect
func New(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		roster: make(map[string]struct{}),
	}
}

// OnChat registers the handler for chat messages. Repeated calls replace the
// previous handler; pass nil to clear it.
func (c *Client) OnChat(handler ChatHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChat = handler
}

// OnJoin registers the handler for join notices. Repeated calls replace the
// previous handler; pass nil to clear it.
func (c *Client) OnJoin(handler PresenceHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onJoin = handler
}

// OnLeave registers the handler for leave notices. Repeated calls replace
// the previous handler; pass nil to clear it.
func (c *Client) OnLeave(handler PresenceHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLeave = handler
}

// OnError registers the handler for connection and stream errors. Repeated
// calls replace the previous handler; pass nil to clear it.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the server, registers the configured username, and starts
// the read loop.
//
// Returns:
//   - An error if the client is closed or already connected, the dial
//     fails, or the registration frame cannot be built or sent
func (c *Client) Connect() error {
	reg, err := protocol.EncodeRequest(protocol.Frame{
		Kind:     protocol.KindUsername,
		Username: c.cfg.Username,
	})
	if err != nil {
		return fmt.Errorf("chatclient: invalid username %q: %w", c.cfg.Username, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("chatclient: client is closed")
	}
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("chatclient: already connected")
	}
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.Dial("tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("chatclient: dial %s: %w", c.cfg.Address, err)
	}

	if _, err := conn.Write(reg); err != nil {
		_ = conn.Close()
		return fmt.Errorf("chatclient: failed to register username: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// SendChat sends a chat message. The server stamps the sender's address and
// username, so only the body travels client-to-server. A '\n' in the message
// truncates it on the wire; the protocol leaves chat bodies unterminated by
// length.
//
// Parameters:
//   - message: The message body; may be empty
//
// Returns:
//   - An error if the client is not connected or the write fails
func (c *Client) SendChat(message string) error {
	data, err := protocol.EncodeRequest(protocol.Frame{
		Kind:    protocol.KindChat,
		Message: message,
	})
	if err != nil {
		return err
	}

	return c.send(data)
}

// Close sends a disconnect request best-effort, closes the connection, and
// waits for the read loop to exit. Safe to call multiple times.
//
// Returns:
//   - nil
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		if data, err := protocol.EncodeRequest(protocol.Frame{Kind: protocol.KindDisconnect}); err == nil {
			_, _ = conn.Write(data)
		}

		_ = conn.Close()
	}

	c.wg.Wait()
	return nil
}

// Roster returns the usernames currently present, sorted. The roster is
// built from join and leave notices observed after Connect; peers that
// joined earlier are unknown because the protocol replays no history.
//
// Returns:
//   - A sorted slice of usernames
func (c *Client) Roster() []string {
	c.rosterLock.RLock()
	names := make([]string, 0, len(c.roster))
	for name := range c.roster {
		names = append(names, name)
	}
	c.rosterLock.RUnlock()

	sort.Strings(names)
	return names
}

// send writes one encoded frame to the connection.
func (c *Client) send(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("chatclient: not connected")
	}

	if c.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return err
		}

		defer func() {
			_ = conn.SetWriteDeadline(time.Time{}) // Best effort to clear deadline
		}()
	}

	_, err := conn.Write(data)
	return err
}

// readLoop reassembles server frames through a FrameBuffer and dispatches
// handler callbacks until the connection closes.
func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	// Server-emitted chat frames can run past BufferCap once the stamped
	// address and username are added, so reassemble with headroom.
	fb := protocol.NewFrameBufferSize(2 * protocol.BufferCap)
	chunk := make([]byte, 512)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			data := chunk[:n]
			for len(data) > 0 {
				data = data[fb.Fill(data):]
				if !c.drainFrames(fb) {
					return
				}

				if fb.Full() {
					c.fail(fmt.Errorf("chatclient: server stream overflowed frame buffer"))
					return
				}
			}
		}

		if err != nil {
			if !c.isClosed() {
				c.fail(fmt.Errorf("chatclient: connection lost: %w", err))
			}

			return
		}
	}
}

// drainFrames decodes every buffered frame. Returns false when the stream is
// undecodable and the client has been failed.
func (c *Client) drainFrames(fb *protocol.FrameBuffer) bool {
	for {
		raw, ok := fb.Next()
		if !ok {
			return true
		}

		f, _, err := protocol.Decode(raw)
		if err != nil {
			c.fail(fmt.Errorf("chatclient: undecodable server frame: %w", err))
			return false
		}

		c.dispatch(f)
	}
}

// dispatch routes one decoded server frame to its handler and keeps the
// roster current.
func (c *Client) dispatch(f protocol.Frame) {
	now := time.Now()

	c.mu.RLock()
	onChat, onJoin, onLeave := c.onChat, c.onJoin, c.onLeave
	c.mu.RUnlock()

	switch f.Kind {
	case protocol.KindChat:
		if onChat != nil {
			onChat(ChatEvent{From: f.Username, Addr: f.Addr, Message: f.Message, Timestamp: now})
		}
	case protocol.KindJoin:
		c.rosterLock.Lock()
		c.roster[f.Username] = struct{}{}
		c.rosterLock.Unlock()

		if onJoin != nil {
			onJoin(PresenceEvent{Username: f.Username, Addr: f.Addr, Timestamp: now})
		}
	case protocol.KindDisconnect:
		c.rosterLock.Lock()
		delete(c.roster, f.Username)
		c.rosterLock.Unlock()

		if onLeave != nil {
			onLeave(PresenceEvent{Username: f.Username, Addr: f.Addr, Timestamp: now})
		}
	}
}

// fail reports a fatal stream error and closes the connection without
// sending a disconnect request.
func (c *Client) fail(err error) {
	c.mu.Lock()
	handler := c.onError
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if handler != nil {
		handler(err)
	}
}

// isClosed reports whether Close has been called.
func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
