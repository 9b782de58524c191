package relay

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-chat-relay/logger"
	"github.com/cyberinferno/go-chat-relay/protocol"
)

func startServer(t *testing.T, maxSessions int) *Server {
	t.Helper()

	srv := NewServer(Config{
		Addr:         "127.0.0.1:0",
		MaxSessions:  maxSessions,
		TickInterval: 50 * time.Millisecond,
	}, logger.Nop())
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

// testPeer is a raw protocol peer for driving the server byte-by-byte.
type testPeer struct {
	t       *testing.T
	conn    net.Conn
	pending []byte
}

func connect(t *testing.T, srv *Server) *testPeer {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})

	return &testPeer{t: t, conn: conn}
}

func (p *testPeer) send(data []byte) {
	p.t.Helper()
	_, err := p.conn.Write(data)
	require.NoError(p.t, err)
}

func (p *testPeer) register(username string) {
	p.t.Helper()
	data, err := protocol.EncodeRequest(protocol.Frame{Kind: protocol.KindUsername, Username: username})
	require.NoError(p.t, err)
	p.send(data)
}

func (p *testPeer) chat(message string) {
	p.t.Helper()
	data, err := protocol.EncodeRequest(protocol.Frame{Kind: protocol.KindChat, Message: message})
	require.NoError(p.t, err)
	p.send(data)
}

// next blocks until one complete server frame arrives.
func (p *testPeer) next() protocol.Frame {
	p.t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	require.NoError(p.t, p.conn.SetReadDeadline(deadline))

	chunk := make([]byte, 512)
	for {
		f, n, err := protocol.Decode(p.pending)
		if err == nil {
			p.pending = p.pending[n:]
			return f
		}
		require.ErrorIs(p.t, err, protocol.ErrIncomplete)

		n, rerr := p.conn.Read(chunk)
		p.pending = append(p.pending, chunk[:n]...)
		require.NoError(p.t, rerr, "connection failed while waiting for a frame")
	}
}

// expectSilence asserts no bytes arrive for the given duration.
func (p *testPeer) expectSilence(d time.Duration) {
	p.t.Helper()

	require.Empty(p.t, p.pending)
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(d)))

	buf := make([]byte, 1)
	_, err := p.conn.Read(buf)
	var netErr net.Error
	require.ErrorAs(p.t, err, &netErr, "expected silence, got data or closure")
	require.True(p.t, netErr.Timeout())
}

// expectClosed asserts the server closes the connection.
func (p *testPeer) expectClosed() {
	p.t.Helper()

	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	for {
		_, err := p.conn.Read(buf)
		if err == nil {
			continue // drain whatever was in flight before closure
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			p.t.Fatalf("connection still open after deadline")
		}

		return // EOF or reset: the server closed the connection
	}
}

func TestServer_registrationBroadcastsJoin(t *testing.T) {
	srv := startServer(t, 4)

	alice := connect(t, srv)
	alice.register("alice")

	// Join notices go to every session, the registrant included.
	join := alice.next()
	assert.Equal(t, protocol.KindJoin, join.Kind)
	assert.Equal(t, "alice", join.Username)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, join.Addr.IP)
	assert.NotZero(t, join.Addr.Port)
}

func TestServer_chatRelayedToAllInOrder(t *testing.T) {
	srv := startServer(t, 4)

	bob := connect(t, srv)
	bob.register("bob")
	require.Equal(t, "bob", bob.next().Username) // bob's own join

	alice := connect(t, srv)
	// Raw wire bytes: register "alice", then chat "hello".
	alice.send([]byte{3, 5, 'a', 'l', 'i', 'c', 'e', '\n'})
	alice.send([]byte{0, 'h', 'e', 'l', 'l', 'o', '\n'})

	join := bob.next()
	require.Equal(t, protocol.KindJoin, join.Kind)
	assert.Equal(t, "alice", join.Username)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, join.Addr.IP)

	chat := bob.next()
	require.Equal(t, protocol.KindChat, chat.Kind)
	assert.Equal(t, "alice", chat.Username)
	assert.Equal(t, "hello", chat.Message)
	assert.Equal(t, join.Addr, chat.Addr, "chat is stamped with the sender's captured address")

	// The sender observes its own join and chat too.
	require.Equal(t, protocol.KindJoin, alice.next().Kind)
	echo := alice.next()
	assert.Equal(t, protocol.KindChat, echo.Kind)
	assert.Equal(t, "hello", echo.Message)
}

func TestServer_fragmentedFramesReassemble(t *testing.T) {
	srv := startServer(t, 4)

	alice := connect(t, srv)
	for _, fragment := range [][]byte{{3}, {5, 'a', 'l'}, {'i', 'c', 'e'}, {'\n', 0, 'h'}, {'i', '\n'}} {
		alice.send(fragment)
		time.Sleep(10 * time.Millisecond) // force separate reads
	}

	require.Equal(t, protocol.KindJoin, alice.next().Kind)
	chat := alice.next()
	assert.Equal(t, protocol.KindChat, chat.Kind)
	assert.Equal(t, "hi", chat.Message)
}

func TestServer_unregisteredChatIgnored(t *testing.T) {
	srv := startServer(t, 4)

	bob := connect(t, srv)
	bob.register("bob")
	require.Equal(t, protocol.KindJoin, bob.next().Kind)

	lurker := connect(t, srv)
	lurker.chat("should vanish")

	bob.expectSilence(200 * time.Millisecond)
	lurker.expectSilence(50 * time.Millisecond)
}

func TestServer_duplicateRegistrationIgnored(t *testing.T) {
	srv := startServer(t, 4)

	bob := connect(t, srv)
	bob.register("bob")
	require.Equal(t, protocol.KindJoin, bob.next().Kind)

	alice := connect(t, srv)
	alice.register("alice")
	require.Equal(t, "alice", bob.next().Username)

	alice.register("mallory")
	bob.expectSilence(200 * time.Millisecond)

	// The original username still stamps alice's chats.
	alice.chat("still me")
	chat := bob.next()
	assert.Equal(t, "alice", chat.Username)
	assert.Equal(t, "still me", chat.Message)
}

func TestServer_capacityRejection(t *testing.T) {
	srv := startServer(t, 2)

	first := connect(t, srv)
	first.register("first")
	require.Equal(t, protocol.KindJoin, first.next().Kind)

	second := connect(t, srv)
	second.register("second")
	require.Equal(t, "second", first.next().Username)

	// The third connection is closed outright and never joins broadcasts.
	third := connect(t, srv)
	third.expectClosed()

	first.chat("both of us still here")
	require.Equal(t, "both of us still here", first.next().Message)
	require.Equal(t, "second", second.next().Username) // second's own join
	require.Equal(t, "both of us still here", second.next().Message)
}

func TestServer_disconnectRequest(t *testing.T) {
	srv := startServer(t, 4)

	bob := connect(t, srv)
	bob.register("bob")
	require.Equal(t, protocol.KindJoin, bob.next().Kind)

	alice := connect(t, srv)
	alice.register("alice")
	require.Equal(t, "alice", bob.next().Username)

	alice.send([]byte{1, '\n'})

	notice := bob.next()
	assert.Equal(t, protocol.KindDisconnect, notice.Kind)
	assert.Equal(t, "alice", notice.Username)

	alice.expectClosed()
}

func TestServer_peerCloseBroadcastsDisconnect(t *testing.T) {
	srv := startServer(t, 4)

	bob := connect(t, srv)
	bob.register("bob")
	require.Equal(t, protocol.KindJoin, bob.next().Kind)

	alice := connect(t, srv)
	alice.register("alice")
	require.Equal(t, "alice", bob.next().Username)

	require.NoError(t, alice.conn.Close())

	notice := bob.next()
	assert.Equal(t, protocol.KindDisconnect, notice.Kind)
	assert.Equal(t, "alice", notice.Username)
}

func TestServer_unregisteredCloseIsSilent(t *testing.T) {
	srv := startServer(t, 4)

	bob := connect(t, srv)
	bob.register("bob")
	require.Equal(t, protocol.KindJoin, bob.next().Kind)

	ghost := connect(t, srv)
	require.NoError(t, ghost.conn.Close())

	// No username was ever registered, so nothing is announced.
	bob.expectSilence(200 * time.Millisecond)
}

func TestServer_bufferOverflowTearsDownAndFreesSlot(t *testing.T) {
	srv := startServer(t, 1)

	flooder := connect(t, srv)
	flooder.send(make([]byte, protocol.BufferCap)) // 1024 bytes, no terminator
	flooder.expectClosed()

	// The slot must be reusable immediately.
	next := connect(t, srv)
	next.register("next")
	join := next.next()
	assert.Equal(t, protocol.KindJoin, join.Kind)
	assert.Equal(t, "next", join.Username)
}

func TestServer_malformedFrameTearsDown(t *testing.T) {
	srv := startServer(t, 4)

	bad := connect(t, srv)
	bad.send([]byte{0xFF, '\n'})
	bad.expectClosed()
}

func TestServer_bufferedBytesAfterDisconnectAreDropped(t *testing.T) {
	srv := startServer(t, 4)

	bob := connect(t, srv)
	bob.register("bob")
	require.Equal(t, protocol.KindJoin, bob.next().Kind)

	alice := connect(t, srv)
	alice.register("alice")
	require.Equal(t, "alice", bob.next().Username)

	// Disconnect and a chat arrive in one segment; the chat is past the
	// session's closure and must never be relayed.
	alice.send([]byte{1, '\n', 0, 'l', 'a', 't', 'e', '\n'})

	notice := bob.next()
	assert.Equal(t, protocol.KindDisconnect, notice.Kind)
	bob.expectSilence(200 * time.Millisecond)
}

func TestServer_startStop(t *testing.T) {
	t.Run("start twice fails", func(t *testing.T) {
		srv := startServer(t, 2)
		assert.Error(t, srv.Start())
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		srv := NewServer(Config{Addr: "127.0.0.1:0", MaxSessions: 0, TickInterval: time.Second}, logger.Nop())
		assert.Error(t, srv.Start())
	})

	t.Run("stop closes live sessions", func(t *testing.T) {
		srv := startServer(t, 4)
		peer := connect(t, srv)
		peer.register("bob")
		require.Equal(t, protocol.KindJoin, peer.next().Kind)

		srv.Stop()
		peer.expectClosed()
		assert.Equal(t, 0, srv.SessionCount())
	})

	t.Run("stop twice is safe", func(t *testing.T) {
		srv := startServer(t, 2)
		srv.Stop()
		srv.Stop()
	})
}
