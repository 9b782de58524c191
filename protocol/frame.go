// Package protocol implements the group-chat wire protocol: a compact binary
// frame layout with a single-byte type, network-order address fields,
// length-prefixed usernames, and a '\n' terminator on every frame.
//
// Two layouts exist for each message kind. Frames emitted by the server carry
// the originating client's IPv4 address and port; requests sent by clients
// omit them because the server stamps the peer address captured at accept
// time. Encode/Decode handle the server-emitted layout, EncodeRequest/
// DecodeRequest the client-side one.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"net"
)

// Kind identifies the type of a protocol frame. It is the first byte of
// every frame on the wire.
type Kind byte

const (
	// KindChat is a chat message relayed to every connected client.
	KindChat Kind = 0
	// KindDisconnect announces that a client has left the chat.
	KindDisconnect Kind = 1
	// KindJoin announces that a client has registered a username.
	KindJoin Kind = 2
	// KindUsername registers the sending client's username.
	KindUsername Kind = 3
)

// String returns a human-readable name for the frame kind.
func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindDisconnect:
		return "disconnect"
	case KindJoin:
		return "join"
	case KindUsername:
		return "username"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

const (
	// Terminator ends every frame on the wire.
	Terminator = '\n'

	// MaxUsernameLen is the maximum username length in bytes.
	MaxUsernameLen = 31

	// addrLen is the wire size of the ip(4)+port(2) address fields.
	addrLen = 6
)

var (
	// ErrIncomplete reports that the buffer does not yet hold a complete
	// frame; the caller should wait for more bytes.
	ErrIncomplete = errors.New("protocol: incomplete frame")

	// ErrMalformed reports a frame that can never become valid: an unknown
	// type byte, an out-of-range length field, or a missing terminator where
	// one is required.
	ErrMalformed = errors.New("protocol: malformed frame")
)

// Addr is an IPv4 address and port as they appear on the wire: both in
// network byte order, captured from the peer at accept time.
type Addr struct {
	IP   [4]byte
	Port uint16
}

// String formats the address as "a.b.c.d:port".
func (a Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.Port)
}

// AddrFromTCP captures the wire-form address of a TCP peer. Non-IPv4
// addresses map to the zero Addr; the protocol only carries IPv4.
//
// Parameters:
//   - ta: The peer address, typically conn.RemoteAddr() asserted to *net.TCPAddr
//
// Returns:
//   - The Addr with the peer's IPv4 address and port, or the zero Addr
func AddrFromTCP(ta *net.TCPAddr) Addr {
	if ta == nil {
		return Addr{}
	}

	ip4 := ta.IP.To4()
	if ip4 == nil {
		return Addr{Port: uint16(ta.Port)}
	}

	var a Addr
	copy(a.IP[:], ip4)
	a.Port = uint16(ta.Port)
	return a
}

// Frame is one fully decoded protocol message. Addr and Username are unset
// for kinds whose layout omits them (e.g. Addr on KindUsername, Message on
// everything but KindChat).
type Frame struct {
	Kind     Kind
	Addr     Addr
	Username string
	Message  string
}

// Encode serializes a frame in the server-emitted layout:
//
//	Chat:       [0][ip:4][port:2][len:1][username][message]\n
//	Disconnect: [1][ip:4][port:2][len:1][username]\n
//	Join:       [2][ip:4][port:2][len:1][username]\n
//	Username:   [3][len:1][username]\n
//
// The username must be 1-31 bytes and must not contain the terminator. The
// chat message body is not length-prefixed; receivers scan to the next '\n',
// so a '\n' inside Message truncates the message on the wire. That is a
// documented protocol limitation, preserved as-is.
//
// Parameters:
//   - f: The frame to serialize
//
// Returns:
//   - The wire bytes including the trailing terminator, or an error if the
//     frame kind is unknown or the username is invalid
func Encode(f Frame) ([]byte, error) {
	if err := checkUsername(f.Username); err != nil {
		return nil, err
	}

	switch f.Kind {
	case KindChat:
		buf := make([]byte, 0, 1+addrLen+1+len(f.Username)+len(f.Message)+1)
		buf = appendHeader(buf, f)
		buf = append(buf, f.Message...)
		return append(buf, Terminator), nil
	case KindDisconnect, KindJoin:
		buf := make([]byte, 0, 1+addrLen+1+len(f.Username)+1)
		buf = appendHeader(buf, f)
		return append(buf, Terminator), nil
	case KindUsername:
		buf := make([]byte, 0, 2+len(f.Username)+1)
		buf = append(buf, byte(KindUsername), byte(len(f.Username)))
		buf = append(buf, f.Username...)
		return append(buf, Terminator), nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrMalformed, byte(f.Kind))
	}
}

// appendHeader appends [kind][ip:4][port:2][len:1][username] to buf.
func appendHeader(buf []byte, f Frame) []byte {
	buf = append(buf, byte(f.Kind))
	buf = append(buf, f.Addr.IP[:]...)
	buf = append(buf, byte(f.Addr.Port>>8), byte(f.Addr.Port))
	buf = append(buf, byte(len(f.Username)))
	return append(buf, f.Username...)
}

// Decode parses one frame in the server-emitted layout from the front of buf.
// Decoding is length-directed: declared length fields decide how many bytes
// are consumed, so a '\n' inside a length-prefixed field never splits a
// frame. The chat message body is the exception; it runs to the terminator.
//
// Parameters:
//   - buf: Buffered stream bytes, starting at a frame boundary
//
// Returns:
//   - The decoded frame
//   - The number of bytes consumed, including the terminator
//   - ErrIncomplete if buf does not yet hold the whole frame, ErrMalformed
//     if the frame can never become valid
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) == 0 {
		return Frame{}, 0, ErrIncomplete
	}

	kind := Kind(buf[0])
	switch kind {
	case KindChat, KindDisconnect, KindJoin:
		header := 1 + addrLen + 1
		if len(buf) < header {
			return Frame{}, 0, ErrIncomplete
		}

		ul := int(buf[header-1])
		if ul < 1 || ul > MaxUsernameLen {
			return Frame{}, 0, fmt.Errorf("%w: username length %d", ErrMalformed, ul)
		}
		if len(buf) < header+ul {
			return Frame{}, 0, ErrIncomplete
		}

		f := Frame{
			Kind:     kind,
			Addr:     decodeAddr(buf[1:]),
			Username: string(buf[header : header+ul]),
		}

		body := buf[header+ul:]
		if kind == KindChat {
			end := bytes.IndexByte(body, Terminator)
			if end < 0 {
				return Frame{}, 0, ErrIncomplete
			}

			f.Message = string(body[:end])
			return f, header + ul + end + 1, nil
		}

		if len(body) < 1 {
			return Frame{}, 0, ErrIncomplete
		}
		if body[0] != Terminator {
			return Frame{}, 0, fmt.Errorf("%w: missing terminator", ErrMalformed)
		}

		return f, header + ul + 1, nil
	case KindUsername:
		if len(buf) < 2 {
			return Frame{}, 0, ErrIncomplete
		}

		ul := int(buf[1])
		if ul < 1 || ul > MaxUsernameLen {
			return Frame{}, 0, fmt.Errorf("%w: username length %d", ErrMalformed, ul)
		}
		if len(buf) < 2+ul+1 {
			return Frame{}, 0, ErrIncomplete
		}
		if buf[2+ul] != Terminator {
			return Frame{}, 0, fmt.Errorf("%w: missing terminator", ErrMalformed)
		}

		return Frame{Kind: KindUsername, Username: string(buf[2 : 2+ul])}, 2 + ul + 1, nil
	default:
		return Frame{}, 0, fmt.Errorf("%w: kind %d", ErrMalformed, buf[0])
	}
}

// decodeAddr reads [ip:4][port:2] from the front of b. Caller guarantees
// len(b) >= addrLen.
func decodeAddr(b []byte) Addr {
	var a Addr
	copy(a.IP[:], b[:4])
	a.Port = uint16(b[4])<<8 | uint16(b[5])
	return a
}

// EncodeRequest serializes a frame in the client-to-server layout, which
// omits the address fields:
//
//	Chat:       [0][message]\n
//	Disconnect: [1]\n
//	Username:   [3][len:1][username]\n
//
// KindJoin is server-emitted only and is rejected.
//
// Parameters:
//   - f: The frame to serialize; only the fields the layout carries are used
//
// Returns:
//   - The wire bytes including the trailing terminator, or an error if the
//     kind has no request layout or the username is invalid
func EncodeRequest(f Frame) ([]byte, error) {
	switch f.Kind {
	case KindChat:
		buf := make([]byte, 0, 1+len(f.Message)+1)
		buf = append(buf, byte(KindChat))
		buf = append(buf, f.Message...)
		return append(buf, Terminator), nil
	case KindDisconnect:
		return []byte{byte(KindDisconnect), Terminator}, nil
	case KindUsername:
		if err := checkUsername(f.Username); err != nil {
			return nil, err
		}

		buf := make([]byte, 0, 2+len(f.Username)+1)
		buf = append(buf, byte(KindUsername), byte(len(f.Username)))
		buf = append(buf, f.Username...)
		return append(buf, Terminator), nil
	default:
		return nil, fmt.Errorf("%w: kind %s has no request layout", ErrMalformed, f.Kind)
	}
}

// DecodeRequest parses one client-to-server frame from a '\n'-terminated
// candidate sliced off a connection buffer. Bytes between a valid username
// field and the terminator are ignored, matching the tolerant parse the
// protocol has always had.
//
// Parameters:
//   - buf: Stream bytes starting at a frame boundary
//
// Returns:
//   - The decoded frame
//   - The number of bytes consumed, including the terminator
//   - ErrIncomplete if no terminator is present yet, ErrMalformed for an
//     unknown kind or a bad username field
func DecodeRequest(buf []byte) (Frame, int, error) {
	end := bytes.IndexByte(buf, Terminator)
	if end < 0 {
		return Frame{}, 0, ErrIncomplete
	}

	body := buf[:end]
	n := end + 1
	if len(body) == 0 {
		return Frame{}, 0, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	switch Kind(body[0]) {
	case KindChat:
		return Frame{Kind: KindChat, Message: string(body[1:])}, n, nil
	case KindDisconnect:
		return Frame{Kind: KindDisconnect}, n, nil
	case KindUsername:
		if len(body) < 2 {
			return Frame{}, 0, fmt.Errorf("%w: truncated username frame", ErrMalformed)
		}

		ul := int(body[1])
		if ul < 1 || ul > MaxUsernameLen || len(body) < 2+ul {
			return Frame{}, 0, fmt.Errorf("%w: username length %d", ErrMalformed, ul)
		}

		return Frame{Kind: KindUsername, Username: string(body[2 : 2+ul])}, n, nil
	default:
		return Frame{}, 0, fmt.Errorf("%w: kind %d", ErrMalformed, body[0])
	}
}

// checkUsername validates the 1-31 byte, terminator-free username rule.
func checkUsername(name string) error {
	if len(name) < 1 || len(name) > MaxUsernameLen {
		return fmt.Errorf("%w: username length %d", ErrMalformed, len(name))
	}
	if bytes.IndexByte([]byte(name), Terminator) >= 0 {
		return fmt.Errorf("%w: username contains terminator", ErrMalformed)
	}

	return nil
}
