package relay

import (
	"github.com/cyberinferno/go-chat-relay/logger"
	"github.com/cyberinferno/go-chat-relay/protocol"
)

// NoExclusion passes every occupied slot to Broadcast.
const NoExclusion = -1

// Broadcaster fans a frame out to every occupied slot in a session table.
// It serializes the frame once and writes the same bytes to each recipient.
// The broadcaster never owns the sockets it writes to; it only uses handles
// the table supplies during a single call.
//
// Writes are blocking and best-effort: a recipient whose TCP buffer is full
// stalls the calling goroutine until the write completes. That is the
// design's accepted scalability ceiling (see Server).
type Broadcaster struct {
	table *SessionTable
	log   logger.Logger
}

// NewBroadcaster creates a Broadcaster over the given table.
//
// Parameters:
//   - table: The session table supplying recipients
//   - log: Logger for per-recipient delivery failures
//
// Returns:
//   - A Broadcaster ready for use by the table's owning goroutine
func NewBroadcaster(table *SessionTable, log logger.Logger) *Broadcaster {
	return &Broadcaster{table: table, log: log}
}

// Broadcast encodes the frame and writes it to every occupied slot except
// excludeSlot (pass NoExclusion to deliver to all). A failed write to one
// recipient is logged and does not abort delivery to the rest; the failing
// session is left for its own read path to tear down.
//
// Parameters:
//   - f: The frame to deliver
//   - excludeSlot: Slot index to skip, or NoExclusion
//
// Returns:
//   - The number of recipients the frame was fully written to
func (b *Broadcaster) Broadcast(f protocol.Frame, excludeSlot int) int {
	data, err := protocol.Encode(f)
	if err != nil {
		b.log.Error("broadcast dropped: frame failed to encode",
			logger.Field{Key: "kind", Value: f.Kind.String()},
			logger.Field{Key: "error", Value: err})
		return 0
	}

	delivered := 0
	b.table.ForEachOccupied(func(sess *Session) bool {
		if sess.slot == excludeSlot {
			return true
		}

		if _, err := sess.conn.Write(data); err != nil {
			b.log.Warn("failed to deliver broadcast",
				logger.Field{Key: "conn_id", Value: sess.id},
				logger.Field{Key: "peer", Value: sess.addr.String()},
				logger.Field{Key: "kind", Value: f.Kind.String()},
				logger.Field{Key: "error", Value: err})
			return true
		}

		delivered++
		return true
	})

	return delivered
}
