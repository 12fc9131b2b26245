package server

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/huddlenet/huddle/chat"
	"github.com/huddlenet/huddle/wire"
)

// pingWriteTimeout bounds the probe write so a member with a full send
// buffer cannot stall a heartbeat round.
const pingWriteTimeout = 2 * time.Second

// Member is the server-side record of a connected peer: identity and
// address metadata plus exclusive ownership of the peer's connection. The
// connection never leaves the process; whatever crosses the wire is a
// detached chat.MemberInfo produced by Snapshot.
type Member struct {
	id   string
	addr string
	port int

	mut         sync.Mutex
	coordinator bool

	// sendMut serializes frame writes so concurrent senders cannot
	// interleave partial frames on the stream.
	sendMut sync.Mutex
	conn    net.Conn
}

// NewMember builds a live member from a join request's sender id and the
// accepted connection. Address and port are taken from the connection's
// remote end.
func NewMember(id string, conn net.Conn) *Member {
	m := &Member{
		id:   id,
		conn: conn,
	}

	if conn != nil {
		host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err == nil {
			m.addr = host
			m.port, _ = strconv.Atoi(portStr)
		}
	}

	return m
}

func (m *Member) ID() string {
	return m.id
}

// IsCoordinator reports whether this member currently holds the
// coordinator role.
func (m *Member) IsCoordinator() bool {
	m.mut.Lock()
	defer m.mut.Unlock()

	return m.coordinator
}

// SetCoordinator flips the coordinator flag. Called only from the Server's
// add/remove/election paths.
func (m *Member) SetCoordinator(v bool) {
	m.mut.Lock()
	m.coordinator = v
	m.mut.Unlock()
}

// Snapshot returns the detached copy of the member: metadata only, safe to
// put on the wire.
func (m *Member) Snapshot() chat.MemberInfo {
	m.mut.Lock()
	defer m.mut.Unlock()

	return chat.MemberInfo{
		ID:          m.id,
		Addr:        m.addr,
		Port:        m.port,
		Coordinator: m.coordinator,
	}
}

// Send writes one framed record to the member's connection.
func (m *Member) Send(msg *chat.Message) error {
	m.sendMut.Lock()
	defer m.sendMut.Unlock()

	if m.conn == nil {
		return net.ErrClosed
	}

	return wire.WriteMessage(m.conn, msg)
}

// Ping attempts a liveness probe: a non-blocking best-effort write of a
// server heartbeat record. It reports false when the member owns no
// connection or the write fails, and never waits for an answer — reply
// correlation happens through the Server's response table.
func (m *Member) Ping() bool {
	m.sendMut.Lock()
	defer m.sendMut.Unlock()

	if m.conn == nil {
		return false
	}

	_ = m.conn.SetWriteDeadline(time.Now().Add(pingWriteTimeout))
	defer func() {
		_ = m.conn.SetWriteDeadline(time.Time{})
	}()

	return wire.WriteMessage(m.conn, chat.NewProbe(chat.ServerID)) == nil
}

// Close releases the member's connection.
func (m *Member) Close() error {
	if m.conn == nil {
		return nil
	}

	return m.conn.Close()
}
