package server

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/huddlenet/huddle/chat"
	"github.com/huddlenet/huddle/wire"
)

// fakeConn records every frame written to it, so tests can assert on what
// the server pushed to a member. Reads always report EOF; deadline calls
// are no-ops.
type fakeConn struct {
	mut    sync.Mutex
	buf    bytes.Buffer
	remote net.TCPAddr
	closed bool
}

func newFakeConn(ip string, port int) *fakeConn {
	return &fakeConn{
		remote: net.TCPAddr{IP: net.ParseIP(ip), Port: port},
	}
}

func (c *fakeConn) Read([]byte) (int, error) {
	return 0, io.EOF
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.closed {
		return 0, net.ErrClosed
	}

	return c.buf.Write(p)
}

func (c *fakeConn) Close() error {
	c.mut.Lock()
	c.closed = true
	c.mut.Unlock()

	return nil
}

func (c *fakeConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *fakeConn) RemoteAddr() net.Addr             { return &c.remote }
func (c *fakeConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

// messages decodes and drains every frame received so far; a second call
// only sees frames written after the first.
func (c *fakeConn) messages(t *testing.T) []*chat.Message {
	t.Helper()

	c.mut.Lock()
	defer c.mut.Unlock()

	var msgs []*chat.Message

	for c.buf.Len() > 0 {
		msg, err := wire.ReadMessage(&c.buf)
		require.NoError(t, err)

		msgs = append(msgs, msg)
	}

	return msgs
}

// lastOfKind returns the most recent recorded frame of the given kind.
func (c *fakeConn) lastOfKind(t *testing.T, kind chat.Kind) *chat.Message {
	t.Helper()

	var last *chat.Message

	for _, msg := range c.messages(t) {
		if msg.Kind == kind {
			last = msg
		}
	}

	return last
}
