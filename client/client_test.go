package client_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlenet/huddle/chat"
	"github.com/huddlenet/huddle/client"
	"github.com/huddlenet/huddle/wire"
)

// recorder is a test listener that captures everything the client
// forwards.
type recorder struct {
	mut         sync.Mutex
	messages    []*chat.Message
	members     [][]chat.MemberInfo
	disconnects int
}

func (r *recorder) OnMessage(msg *chat.Message) {
	r.mut.Lock()
	r.messages = append(r.messages, msg)
	r.mut.Unlock()
}

func (r *recorder) OnMembersUpdate(members []chat.MemberInfo) {
	r.mut.Lock()
	r.members = append(r.members, members)
	r.mut.Unlock()
}

func (r *recorder) OnDisconnect() {
	r.mut.Lock()
	r.disconnects++
	r.mut.Unlock()
}

func (r *recorder) messageCount() int {
	r.mut.Lock()
	defer r.mut.Unlock()

	return len(r.messages)
}

func (r *recorder) lastMessage() *chat.Message {
	r.mut.Lock()
	defer r.mut.Unlock()

	if len(r.messages) == 0 {
		return nil
	}

	return r.messages[len(r.messages)-1]
}

func (r *recorder) disconnectCount() int {
	r.mut.Lock()
	defer r.mut.Unlock()

	return r.disconnects
}

// fakeServer accepts one connection, answers the join with the given
// reply, and hands the connection to the test.
type fakeServer struct {
	lis   net.Listener
	conns chan net.Conn
}

func newFakeServer(t *testing.T, joinReply *chat.Message) *fakeServer {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = lis.Close() })

	fs := &fakeServer{
		lis:   lis,
		conns: make(chan net.Conn, 1),
	}

	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}

		join, err := wire.ReadMessage(conn)
		if err != nil || join.Kind != chat.KindJoin {
			_ = conn.Close()
			return
		}

		if err := wire.WriteMessage(conn, joinReply); err != nil {
			_ = conn.Close()
			return
		}

		fs.conns <- conn
	}()

	return fs
}

func (fs *fakeServer) addr() string {
	return fs.lis.Addr().String()
}

func (fs *fakeServer) conn(t *testing.T) net.Conn {
	t.Helper()

	select {
	case conn := <-fs.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func newTestClient(id, addr string) *client.Client {
	conf := client.DefaultConfig()
	conf.ID = id
	conf.ServerAddr = addr

	return client.New(conf)
}

func TestClient_Connect(t *testing.T) {
	fs := newFakeServer(t, chat.NewJoinAck("Current coordinator is: amy", false, "amy"))

	c := newTestClient("bob", fs.addr())

	rec := &recorder{}
	c.Subscribe(rec)

	require.NoError(t, c.Connect())
	defer c.Leave()

	assert.True(t, c.Connected())
	assert.False(t, c.IsCoordinator())
	assert.Equal(t, "amy", c.CoordinatorID())
	assert.Equal(t, "bob", c.ID())

	// The acknowledgment itself reaches the listeners.
	require.Equal(t, 1, rec.messageCount())
	assert.Equal(t, chat.KindJoin, rec.lastMessage().Kind)

	require.ErrorIs(t, c.Connect(), client.ErrConnected)
}

func TestClient_Connect_CoordinatorStatus(t *testing.T) {
	fs := newFakeServer(t, chat.NewJoinAck("You are the coordinator.", true, "bob"))

	c := newTestClient("bob", fs.addr())
	require.NoError(t, c.Connect())

	defer c.Leave()

	assert.True(t, c.IsCoordinator())
	assert.Equal(t, "bob", c.CoordinatorID())
}

func TestClient_Connect_Rejected(t *testing.T) {
	fs := newFakeServer(t, chat.NewError("ID already in use."))

	c := newTestClient("bob", fs.addr())

	rec := &recorder{}
	c.Subscribe(rec)

	err := c.Connect()
	require.ErrorIs(t, err, client.ErrRejected)
	assert.Contains(t, err.Error(), "ID already in use.")

	assert.False(t, c.Connected())
	assert.Zero(t, rec.messageCount())

	// The rejection is not a disconnect: the connection never came up.
	assert.Zero(t, rec.disconnectCount())
}

func TestClient_Connect_Concurrent(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = lis.Close() })

	// A deliberately slow handshake keeps the first Connect inside the
	// guarded window while the second one arrives.
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}

			go func(conn net.Conn) {
				if _, err := wire.ReadMessage(conn); err != nil {
					_ = conn.Close()
					return
				}

				time.Sleep(50 * time.Millisecond)

				ack := chat.NewJoinAck("Current coordinator is: amy", false, "amy")
				_ = wire.WriteMessage(conn, ack)
			}(conn)
		}
	}()

	c := newTestClient("bob", lis.Addr().String())

	var wg sync.WaitGroup

	errs := make([]error, 2)

	for i := range errs {
		i := i

		wg.Add(1)

		go func() {
			defer wg.Done()
			errs[i] = c.Connect()
		}()
	}

	wg.Wait()

	// Exactly one attempt wins; the other is turned away before it can
	// dial a connection nobody would own.
	if errs[0] == nil {
		require.ErrorIs(t, errs[1], client.ErrConnected)
	} else {
		require.ErrorIs(t, errs[0], client.ErrConnected)
		require.NoError(t, errs[1])
	}

	assert.True(t, c.Connected())

	c.Leave()
}

func TestClient_Connect_DialFailure(t *testing.T) {
	c := newTestClient("bob", "127.0.0.1:1")

	require.Error(t, c.Connect())
	assert.False(t, c.Connected())
}

func TestClient_ReceiveLoop_ForwardsByKind(t *testing.T) {
	fs := newFakeServer(t, chat.NewJoinAck("Current coordinator is: amy", false, "amy"))

	c := newTestClient("bob", fs.addr())

	rec := &recorder{}
	c.Subscribe(rec)

	require.NoError(t, c.Connect())
	defer c.Leave()

	conn := fs.conn(t)

	require.NoError(t, wire.WriteMessage(conn, chat.NewBroadcast("amy", "hello")))

	require.Eventually(t, func() bool {
		return rec.messageCount() >= 2
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, chat.KindBroadcast, rec.lastMessage().Kind)

	// A member list becomes a membership update, not a message.
	members := []chat.MemberInfo{{ID: "amy", Coordinator: true}, {ID: "bob"}}
	require.NoError(t, wire.WriteMessage(conn, chat.NewMemberList("amy", members)))

	require.Eventually(t, func() bool {
		rec.mut.Lock()
		defer rec.mut.Unlock()
		return len(rec.members) == 1
	}, time.Second, 10*time.Millisecond)

	rec.mut.Lock()
	assert.Equal(t, members, rec.members[0])
	rec.mut.Unlock()

	// A leave acknowledgment is dropped.
	before := rec.messageCount()
	require.NoError(t, wire.WriteMessage(conn, chat.NewLeave(chat.ServerID)))
	require.NoError(t, wire.WriteMessage(conn, chat.NewBroadcast("amy", "marker")))

	require.Eventually(t, func() bool {
		return rec.messageCount() == before+1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "marker", rec.lastMessage().Text)
}

func TestClient_ReceiveLoop_ElectionUpdatesCoordinator(t *testing.T) {
	fs := newFakeServer(t, chat.NewJoinAck("Current coordinator is: amy", false, "amy"))

	c := newTestClient("bob", fs.addr())
	require.NoError(t, c.Connect())

	defer c.Leave()

	conn := fs.conn(t)

	// amy left; the server announces bob as the new coordinator.
	require.NoError(t, wire.WriteMessage(conn, chat.NewJoinAck("You are the coordinator.", true, "bob")))

	require.Eventually(t, func() bool {
		return c.IsCoordinator() && c.CoordinatorID() == "bob"
	}, time.Second, 10*time.Millisecond)
}

func TestClient_Disconnect_NotifiedOnce(t *testing.T) {
	fs := newFakeServer(t, chat.NewJoinAck("Current coordinator is: amy", false, "amy"))

	c := newTestClient("bob", fs.addr())

	rec := &recorder{}
	c.Subscribe(rec)

	require.NoError(t, c.Connect())

	require.NoError(t, fs.conn(t).Close())

	require.Eventually(t, func() bool {
		return rec.disconnectCount() == 1
	}, time.Second, 10*time.Millisecond)

	// No automatic reconnect happens behind the caller's back.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.disconnectCount())
	assert.False(t, c.Connected())
}

func TestClient_Send(t *testing.T) {
	fs := newFakeServer(t, chat.NewJoinAck("Current coordinator is: amy", false, "amy"))

	c := newTestClient("bob", fs.addr())
	require.NoError(t, c.Connect())

	defer c.Leave()

	conn := fs.conn(t)

	require.NoError(t, c.Send("hello all", ""))

	msg, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, chat.KindBroadcast, msg.Kind)
	assert.Equal(t, "hello all", msg.Text)
	assert.Equal(t, "bob", msg.Sender)

	require.NoError(t, c.Send("psst", "amy"))

	msg, err = wire.ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, chat.KindPrivate, msg.Kind)
	assert.Equal(t, "amy", msg.Recipient)
}

func TestClient_SendRaw(t *testing.T) {
	fs := newFakeServer(t, chat.NewJoinAck("Current coordinator is: amy", false, "amy"))

	c := newTestClient("bob", fs.addr())
	require.NoError(t, c.Connect())

	defer c.Leave()

	conn := fs.conn(t)

	require.NoError(t, c.SendRaw(chat.NewPong("bob")))

	msg, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, chat.KindHeartbeat, msg.Kind)
	assert.Equal(t, chat.TextPong, msg.Text)
}

func TestClient_Send_NotConnected(t *testing.T) {
	c := newTestClient("bob", "127.0.0.1:1")

	require.ErrorIs(t, c.Send("hello", ""), client.ErrNotConnected)
	require.ErrorIs(t, c.SendRaw(chat.NewPong("bob")), client.ErrNotConnected)
}

func TestClient_Leave(t *testing.T) {
	fs := newFakeServer(t, chat.NewJoinAck("Current coordinator is: amy", false, "amy"))

	c := newTestClient("bob", fs.addr())

	rec := &recorder{}
	c.Subscribe(rec)

	require.NoError(t, c.Connect())

	conn := fs.conn(t)

	c.Leave()

	// The server saw the leave record before the connection closed.
	msg, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, chat.KindLeave, msg.Kind)
	assert.Equal(t, "bob", msg.Sender)

	assert.False(t, c.Connected())

	// Leaving produces no disconnect notification, and leaving again is
	// a no-op.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.disconnectCount())

	c.Leave()
}
