// Package client implements the peer side of the protocol: joining the
// rendezvous server under a unique id, relaying inbound records to
// registered listeners, and sending broadcast or private text. The client
// never reconnects on its own; a dropped connection surfaces as a single
// disconnect notification and the caller decides whether to Connect again.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/huddlenet/huddle/chat"
	"github.com/huddlenet/huddle/wire"
)

var (
	// ErrRejected is returned by Connect when the server refuses the join,
	// typically because the id is already in use.
	ErrRejected = errors.New("join rejected")

	// ErrNotConnected is returned when sending without a live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrConnected is returned by Connect while a connection is live.
	ErrConnected = errors.New("already connected")
)

// Listener receives what the server pushes to this peer. The display layer
// implements it; callbacks run on the client's receive goroutine and must
// not block.
type Listener interface {
	// OnMessage is called for every record forwarded to listeners.
	OnMessage(msg *chat.Message)

	// OnMembersUpdate is called when the server disclosed the member list.
	OnMembersUpdate(members []chat.MemberInfo)

	// OnDisconnect is called once when the connection is lost.
	OnDisconnect()
}

type Config struct {
	// ID is the identity to join under. Uniqueness is enforced by the
	// server, validation by the display layer.
	ID string

	// ServerAddr is the rendezvous server's host:port.
	ServerAddr string

	Logger      log.Logger
	DialTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Logger:      log.NewNopLogger(),
		DialTimeout: 10 * time.Second,
	}
}

type Client struct {
	id          string
	addr        string
	dialTimeout time.Duration
	logger      log.Logger

	mut           sync.Mutex
	conn          net.Conn
	connected     bool
	connecting    bool
	coordinator   bool
	coordinatorID string

	// sendMut serializes frame writes, independent of the state lock so a
	// send never blocks state reads.
	sendMut sync.Mutex

	listenerMut sync.RWMutex
	listeners   []Listener
}

func New(conf Config) *Client {
	if conf.Logger == nil {
		conf.Logger = log.NewNopLogger()
	}

	if conf.DialTimeout == 0 {
		conf.DialTimeout = 10 * time.Second
	}

	return &Client{
		id:          conf.ID,
		addr:        conf.ServerAddr,
		dialTimeout: conf.DialTimeout,
		logger:      conf.Logger,
	}
}

// Subscribe registers a listener for inbound traffic. Listeners added
// after Connect see only records that arrive after registration.
func (c *Client) Subscribe(l Listener) {
	c.listenerMut.Lock()
	c.listeners = append(c.listeners, l)
	c.listenerMut.Unlock()
}

// Connect dials the server, sends the join request, and blocks for exactly
// one reply. An ERROR reply aborts the attempt with ErrRejected; a JOIN
// reply records the coordinator status and reaches the listeners. The
// receive loop starts only after the handshake succeeds. Reconnection
// after a drop is an explicit new Connect under the same id.
func (c *Client) Connect() error {
	// The connecting flag covers the whole handshake so a second Connect
	// racing the first cannot dial a connection nobody will own.
	c.mut.Lock()
	if c.connected || c.connecting {
		c.mut.Unlock()
		return ErrConnected
	}
	c.connecting = true
	c.mut.Unlock()

	defer func() {
		c.mut.Lock()
		c.connecting = false
		c.mut.Unlock()
	}()

	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}

	if err := wire.WriteMessage(conn, chat.NewJoin(c.id)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send join: %w", err)
	}

	first, err := wire.ReadMessage(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("read join reply: %w", err)
	}

	switch first.Kind {
	case chat.KindError:
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrRejected, first.Text)

	case chat.KindJoin:
		// fall through

	default:
		_ = conn.Close()
		return fmt.Errorf("unexpected join reply kind: %s", first.Kind)
	}

	c.mut.Lock()
	c.conn = conn
	c.connected = true
	c.coordinator = first.Coordinator
	c.coordinatorID = first.CoordinatorID
	c.mut.Unlock()

	level.Info(c.logger).Log("msg", "joined", "server", c.addr, "coordinator", first.CoordinatorID)

	c.notifyMessage(first)

	go c.listen(conn)

	return nil
}

// listen is the receive loop. It terminates only when the connection
// closes: on an explicit Leave silently, on anything else with a single
// disconnect notification.
func (c *Client) listen(conn net.Conn) {
	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			c.mut.Lock()
			dropped := c.connected && c.conn == conn
			if dropped {
				c.connected = false
			}
			c.mut.Unlock()

			if dropped {
				level.Warn(c.logger).Log("msg", "connection lost", "err", err)
				c.notifyDisconnect()
			}

			return
		}

		switch msg.Kind {
		case chat.KindHeartbeat, chat.KindBroadcast, chat.KindPrivate,
			chat.KindApprovalRequest, chat.KindApproved, chat.KindDenied,
			chat.KindNameList, chat.KindError:
			c.notifyMessage(msg)

		case chat.KindMemberList:
			c.notifyMembers(msg.Members)

		case chat.KindJoin:
			// Election outcome or coordinator change: update local state
			// before the listeners see it.
			c.mut.Lock()
			c.coordinator = msg.Coordinator
			c.coordinatorID = msg.CoordinatorID
			c.mut.Unlock()

			c.notifyMessage(msg)

		case chat.KindLeave:
			// The server's leave acknowledgment; nothing to forward.

		default:
			level.Debug(c.logger).Log("msg", "ignoring record", "kind", msg.Kind)
		}
	}
}

// Send sends text to a single recipient, or to the whole group when the
// recipient is empty.
func (c *Client) Send(text, recipient string) error {
	if recipient == "" {
		return c.SendRaw(chat.NewBroadcast(c.id, text))
	}

	return c.SendRaw(chat.NewPrivate(c.id, recipient, text))
}

// SendRaw sends a pre-built record. The display layer uses it for pongs,
// approval verdicts and manual pings.
func (c *Client) SendRaw(msg *chat.Message) error {
	c.mut.Lock()
	conn := c.conn
	connected := c.connected
	c.mut.Unlock()

	if !connected {
		return ErrNotConnected
	}

	c.sendMut.Lock()
	defer c.sendMut.Unlock()

	if err := wire.WriteMessage(conn, msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind, err)
	}

	return nil
}

// Leave announces the departure and closes the connection. The receive
// loop ends without a disconnect notification. No-op when already
// disconnected.
func (c *Client) Leave() {
	c.mut.Lock()

	if !c.connected {
		c.mut.Unlock()
		return
	}

	conn := c.conn
	c.connected = false

	c.mut.Unlock()

	c.sendMut.Lock()
	if err := wire.WriteMessage(conn, chat.NewLeave(c.id)); err != nil {
		level.Debug(c.logger).Log("msg", "failed to send leave", "err", err)
	}
	c.sendMut.Unlock()

	_ = conn.Close()

	level.Info(c.logger).Log("msg", "left", "server", c.addr)
}

// ID returns the identity this client joins under.
func (c *Client) ID() string {
	return c.id
}

// Connected reports whether the connection is live.
func (c *Client) Connected() bool {
	c.mut.Lock()
	defer c.mut.Unlock()

	return c.connected
}

// IsCoordinator reports whether this peer currently holds the coordinator
// role, as last announced by the server.
func (c *Client) IsCoordinator() bool {
	c.mut.Lock()
	defer c.mut.Unlock()

	return c.coordinator
}

// CoordinatorID returns the coordinator's id as last announced by the
// server. Empty when unknown.
func (c *Client) CoordinatorID() string {
	c.mut.Lock()
	defer c.mut.Unlock()

	return c.coordinatorID
}

func (c *Client) notifyMessage(msg *chat.Message) {
	c.listenerMut.RLock()
	defer c.listenerMut.RUnlock()

	for _, l := range c.listeners {
		l.OnMessage(msg)
	}
}

func (c *Client) notifyMembers(members []chat.MemberInfo) {
	c.listenerMut.RLock()
	defer c.listenerMut.RUnlock()

	for _, l := range c.listeners {
		l.OnMembersUpdate(members)
	}
}

func (c *Client) notifyDisconnect() {
	c.listenerMut.RLock()
	defer c.listenerMut.RUnlock()

	for _, l := range c.listeners {
		l.OnDisconnect()
	}
}
