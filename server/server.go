// Package server implements the rendezvous process: the authoritative
// membership registry, coordinator election, the heartbeat failure
// detector, and the per-connection protocol handlers that relay traffic
// between peers.
package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/huddlenet/huddle/chat"
	"github.com/huddlenet/huddle/election"
	"github.com/huddlenet/huddle/internal/multierror"
	"github.com/huddlenet/huddle/telemetry"
)

var (
	// ErrIDTaken is returned by Add when the id is already registered.
	ErrIDTaken = errors.New("member id already in use")

	// ErrClosed is returned by Serve after Shutdown.
	ErrClosed = errors.New("server closed")
)

type Config struct {
	Logger log.Logger

	// Rule selects the coordinator on re-election. Defaults to
	// election.LowestID.
	Rule election.Rule

	// HeartbeatInterval is the period of the repeating liveness round.
	HeartbeatInterval time.Duration

	// GraceWindow is how long a member has to answer a probe before the
	// sweep removes it.
	GraceWindow time.Duration

	// Coordinator is the shared slot tracking the current coordinator. A
	// fresh one is created when nil; tests inject their own to observe
	// election outcomes directly.
	Coordinator *Coordinator

	// OnEmpty is invoked exactly once each time the registry transitions
	// to empty, so the hosting process can react (e.g. exit).
	OnEmpty func()
}

func DefaultConfig() Config {
	return Config{
		Logger:            log.NewNopLogger(),
		Rule:              election.LowestID,
		HeartbeatInterval: 5 * time.Minute,
		GraceWindow:       60 * time.Second,
	}
}

type Server struct {
	mut       sync.Mutex
	members   map[string]*Member
	responded map[string]bool

	// round is the heartbeat round generation the responded table
	// belongs to. A sweep carries the generation it was scheduled
	// under and stands down when the table has moved on.
	round uint64

	coord *Coordinator
	rule      election.Rule
	logger    log.Logger
	interval  time.Duration
	grace     time.Duration
	onEmpty   func()

	// schedMut guards the heartbeat schedule and the pending sweep so a
	// restart cancels both before installing new ones.
	schedMut    sync.Mutex
	stopSched   chan struct{}
	cancelSweep chan struct{}

	lis      net.Listener
	closed   chan struct{}
	shutdown sync.Once
	wg       sync.WaitGroup
}

func New(conf Config) *Server {
	if conf.Logger == nil {
		conf.Logger = log.NewNopLogger()
	}

	if conf.Rule == nil {
		conf.Rule = election.LowestID
	}

	if conf.Coordinator == nil {
		conf.Coordinator = NewCoordinator()
	}

	return &Server{
		members:   make(map[string]*Member),
		responded: make(map[string]bool),
		coord:     conf.Coordinator,
		rule:      conf.Rule,
		logger:    conf.Logger,
		interval:  conf.HeartbeatInterval,
		grace:     conf.GraceWindow,
		onEmpty:   conf.OnEmpty,
		closed:    make(chan struct{}),
	}
}

// Coordinator returns the shared coordinator slot.
func (s *Server) Coordinator() *Coordinator {
	return s.coord
}

// Add registers a live member under its id. A duplicate id fails with
// ErrIDTaken and leaves the registry untouched. The member that makes the
// registry non-empty becomes coordinator; a member arriving under the
// recorded coordinator id re-points the slot at the new instance. The
// current coordinator always receives a refreshed name list afterwards.
func (s *Server) Add(member *Member) error {
	id := member.ID()

	s.mut.Lock()

	if _, ok := s.members[id]; ok {
		s.mut.Unlock()
		return fmt.Errorf("%w: %s", ErrIDTaken, id)
	}

	s.members[id] = member

	if len(s.members) == 1 {
		member.SetCoordinator(true)
		s.coord.Set(member)

		level.Info(s.logger).Log("msg", "first member becomes coordinator", "member", id)
	} else if coordID, ok := s.coord.ID(); ok && coordID == id {
		// The coordinator reconnected before anyone noticed it was gone:
		// keep the role, re-point the slot at the live instance.
		member.SetCoordinator(true)
		s.coord.Set(member)
	}

	telemetry.Members.Set(float64(len(s.members)))

	s.mut.Unlock()

	s.pushNameList()

	return nil
}

// Remove deletes the member with the given id; unknown ids are a no-op.
// Removing the coordinator triggers re-election over the survivors — this
// is the single place an election runs after a removal, whatever caused
// it. A transition to empty clears the coordinator slot and fires the
// OnEmpty callback once.
func (s *Server) Remove(id string) {
	s.mut.Lock()

	if _, ok := s.members[id]; !ok {
		s.mut.Unlock()
		return
	}

	delete(s.members, id)
	delete(s.responded, id)

	level.Info(s.logger).Log("msg", "member removed", "member", id)

	wasCoordinator := false
	if coordID, ok := s.coord.ID(); ok && coordID == id {
		wasCoordinator = true
	}

	emptied := len(s.members) == 0

	if wasCoordinator {
		s.electLocked()
	}

	if emptied {
		s.coord.Reset()
	}

	telemetry.Members.Set(float64(len(s.members)))

	s.mut.Unlock()

	if emptied && s.onEmpty != nil {
		s.onEmpty()
	}

	s.pushNameList()
}

// Member returns the live member registered under id.
func (s *Server) Member(id string) (*Member, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()

	m, ok := s.members[id]

	return m, ok
}

// Members returns the current live members in no particular order.
func (s *Server) Members() []*Member {
	s.mut.Lock()
	defer s.mut.Unlock()

	return maps.Values(s.members)
}

// Snapshots returns detached copies of the current members, sorted by id.
func (s *Server) Snapshots() []chat.MemberInfo {
	members := s.Members()

	snapshots := make([]chat.MemberInfo, 0, len(members))
	for _, m := range members {
		snapshots = append(snapshots, m.Snapshot())
	}

	slices.SortFunc(snapshots, func(a, b chat.MemberInfo) bool {
		return a.ID < b.ID
	})

	return snapshots
}

// electLocked runs the election over the current registry: every flag is
// cleared, the rule picks the winner, the slot and flag are updated, and
// every member is told the outcome. An empty registry elects nobody and
// clears the slot. Callers hold s.mut, which is what serializes
// concurrent election triggers.
func (s *Server) electLocked() {
	telemetry.Elections.Inc()

	for _, m := range s.members {
		m.SetCoordinator(false)
	}

	candidates := make([]chat.MemberInfo, 0, len(s.members))
	for _, m := range s.members {
		candidates = append(candidates, m.Snapshot())
	}

	winner, ok := s.rule(candidates)
	if !ok {
		s.coord.Reset()
		level.Warn(s.logger).Log("msg", "no coordinator available")

		return
	}

	elected, ok := s.members[winner.ID]
	if !ok {
		// A rule is free to misbehave; an unknown winner must not take
		// the registry down with it.
		s.coord.Reset()
		level.Warn(s.logger).Log("msg", "election rule picked unknown member", "member", winner.ID)

		return
	}

	elected.SetCoordinator(true)
	s.coord.Set(elected)

	level.Info(s.logger).Log("msg", "new coordinator elected", "member", winner.ID)

	for _, m := range s.members {
		var msg *chat.Message
		if m.ID() == winner.ID {
			msg = chat.NewJoinAck("You are the coordinator.", true, winner.ID)
		} else {
			msg = chat.NewJoinAck("Current coordinator is: "+winner.ID, false, winner.ID)
		}

		if err := m.Send(msg); err != nil {
			level.Warn(s.logger).Log("msg", "failed to announce coordinator", "member", m.ID(), "err", err)
		}
	}
}

// pushNameList sends the current coordinator the sorted list of member
// ids. Called after every membership change.
func (s *Server) pushNameList() {
	coordinator, ok := s.coord.Get()
	if !ok {
		return
	}

	msg := chat.NewNameList(coordinator.ID(), s.Snapshots())

	if err := coordinator.Send(msg); err != nil {
		level.Warn(s.logger).Log("msg", "failed to push name list", "member", coordinator.ID(), "err", err)
	}
}

// Broadcast sends msg to every registered member, including the one it
// came from. A failed send to one member never aborts the others; the
// failures come back combined, keyed by member id.
func (s *Server) Broadcast(msg *chat.Message) error {
	return s.fanOut(msg, func(*Member) bool { return true })
}

// broadcastExcept sends msg to every member but the named one.
func (s *Server) broadcastExcept(id string, msg *chat.Message) error {
	return s.fanOut(msg, func(m *Member) bool { return m.ID() != id })
}

func (s *Server) fanOut(msg *chat.Message, include func(*Member) bool) error {
	var g errgroup.Group

	errs := multierror.New[string]()

	for _, m := range s.Members() {
		m := m

		if !include(m) {
			continue
		}

		g.Go(func() error {
			if err := m.Send(msg); err != nil {
				errs.Add(m.ID(), err)
			}

			return nil
		})
	}

	_ = g.Wait()

	return errs.Combined()
}

// SendTo delivers msg to the member registered under id. The returned
// flag is false when no such member exists; private traffic to unknown
// recipients is dropped by the caller on that basis, without an error.
func (s *Server) SendTo(id string, msg *chat.Message) bool {
	member, ok := s.Member(id)
	if !ok {
		return false
	}

	if err := member.Send(msg); err != nil {
		level.Warn(s.logger).Log("msg", "failed to deliver", "member", id, "err", err)
	}

	return true
}

// ListenAndServe binds addr and runs the accept loop until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	return s.Serve(lis)
}

// Serve runs the accept loop on lis. Each accepted connection gets its
// own handler goroutine. Returns ErrClosed after Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.mut.Lock()
	s.lis = lis
	s.mut.Unlock()

	level.Info(s.logger).Log("msg", "server listening", "addr", lis.Addr())

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return ErrClosed
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		s.wg.Add(1)

		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Shutdown stops the accept loop and the heartbeat schedule, closes every
// member connection, and waits for the handlers to finish their cleanup.
func (s *Server) Shutdown() {
	s.shutdown.Do(func() {
		close(s.closed)

		s.mut.Lock()
		lis := s.lis
		members := maps.Values(s.members)
		s.mut.Unlock()

		if lis != nil {
			_ = lis.Close()
		}

		s.StopHeartbeat()

		// Closing the connections unblocks the handler reads; each
		// handler then runs its normal cleanup path.
		for _, m := range members {
			_ = m.Close()
		}

		s.wg.Wait()

		level.Info(s.logger).Log("msg", "server stopped")
	})
}
