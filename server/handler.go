package server

import (
	"errors"
	"io"
	"net"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/huddlenet/huddle/chat"
	"github.com/huddlenet/huddle/telemetry"
	"github.com/huddlenet/huddle/wire"
)

// handle runs the per-connection protocol state machine, from the join
// handshake to the single cleanup on exit.
func (s *Server) handle(conn net.Conn) {
	telemetry.Connections.Inc()
	defer telemetry.Connections.Dec()

	logger := log.With(s.logger, "remote", conn.RemoteAddr())

	first, err := wire.ReadMessage(conn)
	if err != nil {
		level.Debug(logger).Log("msg", "connection dropped before join", "err", err)
		_ = conn.Close()

		return
	}

	if first.Kind != chat.KindJoin {
		level.Warn(logger).Log("msg", "protocol violation: first record not a join", "kind", first.Kind)
		_ = wire.WriteMessage(conn, chat.NewError("Expected a join request."))
		_ = conn.Close()

		return
	}

	member := NewMember(first.Sender, conn)

	if err := s.Add(member); err != nil {
		// The registered member under this id is untouched; only the new
		// connection is refused.
		_ = wire.WriteMessage(conn, chat.NewError("ID already in use."))
		_ = conn.Close()

		return
	}

	logger = log.With(s.logger, "member", member.ID())
	level.Info(logger).Log("msg", "member joined")

	// Cleanup is tied to registration, not to how the loop exits: explicit
	// leave, read error and stream end all funnel through here once.
	defer s.cleanup(member, logger)

	notice := chat.NewBroadcast(chat.ServerID, member.ID()+" joined the chat.")
	if err := s.broadcastExcept(member.ID(), notice); err != nil {
		level.Warn(logger).Log("msg", "join notice partially failed", "err", err)
	}

	coordID, _ := s.coord.ID()

	var ack *chat.Message
	if member.IsCoordinator() {
		ack = chat.NewJoinAck("You are the coordinator.", true, coordID)
	} else {
		ack = chat.NewJoinAck("Current coordinator is: "+coordID, false, coordID)
	}

	if err := member.Send(ack); err != nil {
		level.Warn(logger).Log("msg", "failed to acknowledge join", "err", err)
		return
	}

	s.receiveLoop(member, logger)
}

func (s *Server) receiveLoop(member *Member, logger log.Logger) {
	for {
		msg, err := wire.ReadMessage(member.conn)
		if err != nil {
			// A transport failure is an implicit disconnect; the deferred
			// cleanup handles it like a leave, no retry here.
			if errors.Is(err, io.EOF) {
				level.Debug(logger).Log("msg", "member disconnected")
			} else {
				level.Warn(logger).Log("msg", "read failed", "err", err)
			}

			return
		}

		if done := s.dispatch(member, msg, logger); done {
			return
		}
	}
}

// dispatch handles one inbound record. It reports true when the loop
// should exit (explicit leave).
func (s *Server) dispatch(member *Member, msg *chat.Message, logger log.Logger) bool {
	switch msg.Kind {
	case chat.KindLeave:
		if err := member.Send(chat.NewLeave(chat.ServerID)); err != nil {
			level.Debug(logger).Log("msg", "failed to acknowledge leave", "err", err)
		}

		return true

	case chat.KindMemberListRequest:
		// Only the coordinator reads the registry directly; everyone else
		// goes through the approval flow.
		if coordID, ok := s.coord.ID(); ok && coordID == member.ID() {
			list := chat.NewMemberList(coordID, s.Snapshots())
			if err := member.Send(list); err != nil {
				level.Warn(logger).Log("msg", "failed to send member list", "err", err)
			}
		} else {
			level.Debug(logger).Log("msg", "member list request from non-coordinator ignored")
		}

	case chat.KindApprovalRequest:
		if coordinator, ok := s.coord.Get(); ok {
			prompt := chat.NewApprovalRequest(msg.Sender)
			prompt.Recipient = coordinator.ID()

			if err := coordinator.Send(prompt); err != nil {
				level.Warn(logger).Log("msg", "failed to relay approval request", "err", err)
			}
		}

	case chat.KindApproved:
		coordID, _ := s.coord.ID()

		if s.SendTo(msg.Recipient, chat.NewMemberList(coordID, s.Snapshots())) {
			telemetry.MessagesRelayed.WithLabelValues(chat.KindMemberList.String()).Inc()
		}

	case chat.KindDenied:
		s.SendTo(msg.Recipient, chat.NewError(msg.Text))

	case chat.KindHeartbeat:
		s.handleHeartbeat(member, msg, logger)

	case chat.KindBroadcast:
		telemetry.MessagesRelayed.WithLabelValues(msg.Kind.String()).Inc()

		if err := s.Broadcast(msg); err != nil {
			level.Warn(logger).Log("msg", "broadcast partially failed", "err", err)
		}

	case chat.KindPrivate:
		// Unknown recipients are dropped without telling the sender.
		if s.SendTo(msg.Recipient, msg) {
			telemetry.MessagesRelayed.WithLabelValues(msg.Kind.String()).Inc()
		}

	default:
		level.Debug(logger).Log("msg", "ignoring record", "kind", msg.Kind)
	}

	return false
}

func (s *Server) handleHeartbeat(member *Member, msg *chat.Message, logger log.Logger) {
	switch msg.Text {
	case chat.TextPong:
		s.MarkResponded(msg.Sender, true)

		// Let the coordinator know the peer is alive, unless it is the
		// coordinator's own pong.
		if coordinator, ok := s.coord.Get(); ok && coordinator.ID() != msg.Sender {
			active := chat.NewBroadcast(chat.ServerID, msg.Sender+" is still active.")
			if err := coordinator.Send(active); err != nil {
				level.Debug(logger).Log("msg", "failed to notify coordinator", "err", err)
			}
		}

	case chat.TextManualPing:
		coordID, ok := s.coord.ID()
		if !ok || coordID != member.ID() {
			level.Debug(logger).Log("msg", "manual ping from non-coordinator ignored")
			return
		}

		probe := chat.NewProbe(coordID)

		if err := s.broadcastExcept(coordID, probe); err != nil {
			level.Warn(logger).Log("msg", "manual ping partially failed", "err", err)
		}

		s.StartHeartbeat()

	default:
		level.Debug(logger).Log("msg", "ignoring heartbeat record", "text", msg.Text)
	}
}

// cleanup runs exactly once per registered connection: the member is
// removed, the remaining members get a leave notice, and the connection
// is released.
func (s *Server) cleanup(member *Member, logger log.Logger) {
	s.Remove(member.ID())

	notice := chat.NewBroadcast(chat.ServerID, member.ID()+" left the chat.")
	if err := s.Broadcast(notice); err != nil {
		level.Warn(logger).Log("msg", "leave notice partially failed", "err", err)
	}

	_ = member.Close()

	level.Info(logger).Log("msg", "member left")
}
