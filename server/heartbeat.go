package server

import (
	"time"

	"github.com/go-kit/log/level"
	"golang.org/x/exp/slices"

	"github.com/huddlenet/huddle/telemetry"
)

// StartHeartbeat (re)schedules the repeating liveness round. Restarting
// cancels the previous schedule and any sweep still pending from it, so
// at most one repeating task is ever live and timers never stack. After
// Shutdown it is a no-op: nothing would ever stop a schedule installed
// past that point.
func (s *Server) StartHeartbeat() {
	s.schedMut.Lock()
	defer s.schedMut.Unlock()

	select {
	case <-s.closed:
		return
	default:
	}

	s.stopScheduleLocked()

	stop := make(chan struct{})
	s.stopSched = stop

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.checkHeartbeats()
			case <-stop:
				return
			}
		}
	}()

	level.Info(s.logger).Log("msg", "heartbeat schedule started", "interval", s.interval, "grace", s.grace)
}

// StopHeartbeat cancels the schedule and any pending sweep.
func (s *Server) StopHeartbeat() {
	s.schedMut.Lock()
	s.stopScheduleLocked()
	s.schedMut.Unlock()
}

func (s *Server) stopScheduleLocked() {
	if s.stopSched != nil {
		close(s.stopSched)
		s.stopSched = nil
	}

	if s.cancelSweep != nil {
		close(s.cancelSweep)
		s.cancelSweep = nil
	}

	// Invalidate any sweep whose timer has already fired but that has
	// not reached the response table yet.
	s.mut.Lock()
	s.round++
	s.mut.Unlock()
}

// checkHeartbeats runs one liveness round: mark every current member as
// not-responded, probe them all, and schedule the sweep that removes
// whoever stayed silent through the grace window. The sweep belongs to
// this round twice over: a newer round (or a schedule restart) closes its
// cancel channel, and the round generation recorded with the table makes
// a sweep whose timer already fired step aside once the table it was
// watching has been reset. Either way, two rounds cannot race over one
// response table.
func (s *Server) checkHeartbeats() {
	telemetry.HeartbeatRounds.Inc()

	s.schedMut.Lock()

	if s.cancelSweep != nil {
		close(s.cancelSweep)
	}

	cancel := make(chan struct{})
	s.cancelSweep = cancel

	s.schedMut.Unlock()

	s.mut.Lock()

	s.round++
	round := s.round

	s.responded = make(map[string]bool, len(s.members))
	members := make([]*Member, 0, len(s.members))

	for id, m := range s.members {
		s.responded[id] = false
		members = append(members, m)
	}

	s.mut.Unlock()

	level.Debug(s.logger).Log("msg", "heartbeat round started", "members", len(members))

	for _, m := range members {
		if !m.Ping() {
			// Not a removal by itself: the member simply stays marked
			// not-responded and the sweep decides.
			level.Warn(s.logger).Log("msg", "heartbeat probe failed", "member", m.ID())
		}
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		select {
		case <-time.After(s.grace):
			s.sweep(round)
		case <-cancel:
		}
	}()
}

// sweep removes every member still marked not-responded in the round it
// was scheduled by. A generation mismatch means a newer round already
// reset the table; that round's sweep owns it now. Removal goes through
// Remove, which is what re-elects if the coordinator was among the
// silent; the sweep itself never runs an election pass.
func (s *Server) sweep(round uint64) {
	s.mut.Lock()

	if round != s.round {
		s.mut.Unlock()
		return
	}

	var stale []string

	for id, ok := range s.responded {
		if ok {
			continue
		}

		// The member may have left on its own during the grace window.
		if _, present := s.members[id]; present {
			stale = append(stale, id)
		}
	}

	s.mut.Unlock()

	slices.Sort(stale)

	for _, id := range stale {
		level.Info(s.logger).Log("msg", "member missed heartbeat, removing", "member", id)
		telemetry.HeartbeatRemovals.Inc()
		s.Remove(id)
	}
}

// MarkResponded records a liveness answer for the current round. Also the
// out-of-band override for peers that answer a liveness prompt directly.
func (s *Server) MarkResponded(id string, responded bool) {
	s.mut.Lock()
	s.responded[id] = responded
	s.mut.Unlock()
}
