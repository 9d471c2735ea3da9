package relay

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/tikotus/funky-server/internal/metrics"
)

type lifecycleEvent struct {
	player       *Player
	disconnected bool
}

// Dispatcher owns the global list of active sessions. It is the single
// consumer of the merged player lifecycle stream from all transports,
// so session-list mutation needs no locks.
type Dispatcher struct {
	events chan lifecycleEvent
	opts   sessionOptions

	// owned by the Run goroutine
	sessions []*Session

	// read concurrently by the health endpoint
	playerCount  atomic.Int64
	sessionCount atomic.Int64
}

func NewDispatcher(opts sessionOptions) *Dispatcher {
	return &Dispatcher{
		events: make(chan lifecycleEvent, 64),
		opts:   opts,
	}
}

// Offer hands a handshaken player to the dispatcher.
func (d *Dispatcher) Offer(p *Player) {
	d.events <- lifecycleEvent{player: p}
}

// Drop reports a player departure. Safe to call for players already
// removed; the event becomes a no-op.
func (d *Dispatcher) Drop(p *Player) {
	d.events <- lifecycleEvent{player: p, disconnected: true}
}

// Run consumes lifecycle events until the context ends, then
// terminates every remaining session.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for _, s := range d.sessions {
				s.terminate()
			}
			d.sessions = nil
			return nil
		case ev := <-d.events:
			if ev.disconnected {
				d.handleDeparture(ev.player)
			} else {
				d.handleArrival(ev.player)
			}
		}
	}
}

// handleArrival places the player in the first session with a matching
// game type, free capacity and an available sync donor, or spawns a
// new session from the player's game-info.
func (d *Dispatcher) handleArrival(p *Player) {
	info := p.Info()

	for _, s := range d.sessions {
		if s.gameType != info.GameType {
			continue
		}
		if s.playerCount() >= info.MaxPlayers {
			continue
		}
		if !s.donorAvailable() {
			// type matches but nobody can sync the newcomer
			continue
		}
		s.addPlayer(p)
		d.playerCount.Add(1)
		return
	}

	s := newSession(info, d.opts)
	d.sessions = append(d.sessions, s)
	metrics.TotalSessions.Inc()
	metrics.ActiveSessions.Inc()
	d.sessionCount.Add(1)

	s.addPlayer(p)
	d.playerCount.Add(1)
}

// handleDeparture removes the player from whichever session holds it.
// A session left empty is terminated and dropped from the list.
func (d *Dispatcher) handleDeparture(p *Player) {
	for i, s := range d.sessions {
		removed, empty, slot := s.removePlayer(p.ID)
		if !removed {
			continue
		}
		d.playerCount.Add(-1)
		slog.Info("player left session", "player", p.ID, "slot", slot, "game_type", s.gameType)

		if empty {
			s.terminate()
			d.sessions = append(d.sessions[:i], d.sessions[i+1:]...)
			metrics.ActiveSessions.Dec()
			d.sessionCount.Add(-1)
		} else {
			s.notifyDisconnected(slot)
		}
		return
	}
}

// Counts reports current player and session totals for health checks.
func (d *Dispatcher) Counts() (players, sessions int64) {
	return d.playerCount.Load(), d.sessionCount.Load()
}
