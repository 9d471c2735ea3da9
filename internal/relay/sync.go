package relay

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/tikotus/funky-server/internal/metrics"
	"github.com/tikotus/funky-server/internal/protocol"
)

// pickSyncer returns a uniformly random synced player whose last
// activity falls within the donor window, or nil when no participant
// qualifies as a donor.
func (s *Session) pickSyncer() *Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*Player, 0, len(s.synced))
	for _, p := range s.synced {
		if p.Disconnected() {
			continue
		}
		if p.IdleFor() <= s.opts.donorActiveWindow {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.Intn(len(candidates))]
}

// donorAvailable reports whether a joining player could be synced into
// this session: an empty session needs no donor, otherwise one of the
// synced players must be active.
func (s *Session) donorAvailable() bool {
	if s.playerCount() == 0 {
		return true
	}
	return s.pickSyncer() != nil
}

// markSynced records that a player holds the full game state, making
// it eligible as a sync donor.
func (s *Session) markSynced(p *Player) {
	s.mu.Lock()
	s.synced = append(s.synced, p)
	s.mu.Unlock()
}

// mediate runs the late-join protocol for a newcomer: tap the sync
// topic, announce the join naming a donor, and forward the donor's
// single sync reply to the newcomer. The announcement is re-emitted
// with a freshly picked donor every retry period until a sync arrives,
// the newcomer leaves, or the session dies.
func (s *Session) mediate(p *Player) {
	// One mediation at a time: with a single live sync tap per session,
	// a donor reply reaches only the newcomer whose request is pending.
	select {
	case s.syncSlot <- struct{}{}:
	case <-s.done:
		return
	case <-p.Done():
		return
	}
	defer func() { <-s.syncSlot }()

	tap := s.out.subscribeTap(protocol.TopicSync)
	defer s.out.unsubscribe(tap)

	// Let one lock pass so the newcomer holds every message up to
	// step k before receiving state synced at step k+1.
	if s.stepTime > 0 {
		s.awaitLock()
	}

	s.requestSync(p)

	retry := time.NewTicker(s.opts.syncRetryPeriod)
	defer retry.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-p.Done():
			return
		case <-retry.C:
			s.requestSync(p)
		case msg := <-tap.C():
			// The donor's reply goes to the requesting newcomer only.
			p.Send(msg)
			s.markSynced(p)
			metrics.SyncCompleted.Inc()
			slog.Info("player synced", "player", p.ID, "game_type", s.gameType)
			return
		}
	}
}

func (s *Session) awaitLock() {
	tap := s.out.subscribeTap(protocol.TopicLock)
	defer s.out.unsubscribe(tap)

	select {
	case <-tap.C():
	case <-s.done:
	}
}

func (s *Session) requestSync(p *Player) {
	donor := s.pickSyncer()
	if donor == nil {
		slog.Warn("no active sync donor", "player", p.ID, "game_type", s.gameType)
		return
	}
	select {
	case s.joinCh <- protocol.JoinAnnounce(donor.ID):
	default:
		// a join announcement is already pending
	}
}
