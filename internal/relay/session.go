package relay

import (
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tikotus/funky-server/internal/metrics"
	"github.com/tikotus/funky-server/internal/protocol"
)

const (
	ingressQueueSize = 256
	joinQueueSize    = 8
)

// sessionOptions are the dispatcher-level tunables shared by every
// session it spawns.
type sessionOptions struct {
	donorActiveWindow time.Duration
	syncRetryPeriod   time.Duration
}

// Session is one game: a set of players exchanging events in lockstep.
//
// All player inputs merge into the ingress channel with a playerId
// stamp, the session loop routes them onto the topic publication, and
// the ticker (stepped sessions only) partitions time into lock steps.
// The dispatcher goroutine is the only mutator of players, synced and
// nextSlot; step has a single writer, the ticker.
type Session struct {
	gameType   string
	maxPlayers int
	stepTime   time.Duration
	seed       int64

	in     chan protocol.Message
	joinCh chan protocol.Message
	out    *pub

	// one-slot semaphore serializing sync mediations
	syncSlot chan struct{}

	done     chan struct{}
	doneOnce sync.Once

	step atomic.Int64

	mu       sync.Mutex
	players  map[string]*Player
	subs     map[string]*subscription
	synced   []*Player
	nextSlot int

	opts sessionOptions
}

func newSession(info protocol.GameInfo, opts sessionOptions) *Session {
	s := &Session{
		gameType:   info.GameType,
		maxPlayers: info.MaxPlayers,
		stepTime:   info.StepTime,
		// bounded so the seed survives a JSON number round-trip exactly
		seed:       rand.Int63n(1 << 53),
		in:         make(chan protocol.Message, ingressQueueSize),
		joinCh:     make(chan protocol.Message, joinQueueSize),
		out:        newPub(),
		syncSlot:   make(chan struct{}, 1),
		done:       make(chan struct{}),
		players:    make(map[string]*Player),
		subs:       make(map[string]*subscription),
		opts:       opts,
	}

	go s.run()
	if s.stepTime > 0 {
		go s.tick()
	}

	slog.Info("session created",
		"game_type", s.gameType,
		"max_players", s.maxPlayers,
		"step_time", s.stepTime,
		"seed", s.seed)

	return s
}

// run is the main event pipeline: alive heartbeats are swallowed, sync
// replies go to the sync topic only (never to all players), everything
// else is step-stamped (stepped mode) and broadcast. In stepless mode
// pending join announcements are flushed here, without step metadata.
func (s *Session) run() {
	var joins <-chan protocol.Message
	if s.stepTime == 0 {
		joins = s.joinCh
	}

	for {
		select {
		case <-s.done:
			return
		case msg := <-joins:
			s.out.publish(msg)
		case msg := <-s.in:
			switch {
			case msg.IsAlive():
				// heartbeat: lastSeen already updated by the read pump
			case msg.IsSync():
				s.out.publish(msg)
			default:
				if s.stepTime > 0 {
					msg.StampStep(s.step.Load())
				}
				s.out.publish(msg)
			}
		}
	}
}

// tick emits the lock stream. Wakeups align to wall-clock boundaries
// of stepTime; each one publishes {lock: step}, then at most one
// pending join announcement stamped with the same step, then advances
// the counter, so clients always see lock immediately before the join.
func (s *Session) tick() {
	for {
		now := time.Now()
		next := now.Truncate(s.stepTime).Add(s.stepTime)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-s.done:
			timer.Stop()
			return
		case <-timer.C:
			// The counter advances only after the lock batch is out, so
			// an event stamped with the new step can never be published
			// ahead of the lock that opens it.
			closed := s.step.Load()
			s.out.publish(protocol.Lock(closed))
			select {
			case join := <-s.joinCh:
				join.StampStep(closed)
				s.out.publish(join)
			default:
			}
			s.step.Add(1)
			metrics.TicksEmitted.Inc()
		}
	}
}

// addPlayer admits a player: assigns the next slot, sends the
// admission message, subscribes the player's outbound to everything
// but the sync topic and starts its ingress pipe. The first player of
// a fresh session skips sync; later joiners go through the mediator.
// Dispatcher goroutine only.
func (s *Session) addPlayer(p *Player) {
	s.mu.Lock()
	newGame := len(s.players) == 0
	p.slot = s.nextSlot
	s.nextSlot++
	s.players[p.ID] = p
	s.mu.Unlock()

	p.Send(protocol.Admission(newGame, p.slot, s.seed))

	sub := s.out.subscribePlayer(p, protocol.TopicLock, protocol.TopicJoin, protocol.TopicOther)
	s.mu.Lock()
	s.subs[p.ID] = sub
	count := len(s.players)
	s.mu.Unlock()

	go s.pipe(p)

	metrics.PlayersPerSession.Observe(float64(count))
	slog.Info("player joined session",
		"player", p.ID,
		"slot", p.slot,
		"game_type", s.gameType,
		"players", count,
		"new_game", newGame)

	if newGame {
		s.markSynced(p)
	} else {
		metrics.SyncRequests.Inc()
		go s.mediate(p)
	}
}

// pipe feeds one player's inbound stream into the session ingress,
// overriding any client-supplied playerId with the session slot.
func (s *Session) pipe(p *Player) {
	for msg := range p.Inbound() {
		msg.StampPlayer(p.slot)
		select {
		case s.in <- msg:
		case <-s.done:
			return
		}
	}
}

// removePlayer detaches a player. Idempotent: removing an unknown
// player reports removed=false and changes nothing.
func (s *Session) removePlayer(id string) (removed bool, empty bool, slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[id]
	if !ok {
		return false, len(s.players) == 0, 0
	}
	delete(s.players, id)
	if sub, ok := s.subs[id]; ok {
		s.out.unsubscribe(sub)
		delete(s.subs, id)
	}
	for i, sp := range s.synced {
		if sp.ID == id {
			s.synced = append(s.synced[:i], s.synced[i+1:]...)
			break
		}
	}
	return true, len(s.players) == 0, p.slot
}

// notifyDisconnected delivers the departure notice to the remaining
// participants through their local-inbound lanes.
func (s *Session) notifyDisconnected(slot int) {
	s.mu.Lock()
	remaining := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		remaining = append(remaining, p)
	}
	s.mu.Unlock()

	notice := protocol.Disconnected(slot)
	for _, p := range remaining {
		p.InjectLocal(notice)
	}
}

// terminate stops the ticker and the pipeline. The pipes and any
// in-flight mediation unwind from the done signal.
func (s *Session) terminate() {
	s.doneOnce.Do(func() {
		close(s.done)
		slog.Info("session terminated", "game_type", s.gameType)
	})
}

func (s *Session) playerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// Step returns the current tick counter.
func (s *Session) Step() int64 { return s.step.Load() }

// Seed returns the session's shared RNG seed.
func (s *Session) Seed() int64 { return s.seed }
