// Package relay implements the lockstep broadcast core: player
// sessions, the dispatcher, game session pipelines and sync mediation.
package relay

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tikotus/funky-server/internal/metrics"
	"github.com/tikotus/funky-server/internal/protocol"
	"github.com/tikotus/funky-server/internal/transport"
)

const localQueueSize = 16

// Player wraps one client connection. The read pump decodes frames
// into the inbound queue, the write pump drains the outbound and
// local-inbound queues, and the watchdog cuts silent clients.
//
// Queue policies: inbound is a sliding window
// (oldest dropped on overflow, the network reader never blocks),
// outbound drops newest (a slow client cannot stall its session),
// local is the small lane for server-originated notices.
type Player struct {
	ID   string
	conn transport.Conn

	// set once by handshake / session admission, before concurrent use
	info protocol.GameInfo
	slot int

	inbound  chan protocol.Message
	outbound chan protocol.Message
	local    chan protocol.Message

	lastSeen atomic.Int64 // unix milliseconds
	closed   atomic.Bool

	done     chan struct{}
	doneOnce sync.Once

	idleTimeout    time.Duration
	watchdogPeriod time.Duration
}

// NewPlayer creates a player session for an accepted connection.
// Start must be called to run the pumps.
func NewPlayer(conn transport.Conn, inboundSize, outboundSize int, idleTimeout, watchdogPeriod time.Duration) *Player {
	p := &Player{
		ID:             uuid.NewString(),
		conn:           conn,
		inbound:        make(chan protocol.Message, inboundSize),
		outbound:       make(chan protocol.Message, outboundSize),
		local:          make(chan protocol.Message, localQueueSize),
		done:           make(chan struct{}),
		idleTimeout:    idleTimeout,
		watchdogPeriod: watchdogPeriod,
	}
	p.lastSeen.Store(time.Now().UnixMilli())
	return p
}

func (p *Player) Start() {
	go p.readPump()
	go p.writePump()
	go p.watchdog()
}

// Inbound is the stream of decoded client messages. Closed when the
// connection is gone.
func (p *Player) Inbound() <-chan protocol.Message { return p.inbound }

// Done is closed once the player's connection has terminated.
func (p *Player) Done() <-chan struct{} { return p.done }

func (p *Player) Info() protocol.GameInfo { return p.info }

// Slot is the session-local player id, valid after admission.
func (p *Player) Slot() int { return p.slot }

// IdleFor reports how long ago the client was last heard from.
func (p *Player) IdleFor() time.Duration {
	return time.Duration(time.Now().UnixMilli()-p.lastSeen.Load()) * time.Millisecond
}

func (p *Player) Disconnected() bool { return p.closed.Load() }

// Close tears down the transport; the pumps unwind from the read error.
func (p *Player) Close() {
	p.conn.Close()
}

// Send queues an outbound message, dropping it when the queue is full.
func (p *Player) Send(msg protocol.Message) {
	if p.closed.Load() {
		return
	}
	select {
	case p.outbound <- msg:
	default:
		metrics.MessagesDropped.WithLabelValues("outbound").Inc()
	}
}

// InjectLocal queues a server-originated notice on the local-inbound
// lane, which the write pump drains ahead of broadcast traffic.
func (p *Player) InjectLocal(msg protocol.Message) {
	if p.closed.Load() {
		return
	}
	select {
	case p.local <- msg:
	default:
		metrics.MessagesDropped.WithLabelValues("local").Inc()
	}
}

func (p *Player) readPump() {
	defer p.shutdown()

	for {
		frame, err := p.conn.ReadFrame()
		if err != nil {
			slog.Debug("player read ended", "player", p.ID, "error", err)
			return
		}
		msg, err := protocol.Decode(frame)
		if err != nil {
			// Framing errors drop the frame; the stream stays open.
			slog.Warn("dropping malformed frame", "player", p.ID, "error", err)
			metrics.FramingErrors.Inc()
			continue
		}
		p.lastSeen.Store(time.Now().UnixMilli())
		metrics.MessagesReceived.Inc()
		p.pushInbound(msg)
	}
}

// pushInbound applies the sliding-window policy: when the queue is
// full the oldest message is discarded to make room. Single producer,
// so the drain/retry pair cannot race with another push.
func (p *Player) pushInbound(msg protocol.Message) {
	for {
		select {
		case p.inbound <- msg:
			return
		default:
		}
		select {
		case <-p.inbound:
			metrics.MessagesDropped.WithLabelValues("inbound").Inc()
		default:
		}
	}
}

func (p *Player) writePump() {
	for {
		// Local notices jump the broadcast queue.
		select {
		case msg := <-p.local:
			if !p.write(msg) {
				return
			}
			continue
		case <-p.done:
			return
		default:
		}

		select {
		case msg := <-p.local:
			if !p.write(msg) {
				return
			}
		case msg := <-p.outbound:
			if !p.write(msg) {
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *Player) write(msg protocol.Message) bool {
	frame, err := protocol.Encode(msg)
	if err != nil {
		slog.Error("encoding outbound message", "player", p.ID, "error", err)
		return true
	}
	if err := p.conn.WriteFrame(frame); err != nil {
		slog.Debug("player write failed", "player", p.ID, "error", err)
		p.conn.Close()
		return false
	}
	metrics.MessagesSent.Inc()
	return true
}

// watchdog force-closes connections that have been silent longer than
// the idle timeout. Heartbeats count as traffic via lastSeen.
func (p *Player) watchdog() {
	ticker := time.NewTicker(p.watchdogPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if p.closed.Load() {
				return
			}
			if p.IdleFor() > p.idleTimeout {
				slog.Info("closing idle connection", "player", p.ID, "idle", p.IdleFor())
				metrics.IdleDisconnects.Inc()
				p.conn.Close()
				return
			}
		}
	}
}

func (p *Player) shutdown() {
	p.doneOnce.Do(func() {
		p.closed.Store(true)
		p.conn.Close()
		close(p.done)
		close(p.inbound)
	})
}
