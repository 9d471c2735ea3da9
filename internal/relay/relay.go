package relay

import (
	"context"

	"github.com/tikotus/funky-server/internal/config"
	"github.com/tikotus/funky-server/internal/transport"
)

// Relay binds the transports to the dispatcher: every accepted
// connection becomes a player session, handshakes, and enters the
// lifecycle stream.
type Relay struct {
	cfg        config.Server
	dispatcher *Dispatcher
}

func New(cfg config.Server) *Relay {
	return &Relay{
		cfg: cfg,
		dispatcher: NewDispatcher(sessionOptions{
			donorActiveWindow: cfg.DonorActiveWindow(),
			syncRetryPeriod:   cfg.SyncRetryPeriod(),
		}),
	}
}

// Run drives the dispatcher until the context ends.
func (r *Relay) Run(ctx context.Context) error {
	return r.dispatcher.Run(ctx)
}

// HandleConn is the transport callback. It blocks for the lifetime of
// the connection, on the per-connection goroutine the transport owns.
func (r *Relay) HandleConn(conn transport.Conn) {
	p := NewPlayer(conn,
		r.cfg.InboundQueueSize,
		r.cfg.OutboundQueueSize,
		r.cfg.IdleTimeout(),
		r.cfg.WatchdogPeriod())
	p.Start()

	if !handshake(p) {
		p.Close()
		return
	}

	r.dispatcher.Offer(p)
	<-p.Done()
	r.dispatcher.Drop(p)
}

// Counts reports active player and session totals.
func (r *Relay) Counts() (players, sessions int64) {
	return r.dispatcher.Counts()
}
