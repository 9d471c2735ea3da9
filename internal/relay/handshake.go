package relay

import (
	"log/slog"

	"github.com/tikotus/funky-server/internal/protocol"
)

// handshake greets the player with its assigned UUID and waits for the
// game selection. Messages without the full gameType/maxPlayers/
// stepTime triple are silently dropped; the player is in no session
// yet, so there is nowhere to forward them. Returns false when the
// connection closes before a valid selection arrives.
func handshake(p *Player) bool {
	p.Send(protocol.Welcome(p.ID))

	for msg := range p.Inbound() {
		info, ok := msg.GameInfo()
		if !ok {
			continue
		}
		p.info = info
		slog.Debug("handshake complete",
			"player", p.ID,
			"game_type", info.GameType,
			"max_players", info.MaxPlayers,
			"step_time", info.StepTime)
		return true
	}
	return false
}
