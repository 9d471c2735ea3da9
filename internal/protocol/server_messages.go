package protocol

// Welcome is the handshake ack carrying the server-assigned player UUID.
func Welcome(id string) Message {
	return Message{KeyMsg: MsgWelcome, KeyID: id}
}

// Admission tells a player it has been placed in a session. newGame
// means the session was created for this player and sync is skipped.
// The seed is communicated exactly once, here.
func Admission(newGame bool, slot int, seed int64) Message {
	return Message{
		KeyJoin:     true,
		KeyNewGame:  newGame,
		KeyPlayerID: slot,
		KeySeed:     seed,
	}
}

// Lock is the tick barrier closing the given step.
func Lock(step int64) Message {
	return Message{KeyLock: step}
}

// JoinAnnounce asks the named syncer to produce a sync payload for a
// newly admitted player. The step stamp is added by the ticker.
func JoinAnnounce(syncer string) Message {
	return Message{KeyMsg: MsgJoin, KeySyncer: syncer}
}

// Disconnected is the peer departure notice.
func Disconnected(slot int) Message {
	return Message{KeyDisconnected: slot}
}
