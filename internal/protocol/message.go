// Package protocol defines the wire vocabulary of the relay.
//
// Payloads are opaque JSON objects; the server only recognizes a small
// reserved set of keys and msg values used for routing and stamping.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reserved keys.
const (
	KeyMsg          = "msg"
	KeyLock         = "lock"
	KeyStep         = "step"
	KeyPlayerID     = "playerId"
	KeyJoin         = "join"
	KeyNewGame      = "newGame"
	KeySeed         = "seed"
	KeySyncer       = "syncer"
	KeyID           = "id"
	KeyDisconnected = "disconnected"
)

// Reserved msg values.
const (
	MsgSync    = "sync"
	MsgAlive   = "alive"
	MsgJoin    = "join"
	MsgWelcome = "Welcome!"
)

// Topic partitions the session's outbound stream for per-player filtering.
type Topic int

const (
	TopicLock Topic = iota
	TopicSync
	TopicJoin
	TopicOther
)

func (t Topic) String() string {
	switch t {
	case TopicLock:
		return "lock"
	case TopicSync:
		return "sync"
	case TopicJoin:
		return "join"
	default:
		return "other"
	}
}

// Message is a decoded client or server JSON object.
type Message map[string]any

// Decode parses a single frame into a Message.
// Anything that is not a JSON object is a framing error.
func Decode(frame []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("decoding frame: null object")
	}
	return m, nil
}

// Encode serializes the message for the wire.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return data, nil
}

// Msg returns the value of the reserved "msg" key, or "".
func (m Message) Msg() string {
	s, _ := m[KeyMsg].(string)
	return s
}

func (m Message) IsSync() bool { return m.Msg() == MsgSync }

func (m Message) IsAlive() bool { return m.Msg() == MsgAlive }

// Topic classifies the message for the session's outbound publication.
func (m Message) Topic() Topic {
	if _, ok := m[KeyLock]; ok {
		return TopicLock
	}
	switch m.Msg() {
	case MsgSync:
		return TopicSync
	case MsgJoin:
		return TopicJoin
	default:
		return TopicOther
	}
}

// StampPlayer sets the sender's session slot, overriding any
// client-supplied value.
func (m Message) StampPlayer(slot int) {
	m[KeyPlayerID] = slot
}

// StampStep annotates the message with the session step it belongs to.
func (m Message) StampStep(step int64) {
	m[KeyStep] = step
}

// GameInfo is the session selection declared during handshake.
type GameInfo struct {
	GameType   string
	MaxPlayers int
	StepTime   time.Duration
}

// Stepless reports whether sessions of this kind run without a ticker.
func (g GameInfo) Stepless() bool { return g.StepTime == 0 }

// GameInfo extracts the handshake triple from the message. Both the
// camelCase and the kebab-case key spellings are accepted. ok is false
// when any of the three keys is missing or invalid; such messages are
// not a handshake.
func (m Message) GameInfo() (GameInfo, bool) {
	gameType, ok := stringKey(m, "gameType", "game-type")
	if !ok || gameType == "" {
		return GameInfo{}, false
	}
	maxPlayers, ok := intKey(m, "maxPlayers", "max-players")
	if !ok || maxPlayers <= 0 {
		return GameInfo{}, false
	}
	stepTime, ok := intKey(m, "stepTime", "step-time")
	if !ok || stepTime < 0 {
		return GameInfo{}, false
	}
	return GameInfo{
		GameType:   gameType,
		MaxPlayers: maxPlayers,
		StepTime:   time.Duration(stepTime) * time.Millisecond,
	}, true
}

func stringKey(m Message, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

func intKey(m Message, keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n), true
		case int:
			return n, true
		case int64:
			return int(n), true
		case json.Number:
			i, err := n.Int64()
			return int(i), err == nil
		default:
			return 0, false
		}
	}
	return 0, false
}
