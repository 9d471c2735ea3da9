package relay

import (
	"sync"

	"github.com/tikotus/funky-server/internal/protocol"
)

// pub is the session's topic-partitioned publication point. Messages
// are classified into the finite topic set {lock, sync, join, other}
// and delivered to every subscription holding that topic.
//
// Delivery never blocks the publisher: player subscriptions inherit
// the player's drop-newest outbound policy, taps keep only the latest
// message (sliding buffer of one).
type pub struct {
	mu   sync.Mutex
	subs []*subscription
}

type subscription struct {
	topics  map[protocol.Topic]struct{}
	player  *Player               // player-backed delivery, or
	tap     chan protocol.Message // sliding-1 tap
}

func newPub() *pub {
	return &pub{}
}

// subscribePlayer routes the given topics into the player's outbound
// queue.
func (p *pub) subscribePlayer(pl *Player, topics ...protocol.Topic) *subscription {
	sub := &subscription{topics: topicSet(topics), player: pl}
	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()
	return sub
}

// subscribeTap returns a sliding-buffer-of-1 subscription, used by the
// sync mediator.
func (p *pub) subscribeTap(topics ...protocol.Topic) *subscription {
	sub := &subscription{topics: topicSet(topics), tap: make(chan protocol.Message, 1)}
	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()
	return sub
}

func (p *pub) unsubscribe(sub *subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subs {
		if s == sub {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

// publish classifies the message and delivers it to every matching
// subscription. Serialized by the mutex, so all subscribers observe
// emissions in identical order.
func (p *pub) publish(msg protocol.Message) {
	topic := msg.Topic()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subs {
		if _, ok := sub.topics[topic]; !ok {
			continue
		}
		if sub.player != nil {
			sub.player.Send(msg)
			continue
		}
		// sliding buffer of one: the latest message wins
		select {
		case sub.tap <- msg:
		default:
			select {
			case <-sub.tap:
			default:
			}
			select {
			case sub.tap <- msg:
			default:
			}
		}
	}
}

func (s *subscription) C() <-chan protocol.Message { return s.tap }

func topicSet(topics []protocol.Topic) map[protocol.Topic]struct{} {
	set := make(map[protocol.Topic]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	return set
}
