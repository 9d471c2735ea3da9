package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tikotus/funky-server/internal/protocol"
)

func staleTimestamp() int64 {
	return time.Now().Add(-5 * time.Second).UnixMilli()
}

func TestPickSyncerSkipsIdleDonors(t *testing.T) {
	s := newSession(protocol.GameInfo{GameType: "d", MaxPlayers: 4, StepTime: 0}, testOptions())
	defer s.terminate()

	connA := newFakeConn()
	a := newTestPlayer(connA)
	s.addPlayer(a)
	connA.next(t) // admission

	require.Same(t, a, s.pickSyncer(), "a fresh synced player is the donor")
	assert.True(t, s.donorAvailable())

	a.lastSeen.Store(staleTimestamp())
	assert.Nil(t, s.pickSyncer(), "an idle player cannot donate state")
	assert.False(t, s.donorAvailable(), "non-empty session with only idle players cannot take joiners")

	a.lastSeen.Store(time.Now().UnixMilli())
	require.Same(t, a, s.pickSyncer())
}

func TestDonorAvailableForEmptySession(t *testing.T) {
	s := newSession(protocol.GameInfo{GameType: "d", MaxPlayers: 4, StepTime: 0}, testOptions())
	defer s.terminate()

	assert.True(t, s.donorAvailable(), "the first player needs no donor")
}

func TestMediateRetriesUntilSyncArrives(t *testing.T) {
	s := newSession(protocol.GameInfo{GameType: "d", MaxPlayers: 4, StepTime: 0}, testOptions())
	defer s.terminate()

	connA := newFakeConn()
	a := newTestPlayer(connA)
	s.addPlayer(a)
	connA.next(t) // admission

	connB := newFakeConn()
	s.addPlayer(newTestPlayer(connB))
	connB.next(t) // admission

	// the donor ignores the first announcement; the mediator re-emits
	first := connA.nextMatching(t, isJoinAnnounce)
	assert.Equal(t, a.ID, first[protocol.KeySyncer])
	second := connA.nextMatching(t, isJoinAnnounce)
	assert.Equal(t, a.ID, second[protocol.KeySyncer])

	// once the donor replies, the newcomer is synced and retries stop
	connA.push(t, protocol.Message{"msg": "sync", "snapshot": "s"})
	connB.nextMatching(t, protocol.Message.IsSync)
	connA.expectNone(t, 150*time.Millisecond, isJoinAnnounce)
}

func TestConcurrentJoinersSyncOneAtATime(t *testing.T) {
	s := newSession(protocol.GameInfo{GameType: "d", MaxPlayers: 4, StepTime: 0}, testOptions())
	defer s.terminate()

	connA := newFakeConn()
	a := newTestPlayer(connA)
	s.addPlayer(a)
	connA.next(t) // admission

	connB := newFakeConn()
	s.addPlayer(newTestPlayer(connB))
	connC := newFakeConn()
	s.addPlayer(newTestPlayer(connC))

	connA.nextMatching(t, isJoinAnnounce)
	connA.push(t, protocol.Message{"msg": "sync", "payload": "first"})

	// exactly one newcomer receives the first reply
	got := awaitSyncOn(t, "first", connB, connC)
	other := connB
	if got == connB {
		other = connC
	}

	// let in-flight announces settle, then the next one belongs to the
	// second mediation
	time.Sleep(100 * time.Millisecond)
	for len(connA.out) > 0 {
		<-connA.out
	}
	connA.nextMatching(t, isJoinAnnounce)
	connA.push(t, protocol.Message{"msg": "sync", "payload": "second"})

	syncMsg := other.nextMatching(t, protocol.Message.IsSync)
	assert.Equal(t, "second", syncMsg["payload"])
	got.expectNone(t, 150*time.Millisecond, protocol.Message.IsSync)
}

// awaitSyncOn waits for a sync reply on exactly one of the given conns
// and returns the conn that received it.
func awaitSyncOn(t *testing.T, payload string, conns ...*fakeConn) *fakeConn {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, c := range conns {
			select {
			case frame := <-c.out:
				msg, err := protocol.Decode(frame)
				require.NoError(t, err)
				if msg.IsSync() {
					assert.Equal(t, payload, msg["payload"])
					return c
				}
			default:
			}
		}
		select {
		case <-deadline:
			t.Fatal("no newcomer received the sync reply")
			return nil
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestMediateStopsWhenNewcomerLeaves(t *testing.T) {
	s := newSession(protocol.GameInfo{GameType: "d", MaxPlayers: 4, StepTime: 0}, testOptions())
	defer s.terminate()

	connA := newFakeConn()
	s.addPlayer(newTestPlayer(connA))
	connA.next(t) // admission

	connB := newFakeConn()
	b := newTestPlayer(connB)
	s.addPlayer(b)

	connA.nextMatching(t, isJoinAnnounce)
	b.Close()
	s.removePlayer(b.ID)

	// drain any announce already in flight, then expect silence
	time.Sleep(100 * time.Millisecond)
	for len(connA.out) > 0 {
		<-connA.out
	}
	connA.expectNone(t, 150*time.Millisecond, isJoinAnnounce)
}
