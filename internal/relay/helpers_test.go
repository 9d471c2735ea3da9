package relay

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tikotus/funky-server/internal/protocol"
)

// fakeConn is an in-memory transport.Conn for driving player sessions
// without a network.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return newFakeConnBuf(1024)
}

func newFakeConnBuf(outSize int) *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 1024),
		out:    make(chan []byte, outSize),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case frame := <-c.in:
		return frame, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteFrame(frame []byte) error {
	buf := append([]byte(nil), frame...)
	select {
	case c.out <- buf:
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// push delivers a message as if the client had sent it.
func (c *fakeConn) push(t *testing.T, msg protocol.Message) {
	t.Helper()
	frame, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encoding test message: %v", err)
	}
	c.in <- frame
}

// next returns the next message written to the client, failing the
// test after a timeout.
func (c *fakeConn) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case frame := <-c.out:
		msg, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("decoding written frame %q: %v", frame, err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outbound message")
		return nil
	}
}

// nextMatching discards messages until pred matches.
func (c *fakeConn) nextMatching(t *testing.T, pred func(protocol.Message) bool) protocol.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-c.out:
			msg, err := protocol.Decode(frame)
			if err != nil {
				t.Fatalf("decoding written frame %q: %v", frame, err)
			}
			if pred(msg) {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching outbound message")
			return nil
		}
	}
}

// expectNone asserts that no message matching pred arrives within d.
func (c *fakeConn) expectNone(t *testing.T, d time.Duration, pred func(protocol.Message) bool) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case frame := <-c.out:
			msg, err := protocol.Decode(frame)
			if err != nil {
				t.Fatalf("decoding written frame %q: %v", frame, err)
			}
			if pred(msg) {
				t.Fatalf("unexpected message: %v", msg)
			}
		case <-deadline:
			return
		}
	}
}

func newTestPlayer(conn *fakeConn) *Player {
	p := NewPlayer(conn, 64, 256, 30*time.Second, 10*time.Millisecond)
	p.Start()
	return p
}

func testOptions() sessionOptions {
	return sessionOptions{
		donorActiveWindow: 2 * time.Second,
		syncRetryPeriod:   50 * time.Millisecond,
	}
}

// num extracts an integer field from a decoded JSON message.
func num(t *testing.T, m protocol.Message, key string) int {
	t.Helper()
	v, ok := m[key]
	if !ok {
		t.Fatalf("message %v has no key %q", m, key)
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		t.Fatalf("key %q is %T, not a number", key, v)
		return 0
	}
}

func hasKey(m protocol.Message, key string) bool {
	_, ok := m[key]
	return ok
}
