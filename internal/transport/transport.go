// Package transport accepts client connections over line-delimited TCP
// and WebSocket and exposes each one as a duplex stream of byte frames.
package transport

import "time"

// Conn is a bidirectional frame stream for a single client. One frame
// carries exactly one JSON object; framing is transport-specific
// (LF-delimited lines for TCP, one message per WebSocket frame).
type Conn interface {
	// ReadFrame blocks until the next frame or a terminal error.
	ReadFrame() ([]byte, error)
	// WriteFrame sends one frame. Any error is terminal for the Conn.
	WriteFrame([]byte) error
	Close() error
	RemoteAddr() string
}

// Handler consumes an accepted connection. It is invoked on a dedicated
// goroutine and owns the Conn for its lifetime.
type Handler func(Conn)

const (
	writeTimeout = 10 * time.Second

	// Upper bound for a single inbound frame. Oversized lines are a
	// framing error, not a connection error.
	maxFrameSize = 1 << 20
)
