package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tikotus/funky-server/internal/metrics"
)

// TCPServer accepts newline-framed JSON connections.
type TCPServer struct {
	handler Handler

	mu       sync.Mutex
	listener net.Listener
}

func NewTCPServer(handler Handler) *TCPServer {
	return &TCPServer{handler: handler}
}

// Addr returns the listen address, or nil before Run.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens on addr and accepts until the context is cancelled.
func (s *TCPServer) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve accepts connections from the given listener. Used directly by
// tests with ephemeral listeners.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("tcp listener started", "address", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("failed to accept tcp connection", "error", err)
			metrics.ConnectionErrors.Inc()
			continue
		}

		// Detect dead connections below the application watchdog
		if tc, ok := conn.(*net.TCPConn); ok {
			if err := tc.SetKeepAlive(true); err != nil {
				slog.Warn("set keepalive failed", "error", err)
			}
			if err := tc.SetKeepAlivePeriod(30 * time.Second); err != nil {
				slog.Warn("set keepalive period failed", "error", err)
			}
		}

		metrics.TotalConnections.WithLabelValues("tcp").Inc()
		go func() {
			metrics.ActiveConnections.WithLabelValues("tcp").Inc()
			defer metrics.ActiveConnections.WithLabelValues("tcp").Dec()
			s.handler(newTCPConn(conn))
		}()
	}
}

type tcpConn struct {
	conn    net.Conn
	r       *bufio.Reader
	writeMu sync.Mutex
}

func newTCPConn(conn net.Conn) *tcpConn {
	return &tcpConn{conn: conn, r: bufio.NewReader(conn)}
}

var errFrameTooLarge = errors.New("frame exceeds size limit")

// ReadFrame returns the next LF-delimited line, blank lines skipped.
// Lines longer than maxFrameSize are a framing error: the line is
// discarded and the stream stays open.
func (c *tcpConn) ReadFrame() ([]byte, error) {
	for {
		line, err := c.readLine()
		if err == errFrameTooLarge {
			slog.Warn("discarding oversized frame", "remote", c.RemoteAddr(), "limit", maxFrameSize)
			metrics.FramingErrors.Inc()
			continue
		}
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
				// final unterminated line still counts as a frame
				return bytes.TrimRight(line, "\r\n"), nil
			}
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

// readLine accumulates buffered chunks up to the next LF, bounding the
// total at maxFrameSize so a client cannot grow server memory with one
// endless line. On overflow the remainder of the line is drained from
// the reader before errFrameTooLarge is reported.
func (c *tcpConn) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxFrameSize {
			if err == bufio.ErrBufferFull {
				if derr := c.discardLine(); derr != nil {
					return nil, derr
				}
			}
			return nil, errFrameTooLarge
		}
		switch err {
		case nil:
			return buf, nil
		case bufio.ErrBufferFull:
			continue
		default:
			return buf, err
		}
	}
}

func (c *tcpConn) discardLine() error {
	for {
		_, err := c.r.ReadSlice('\n')
		switch err {
		case nil:
			return nil
		case bufio.ErrBufferFull:
			continue
		default:
			return err
		}
	}
}

func (c *tcpConn) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

func (c *tcpConn) Close() error { return c.conn.Close() }

func (c *tcpConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }
