package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// EchoServer is the auxiliary line-echo endpoint (default port 9120).
// It is a connectivity probe, not part of the relay protocol.
type EchoServer struct{}

func NewEchoServer() *EchoServer {
	return &EchoServer{}
}

// Run listens on addr and echoes frames back until the context ends.
func (s *EchoServer) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *EchoServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("echo listener started", "address", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("failed to accept echo connection", "error", err)
			continue
		}

		go func() {
			defer conn.Close()
			c := newTCPConn(conn)
			for {
				frame, err := c.ReadFrame()
				if err != nil {
					return
				}
				if err := c.WriteFrame(frame); err != nil {
					return
				}
			}
		}()
	}
}
