package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tikotus/funky-server/internal/config"
	"github.com/tikotus/funky-server/internal/relay"
	"github.com/tikotus/funky-server/internal/transport"
)

const defaultConfigPath = "config.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := defaultConfigPath
	if p := os.Getenv("FUNKY_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("funky server starting",
		"tcp", cfg.TCPAddr(),
		"ws", cfg.WSAddr(),
		"echo", cfg.EchoAddr())

	r := relay.New(cfg)

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.NewWSHandler(r.HandleConn))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler(r))

	httpServer := &http.Server{Addr: cfg.WSAddr(), Handler: mux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.Run(gctx)
	})
	g.Go(func() error {
		return transport.NewTCPServer(r.HandleConn).Run(gctx, cfg.TCPAddr())
	})
	g.Go(func() error {
		return transport.NewEchoServer().Run(gctx, cfg.EchoAddr())
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("websocket listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func healthHandler(r *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		players, sessions := r.Counts()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "healthy",
			"players":  players,
			"sessions": sessions,
		})
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
