package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the relay server.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	TCPPort     int    `yaml:"tcp_port"`
	WSPort      int    `yaml:"ws_port"`
	EchoPort    int    `yaml:"echo_port"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Player session
	IdleTimeoutMS     int `yaml:"idle_timeout_ms"`    // silent client cutoff
	WatchdogPeriodMS  int `yaml:"watchdog_period_ms"` // idle check interval
	InboundQueueSize  int `yaml:"inbound_queue_size"`
	OutboundQueueSize int `yaml:"outbound_queue_size"`

	// Sync mediation
	DonorActiveWindowMS int `yaml:"donor_active_window_ms"` // max last-seen age for a sync donor
	SyncRetryPeriodMS   int `yaml:"sync_retry_period_ms"`   // join-announce re-emit interval
}

// Default returns a Server config with the standard ports and timeouts.
func Default() Server {
	return Server{
		BindAddress:         "0.0.0.0",
		TCPPort:             9121,
		WSPort:              9122,
		EchoPort:            9120,
		LogLevel:            "info",
		IdleTimeoutMS:       30_000,
		WatchdogPeriodMS:    1_000,
		InboundQueueSize:    64,
		OutboundQueueSize:   256,
		DonorActiveWindowMS: 2_000,
		SyncRetryPeriodMS:   2_000,
	}
}

// Load reads the config file at path and applies environment overrides.
// A missing file is not an error; defaults apply.
func Load(path string) (Server, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.IdleTimeoutMS <= 0 {
		return cfg, fmt.Errorf("idle_timeout_ms must be positive, got %d", cfg.IdleTimeoutMS)
	}
	if cfg.InboundQueueSize <= 0 || cfg.OutboundQueueSize <= 0 {
		return cfg, fmt.Errorf("queue sizes must be positive")
	}

	return cfg, nil
}

func applyEnv(cfg *Server) {
	if v := os.Getenv("FUNKY_TCP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.TCPPort = p
		}
	}
	if v := os.Getenv("FUNKY_WS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.WSPort = p
		}
	}
	if v := os.Getenv("FUNKY_ECHO_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.EchoPort = p
		}
	}
	if v := os.Getenv("FUNKY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func (c Server) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

func (c Server) WatchdogPeriod() time.Duration {
	return time.Duration(c.WatchdogPeriodMS) * time.Millisecond
}

func (c Server) DonorActiveWindow() time.Duration {
	return time.Duration(c.DonorActiveWindowMS) * time.Millisecond
}

func (c Server) SyncRetryPeriod() time.Duration {
	return time.Duration(c.SyncRetryPeriodMS) * time.Millisecond
}

func (c Server) TCPAddr() string { return fmt.Sprintf("%s:%d", c.BindAddress, c.TCPPort) }

func (c Server) WSAddr() string { return fmt.Sprintf("%s:%d", c.BindAddress, c.WSPort) }

func (c Server) EchoAddr() string { return fmt.Sprintf("%s:%d", c.BindAddress, c.EchoPort) }
