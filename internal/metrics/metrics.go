package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_active_connections",
		Help: "Number of active client connections by transport",
	}, []string{"transport"})

	TotalConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_connections_total",
		Help: "Total number of client connections established by transport",
	}, []string{"transport"})

	ConnectionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_connection_errors_total",
		Help: "Total number of failed connection attempts",
	})

	IdleDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_idle_disconnects_total",
		Help: "Total number of connections closed by the idle watchdog",
	})

	// Message metrics
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_received_total",
		Help: "Total number of messages decoded from clients",
	})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_sent_total",
		Help: "Total number of messages written to clients",
	})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_dropped_total",
		Help: "Total number of messages dropped by queue overflow policy",
	}, []string{"queue"})

	FramingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_framing_errors_total",
		Help: "Total number of inbound frames dropped as malformed JSON",
	})

	// Session metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_sessions",
		Help: "Number of active game sessions",
	})

	TotalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_total",
		Help: "Total number of game sessions created",
	})

	PlayersPerSession = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_players_per_session",
		Help:    "Number of players in a session at admission time",
		Buckets: []float64{1, 2, 3, 4, 5, 10, 20, 50},
	})

	// Lockstep metrics
	TicksEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_lock_ticks_total",
		Help: "Total number of lock ticks emitted across all sessions",
	})

	SyncRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sync_requests_total",
		Help: "Total number of late-join sync mediations started",
	})

	SyncCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sync_completed_total",
		Help: "Total number of late-join sync mediations completed",
	})
)
