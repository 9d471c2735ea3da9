package transport

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tikotus/funky-server/internal/metrics"
)

// Subprotocol clients must offer during the upgrade.
const Subprotocol = "binary"

var upgrader = websocket.Upgrader{
	Subprotocols: []string{Subprotocol},
	CheckOrigin: func(r *http.Request) bool {
		return true // game clients connect from anywhere
	},
}

// NewWSHandler returns the /ws upgrade handler. Upgrades that do not
// negotiate the "binary" subprotocol are rejected with 400.
func NewWSHandler(handler Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !offersSubprotocol(r, Subprotocol) {
			metrics.ConnectionErrors.Inc()
			http.Error(w, "unsupported websocket subprotocol", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response
			slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			metrics.ConnectionErrors.Inc()
			return
		}
		conn.SetReadLimit(maxFrameSize)

		metrics.TotalConnections.WithLabelValues("ws").Inc()
		metrics.ActiveConnections.WithLabelValues("ws").Inc()
		defer metrics.ActiveConnections.WithLabelValues("ws").Dec()

		handler(&wsConn{conn: conn})
	}
}

func offersSubprotocol(r *http.Request, want string) bool {
	for _, header := range r.Header["Sec-Websocket-Protocol"] {
		for _, proto := range strings.Split(header, ",") {
			if strings.TrimSpace(proto) == want {
				return true
			}
		}
	}
	return false
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// ReadFrame returns the payload of the next text or binary frame.
func (c *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading websocket frame: %w", err)
	}
	return data, nil
}

func (c *wsConn) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("writing websocket frame: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error { return c.conn.Close() }

func (c *wsConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }
