package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSRejectsMissingSubprotocol(t *testing.T) {
	srv := httptest.NewServer(NewWSHandler(func(Conn) {}))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWSEchoWithBinarySubprotocol(t *testing.T) {
	srv := httptest.NewServer(NewWSHandler(func(c Conn) {
		for {
			frame, err := c.ReadFrame()
			if err != nil {
				return
			}
			if err := c.WriteFrame(frame); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	conn, _, err := dialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, Subprotocol, conn.Subprotocol())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"ping":1}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"ping":1}`, string(data))
}

func TestOffersSubprotocol(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.False(t, offersSubprotocol(r, "binary"))

	r.Header.Set("Sec-Websocket-Protocol", "chat, binary")
	assert.True(t, offersSubprotocol(r, "binary"))
	assert.False(t, offersSubprotocol(r, "other"))
}
