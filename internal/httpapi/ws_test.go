package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ocx/accessd/internal/model"
)

func TestWebSocketFeedBroadcastsTransactions(t *testing.T) {
	s, _, sessions, _, _, _, _ := newTestServer()
	router := s.NewRouter()

	srv := httptest.NewServer(router)
	defer srv.Close()

	token, err := sessions.Login(sessions.username, sessions.password)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transactions?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server goroutine a moment to register the connection with
	// the hub before the broadcast; the handshake response races the
	// hub.add() call on the server side.
	time.Sleep(50 * time.Millisecond)

	tx := model.Transaction{Name: "Ada", Card: "0001", Reader: 1, Status: model.StatusGranted, Timestamp: 1700000000}
	s.BroadcastTransaction(tx)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "Ada")
	require.Contains(t, string(data), `"card":"0001"`)
}

func TestWebSocketFeedRejectsUnauthenticated(t *testing.T) {
	s, _, _, _, _, _, _ := newTestServer()
	router := s.NewRouter()

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transactions"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		require.Equal(t, 401, resp.StatusCode)
	}
}
