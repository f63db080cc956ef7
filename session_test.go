package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, s *testServer) *wsClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(msg ClientMessage) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

// await reads until a message of the given type arrives and returns it raw.
func (c *wsClient) await(want string) map[string]any {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]any
		require.NoError(c.t, c.conn.ReadJSON(&msg), "waiting for %s", want)
		if msg["type"] == want {
			return msg
		}
	}
}

func TestSocketGameFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.createRoom(t)

	host := dial(t, s)
	host.send(ClientMessage{Type: msgHostJoin, RoomID: strings.ToLower(id)})
	state := host.await("room_state")
	assert.Equal(t, id, state["snapshot"].(map[string]any)["roomId"])

	ann := dial(t, s)
	ann.send(ClientMessage{Type: msgPlayerJoin, RoomID: id, Name: "Ann"})
	annJoin := ann.await("joined")

	bob := dial(t, s)
	bob.send(ClientMessage{Type: msgPlayerJoin, RoomID: id, Name: "Bob"})
	bob.await("joined")

	host.send(ClientMessage{Type: msgGameStart, RoomID: id, TemplateID: "missing"})
	assert.Equal(t, "template_not_found", host.await("error_msg")["error"])

	ann.send(ClientMessage{Type: msgGameStart, RoomID: id, TemplateID: "missing"})
	assert.Equal(t, "not_host", ann.await("error_msg")["error"])

	tpl, _, err := s.templates.Create("Pets", bytes.NewReader(pngBytes(t, 30, 30)))
	require.NoError(t, err)

	host.send(ClientMessage{Type: msgGameStart, RoomID: id, TemplateID: tpl.ID})
	started := host.await("game_started")
	spinner := started["spinner"].(map[string]any)
	assert.GreaterOrEqual(t, spinner["durationMs"], 2400.0)

	ann.await("game_started")
	snap := ann.await("room_state")["snapshot"].(map[string]any)
	assert.Equal(t, "active", snap["phase"])
	assert.Contains(t, snap, "me")
	for _, p := range snap["players"].([]any) {
		assert.NotContains(t, p.(map[string]any), "hand")
	}

	annID := annJoin["playerId"].(string)
	annSecret := annJoin["secret"].(string)

	t.Run("bad resume is refused", func(t *testing.T) {
		thief := dial(t, s)
		thief.send(ClientMessage{Type: msgResume, RoomID: id, PlayerID: annID, Secret: "guess"})
		assert.Equal(t, "bad_secret", thief.await("resume_fail")["reason"])
	})

	t.Run("resume evicts the old socket", func(t *testing.T) {
		again := dial(t, s)
		again.send(ClientMessage{Type: msgResume, RoomID: id, PlayerID: annID, Secret: annSecret})
		ok := again.await("resume_ok")
		assert.Equal(t, annID, ok["snapshot"].(map[string]any)["me"].(map[string]any)["id"])

		ann.await("evicted")

		_, _, err := ann.conn.ReadMessage()
		assert.Error(t, err, "evicted socket is closed")
	})
}

func TestSocketUnknownRoom(t *testing.T) {
	s := newTestServer(t)

	c := dial(t, s)
	c.send(ClientMessage{Type: msgPlayerJoin, RoomID: "NOPE00", Name: "Ann"})
	assert.Equal(t, "room_not_found", c.await("error_msg")["error"])
}

func TestSocketIgnoresJunk(t *testing.T) {
	s := newTestServer(t)
	id := s.createRoom(t)

	c := dial(t, s)
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	c.send(ClientMessage{Type: "mystery", RoomID: id})
	c.send(ClientMessage{Type: msgEndTurn, RoomID: id, PlayerID: "ghost", Secret: "x"})
	c.send(ClientMessage{Type: msgClientLog, Payload: json.RawMessage(`{"hello":1}`)})

	// The connection survives and still answers.
	c.send(ClientMessage{Type: msgHostJoin, RoomID: id})
	c.await("room_state")
}

func TestSocketDisconnectMarksOffline(t *testing.T) {
	s := newTestServer(t)
	id := s.createRoom(t)

	host := dial(t, s)
	host.send(ClientMessage{Type: msgHostJoin, RoomID: id})
	host.await("room_state")

	ann := dial(t, s)
	ann.send(ClientMessage{Type: msgPlayerJoin, RoomID: id, Name: "Ann"})
	ann.await("joined")

	online := host.await("room_state")["snapshot"].(map[string]any)["players"].([]any)[0].(map[string]any)
	assert.Equal(t, true, online["online"])

	require.NoError(t, ann.conn.Close())

	offline := host.await("room_state")["snapshot"].(map[string]any)["players"].([]any)[0].(map[string]any)
	assert.Equal(t, false, offline["online"])
}

func TestSocketOversizedMessageCloses(t *testing.T) {
	s := newTestServer(t)
	c := dial(t, s)

	big := `{"type":"client_log","payload":"` + strings.Repeat("x", maxJSONBody) + `"}`
	require.NoError(t, c.conn.SetWriteDeadline(time.Now().Add(5*time.Second)))
	_ = c.conn.WriteMessage(websocket.TextMessage, []byte(big))

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := c.conn.ReadMessage()
	require.Error(t, err)

	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "server should drop the socket, not leave it hanging")
	}
}

func TestSocketGiveAcceptsStringTypes(t *testing.T) {
	s := newTestServer(t)
	id := s.createRoom(t)

	host := dial(t, s)
	host.send(ClientMessage{Type: msgHostJoin, RoomID: id})
	host.await("room_state")

	ann := dial(t, s)
	ann.send(ClientMessage{Type: msgPlayerJoin, RoomID: id, Name: "Ann"})
	annJoin := ann.await("joined")

	bob := dial(t, s)
	bob.send(ClientMessage{Type: msgPlayerJoin, RoomID: id, Name: "Bob"})
	bobJoin := bob.await("joined")

	tpl, _, err := s.templates.Create("Pets", bytes.NewReader(pngBytes(t, 30, 30)))
	require.NoError(t, err)
	host.send(ClientMessage{Type: msgGameStart, RoomID: id, TemplateID: tpl.ID})
	snap := host.await("room_state")["snapshot"].(map[string]any)
	for snap["phase"] != "active" {
		snap = host.await("room_state")["snapshot"].(map[string]any)
	}

	giver, giverConn := annJoin, ann
	if snap["activePlayerId"] == annJoin["playerId"] {
		giver, giverConn = bobJoin, bob
	}

	giverID := giver["playerId"].(string)
	held := func() int {
		r, err := s.rooms.lockRoom(id)
		if err != nil {
			return -1
		}
		defer r.mu.Unlock()
		return r.Players[giverID].Hand.total()
	}
	if held() == 0 {
		t.Skip("giver was dealt a completed set and holds nothing")
	}

	raw := `{"type":"give_to_active","roomId":"` + id + `","playerId":"` + giverID +
		`","secret":"` + giver["secret"].(string) + `","types":["0","1","2","3","4","5","6","7","8"]}`
	require.NoError(t, giverConn.conn.WriteMessage(websocket.TextMessage, []byte(raw)))

	assert.Eventually(t, func() bool { return held() == 0 }, 5*time.Second, 10*time.Millisecond)
}
