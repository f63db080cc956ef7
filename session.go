package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	sendBuffer = 32

	// A peer that answers no ping within pongWait is treated as gone.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan any
	closeOnce sync.Once
}

// close stops the write pump once queued messages are flushed; the pump
// then closes the connection, which ends the read pump.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub tracks live connections by socket id and routes their events to the
// room manager. It is the manager's Transport.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	rooms  *RoomManager
	logger *log.Logger
}

func newHub(logger *log.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.WithPrefix("ws"),
	}
}

// Send queues msg for the socket. A client whose buffer is full is dropped.
func (h *Hub) Send(socketID string, msg any) {
	h.mu.RLock()
	c, ok := h.clients[socketID]
	sent := true
	if ok {
		select {
		case c.send <- msg:
		default:
			sent = false
		}
	}
	h.mu.RUnlock()

	if !sent {
		h.logger.Warn("send buffer full, dropping", "socket", socketID)
		h.Close(socketID)
	}
}

func (h *Hub) Close(socketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[socketID]; ok {
		delete(h.clients, socketID)
		c.close()
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

// dispatch runs one client event. Errors go back to the sender only, and
// ignored requests get no answer at all.
func (h *Hub) dispatch(c *Client, msg ClientMessage) {
	var err error

	switch msg.Type {
	case msgHostJoin:
		err = h.rooms.HostJoin(msg.RoomID, c.id)
	case msgPlayerJoin:
		err = h.rooms.PlayerJoin(msg.RoomID, msg.Name, c.id)
	case msgResume:
		if err := h.rooms.Resume(msg.RoomID, msg.PlayerID, msg.Secret, c.id); err != nil {
			h.Send(c.id, ResumeFailMessage{Type: "resume_fail", Reason: errorCode(err)})
		}
		return
	case msgGameStart:
		err = h.rooms.StartGame(msg.RoomID, msg.TemplateID, c.id)
	case msgGiveToActive:
		err = h.rooms.GiveToActive(msg.RoomID, msg.PlayerID, msg.Secret, c.id, msg.Types)
	case msgEndTurn:
		err = h.rooms.EndTurn(msg.RoomID, msg.PlayerID, msg.Secret, c.id)
	case msgRemovePlayer:
		err = h.rooms.RemovePlayer(msg.RoomID, msg.PlayerID, c.id)
	case msgGameNew:
		err = h.rooms.NewGame(msg.RoomID, msg.TemplateID, c.id)
	case msgClientLog:
		h.logger.Info("client_socket", "socket", c.id, "payload", string(msg.Payload))
	default:
		// ignore unknown types
	}

	if err == nil || errors.Is(err, errIgnored) {
		return
	}

	h.logger.Debug("rejected", "type", msg.Type, "room", msg.RoomID, "socket", c.id, "err", err)
	h.Send(c.id, errorMessage(err))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(h *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("upgrade error", "err", err)
			return
		}

		client := &Client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan any, sendBuffer),
		}
		h.register(client)

		h.logger.Info("socket_connection", "socket", client.id, "ip", realIP(r), "ua", r.UserAgent())

		go client.writePump()
		client.readPump(h)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.Close(c.id)
		h.rooms.Disconnect(c.id)
		h.logger.Info("socket_disconnect", "socket", c.id)
	}()

	c.conn.SetReadLimit(maxJSONBody)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("read error", "socket", c.id, "err", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("bad message", "socket", c.id, "err", err)
			continue
		}

		h.dispatch(c, msg)
	}
}

// writePump drains the send queue and keeps the peer alive with pings. When
// the queue is closed it says goodbye and drops the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
