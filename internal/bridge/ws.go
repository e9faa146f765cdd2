package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/bus"
	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingInterval   = 54 * time.Second
	wsSendBuffer     = 64
	wsMaxMessageSize = 1024
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The ops port sits behind the operator's own network controls.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsMessage is the envelope every hub broadcast travels in
type wsMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WSHub fans live events out to connected ops clients. Slow clients are
// dropped rather than allowed to apply backpressure.
type WSHub struct {
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	clients    map[*wsClient]struct{}
	log        zerolog.Logger
}

func NewWSHub(logger zerolog.Logger) *WSHub {
	return &WSHub{
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 256),
		clients:    make(map[*wsClient]struct{}),
		log:        logger,
	}
}

// Run owns the client set; all membership changes go through its channels
func (h *WSHub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
			}
			return ctx.Err()
		case client := <-h.register:
			h.clients[client] = struct{}{}
			metrics.UpdateWSClients(len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.UpdateWSClients(len(h.clients))
			}
		case message := <-h.broadcast:
			metrics.RecordWSBroadcast()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Buffer full: the client is not keeping up.
					delete(h.clients, client)
					close(client.send)
					metrics.UpdateWSClients(len(h.clients))
				}
			}
		}
	}
}

func (h *WSHub) send(msgType string, payload interface{}) {
	data, err := json.Marshal(wsMessage{Type: msgType, Payload: payload})
	if err != nil {
		h.log.Error().Err(err).Str("type", msgType).Msg("Failed to marshal websocket message")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn().Str("type", msgType).Msg("Websocket broadcast buffer full, dropping message")
	}
}

// BroadcastDecision pushes one gating decision to the live stream
func (h *WSHub) BroadcastDecision(d *db.AIDecision) {
	h.send("decision", d)
}

// HandleBusEvent forwards a bus event to the live stream; subscribe it to
// the subjects the dashboard cares about.
func (h *WSHub) HandleBusEvent(evt *bus.Event) {
	h.send("event", evt)
}

// Serve upgrades one ops client connection
func (h *WSHub) Serve(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("client_ip", c.ClientIP()).Msg("Websocket upgrade failed")
		return
	}

	client := &wsClient{hub: h, conn: conn, send: make(chan []byte, wsSendBuffer)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

type wsClient struct {
	hub  *WSHub
	conn *websocket.Conn
	send chan []byte
}

// readPump discards client messages; the stream is one-way. It exists to
// process pongs and notice the close.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
