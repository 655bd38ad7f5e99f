package chathub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"emberchat/backend/internal/storage"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// Room for a 500-character message plus JSON framing.
	maxFrameSize = 4096
)

// Command is one inbound frame from the browser.
type Command struct {
	Type    string `json:"type"`
	Mode    string `json:"mode,omitempty"`
	Content string `json:"content,omitempty"`
	Gender  string `json:"gender,omitempty"`
}

// WebSocketClient drives a Controller from a browser connection. Outbound
// ClientEvents are written as JSON frames; inbound frames are decoded into
// Commands and dispatched to the controller.
type WebSocketClient struct {
	anonID string
	conn   *websocket.Conn
	hub    *Hub
	ctrl   *Controller

	Send chan ClientEvent

	closeOnce sync.Once
}

func NewWebSocketClient(anonID string, conn *websocket.Conn, hub *Hub, store storage.Store, opts Options) *WebSocketClient {
	c := &WebSocketClient{
		anonID: anonID,
		conn:   conn,
		hub:    hub,
		Send:   make(chan ClientEvent, 64),
	}
	c.ctrl = NewController(anonID, store, opts, c.Send)
	return c
}

func (c *WebSocketClient) AnonID() string          { return c.anonID }
func (c *WebSocketClient) Controller() *Controller { return c.ctrl }

// Run starts the read and write pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close shuts the connection down; the read pump's error path completes the
// unregister and controller teardown.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ctrl.Shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error reading message from %s: %v", c.anonID, err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			log.Printf("error decoding command from %s: %v", c.anonID, err)
			continue
		}
		c.dispatch(cmd)
	}
}

func (c *WebSocketClient) dispatch(cmd Command) {
	switch cmd.Type {
	case "start":
		c.ctrl.StartChat()
	case "join":
		c.ctrl.JoinQueue(cmd.Mode)
	case "cancel":
		c.ctrl.Cancel()
	case "message":
		c.ctrl.Send(cmd.Content)
	case "typing":
		c.ctrl.Typing()
	case "skip":
		c.ctrl.Skip()
	case "report":
		c.ctrl.ReportPeer()
	case "feedback":
		c.ctrl.SubmitFeedback(cmd.Gender)
	case "new_chat":
		c.ctrl.NewChat()
	default:
		log.Printf("unknown command %q from %s", cmd.Type, c.anonID)
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("error encoding event for %s: %v", c.anonID, err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
