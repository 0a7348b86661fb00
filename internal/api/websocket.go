package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/midi-sniffer/backend/internal/logging"
	"github.com/midi-sniffer/backend/internal/models"
)

// WebSocket message types for the live summary stream
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeSummary   = "summary"
	MsgTypeComplete  = "complete"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

// DefaultStreamBuffer is the per-client summary buffer. Clients that fall
// further behind miss summaries rather than stall the session.
const DefaultStreamBuffer = 256

const writeWait = 10 * time.Second

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket error response
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler streams session summaries to WebSocket clients
type WebSocketHandler struct {
	sessionMgr SessionManager
	upgrader   websocket.Upgrader
	buffer     int
	log        *slog.Logger
}

// NewWebSocketHandler creates a new summary stream handler
func NewWebSocketHandler(sessionMgr SessionManager, buffer int, logger *slog.Logger) *WebSocketHandler {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	return &WebSocketHandler{
		sessionMgr: sessionMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		buffer: buffer,
		log:    logging.Component(logger, "websocket"),
	}
}

// wsConn serialises writes from the stream loop and the ping responder.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) send(msgType, id string, payload interface{}) error {
	msg := WSMessage{Type: msgType, ID: id, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		msg.Payload = data
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

// HandleSessionStream upgrades the connection and pushes every new summary of
// the session until it finishes or the client goes away. A final "complete"
// message carries the session's closing counters.
func (h *WebSocketHandler) HandleSessionStream(c echo.Context) error {
	id := c.Param("id")
	recent, ok := h.sessionMgr.Recent(id)
	if !ok {
		return NewNotFoundError("session", id)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	conn := &wsConn{ws: ws}

	summaries, unsubscribe := recent.Subscribe(h.buffer)
	defer unsubscribe()

	h.log.Debug("client connected", "session", shortID(id))

	info, _ := h.sessionMgr.Get(id)
	if err := conn.send(MsgTypeConnected, id, info); err != nil {
		return nil
	}

	closed := make(chan struct{})
	go h.readLoop(conn, closed)

	for {
		select {
		case <-closed:
			h.log.Debug("client disconnected", "session", shortID(id))
			return nil
		case s, ok := <-summaries:
			if !ok {
				info, _ := h.sessionMgr.Get(id)
				conn.send(MsgTypeComplete, id, info)
				conn.mu.Lock()
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"),
					time.Now().Add(writeWait))
				conn.mu.Unlock()
				return nil
			}
			if err := conn.send(MsgTypeSummary, id, summaryPayload(s)); err != nil {
				h.log.Debug("stream write failed", "session", shortID(id), "error", err)
				return nil
			}
		}
	}
}

func (h *WebSocketHandler) readLoop(conn *wsConn, closed chan<- struct{}) {
	defer close(closed)
	for {
		var msg WSMessage
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("connection error", "error", err)
			}
			return
		}

		switch msg.Type {
		case MsgTypePing:
			conn.send(MsgTypePong, msg.ID, nil)
		default:
			conn.send(MsgTypeError, msg.ID, WSErrorResponse{
				Message: "Unknown message type: " + msg.Type,
				Code:    "INVALID_TYPE",
			})
		}
	}
}

// SummaryMessage is the stream rendering of a summary.
type SummaryMessage struct {
	models.Summary
	Function string `json:"function,omitempty"`
	Address  string `json:"address"`
}

func summaryPayload(s models.Summary) SummaryMessage {
	return SummaryMessage{Summary: s, Function: s.Function(), Address: s.Key.Hex()}
}
