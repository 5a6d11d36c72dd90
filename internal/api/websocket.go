package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/qms-portal/docpreview/internal/logger"
	"github.com/qms-portal/docpreview/internal/models"
	"github.com/qms-portal/docpreview/internal/session"
)

// WebSocket message types for the preview protocol
const (
	// Client -> Server messages
	MsgTypePreviewOpen      = "preview:open"
	MsgTypeFrameLoaded      = "frame:loaded"
	MsgTypeFrameError       = "frame:error"
	MsgTypeFramePostedError = "frame:posted-error"
	MsgTypePing             = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeState     = "state"
	MsgTypeFrameLoad = "frame:load"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

const wsWriteTimeout = 10 * time.Second

// WSMessage is the envelope for every message in both directions
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// PreviewOpenPayload starts a preview: a document URL with its file name,
// or a record whose latest upload should be shown.
type PreviewOpenPayload struct {
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	RecordID string `json:"recordId,omitempty"`
}

// FrameSignalPayload answers a frame:load with the same sequence number
type FrameSignalPayload struct {
	Seq     uint64 `json:"seq"`
	Message string `json:"message,omitempty"`
}

// PostedErrorPayload carries an error message posted by an embedded viewer
type PostedErrorPayload struct {
	Token   uint64 `json:"token"`
	Message string `json:"message,omitempty"`
}

// WSErrorResponse is the payload of an error message
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler binds browser frames to preview viewers
type WebSocketHandler struct {
	viewers        ViewerManager
	upgrader       websocket.Upgrader
	maxMessageSize int64
	log            *logger.Logger
}

// NewWebSocketHandler creates a new WebSocket preview handler
func NewWebSocketHandler(viewers ViewerManager, maxMessageSize int64, log *logger.Logger) *WebSocketHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &WebSocketHandler{
		viewers: viewers,
		upgrader: websocket.Upgrader{
			// The adapter runs inside host review pages on other origins.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  8 * 1024,
			WriteBufferSize: 8 * 1024,
		},
		maxMessageSize: maxMessageSize,
		log:            log.Component("websocket"),
	}
}

// wsConn serializes writes; frame loads, state updates and replies come
// from different goroutines.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msg WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteJSON(msg)
}

// HandleWebSocket upgrades the connection and attaches it as the browser
// frame of the viewer named by the viewer query parameter. Without one a
// new viewer is created; its id arrives in the connected message.
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	if wsh.maxMessageSize > 0 {
		ws.SetReadLimit(wsh.maxMessageSize)
	}

	conn := &wsConn{ws: ws}
	v := wsh.viewers.Open(c.QueryParam("viewer"))
	log := wsh.log.WithViewer(v.ID)

	_, fl := wsh.viewers.AttachFrame(v.ID, func(load session.FrameLoad) error {
		return conn.send(WSMessage{Type: MsgTypeFrameLoad, ID: v.ID, Payload: mustJSON(load)})
	})

	done := make(chan struct{})
	defer func() {
		close(done)
		wsh.viewers.DetachFrame(v.ID, fl)
	}()

	log.Info("client connected")
	wsh.sendMessage(conn, WSMessage{Type: MsgTypeConnected, ID: v.ID})
	wsh.sendState(conn, v.ID, v.Session.Snapshot())

	go func() {
		for {
			select {
			case <-done:
				return
			case <-v.Updates():
				wsh.sendState(conn, v.ID, v.Session.Snapshot())
			}
		}
	}()

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("connection error", "error", err)
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			wsh.sendMessage(conn, WSMessage{Type: MsgTypePong})
		case MsgTypePreviewOpen:
			wsh.handlePreviewOpen(conn, v.ID, msg)
		case MsgTypeFrameLoaded:
			wsh.handleFrameSignal(conn, v.ID, msg, false)
		case MsgTypeFrameError:
			wsh.handleFrameSignal(conn, v.ID, msg, true)
		case MsgTypeFramePostedError:
			wsh.handlePostedError(conn, v.ID, msg)
		default:
			wsh.sendError(conn, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}

	log.Info("client disconnected")
	return nil
}

func (wsh *WebSocketHandler) handlePreviewOpen(conn *wsConn, viewerID string, msg WSMessage) {
	var payload PreviewOpenPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(conn, "Invalid preview payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}

	switch {
	case payload.RecordID != "":
		if _, err := wsh.viewers.PreviewRecord(viewerID, payload.RecordID); err != nil {
			wsh.sendError(conn, "Failed to open record: "+err.Error(), "PREVIEW_ERROR")
		}
	case payload.URL != "":
		wsh.viewers.Preview(viewerID, payload.URL, payload.Filename)
	default:
		wsh.sendError(conn, "preview:open needs a url or a recordId", "INVALID_PAYLOAD")
	}
}

func (wsh *WebSocketHandler) handleFrameSignal(conn *wsConn, viewerID string, msg WSMessage, failed bool) {
	var payload FrameSignalPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(conn, "Invalid frame payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}

	var signal error
	if failed {
		text := payload.Message
		if text == "" {
			text = "frame reported an error"
		}
		signal = errors.New(text)
	}
	if !wsh.viewers.FrameSignal(viewerID, payload.Seq, signal) {
		wsh.log.WithViewer(viewerID).Debug("dropped stale frame signal", "seq", payload.Seq, "type", msg.Type)
	}
}

func (wsh *WebSocketHandler) handlePostedError(conn *wsConn, viewerID string, msg WSMessage) {
	var payload PostedErrorPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			wsh.sendError(conn, "Invalid posted error payload: "+err.Error(), "INVALID_PAYLOAD")
			return
		}
	}
	if _, err := wsh.viewers.ReportError(viewerID, payload.Token); err != nil {
		wsh.sendError(conn, err.Error(), "VIEWER_NOT_FOUND")
	}
}

// Helper methods

func (wsh *WebSocketHandler) sendState(conn *wsConn, viewerID string, state models.PreviewState) {
	wsh.sendMessage(conn, WSMessage{Type: MsgTypeState, ID: viewerID, Payload: mustJSON(state)})
}

func (wsh *WebSocketHandler) sendMessage(conn *wsConn, msg WSMessage) {
	if err := conn.send(msg); err != nil {
		wsh.log.Debug("failed to send message", "type", msg.Type, "error", err)
	}
}

func (wsh *WebSocketHandler) sendError(conn *wsConn, message, code string) {
	wsh.sendMessage(conn, WSMessage{
		Type: MsgTypeError,
		Payload: mustJSON(WSErrorResponse{
			Type:    MsgTypeError,
			Message: message,
			Code:    code,
		}),
	})
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
