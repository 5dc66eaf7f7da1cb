package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is the inbound frame shape; Data is decoded per event kind.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type typingRequest struct {
	RecipientID uint `json:"recipient_id"`
	IsTyping    bool `json:"is_typing"`
}

type messageRequest struct {
	RecipientID uint   `json:"recipient_id"`
	Content     string `json:"content"`
}

type errorData struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// handleSocket authenticates, upgrades and binds a live channel, then reads
// events until the peer goes away. A channel that fails authentication is
// rejected before the upgrade and never touches shared state.
func (s *ChatServer) handleSocket(c *gin.Context) {
	userID, err := s.authenticateRequest(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(s.rootCtx, s.cfg.WebSocket.SendBufferSize)
	if _, err := s.coordinator.Connect(conn, userID); err != nil {
		conn.close()
		_ = ws.WriteJSON(Event{Event: eventErrorName, Data: errorEventData(err)})
		_ = ws.Close()
		return
	}
	defer s.coordinator.Disconnect(conn)

	go conn.writeLoop(ws, s.log, s.cfg.WebSocket.WriteTimeout, s.cfg.WebSocket.PongTimeout)

	s.readLoop(conn, ws)
}

// readLoop processes inbound events for one connection. Closing the socket
// is the only cancellation signal; it ends the loop and the deferred
// disconnect tears the binding down exactly once.
func (s *ChatServer) readLoop(c *conn, ws *websocket.Conn) {
	ws.SetReadLimit(s.cfg.WebSocket.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.WebSocket.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.WebSocket.PongTimeout))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("socket read failed", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.pushError(c, invalidEvent("malformed event frame"))
			continue
		}

		start := time.Now()
		dispatchErr := s.dispatch(c, env)
		s.metrics.observeLatency(env.Event, time.Since(start))
		if dispatchErr != nil {
			s.pushError(c, dispatchErr)
		}
	}
}

// dispatch routes one inbound event over the closed set of event kinds.
func (s *ChatServer) dispatch(c *conn, env envelope) error {
	switch env.Event {
	case eventTyping:
		var req typingRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return invalidEvent("malformed typing payload")
		}
		return s.coordinator.Typing(c.userID, req.RecipientID, req.IsTyping)
	case eventMessage:
		var req messageRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return invalidEvent("malformed message payload")
		}
		_, err := s.coordinator.Send(c.userID, req.RecipientID, req.Content)
		return err
	default:
		return invalidEvent("unsupported event " + env.Event)
	}
}

func (s *ChatServer) pushError(c *conn, err error) {
	data := errorEventData(err)
	s.metrics.recordError(data.Code)
	if pushErr := c.push(Event{Event: eventErrorName, Data: data}); pushErr != nil {
		s.log.Debug("error push dropped", zap.String("conn_id", c.id), zap.Error(pushErr))
	}
}

func errorEventData(err error) errorData {
	var ee *eventError
	if errors.As(err, &ee) {
		return errorData{Code: ee.code, Msg: ee.msg}
	}
	return errorData{Code: "INTERNAL", Msg: "internal error"}
}
