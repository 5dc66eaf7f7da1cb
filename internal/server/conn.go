package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is one frame on the live channel, outbound or inbound.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Outbound event names.
const (
	eventNewMessage   = "new_message"
	eventStatus       = "status"
	eventTypingStatus = "typing_status"
	eventErrorName    = "error"
)

// Inbound event names.
const (
	eventTyping  = "typing"
	eventMessage = "message"
)

// conn is one live bidirectional channel. The registry owns its lifecycle;
// everything else holds it only as a presence.Handle. State machine:
// Opened -> Bound -> Closed, with Closed terminal and never re-entered.
type conn struct {
	id          string
	userID      uint // zero until bound
	username    string
	sendCh      chan Event
	ctx         context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once
	connectedAt time.Time
}

func newConn(parent context.Context, buffer int) *conn {
	if buffer <= 0 {
		buffer = 64
	}
	ctx, cancel := context.WithCancel(parent)
	return &conn{
		id:          uuid.NewString(),
		sendCh:      make(chan Event, buffer),
		ctx:         ctx,
		cancel:      cancel,
		connectedAt: time.Now(),
	}
}

// ID implements presence.Handle.
func (c *conn) ID() string { return c.id }

func (c *conn) bound() bool { return c.userID != 0 }

// push enqueues an event without ever blocking the caller. A closed channel
// or a full buffer both count as a failed delivery; a full buffer also
// cancels the connection so a stalled reader cannot pin server memory.
func (c *conn) push(evt Event) error {
	select {
	case <-c.ctx.Done():
		return errStaleHandle
	default:
	}
	select {
	case <-c.ctx.Done():
		return errStaleHandle
	case c.sendCh <- evt:
		return nil
	default:
		c.close()
		return errSendBufferFull
	}
}

// close cancels the connection context. Safe to call any number of times.
func (c *conn) close() {
	c.closeOnce.Do(c.cancel)
}

// writeLoop drains sendCh onto the socket until the connection is cancelled.
// It owns all writes to ws, including pings.
func (c *conn) writeLoop(ws *websocket.Conn, log *zap.Logger, writeTimeout, pongTimeout time.Duration) {
	ticker := time.NewTicker(pongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case evt := <-c.sendCh:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteJSON(evt); err != nil {
				log.Debug("socket write failed",
					zap.String("conn_id", c.id), zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
