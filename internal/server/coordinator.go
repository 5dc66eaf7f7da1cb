package server

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Poovarasan1009/chat-app/internal/presence"
	"github.com/Poovarasan1009/chat-app/internal/store"
)

// MessagePayload is the stored message plus the denormalized sender profile
// pushed with every new_message event.
type MessagePayload struct {
	store.Message
	Sender store.Profile `json:"sender"`
}

type newMessageData struct {
	Message MessagePayload `json:"message"`
}

type statusData struct {
	Msg string `json:"msg"`
}

type typingStatusData struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// Coordinator is the entry point for the four lifecycle events: connect,
// disconnect, send and typing. Every event except connect/disconnect itself
// requires a bound user identity; rejected events never mutate shared state.
type Coordinator struct {
	log      *zap.Logger
	store    *store.Store
	presence presence.Table
	registry *Registry
	metrics  *chatMetrics
}

// NewCoordinator wires the delivery core together.
func NewCoordinator(log *zap.Logger, st *store.Store, table presence.Table, reg *Registry, metrics *chatMetrics) *Coordinator {
	return &Coordinator{
		log:      log,
		store:    st,
		presence: table,
		registry: reg,
		metrics:  metrics,
	}
}

// Connect binds an authenticated channel to its user, marks the user online
// and announces the presence change to everyone else.
func (co *Coordinator) Connect(c *conn, userID uint) (*store.User, error) {
	user, err := co.store.UserByID(userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, authRequired("token subject no longer exists")
		}
		return nil, storageFailed("resolve user")
	}

	co.registry.Register(c, user.ID, user.Username)

	if err := co.store.SetUserOnline(user.ID, true); err != nil {
		co.log.Warn("mirror online state", zap.Uint("user_id", user.ID), zap.Error(err))
	}
	co.broadcastStatus(fmt.Sprintf("%s connected", user.Username), c.id)
	return user, nil
}

// Disconnect unbinds the channel. Idempotent: only the call that actually
// flips the user offline mirrors the store and broadcasts.
func (co *Coordinator) Disconnect(c *conn) {
	if !co.registry.Unregister(c) {
		return
	}
	if err := co.store.SetUserOnline(c.userID, false); err != nil {
		co.log.Warn("mirror offline state", zap.Uint("user_id", c.userID), zap.Error(err))
	}
	co.broadcastStatus(fmt.Sprintf("%s disconnected", c.username), c.id)
}

// Send persists a message and then attempts a single live delivery. The
// order is load-bearing: a message is never pushed without being durably
// recorded first, and a persistence failure aborts the whole send.
func (co *Coordinator) Send(senderID, recipientID uint, content string) (*store.Message, error) {
	if senderID == 0 {
		return nil, authRequired("send requires an authenticated channel")
	}
	if recipientID == 0 || content == "" {
		return nil, invalidEvent("recipient and content are required")
	}

	sender, err := co.store.UserByID(senderID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, authRequired("sender no longer exists")
		}
		return nil, storageFailed("resolve sender")
	}

	msg, err := co.store.CreateMessage(senderID, recipientID, content)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, notFound("recipient not found")
		}
		co.log.Error("persist message failed",
			zap.Uint("sender_id", senderID),
			zap.Uint("recipient_id", recipientID),
			zap.Error(err))
		return nil, storageFailed("store message")
	}
	co.metrics.recordMessageStored()

	co.deliver(msg, sender.Profile())
	return msg, nil
}

// Typing routes a fire-and-forget typing signal. An offline recipient is a
// silent drop; an unauthenticated caller is an authorization error. Nothing
// is ever persisted.
func (co *Coordinator) Typing(senderID, recipientID uint, isTyping bool) error {
	if senderID == 0 {
		return authRequired("typing requires an authenticated channel")
	}
	if recipientID == 0 {
		return invalidEvent("recipient is required")
	}

	sender, err := co.store.UserByID(senderID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return authRequired("sender no longer exists")
		}
		return storageFailed("resolve sender")
	}

	h, ok := co.presence.Lookup(recipientID)
	if !ok {
		return nil
	}
	evt := Event{Event: eventTypingStatus, Data: typingStatusData{
		UserID:   sender.ID,
		Username: sender.Username,
		IsTyping: isTyping,
	}}
	if err := co.registry.Push(h, evt); err != nil {
		co.log.Debug("typing push dropped",
			zap.Uint("recipient_id", recipientID), zap.Error(err))
		return nil
	}
	co.metrics.recordTyping()
	return nil
}

// deliver attempts the single live delivery of an already-persisted message.
// Failure is logged and counted, never surfaced: the recipient recovers the
// message from the store on their next fetch.
func (co *Coordinator) deliver(msg *store.Message, sender store.Profile) {
	h, ok := co.presence.Lookup(msg.RecipientID)
	if !ok {
		co.metrics.recordDelivery("offline")
		return
	}

	evt := Event{Event: eventNewMessage, Data: newMessageData{
		Message: MessagePayload{Message: *msg, Sender: sender},
	}}
	if err := co.registry.Push(h, evt); err != nil {
		co.log.Debug("live delivery dropped",
			zap.Uint("message_id", msg.ID),
			zap.Uint("recipient_id", msg.RecipientID),
			zap.Error(err))
		co.metrics.recordDelivery("failed")
		return
	}
	co.metrics.recordDelivery("delivered")
}

// broadcastStatus fans a presence announcement out to every bound connection
// except the origin. The fan-out runs over a registry snapshot, so no push
// happens while any lock is held.
func (co *Coordinator) broadcastStatus(text string, excludeConnID string) {
	evt := Event{Event: eventStatus, Data: statusData{Msg: text}}
	for _, c := range co.registry.Bound() {
		if c.id == excludeConnID {
			continue
		}
		if err := c.push(evt); err != nil {
			co.log.Debug("status push dropped",
				zap.String("conn_id", c.id), zap.Error(err))
		}
	}
	co.metrics.recordBroadcast()
}
