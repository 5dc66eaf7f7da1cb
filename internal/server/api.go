package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Poovarasan1009/chat-app/internal/auth"
	"github.com/Poovarasan1009/chat-app/internal/store"
)

const ctxUserID = "user_id"

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type sendMessageRequest struct {
	RecipientID uint   `json:"recipient_id" binding:"required"`
	Content     string `json:"content" binding:"required"`
}

// userView is a user row with presence overlaid from the live table.
type userView struct {
	store.User
	IsOnline bool `json:"is_online"`
}

func (s *ChatServer) routes(engine *gin.Engine) {
	api := engine.Group("/api")
	api.POST("/register", s.handleRegister)
	api.POST("/login", s.handleLogin)

	authed := api.Group("", s.requireAuth)
	authed.POST("/logout", s.handleLogout)
	authed.GET("/users", s.handleListUsers)
	authed.GET("/messages/:user_id", s.handleListMessages)
	authed.POST("/send_message", s.handleSendMessage)

	engine.GET("/ws", s.handleSocket)
}

// requireAuth resolves the bearer token to a verified user identity. Every
// handler behind it receives the identity explicitly via the request context.
func (s *ChatServer) requireAuth(c *gin.Context) {
	userID, err := s.authenticateRequest(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	c.Set(ctxUserID, userID)
	c.Next()
}

// authenticateRequest accepts the token from the Authorization header or,
// for WebSocket upgrades where browsers cannot set headers, a query param.
func (s *ChatServer) authenticateRequest(r *http.Request) (uint, error) {
	raw := ""
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return 0, auth.ErrInvalidToken
		}
		raw = parts[1]
	} else if q := r.URL.Query().Get("token"); q != "" {
		raw = q
	}
	if raw == "" {
		return 0, auth.ErrInvalidToken
	}
	return s.auth.VerifyToken(raw)
}

func currentUserID(c *gin.Context) uint {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return 0
	}
	id, _ := v.(uint)
	return id
}

func (s *ChatServer) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username, email and password are required"})
		return
	}

	user, err := s.auth.Register(req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "username or email already taken"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := s.auth.IssueToken(user.ID)
	if err != nil {
		s.log.Error("issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user, "token": token})
}

func (s *ChatServer) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	user, err := s.auth.Authenticate(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		s.log.Error("authenticate", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	token, err := s.auth.IssueToken(user.ID)
	if err != nil {
		s.log.Error("issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}

	if err := s.store.SetUserOnline(user.ID, true); err != nil {
		s.log.Warn("mirror online state", zap.Uint("user_id", user.ID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "token": token})
}

func (s *ChatServer) handleLogout(c *gin.Context) {
	userID := currentUserID(c)
	if err := s.store.SetUserOnline(userID, false); err != nil {
		s.log.Warn("mirror offline state", zap.Uint("user_id", userID), zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

// handleListUsers returns every other user, with is_online and last_seen
// overlaid from the live presence table when an entry exists.
func (s *ChatServer) handleListUsers(c *gin.Context) {
	userID := currentUserID(c)
	users, err := s.store.ListUsersExcept(userID)
	if err != nil {
		s.log.Error("list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list users"})
		return
	}

	views := make([]userView, 0, len(users))
	for _, u := range users {
		view := userView{User: u}
		if entry, ok := s.presence.Entry(u.ID); ok {
			view.IsOnline = entry.Online
			view.LastSeen = entry.LastSeen
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, views)
}

// handleListMessages returns the conversation with the given peer, ascending
// by timestamp, and marks the peer's unread messages to the caller as read.
func (s *ChatServer) handleListMessages(c *gin.Context) {
	userID := currentUserID(c)
	peerID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	msgs, err := s.store.ListBetween(userID, uint(peerID))
	if err != nil {
		s.log.Error("list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list messages"})
		return
	}

	if _, err := s.store.MarkRead(uint(peerID), userID); err != nil {
		s.log.Warn("mark read", zap.Uint("user_id", userID), zap.Error(err))
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *ChatServer) handleSendMessage(c *gin.Context) {
	userID := currentUserID(c)
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient_id and content are required"})
		return
	}

	msg, err := s.coordinator.Send(userID, req.RecipientID, req.Content)
	if err != nil {
		status, body := httpStatusFor(err)
		c.JSON(status, body)
		return
	}

	payload := MessagePayload{Message: *msg}
	if sender, err := s.store.UserByID(userID); err == nil {
		payload.Sender = sender.Profile()
	}
	c.JSON(http.StatusCreated, payload)
}

func httpStatusFor(err error) (int, gin.H) {
	var ee *eventError
	if !errors.As(err, &ee) {
		return http.StatusInternalServerError, gin.H{"error": "internal error"}
	}
	switch ee.code {
	case codeAuthRequired:
		return http.StatusUnauthorized, gin.H{"error": ee.msg}
	case codeNotFound:
		return http.StatusNotFound, gin.H{"error": ee.msg}
	case codeInvalidEvent:
		return http.StatusBadRequest, gin.H{"error": ee.msg}
	default:
		return http.StatusInternalServerError, gin.H{"error": ee.msg}
	}
}
