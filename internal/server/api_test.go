package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/Poovarasan1009/chat-app/internal/auth"
	"github.com/Poovarasan1009/chat-app/internal/config"
	"github.com/Poovarasan1009/chat-app/internal/store"
)

func newTestServer(t *testing.T) (*ChatServer, *gin.Engine) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	log := zaptest.NewLogger(t)

	s := NewChatServer(cfg, log, st, auth.NewService(st, []byte("test-secret"), time.Hour))
	s.rootCtx = context.Background()
	s.registry = NewRegistry(log, s.presence, nil)
	s.coordinator = NewCoordinator(log, st, s.presence, s.registry, nil)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	s.routes(engine)
	return s, engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func registerUser(t *testing.T, engine *gin.Engine, username, email string) (uint, string) {
	t.Helper()
	rec := doJSON(t, engine, http.MethodPost, "/api/register", "", map[string]string{
		"username": username,
		"email":    email,
		"password": "password123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, rec.Code, rec.Body.String())
	}
	var resp struct {
		User  store.User `json:"user"`
		Token string     `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.User.ID, resp.Token
}

func TestRegisterAndLogin(t *testing.T) {
	_, engine := newTestServer(t)

	registerUser(t, engine, "alice", "alice@example.com")

	rec := doJSON(t, engine, http.MethodPost, "/api/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "password123",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", rec.Code)
	}

	rec = doJSON(t, engine, http.MethodPost, "/api/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rec.Code)
	}

	rec = doJSON(t, engine, http.MethodPost, "/api/login", "", map[string]string{
		"email": "alice@example.com", "password": "password123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 login, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestEndpointsRequireAuth(t *testing.T) {
	_, engine := newTestServer(t)

	for _, reqPath := range []string{"/api/users", "/api/messages/1"} {
		rec := doJSON(t, engine, http.MethodGet, reqPath, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s without token, got %d", reqPath, rec.Code)
		}
	}
	rec := doJSON(t, engine, http.MethodPost, "/api/send_message", "", map[string]interface{}{
		"recipient_id": 1, "content": "hi",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for send without token, got %d", rec.Code)
	}
}

func TestListUsersWithPresenceOverlay(t *testing.T) {
	s, engine := newTestServer(t)
	_, aliceToken := registerUser(t, engine, "alice", "alice@example.com")
	bobID, _ := registerUser(t, engine, "bob", "bob@example.com")

	s.presence.SetOnline(bobID, newConn(context.Background(), 4))

	rec := doJSON(t, engine, http.MethodGet, "/api/users", aliceToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list users: %d", rec.Code)
	}
	var users []userView
	if err := json.Unmarshal(rec.Body.Bytes(), &users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users) != 1 || users[0].Username != "bob" {
		t.Fatalf("expected only bob listed, got %+v", users)
	}
	if !users[0].IsOnline {
		t.Fatal("expected presence overlay to mark bob online")
	}
}

func TestSendAndFetchMessages(t *testing.T) {
	_, engine := newTestServer(t)
	aliceID, aliceToken := registerUser(t, engine, "alice", "alice@example.com")
	bobID, bobToken := registerUser(t, engine, "bob", "bob@example.com")

	rec := doJSON(t, engine, http.MethodPost, "/api/send_message", aliceToken, map[string]interface{}{
		"recipient_id": bobID, "content": "hi",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: %d body %s", rec.Code, rec.Body.String())
	}
	var sent MessagePayload
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode sent message: %v", err)
	}
	if sent.Sender.Username != "alice" {
		t.Fatalf("expected sender profile in response, got %+v", sent.Sender)
	}

	rec = doJSON(t, engine, http.MethodPost, "/api/send_message", aliceToken, map[string]interface{}{
		"recipient_id": 9999, "content": "hi",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown recipient, got %d", rec.Code)
	}

	rec = doJSON(t, engine, http.MethodPost, "/api/send_message", aliceToken, map[string]interface{}{
		"recipient_id": bobID,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing content, got %d", rec.Code)
	}

	// bob fetches the conversation; this marks alice's message read
	rec = doJSON(t, engine, http.MethodGet, fmt.Sprintf("/api/messages/%d", aliceID), bobToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch messages: %d", rec.Code)
	}
	var msgs []store.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Fatalf("expected the stored message, got %+v", msgs)
	}

	rec = doJSON(t, engine, http.MethodGet, fmt.Sprintf("/api/messages/%d", bobID), aliceToken, nil)
	msgs = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs) != 1 || !msgs[0].IsRead {
		t.Fatalf("expected message marked read after bob's fetch, got %+v", msgs)
	}
}
