package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wsEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dialSocket(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial socket: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) wsEvent {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var evt wsEvent
	if err := ws.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return evt
}

func waitForEvent(t *testing.T, ws *websocket.Conn, name string) wsEvent {
	t.Helper()
	for {
		evt := readEvent(t, ws)
		if evt.Event == name {
			return evt
		}
	}
}

func TestSocketRejectsMissingToken(t *testing.T) {
	_, engine := newTestServer(t)
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake rejection, got %+v", resp)
	}
}

func TestSocketRejectsStaleTokenSubject(t *testing.T) {
	s, engine := newTestServer(t)
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)

	// valid signature, but the subject was never registered
	token, err := s.auth.IssueToken(9999)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	ws := dialSocket(t, ts, token)
	evt := readEvent(t, ws)
	if evt.Event != eventErrorName {
		t.Fatalf("expected error frame, got %q", evt.Event)
	}
	var errData errorData
	if err := json.Unmarshal(evt.Data, &errData); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errData.Code != codeAuthRequired {
		t.Fatalf("expected %s, got %s", codeAuthRequired, errData.Code)
	}

	// the server closes the socket after the error frame
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("expected socket closed after rejected bind")
	}

	if s.presence.IsOnline(9999) {
		t.Fatal("rejected bind must not register presence")
	}
	if len(s.registry.Bound()) != 0 {
		t.Fatal("rejected bind must not leave a tracked connection")
	}
}

func TestSocketLiveDeliveryEndToEnd(t *testing.T) {
	_, engine := newTestServer(t)
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)

	_, aliceToken := registerUser(t, engine, "alice", "alice@example.com")
	bobID, bobToken := registerUser(t, engine, "bob", "bob@example.com")

	aliceWS := dialSocket(t, ts, aliceToken)
	bobWS := dialSocket(t, ts, bobToken)

	// alice sees bob come online
	evt := waitForEvent(t, aliceWS, eventStatus)
	var status statusData
	if err := json.Unmarshal(evt.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Msg != "bob connected" {
		t.Fatalf("unexpected status %q", status.Msg)
	}

	// REST send while bob is connected: exactly one live push
	rec := doJSON(t, engine, http.MethodPost, "/api/send_message", aliceToken, map[string]interface{}{
		"recipient_id": bobID, "content": "hi",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: %d body %s", rec.Code, rec.Body.String())
	}

	evt = waitForEvent(t, bobWS, eventNewMessage)
	var pushed struct {
		Message MessagePayload `json:"message"`
	}
	if err := json.Unmarshal(evt.Data, &pushed); err != nil {
		t.Fatalf("decode new_message: %v", err)
	}
	if pushed.Message.Content != "hi" || pushed.Message.Sender.Username != "alice" {
		t.Fatalf("unexpected push payload: %+v", pushed.Message)
	}
}

func TestSocketTypingAndMessageEvents(t *testing.T) {
	_, engine := newTestServer(t)
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)

	aliceID, aliceToken := registerUser(t, engine, "alice", "alice@example.com")
	bobID, bobToken := registerUser(t, engine, "bob", "bob@example.com")

	aliceWS := dialSocket(t, ts, aliceToken)
	bobWS := dialSocket(t, ts, bobToken)
	waitForEvent(t, aliceWS, eventStatus) // bob connected

	// bob signals typing to alice
	err := bobWS.WriteJSON(map[string]interface{}{
		"event": eventTyping,
		"data":  map[string]interface{}{"recipient_id": aliceID, "is_typing": true},
	})
	if err != nil {
		t.Fatalf("write typing: %v", err)
	}

	evt := waitForEvent(t, aliceWS, eventTypingStatus)
	var typing typingStatusData
	if err := json.Unmarshal(evt.Data, &typing); err != nil {
		t.Fatalf("decode typing_status: %v", err)
	}
	if typing.UserID != bobID || typing.Username != "bob" || !typing.IsTyping {
		t.Fatalf("unexpected typing payload: %+v", typing)
	}

	// bob sends a message over the socket; alice receives the live push
	err = bobWS.WriteJSON(map[string]interface{}{
		"event": eventMessage,
		"data":  map[string]interface{}{"recipient_id": aliceID, "content": "yo"},
	})
	if err != nil {
		t.Fatalf("write message: %v", err)
	}
	evt = waitForEvent(t, aliceWS, eventNewMessage)
	var pushed struct {
		Message MessagePayload `json:"message"`
	}
	if err := json.Unmarshal(evt.Data, &pushed); err != nil {
		t.Fatalf("decode new_message: %v", err)
	}
	if pushed.Message.Content != "yo" || pushed.Message.SenderID != bobID {
		t.Fatalf("unexpected push payload: %+v", pushed.Message)
	}

	// unsupported events are rejected with an error frame, not a close
	if err := bobWS.WriteJSON(map[string]interface{}{"event": "bogus"}); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	evt = waitForEvent(t, bobWS, eventErrorName)
	var errData errorData
	if err := json.Unmarshal(evt.Data, &errData); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errData.Code != codeInvalidEvent {
		t.Fatalf("expected %s, got %s", codeInvalidEvent, errData.Code)
	}
}

func TestSocketDisconnectBroadcasts(t *testing.T) {
	s, engine := newTestServer(t)
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)

	_, aliceToken := registerUser(t, engine, "alice", "alice@example.com")
	bobID, bobToken := registerUser(t, engine, "bob", "bob@example.com")

	aliceWS := dialSocket(t, ts, aliceToken)
	bobWS := dialSocket(t, ts, bobToken)
	waitForEvent(t, aliceWS, eventStatus) // bob connected

	bobWS.Close()

	evt := waitForEvent(t, aliceWS, eventStatus)
	var status statusData
	if err := json.Unmarshal(evt.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Msg != "bob disconnected" {
		t.Fatalf("unexpected status %q", status.Msg)
	}

	// presence settles offline once the server observes the close
	deadline := time.Now().Add(5 * time.Second)
	for s.presence.IsOnline(bobID) {
		if time.Now().After(deadline) {
			t.Fatal("expected bob offline after socket close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
