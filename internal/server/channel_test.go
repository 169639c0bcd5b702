package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialChannel(t *testing.T, baseURL, scriptID, token string) *websocket.Conn {
	t.Helper()
	endpoint := "ws" + strings.TrimPrefix(baseURL, "http") +
		"/scripts/" + scriptID + "/channel?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		t.Fatalf("failed to dial channel: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestChannelFansOutToOtherViewers(t *testing.T) {
	handler, hub := newTestHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	created := createTestScript(t, handler)

	sender := dialChannel(t, server.URL, created.ScriptID, testBearerToken)
	receiver := dialChannel(t, server.URL, created.ScriptID, testBearerToken)

	// The handshake completes before the server registers the subscription;
	// wait for both connections to join the hub.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(created.ScriptID) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("connections did not join the hub")
		}
		time.Sleep(5 * time.Millisecond)
	}

	envelope := `{"update_type":"elements_updated","changes":[],"operation_id":"broadcast-1"}`
	if err := sender.WriteMessage(websocket.TextMessage, []byte(envelope)); err != nil {
		t.Fatalf("failed to send envelope: %v", err)
	}

	_ = receiver.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := receiver.ReadMessage()
	if err != nil {
		t.Fatalf("receiver did not get the broadcast: %v", err)
	}
	if string(payload) != envelope {
		t.Fatalf("unexpected payload %s", payload)
	}

	// The sender must not hear its own envelope back.
	_ = sender.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := sender.ReadMessage(); err == nil {
		t.Fatalf("sender received its own broadcast")
	}
}

func TestChannelRejectsUnknownScript(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	endpoint := "ws" + strings.TrimPrefix(server.URL, "http") +
		"/scripts/no-such-script/channel?access_token=" + testBearerToken
	_, response, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err == nil {
		t.Fatalf("expected the dial to fail")
	}
	if response == nil || response.StatusCode != 404 {
		t.Fatalf("expected 404 handshake rejection, got %+v", response)
	}
}

func TestChannelRejectsMissingToken(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	created := createTestScript(t, handler)
	endpoint := "ws" + strings.TrimPrefix(server.URL, "http") +
		"/scripts/" + created.ScriptID + "/channel"
	_, response, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err == nil {
		t.Fatalf("expected the dial to fail")
	}
	if response == nil || response.StatusCode != 401 {
		t.Fatalf("expected 401 handshake rejection, got %+v", response)
	}
}
