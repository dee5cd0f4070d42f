package hotreload

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nilsbr/rushd/internal/logger"
)

func TestHubBroadcastDeliversToMatchingSubscriber(t *testing.T) {
	hub := NewHub(logger.New("error", false))
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?server=site:9001"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// give the server goroutine time to register the subscriber
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.SubscriberCount())
	}

	hub.Broadcast(ChangeEvent{EventType: "modified", BackendName: "site", Port: 9001, Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(msg), "modified") {
		t.Fatalf("expected modified event, got %s", msg)
	}
}

func TestHubBroadcastSkipsNonMatchingFilter(t *testing.T) {
	hub := NewHub(logger.New("error", false))
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?server=other:9999"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(ChangeEvent{EventType: "modified", BackendName: "site", Port: 9001, Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no message for non-matching filter")
	}
}

func TestBackendKey(t *testing.T) {
	if got := backendKey("site", 9001); got != "site:9001" {
		t.Fatalf("backendKey = %q, want site:9001", got)
	}
}
