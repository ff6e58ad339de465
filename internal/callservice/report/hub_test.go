package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/events"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	for !hub.running.Load() {
		time.Sleep(time.Millisecond)
	}
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return hub, srv
}

func dial(t *testing.T, hub *Hub, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	before := hub.ClientCount()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() <= before {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return msg
}

func info(id int) call.Info {
	return call.Info{ID: id, Type: call.TypeCS, TelState: call.StateDialing, RunningState: call.RunningDialing}
}

func TestHubBroadcastsReports(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv, "")

	ev := events.NewBuilder("node").CallCreated(info(3))
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != events.CallCreated {
		t.Errorf("Type = %q, want %q", msg.Type, events.CallCreated)
	}
	if msg.Subject != "callservice.calls.3.created" || msg.CallID != 3 {
		t.Errorf("Subject = %q, CallID = %d", msg.Subject, msg.CallID)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["event_id"] != ev.ID() {
		t.Errorf("event_id = %v, want %q", payload["event_id"], ev.ID())
	}
}

func TestHubTopicFilter(t *testing.T) {
	hub, srv := startHub(t)
	filtered := dial(t, hub, srv, "?topic=callservice.calls.5")
	all := dial(t, hub, srv, "")

	b := events.NewBuilder("node")
	hub.PublishAsync(b.CallCreated(info(3)))
	hub.PublishAsync(b.CallCreated(info(5)))

	if got := readMessage(t, filtered).CallID; got != 5 {
		t.Errorf("filtered client got call %d, want 5", got)
	}
	if got := readMessage(t, all).CallID; got != 3 {
		t.Errorf("unfiltered client got call %d first, want 3", got)
	}
	if got := readMessage(t, all).CallID; got != 5 {
		t.Errorf("unfiltered client got call %d second, want 5", got)
	}
}

func TestClientWants(t *testing.T) {
	c := &Client{topics: map[string]bool{"callservice.calls.1": true}}

	tests := []struct {
		subject string
		want    bool
	}{
		{"callservice.calls.1.state", true},
		{"callservice.calls.1", true},
		{"callservice.calls.10.state", false},
		{"callservice.slots.0.detail", false},
	}
	for _, tt := range tests {
		if got := c.wants(tt.subject); got != tt.want {
			t.Errorf("wants(%q) = %v, want %v", tt.subject, got, tt.want)
		}
	}

	c.subscribe(TopicAll)
	if !c.wants("callservice.slots.0.detail") {
		t.Error("all subscription should match every subject")
	}
	c.unsubscribe(TopicAll)
	if c.wants("callservice.slots.0.detail") {
		t.Error("unsubscribe did not remove topic")
	}
}

func TestServeHTTPBeforeRun(t *testing.T) {
	hub := NewHub()
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	for !hub.running.Load() {
		time.Sleep(time.Millisecond)
	}
	srv := httptest.NewServer(hub)
	defer srv.Close()
	conn := dial(t, hub, srv, "")

	cancel()
	<-done

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to close after hub stopped")
	}
	if err := hub.Publish(context.Background(), events.NewBuilder("n").CallCreated(info(1))); err != nil {
		t.Errorf("Publish() after stop error = %v", err)
	}
}
