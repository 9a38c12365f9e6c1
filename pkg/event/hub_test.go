package event

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubFanOutPreservesOrder(t *testing.T) {
	h := NewHub()
	a, b := h.Subscribe(), h.Subscribe()
	if h.Len() != 2 {
		t.Fatalf("expected 2 observers, got %d", h.Len())
	}

	for i := 5; i >= 1; i-- {
		h.Publish(Countdown(i))
	}
	h.Publish(CaptureStart())

	for _, o := range []*Observer{a, b} {
		for want := 5; want >= 1; want-- {
			e := <-o.Events()
			if e.Type != TypeCountdown || e.Value == nil || *e.Value != want {
				t.Fatalf("observer %s: expected countdown %d, got %+v", o.ID(), want, e)
			}
		}
		if e := <-o.Events(); e.Type != TypeCaptureStart {
			t.Errorf("expected capture_start, got %s", e.Type)
		}
	}
}

func TestHubDropsSlowObserver(t *testing.T) {
	h := NewHub(WithQueueSize(2))
	slow := h.Subscribe()
	fast := h.Subscribe()

	done := make(chan struct{})
	var received []int
	go func() {
		defer close(done)
		for e := range fast.Events() {
			if e.Value == nil {
				t.Errorf("countdown event without value: %+v", e)
				return
			}
			received = append(received, *e.Value)
			if len(received) == 5 {
				return
			}
		}
	}()

	for i := 0; i < 5; i++ {
		h.Publish(Countdown(i))
		// Let the fast reader drain so only the idle observer fills up.
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fast observer did not receive every event")
	}
	for i, v := range received {
		if v != i {
			t.Errorf("fast observer got events out of order: %v", received)
			break
		}
	}
	if !slow.Dropped() {
		t.Error("slow observer should have been dropped")
	}
	if fast.Dropped() {
		t.Error("fast observer should not have been dropped")
	}

	// The dropped observer still sees what was queued before it fell behind.
	var queued []int
	for e := range slow.Events() {
		queued = append(queued, *e.Value)
	}
	if len(queued) != 2 || queued[0] != 0 || queued[1] != 1 {
		t.Errorf("expected the first 2 events queued on dropped observer, got %v", queued)
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	h := NewHub(WithQueueSize(1))
	for i := 0; i < 10; i++ {
		h.Subscribe()
	}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(CaptureDone())
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
	if h.Len() != 0 {
		t.Errorf("expected every idle observer dropped, got %d", h.Len())
	}
}

func TestHubCloseAndUnsubscribe(t *testing.T) {
	h := NewHub()
	o := h.Subscribe()
	h.Unsubscribe(o)
	h.Unsubscribe(o)
	if _, ok := <-o.Events(); ok {
		t.Error("expected closed channel after unsubscribe")
	}

	o2 := h.Subscribe()
	h.Close()
	if _, ok := <-o2.Events(); ok {
		t.Error("expected closed channel after hub close")
	}
	h.Publish(PrintDone())

	late := h.Subscribe()
	if _, ok := <-late.Events(); ok {
		t.Error("subscription on a closed hub should be closed")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
		typ  Type
	}{
		{"countdown", `{"type":"countdown","value":3}`, true, TypeCountdown},
		{"error", ` {"type":"error","message":"boom"}`, true, TypeError},
		{"custom", `{"type":"ping"}`, true, "ping"},
		{"no type", `{"value":3}`, false, ""},
		{"array", `[1,2]`, false, ""},
		{"base64", `/9j/4AAQSkZJRgABAQ==`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := Parse([]byte(tt.in))
			if ok != tt.ok || e.Type != tt.typ {
				t.Errorf("Parse(%q) = %+v, %v", tt.in, e, ok)
			}
		})
	}
}

func TestServeWebsocket(t *testing.T) {
	h := NewHub()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ServeWebsocket(context.Background(), h, conn, h.Subscribe())
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for h.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.Publish(Error("printer offline"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("invalid event json: %v", err)
	}
	if e.Type != TypeError || e.Message != "printer offline" {
		t.Errorf("unexpected event %+v", e)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for h.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.Len() != 0 {
		t.Error("observer should be unsubscribed after the peer disconnects")
	}
}
