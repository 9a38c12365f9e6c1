package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wachiwi/potboy/pkg/archive"
	"github.com/wachiwi/potboy/pkg/boothclient"
	"github.com/wachiwi/potboy/pkg/event"
)

type fakeBooth struct {
	resp   *boothclient.Response
	err    error
	health map[string]any
	stream string
}

func (b *fakeBooth) StartPreview(context.Context) (*boothclient.Response, error) { return b.resp, b.err }
func (b *fakeBooth) StopPreview(context.Context) (*boothclient.Response, error) { return b.resp, b.err }
func (b *fakeBooth) Capture(context.Context) (*boothclient.Response, error) { return b.resp, b.err }

func (b *fakeBooth) Health(context.Context) (map[string]any, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.health, nil
}

func (b *fakeBooth) Stream(context.Context) (*http.Response, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"multipart/x-mixed-replace; boundary=frame"}},
		Body:       io.NopCloser(strings.NewReader(b.stream)),
	}, nil
}

type fakeLedger struct {
	records []archive.Record
}

func (l *fakeLedger) Records() ([]archive.Record, error) { return l.records, nil }

type fakeConnections int

func (n fakeConnections) Connected() int { return int(n) }

func newRouter(b Booth, hub *event.Hub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	trigger := &TriggerHandler{Booth: b}
	r.POST("/api/capture", trigger.Capture)
	r.POST("/api/preview/start", trigger.StartPreview)
	r.GET("/api/stream", trigger.Stream)
	events := &EventsHandler{Hub: hub}
	r.POST("/api/notify", events.Notify)
	status := &StatusHandler{
		Booth:  b,
		Hub:    hub,
		Uplink: fakeConnections(1),
		Ledger: &fakeLedger{records: []archive.Record{{Stamp: "20250101_120000", Timestamp: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}}},
	}
	r.GET("/api/status", status.Status)
	return r
}

func TestTriggerForwarding(t *testing.T) {
	t.Run("PassesRejectionThrough", func(t *testing.T) {
		b := &fakeBooth{resp: &boothclient.Response{Error: "cooldown", RetryAfter: 2, StatusCode: http.StatusTooManyRequests}}
		w := httptest.NewRecorder()
		newRouter(b, event.NewHub()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/capture", nil))

		if w.Code != http.StatusTooManyRequests {
			t.Errorf("expected 429, got %d", w.Code)
		}
		var body boothclient.Response
		json.Unmarshal(w.Body.Bytes(), &body)
		if body.Error != "cooldown" || body.RetryAfter != 2 {
			t.Errorf("unexpected body %s", w.Body.String())
		}
	})

	t.Run("Accepted", func(t *testing.T) {
		b := &fakeBooth{resp: &boothclient.Response{Success: true, Message: "Preview started", StatusCode: http.StatusOK}}
		w := httptest.NewRecorder()
		newRouter(b, event.NewHub()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/preview/start", nil))
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Preview started") {
			t.Errorf("unexpected response %d %s", w.Code, w.Body.String())
		}
	})

	t.Run("Unreachable", func(t *testing.T) {
		b := &fakeBooth{err: errors.New("connection refused")}
		w := httptest.NewRecorder()
		newRouter(b, event.NewHub()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/capture", nil))
		if w.Code != http.StatusBadGateway || !strings.Contains(w.Body.String(), "booth_unreachable") {
			t.Errorf("unexpected response %d %s", w.Code, w.Body.String())
		}
	})
}

func TestStreamProxy(t *testing.T) {
	payload := "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 4\r\n\r\n\xff\xd8\xff\xd9\r\n"
	w := httptest.NewRecorder()
	newRouter(&fakeBooth{stream: payload}, event.NewHub()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stream", nil))

	if w.Body.String() != payload {
		t.Errorf("stream was not copied verbatim: %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("unexpected content type %q", ct)
	}
}

func TestNotify(t *testing.T) {
	hub := event.NewHub()
	defer hub.Close()
	obs := hub.Subscribe()
	r := newRouter(&fakeBooth{}, hub)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/notify", strings.NewReader(`{"type":"countdown","value":2}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	select {
	case e := <-obs.Events():
		if e.Type != event.TypeCountdown || *e.Value != 2 || e.Time.IsZero() {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("event not published")
	}

	for _, body := range []string{`{"type":"party"}`, `not json`} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/notify", strings.NewReader(body)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for %q, got %d", body, w.Code)
		}
	}
}

func TestStatus(t *testing.T) {
	t.Run("BoothReachable", func(t *testing.T) {
		b := &fakeBooth{health: map[string]any{"preview": false}}
		w := httptest.NewRecorder()
		newRouter(b, event.NewHub()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid body: %v", err)
		}
		if body["booth_connected"] != true || body["captures"] != float64(1) {
			t.Errorf("unexpected status %v", body)
		}
		booth := body["booth"].(map[string]any)
		if booth["reachable"] != true {
			t.Errorf("expected reachable booth, got %v", booth)
		}
	})

	t.Run("BoothDown", func(t *testing.T) {
		b := &fakeBooth{err: errors.New("down")}
		w := httptest.NewRecorder()
		newRouter(b, event.NewHub()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"reachable":false`) {
			t.Errorf("unexpected response %d %s", w.Code, w.Body.String())
		}
	})
}
