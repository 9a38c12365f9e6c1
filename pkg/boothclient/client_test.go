package boothclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTrigger(t *testing.T) {
	// Mock booth
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/capture":
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"error":"cooldown","retry_after":4}`))
		case "/preview/start", "/preview/stop":
			w.Write([]byte(`{"success":true,"message":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL + "/")
	ctx := context.Background()

	t.Run("Accepted", func(t *testing.T) {
		resp, err := client.StartPreview(ctx)
		if err != nil {
			t.Fatalf("StartPreview failed: %v", err)
		}
		if !resp.Success || resp.StatusCode != http.StatusOK {
			t.Errorf("unexpected response %+v", resp)
		}
		if _, err := client.StopPreview(ctx); err != nil {
			t.Errorf("StopPreview failed: %v", err)
		}
	})

	t.Run("Rejected", func(t *testing.T) {
		resp, err := client.Capture(ctx)
		if err != nil {
			t.Fatalf("Capture failed: %v", err)
		}
		if resp.Success || resp.Error != "cooldown" || resp.RetryAfter != 4 {
			t.Errorf("unexpected response %+v", resp)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Errorf("expected 429, got %d", resp.StatusCode)
		}
	})
}

func TestUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	if _, err := NewClient(url).Capture(context.Background()); err == nil {
		t.Error("expected error for unreachable booth")
	}
}

func TestHealthAndStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Write([]byte(`{"status":"healthy","preview":true}`))
		case "/stream":
			w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
			w.Write([]byte("--frame\r\n"))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health["preview"] != true {
		t.Errorf("unexpected health %v", health)
	}

	resp, err := client.Stream(context.Background())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "--frame\r\n" {
		t.Errorf("unexpected stream body %q", body)
	}
}
