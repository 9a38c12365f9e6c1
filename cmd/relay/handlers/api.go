package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wachiwi/potboy/pkg/boothclient"
)

// Booth is the remote booth as seen by the relay.
type Booth interface {
	StartPreview(ctx context.Context) (*boothclient.Response, error)
	StopPreview(ctx context.Context) (*boothclient.Response, error)
	Capture(ctx context.Context) (*boothclient.Response, error)
	Health(ctx context.Context) (map[string]any, error)
	Stream(ctx context.Context) (*http.Response, error)
}

// TriggerHandler forwards operator triggers to the booth and relays its answer.
type TriggerHandler struct {
	Booth Booth
}

func (h *TriggerHandler) StartPreview(c *gin.Context) {
	h.forward(c, "preview_start", h.Booth.StartPreview)
}

func (h *TriggerHandler) StopPreview(c *gin.Context) {
	h.forward(c, "preview_stop", h.Booth.StopPreview)
}

func (h *TriggerHandler) Capture(c *gin.Context) {
	h.forward(c, "capture", h.Booth.Capture)
}

func (h *TriggerHandler) forward(c *gin.Context, name string, call func(context.Context) (*boothclient.Response, error)) {
	resp, err := call(c.Request.Context())
	if err != nil {
		slog.Error("Booth trigger failed", "trigger", name, "error", err)
		c.JSON(http.StatusBadGateway, boothclient.Response{
			Success: false,
			Error:   "booth_unreachable",
			Message: err.Error(),
		})
		return
	}
	slog.Info("Booth trigger", "trigger", name, "status", resp.StatusCode, "success", resp.Success)
	c.JSON(resp.StatusCode, resp)
}

// Stream copies the booth's MJPEG stream byte for byte.
func (h *TriggerHandler) Stream(c *gin.Context) {
	resp, err := h.Booth.Stream(c.Request.Context())
	if err != nil {
		slog.Warn("Booth stream unavailable", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "stream_unavailable", "message": err.Error()})
		return
	}
	defer resp.Body.Close()

	c.Header("Content-Type", resp.Header.Get("Content-Type"))
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Status(http.StatusOK)

	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			c.Writer.Flush()
		}
		if err != nil {
			if err != io.EOF && c.Request.Context().Err() == nil {
				slog.Warn("Booth stream ended", "error", err)
			}
			return
		}
	}
}
