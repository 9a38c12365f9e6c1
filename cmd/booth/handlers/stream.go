package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type StreamHandler struct {
	Booth Booth
	// Interval between frame polls; 16ms gives about 60 fps.
	Interval time.Duration
}

// Stream serves the preview as multipart MJPEG until the client leaves or
// the preview stops.
func (h *StreamHandler) Stream(c *gin.Context) {
	if !h.Booth.PreviewActive() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "preview_inactive", "message": "Preview not active"})
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "Streaming not supported")
		return
	}

	interval := h.Interval
	if interval == 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			if !h.Booth.PreviewActive() {
				return
			}
			f, ok := h.Booth.LatestFrame(0)
			if !ok || f.CapturedAt.Equal(last) {
				continue
			}
			last = f.CapturedAt

			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: %s\r\n", f.Format.ContentType())
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", f.Len())
			if _, err := w.Write(f.Data); err != nil {
				return
			}
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
		}
	}
}
