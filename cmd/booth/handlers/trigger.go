package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wachiwi/potboy/pkg/booth"
	"github.com/wachiwi/potboy/pkg/boothclient"
	"github.com/wachiwi/potboy/pkg/frame"
)

// Booth is the part of the orchestrator the HTTP surface drives.
type Booth interface {
	StartPreview() booth.Result
	StopPreview() booth.Result
	Capture() booth.Result
	Status() booth.Status
	LatestFrame(maxAge time.Duration) (frame.Frame, bool)
	PreviewActive() bool
}

type TriggerHandler struct {
	Booth Booth
}

func (h *TriggerHandler) StartPreview(c *gin.Context) {
	respond(c, h.Booth.StartPreview())
}

func (h *TriggerHandler) StopPreview(c *gin.Context) {
	respond(c, h.Booth.StopPreview())
}

func (h *TriggerHandler) Capture(c *gin.Context) {
	respond(c, h.Booth.Capture())
}

func respond(c *gin.Context, res booth.Result) {
	body := boothclient.Response{
		Success: res.Accepted(),
		Message: res.Message,
	}
	status := http.StatusOK
	switch res.Outcome {
	case booth.OutcomeBusy:
		status = http.StatusTooManyRequests
		body.Error = string(res.Outcome)
	case booth.OutcomeCooldown:
		status = http.StatusTooManyRequests
		body.Error = string(res.Outcome)
		body.RetryAfter = res.RetryAfter
		c.Header("Retry-After", strconv.Itoa(res.RetryAfter))
	case booth.OutcomeUnavailable:
		status = http.StatusServiceUnavailable
		body.Error = string(res.Outcome)
	}
	c.JSON(status, body)
}

// Connectivity reports whether the uplink currently has a connection.
type Connectivity interface {
	Connected() bool
}

type HealthHandler struct {
	Booth  Booth
	Uplink Connectivity
	// GPIO names the indicator backend, "gpio" or "mock".
	GPIO string
}

func (h *HealthHandler) Health(c *gin.Context) {
	st := h.Booth.Status()
	body := gin.H{
		"status":             "healthy",
		"state":              st.State,
		"preview":            st.Preview,
		"camera_holder":      st.CameraHolder,
		"cooldown_remaining": st.CooldownRemaining,
		"gpio":               h.GPIO,
	}
	if st.LastCapture != nil {
		body["last_capture"] = st.LastCapture.Format(time.RFC3339)
	}
	if h.Uplink != nil {
		body["uplink_connected"] = h.Uplink.Connected()
	}
	c.JSON(http.StatusOK, body)
}
