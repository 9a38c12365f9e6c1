package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wachiwi/potboy/pkg/archive"
	"github.com/wachiwi/potboy/pkg/event"
)

type Ledger interface {
	Records() ([]archive.Record, error)
}

type Connections interface {
	Connected() int
}

type StatusHandler struct {
	Booth  Booth
	Hub    *event.Hub
	Uplink Connections
	Ledger Ledger
}

func (h *StatusHandler) Status(c *gin.Context) {
	body := gin.H{
		"status":          "healthy",
		"booth_connected": h.Uplink.Connected() > 0,
		"spectators":      h.Hub.Len(),
	}

	health, err := h.Booth.Health(c.Request.Context())
	if err != nil {
		body["booth"] = gin.H{"reachable": false, "error": err.Error()}
	} else {
		health["reachable"] = true
		body["booth"] = health
	}

	records, err := h.Ledger.Records()
	if err == nil {
		body["captures"] = len(records)
		if len(records) > 0 {
			body["last_capture"] = records[len(records)-1].Timestamp.Format(time.RFC3339)
		}
	}
	c.JSON(http.StatusOK, body)
}
