package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bloodlink/bloodlink-backend/internal/access"
	"github.com/bloodlink/bloodlink-backend/internal/api/http/respond"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
	"github.com/bloodlink/bloodlink-backend/internal/requests/events"
)

// KeepAliveInterval is how often an idle stream gets a comment line.
var KeepAliveInterval = 15 * time.Second

// stream sends the current request, then every event published for it, as
// Server-Sent Events until the client goes away or the request is deleted.
func (h *Handler) stream(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	current, err := h.svc.Get(ctx, access.SessionFrom(c), id)
	if err != nil {
		respond.Error(c, err)
		return
	}

	sub, err := h.subs.Subscribe(ctx, id)
	if err != nil {
		respond.Error(c, errs.Internal(err, "subscribe to request events"))
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // nginx: disable buffering

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		respond.Error(c, errs.Internal(nil, "streaming unsupported"))
		return
	}

	writeEvent(c, "initial", gin.H{"request": current})
	flusher.Flush()

	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			flusher.Flush()

		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			writeEvent(c, string(ev.Type), ev)
			flusher.Flush()
			if ev.Type == events.TypeDeleted {
				return
			}
		}
	}
}

func writeEvent(c *gin.Context, name string, v any) {
	data, _ := json.Marshal(v)
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", name, data)
}
