package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"tubefetch/internal/job"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// WatchStatus upgrades to a WebSocket and pushes a status snapshot whenever
// it changes, closing after the first terminal one.
func (a *API) WatchStatus(c *gin.Context) {
	id := c.Param("job_id")
	snapshot, err := a.manager.Status(id)
	if err != nil {
		respondError(c, id, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("job_id", id).Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	// the reader only notices the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	var last statusResponse
	sent := false
	for {
		resp := toStatusResponse(snapshot)
		if !sent || resp != last {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(resp); err != nil {
				log.Debug().Str("job_id", id).Err(err).Msg("websocket write failed")
				return
			}
			last, sent = resp, true
		}
		if snapshot.Status.IsTerminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snapshot.Status))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
			return
		}

		select {
		case <-gone:
			return
		case <-ticker.C:
		}
		snapshot, err = a.manager.Status(id)
		if err != nil {
			// swept while watching
			snapshot = job.Job{ID: id, Status: job.StatusExpired, StatusText: "Expired"}
		}
	}
}
