package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/pulse/async"
)

// WebSocket timeouts following the gorilla chat example.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be less than pongWait

	// progressInterval coalesces progress events per job
	progressInterval = 250 * time.Millisecond

	maxMessageSize = 4096
)

// HandleEvents handles GET /api/jobs/{id}/events. It upgrades to a
// websocket, sends the job's current state, then every change until the
// job is terminal or the client goes away.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.orch.Job(id); err != nil {
		writeErr(w, err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.checkOrigin(r.Header.Get("Origin"))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		s.logger.Debugw("WebSocket upgrade failed", logger.FieldJobID, shortID(id), logger.FieldError, err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	// The read side only serves pongs and notices the client leaving.
	go func() {
		defer cancel()
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Subscribe before reading the snapshot so no change slips between them.
	reg := s.orch.Registry()
	updates := reg.Subscribe()
	defer reg.Unsubscribe(updates)

	events := make(chan async.Event, async.SubscriberChannelBufferSize)
	go async.EmitFrom(ctx, updates, progressInterval, func(ev async.Event) {
		if ev.JobID != id {
			return
		}
		select {
		case events <- ev:
		default:
			// a slow client misses intermediate progress, never the final state
			if ev.Type != async.EventProgress {
				select {
				case events <- ev:
				case <-ctx.Done():
				}
			}
		}
	})

	job, err := s.orch.Job(id)
	if err != nil {
		return
	}
	if !s.send(conn, async.EventFromJob(job)) || job.Status.IsTerminal() {
		s.closeStream(conn)
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeStream(conn)
			return
		case ev := <-events:
			if !s.send(conn, ev) {
				return
			}
			if ev.Status.IsTerminal() {
				s.closeStream(conn)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) send(conn *websocket.Conn, ev async.Event) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		s.logger.Debugw("Event write failed", logger.FieldJobID, shortID(ev.JobID), logger.FieldError, err)
		return false
	}
	return true
}

func (s *Server) closeStream(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
