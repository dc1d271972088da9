package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/CodeMonkeyCybersecurity/replayer/pkg/probe"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowedOrigin(origin)
	},
}

// StreamMessage is one frame of /probe/stream. Type is result, classes or
// error.
type StreamMessage struct {
	Type   string   `json:"type"`
	Value  string   `json:"value,omitempty"`
	Status int      `json:"status,omitempty"`
	Length int      `json:"length,omitempty"`
	Error  string   `json:"error,omitempty"`
	Lines  []string `json:"lines,omitempty"`
}

// probeStream reads one ProbeRequest from the socket, pushes a result frame
// per finished candidate, then the classes. Closing the socket cancels the
// probe.
func (s *Server) probeStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnw("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var mu sync.Mutex
	send := func(m StreamMessage) {
		mu.Lock()
		defer mu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(m); err != nil {
			s.log.Debugw("Websocket write failed", "error", err)
		}
	}

	var req ProbeRequest
	if err := conn.ReadJSON(&req); err != nil {
		send(StreamMessage{Type: "error", Error: "Invalid request body"})
		return
	}
	pr, err := req.toProbe()
	if err != nil {
		send(StreamMessage{Type: "error", Error: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		// Any read error, including a close frame, ends the probe.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	lines, err := s.svc.Probe(ctx, taskID(c), pr, func(o probe.Outcome) {
		send(StreamMessage{Type: "result", Value: o.Value, Status: o.Status, Length: o.Length, Error: o.Error})
	})
	if err != nil {
		send(StreamMessage{Type: "error", Error: err.Error()})
		return
	}
	send(StreamMessage{Type: "classes", Lines: lines})

	mu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	mu.Unlock()
}
