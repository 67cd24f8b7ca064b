package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/benaskins/streamctl/internal/relay"
)

const (
	eventBuffer  = 256
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// events streams relay events to a WebSocket client as JSON text messages.
// The optional topic query parameter limits the stream to a comma-separated
// list of topics. A client that falls eventBuffer messages behind loses the
// overflow rather than slowing the publisher.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	var topics map[string]bool
	if v := r.URL.Query().Get("topic"); v != "" {
		topics = make(map[string]bool)
		for _, t := range strings.Split(v, ",") {
			topics[strings.TrimSpace(t)] = true
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept error", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	send := make(chan []byte, eventBuffer)
	unsubscribe := s.daemon.Relay().SubscribeAll(func(ev relay.Event) {
		if topics != nil && !topics[ev.Topic] {
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Warn("encoding event", "topic", ev.Topic, "error", err)
			return
		}
		select {
		case send <- data:
		default:
			s.logger.Warn("event stream client behind, dropping event", "topic", ev.Topic)
		}
	})
	defer unsubscribe()

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the client goes away.
	ctx := conn.CloseRead(s.ctx)
	s.writeEvents(ctx, conn, send)
}

func (s *Server) writeEvents(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		case msg := <-send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
