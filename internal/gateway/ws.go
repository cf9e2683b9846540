package gateway

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/conductor/internal/bus"
)

// streamFrame is one event pushed to a WebSocket client.
type streamFrame struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// handleWS upgrades the connection and forwards bus events matching the
// requested topic prefix. The default prefix follows every task topic.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Same-origin requests are always allowed by the websocket
		// library; cross-origin needs an explicit allowlist entry.
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	prefix := r.URL.Query().Get("topic")
	if prefix == "" {
		prefix = bus.TopicTaskPrefix
	}
	sub := s.cfg.Bus.Subscribe(prefix)
	defer s.cfg.Bus.Unsubscribe(sub)

	s.logger.Info("ws: client connected", "topic", prefix)
	defer s.logger.Info("ws: client disconnected", "topic", prefix)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain the read side so pings are answered and closure is noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, streamFrame{Topic: ev.Topic, Payload: ev.Payload}); err != nil {
				s.logger.Debug("ws: write failed, closing", "error", err)
				return
			}
		}
	}
}
