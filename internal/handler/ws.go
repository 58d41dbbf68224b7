package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/johndosdos/relay/internal/relay"
)

// ServeWs handles the client's websocket connection upgrade.
func ServeWs(h *relay.Hub, allowedOrigins []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		opts := &websocket.AcceptOptions{}
		if len(allowedOrigins) > 0 {
			opts.OriginPatterns = allowedOrigins
		} else {
			// Dev default: no origin list configured, accept anything.
			opts.InsecureSkipVerify = true
		}

		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			slog.WarnContext(ctx, "failed to accept websocket connection", "error", err)
			return
		}

		// We'll register our new connection to the central hub. The id
		// is assigned here and stays opaque to the client protocol.
		c := relay.NewClient(conn)
		c.SetMessageLimiter(30, time.Minute)
		c.SetTypingLimiter(60, time.Minute)

		reg := relay.Registration{
			Client: c,
			Done:   make(chan struct{}),
		}

		h.Register <- reg

		// Wait for registration to complete
		<-reg.Done

		slog.InfoContext(ctx, "connection established", "conn_id", c.ID)

		// We block on ReadPump() because the request context will be
		// canceled as soon as we return from the handler.
		go c.WritePump(ctx)
		c.ReadPump(ctx, h)
	}
}
